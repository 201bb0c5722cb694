package realtime

import (
	"log/slog"
	"sync"

	"inbox/cmd/internal/metrics"
	v1 "inbox/shared/contracts/realtime/v1"
)

// Room is the set of sessions currently viewing one conversation.
//
// Join/Leave are safe under concurrent Broadcast, and Broadcast never blocks:
// members with a full queue miss the envelope.
type Room struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs an empty room for conversationID.
func NewRoom(log *slog.Logger, conversationID string) *Room {
	return &Room{
		log:     log,
		ID:      conversationID,
		members: make(map[string]*Client),
	}
}

// Join adds a client to the room.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.SessionID] = client
	r.mu.Unlock()

	r.log.Debug("room.member.join", "conversation_id", r.ID, "session_id", client.SessionID, "user_id", client.UserID)
}

// Leave removes a session from the room. The client itself stays open.
func (r *Room) Leave(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	delete(r.members, sessionID)
	r.mu.Unlock()

	r.log.Debug("room.member.leave", "conversation_id", r.ID, "session_id", sessionID)
}

// Len returns the number of members.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fans env out to all members and returns how many received it.
func (r *Room) Broadcast(env v1.Envelope) int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, m := range r.members {
		if m.Offer(env) {
			delivered++
		}
	}
	metrics.RecordFanout(delivered, len(r.members)-delivered)
	return delivered
}
