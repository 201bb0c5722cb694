package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns the rooms of conversations that have at least one viewer.
// Persistence lives behind MessageStore.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Join adds client to the room of conversationID, creating it on demand.
func (h *Hub) Join(conversationID string, client *Client) {
	h.mu.Lock()
	r, ok := h.rooms[conversationID]
	if !ok {
		r = NewRoom(h.log, conversationID)
		h.rooms[conversationID] = r
	}
	r.Join(client)
	h.mu.Unlock()
}

// Leave removes sessionID from the room of conversationID and drops the room once empty.
func (h *Hub) Leave(conversationID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	r.Leave(sessionID)
	if r.Len() == 0 {
		delete(h.rooms, conversationID)
	}
}

// Room returns the room of conversationID, or nil when nobody views it.
func (h *Hub) Room(conversationID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[conversationID]
}
