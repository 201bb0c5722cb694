package thread

import (
	"context"
	"strings"
	"sync"
	"time"

	"inbox/cmd/internal/ids"
)

// InMemoryStore is a dev-only Store when no database is configured.
// It supports:
//   - CreateConversation: idempotent per participant pair
//   - ListConversations: most recent activity first
//   - SetLastMessage: monotonic by timestamp
type InMemoryStore struct {
	mu     sync.Mutex
	convs  map[string]*Conversation
	byPair map[string]string // pair key -> conversation id
	now    func() time.Time
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convs:  make(map[string]*Conversation),
		byPair: make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetConversation returns a conversation by id.
func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	id = ids.NormalizeUUID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, opErr("thread.GetConversation", ErrNotFound, id, nil)
	}
	return cloneConversation(*c), nil
}

// ListConversations returns the conversations userID participates in.
func (s *InMemoryStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, opErr("thread.ListConversations", ErrInvalidInput, "", nil)
	}

	s.mu.Lock()
	out := make([]Conversation, 0, 8)
	for _, c := range s.convs {
		if c.HasParticipant(userID) {
			out = append(out, cloneConversation(*c))
		}
	}
	s.mu.Unlock()

	SortByActivity(out)
	return out, nil
}

// CreateConversation creates a direct conversation, or returns the existing one for the pair.
func (s *InMemoryStore) CreateConversation(ctx context.Context, participantIDs []string) (Conversation, error) {
	c, _, err := s.CreateDirect(ctx, participantIDs)
	return c, err
}

// CreateDirect is CreateConversation that also reports whether it inserted.
func (s *InMemoryStore) CreateDirect(ctx context.Context, participantIDs []string) (Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}
	parts, err := NormalizeParticipants(participantIDs)
	if err != nil {
		return Conversation{}, false, err
	}
	key := PairKey(parts[0], parts[1])

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPair[key]; ok {
		return cloneConversation(*s.convs[id]), false, nil
	}

	id, err := ids.NewConversationID()
	if err != nil {
		return Conversation{}, false, err
	}
	c := &Conversation{
		ID:             id,
		Kind:           KindDirect,
		ParticipantIDs: parts,
		CreatedAt:      s.now(),
	}
	s.convs[id] = c
	s.byPair[key] = id
	return cloneConversation(*c), true, nil
}

// SetLastMessage updates the cached summary unless a newer one is already stored.
func (s *InMemoryStore) SetLastMessage(ctx context.Context, conversationID string, summary MessageSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conversationID = ids.NormalizeUUID(conversationID)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return opErr("thread.SetLastMessage", ErrNotFound, conversationID, nil)
	}
	if c.LastMessage != nil && summary.At.Before(c.LastMessage.At) {
		return nil
	}
	lm := summary
	c.LastMessage = &lm
	return nil
}
