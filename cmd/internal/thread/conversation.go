package thread

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"
)

// KindDirect is the only conversation kind this package creates.
const KindDirect = "direct"

// MessageSummary is the cached last message of a conversation, used for list rendering.
type MessageSummary struct {
	Text     string
	SenderID string
	At       time.Time
}

// Conversation is the canonical two-party messaging session.
type Conversation struct {
	ID             string
	Kind           string
	ParticipantIDs []string // sorted, exactly two for direct conversations
	CreatedAt      time.Time
	LastMessage    *MessageSummary
}

// HasParticipant reports whether userID participates in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.ParticipantIDs {
		if p == userID {
			return true
		}
	}
	return false
}

// IsDirectBetween reports whether the participant set is exactly {a, b}.
func (c Conversation) IsDirectBetween(a, b string) bool {
	if len(c.ParticipantIDs) != 2 || a == b {
		return false
	}
	x, y := c.ParticipantIDs[0], c.ParticipantIDs[1]
	return (x == a && y == b) || (x == b && y == a)
}

// Counterpart returns the other participant of a direct conversation.
func (c Conversation) Counterpart(userID string) string {
	for _, p := range c.ParticipantIDs {
		if p != userID {
			return p
		}
	}
	return ""
}

// ActivityAt is the timestamp lists are ordered by.
func (c Conversation) ActivityAt() time.Time {
	if c.LastMessage != nil && !c.LastMessage.At.IsZero() {
		return c.LastMessage.At
	}
	return c.CreatedAt
}

// Store is the Conversation API consumed by the resolver.
//
// GetConversation returns an error matching ErrNotFound for unknown ids.
// CreateConversation must be idempotent per participant pair: when a direct conversation
// already exists for the pair, it is returned instead of creating a second one.
type Store interface {
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	CreateConversation(ctx context.Context, participantIDs []string) (Conversation, error)
}

// DirectCreator is implemented by stores that report whether CreateConversation
// inserted a new conversation or returned the existing one of the pair.
type DirectCreator interface {
	CreateDirect(ctx context.Context, participantIDs []string) (c Conversation, inserted bool, err error)
}

// LastMessageWriter updates the cached last message of a conversation.
// Older summaries never overwrite newer ones.
type LastMessageWriter interface {
	SetLastMessage(ctx context.Context, conversationID string, summary MessageSummary) error
}

// NormalizeParticipants trims, validates and sorts a direct participant list.
func NormalizeParticipants(participantIDs []string) ([]string, error) {
	if len(participantIDs) != 2 {
		return nil, opErr("thread.NormalizeParticipants", ErrInvalidInput, "", nil)
	}
	a := strings.TrimSpace(participantIDs[0])
	b := strings.TrimSpace(participantIDs[1])
	if a == "" || b == "" {
		return nil, opErr("thread.NormalizeParticipants", ErrInvalidInput, "", nil)
	}
	if a == b {
		return nil, opErr("thread.NormalizeParticipants", ErrSelfConversation, a, nil)
	}
	out := []string{a, b}
	sort.Strings(out)
	return out, nil
}

// PairKey returns the canonical, order-independent key of a participant pair.
// The length prefix keeps keys unambiguous whatever characters ids contain.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strconv.Itoa(len(a)) + ":" + a + "|" + b
}

// SortByActivity orders conversations by most recent activity first.
func SortByActivity(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		ai, aj := convs[i].ActivityAt(), convs[j].ActivityAt()
		if ai.Equal(aj) {
			return convs[i].ID < convs[j].ID
		}
		return ai.After(aj)
	})
}

func cloneConversation(c Conversation) Conversation {
	out := c
	out.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}
