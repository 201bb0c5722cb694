package surface

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"inbox/cmd/internal/broadcast"
	"inbox/cmd/internal/thread"
)

// ListConfig configures a ListView.
type ListConfig struct {
	UserID string
	Store  thread.Store
	Log    *slog.Logger

	OnChange func([]thread.Conversation)
	OnSelect func(conversationID string)
}

// ListView is the cached conversation list of one surface.
// Broadcast events patch the cache; only RefreshThreads refetches it.
type ListView struct {
	userID   string
	store    thread.Store
	log      *slog.Logger
	onChange func([]thread.Conversation)
	onSelect func(string)

	mu    sync.Mutex
	items []thread.Conversation
}

// NewListView constructs an empty list for cfg.UserID.
func NewListView(cfg ListConfig) (*ListView, error) {
	userID := strings.TrimSpace(cfg.UserID)
	if userID == "" {
		return nil, errors.New("surface: missing user id")
	}
	if cfg.Store == nil {
		return nil, errors.New("surface: nil store")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &ListView{
		userID:   userID,
		store:    cfg.Store,
		log:      log,
		onChange: cfg.OnChange,
		onSelect: cfg.OnSelect,
	}, nil
}

// Refresh refetches the whole list.
func (l *ListView) Refresh(ctx context.Context) error {
	items, err := l.store.ListConversations(ctx, l.userID)
	if err != nil {
		return err
	}
	thread.SortByActivity(items)

	l.mu.Lock()
	l.items = items
	l.mu.Unlock()

	l.emit()
	return nil
}

// Handle applies one broadcast event to the cache.
func (l *ListView) Handle(ctx context.Context, e broadcast.Event) error {
	switch ev := e.(type) {
	case broadcast.ThreadCreated:
		return l.ensure(ctx, ev.ConversationID)
	case broadcast.ThreadIDChanged:
		return l.ensure(ctx, ev.NewID)
	case broadcast.LastMessageUpdated:
		if l.updateSummary(ev.ConversationID, ev.Summary) {
			l.emit()
			return nil
		}
		return l.ensure(ctx, ev.ConversationID)
	case broadcast.RefreshThreads:
		return l.Refresh(ctx)
	}
	return nil
}

// Run applies events from sub until ctx is done or sub is unsubscribed.
func (l *ListView) Run(ctx context.Context, sub *broadcast.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case e := <-sub.Events():
			if err := l.Handle(ctx, e); err != nil {
				l.log.Warn("surface.list.event_failed",
					"kind", string(e.Kind()),
					"user_id", l.userID,
					"err", err,
				)
			}
		}
	}
}

// Items returns a copy of the cached list.
func (l *ListView) Items() []thread.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyConversations(l.items)
}

// Select hands a listed conversation to the selection callback.
func (l *ListView) Select(conversationID string) bool {
	conversationID = strings.TrimSpace(conversationID)

	l.mu.Lock()
	found := l.indexLocked(conversationID) >= 0
	l.mu.Unlock()

	if !found {
		return false
	}
	if l.onSelect != nil {
		l.onSelect(conversationID)
	}
	return true
}

// ensure inserts conversationID with a single fetch unless it is already listed.
func (l *ListView) ensure(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return nil
	}
	l.mu.Lock()
	present := l.indexLocked(conversationID) >= 0
	l.mu.Unlock()
	if present {
		return nil
	}

	c, err := l.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(l.userID) {
		return nil
	}

	l.mu.Lock()
	if l.indexLocked(c.ID) >= 0 {
		l.mu.Unlock()
		return nil
	}
	l.items = append(l.items, c)
	thread.SortByActivity(l.items)
	l.mu.Unlock()

	l.emit()
	return nil
}

func (l *ListView) updateSummary(conversationID string, s thread.MessageSummary) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(conversationID)
	if i < 0 {
		return false
	}
	if cur := l.items[i].LastMessage; cur == nil || !s.At.Before(cur.At) {
		lm := s
		l.items[i].LastMessage = &lm
		thread.SortByActivity(l.items)
	}
	return true
}

func (l *ListView) indexLocked(id string) int {
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *ListView) emit() {
	if l.onChange == nil {
		return
	}
	l.onChange(l.Items())
}

func copyConversations(in []thread.Conversation) []thread.Conversation {
	out := make([]thread.Conversation, len(in))
	for i, c := range in {
		c.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
		if c.LastMessage != nil {
			lm := *c.LastMessage
			c.LastMessage = &lm
		}
		out[i] = c
	}
	return out
}
