package surface

import (
	"context"
	"sync"
	"testing"
	"time"

	"inbox/cmd/internal/broadcast"
	"inbox/cmd/internal/thread"
)

func TestListView_EventsPatchTheCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newCountingStore()
	c12, _ := st.InMemoryStore.CreateConversation(ctx, []string{"u1", "u2"})
	c13, _ := st.InMemoryStore.CreateConversation(ctx, []string{"u1", "u3"})
	c23, _ := st.InMemoryStore.CreateConversation(ctx, []string{"u2", "u3"})

	var (
		mu      sync.Mutex
		changes int
	)
	list, err := NewListView(ListConfig{
		UserID: "u1",
		Store:  st,
		Log:    testLogger(),
		OnChange: func([]thread.Conversation) {
			mu.Lock()
			changes++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewListView: %v", err)
	}
	if err := list.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n := len(list.Items()); n != 2 {
		t.Fatalf("expected 2 items, got %d", n)
	}

	// Newest message moves a conversation to the top.
	later := time.Now().Add(time.Hour)
	for _, id := range []string{c12.ID, c13.ID} {
		at := later
		if id == c13.ID {
			at = later.Add(-time.Minute)
		}
		if err := list.Handle(ctx, broadcast.LastMessageUpdated{
			ConversationID: id,
			Summary:        thread.MessageSummary{Text: "hi " + id, SenderID: "u1", At: at},
		}); err != nil {
			t.Fatalf("handle last message: %v", err)
		}
	}
	items := list.Items()
	if items[0].ID != c12.ID || items[0].LastMessage == nil || items[0].LastMessage.Text != "hi "+c12.ID {
		t.Fatalf("unexpected order after last message: %+v", items)
	}

	// An older summary never overwrites a newer one.
	_ = list.Handle(ctx, broadcast.LastMessageUpdated{
		ConversationID: c12.ID,
		Summary:        thread.MessageSummary{Text: "stale", At: later.Add(-time.Hour)},
	})
	if got := list.Items()[0].LastMessage.Text; got != "hi "+c12.ID {
		t.Fatalf("older summary applied: %q", got)
	}

	// Conversations of other users are ignored.
	if err := list.Handle(ctx, broadcast.ThreadCreated{ConversationID: c23.ID}); err != nil {
		t.Fatalf("handle foreign thread: %v", err)
	}
	if n := len(list.Items()); n != 2 {
		t.Fatalf("foreign conversation inserted, %d items", n)
	}

	_, lists, _ := st.counts()
	if err := list.Handle(ctx, broadcast.RefreshThreads{}); err != nil {
		t.Fatalf("refresh event: %v", err)
	}
	if _, after, _ := st.counts(); after != lists+1 {
		t.Fatalf("expected one refetch, lists %d -> %d", lists, after)
	}

	mu.Lock()
	defer mu.Unlock()
	if changes < 4 {
		t.Fatalf("expected change notifications, got %d", changes)
	}
}

func TestListView_ThreadCreatedUnknownIDFails(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	list, _ := NewListView(ListConfig{UserID: "u1", Store: st, Log: testLogger()})

	err := list.Handle(context.Background(), broadcast.ThreadCreated{ConversationID: "5d1c1f9e-8a55-4d84-b5c4-0ad1f5e2b3a4"})
	if !thread.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListView_RunAndSelect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newCountingStore()
	bus := broadcast.NewBus(testLogger(), "u1")

	var (
		mu       sync.Mutex
		selected string
	)
	list, _ := NewListView(ListConfig{
		UserID: "u1",
		Store:  st,
		Log:    testLogger(),
		OnSelect: func(id string) {
			mu.Lock()
			selected = id
			mu.Unlock()
		},
	})

	sub := bus.Subscribe(8)
	done := make(chan struct{})
	go func() {
		list.Run(ctx, sub)
		close(done)
	}()

	c, _ := st.InMemoryStore.CreateConversation(ctx, []string{"u1", "u2"})
	bus.Publish(broadcast.ThreadCreated{ConversationID: c.ID, RequestedID: "u2"})

	eventually(t, func() bool { return len(list.Items()) == 1 })

	if list.Select("missing") {
		t.Fatalf("select must ignore unknown conversations")
	}
	if !list.Select(c.ID) {
		t.Fatalf("expected select to succeed")
	}
	mu.Lock()
	if selected != c.ID {
		t.Fatalf("expected selection callback with %s, got %q", c.ID, selected)
	}
	mu.Unlock()

	sub.Unsubscribe()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after unsubscribe")
	}
}
