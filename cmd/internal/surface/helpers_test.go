package surface

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"inbox/cmd/internal/broadcast"
	"inbox/cmd/internal/thread"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingStore counts calls on top of thread.InMemoryStore and can hold creates.
type countingStore struct {
	*thread.InMemoryStore

	mu         sync.Mutex
	gets       int
	lists      int
	creates    int
	createGate chan struct{}
}

func newCountingStore() *countingStore {
	return &countingStore{InMemoryStore: thread.NewInMemoryStore()}
}

func (s *countingStore) GetConversation(ctx context.Context, id string) (thread.Conversation, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.InMemoryStore.GetConversation(ctx, id)
}

func (s *countingStore) ListConversations(ctx context.Context, userID string) ([]thread.Conversation, error) {
	s.mu.Lock()
	s.lists++
	s.mu.Unlock()
	return s.InMemoryStore.ListConversations(ctx, userID)
}

func (s *countingStore) CreateConversation(ctx context.Context, participantIDs []string) (thread.Conversation, error) {
	c, _, err := s.CreateDirect(ctx, participantIDs)
	return c, err
}

func (s *countingStore) CreateDirect(ctx context.Context, participantIDs []string) (thread.Conversation, bool, error) {
	s.mu.Lock()
	s.creates++
	gate := s.createGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return s.InMemoryStore.CreateDirect(ctx, participantIDs)
}

func (s *countingStore) counts() (gets, lists, creates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.lists, s.creates
}

func newResolver(t *testing.T, st thread.Store) *thread.Resolver {
	t.Helper()
	r, err := thread.NewResolver(st, thread.WithRetryDelay(time.Millisecond), thread.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

// resolverFunc adapts a function to Resolver.
type resolverFunc func(ctx context.Context, identifier, currentUserID string) (thread.Resolution, error)

func (f resolverFunc) Resolve(ctx context.Context, identifier, currentUserID string) (thread.Resolution, error) {
	return f(ctx, identifier, currentUserID)
}

// drain returns every event currently queued on sub.
func drain(sub *broadcast.Subscription) []broadcast.Event {
	var out []broadcast.Event
	for {
		select {
		case e := <-sub.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

// stateRecorder collects states passed to OnChange.
type stateRecorder struct {
	mu     sync.Mutex
	states []ViewState
}

func (r *stateRecorder) record(st ViewState) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
}

func (r *stateRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *stateRecorder) last() ViewState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return ViewState{}
	}
	return r.states[len(r.states)-1]
}
