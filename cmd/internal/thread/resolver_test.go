package thread

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestResolver(t *testing.T, st Store, opts ...Option) *Resolver {
	t.Helper()
	opts = append([]Option{WithRetryDelay(time.Millisecond)}, opts...)
	r, err := NewResolver(st, opts...)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestResolver_PersonCreatesOnceAndIsIdempotent(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	r := newTestResolver(t, st)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if !first.Created || first.Path != PathDirect || first.Kind != KindPerson {
		t.Fatalf("unexpected first resolution: %+v", first)
	}
	if !first.IsDirectBetween("u1", "u2") {
		t.Fatalf("unexpected participants: %v", first.ParticipantIDs)
	}

	second, err := r.Resolve(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ID != first.ID || second.Created {
		t.Fatalf("expected existing conversation, got %+v", second)
	}

	_, _, creates := st.counts()
	if creates != 1 {
		t.Fatalf("expected 1 create, got %d", creates)
	}
}

func TestResolver_ConversationIDPassthrough(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	c, err := st.InMemoryStore.CreateConversation(context.Background(), []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := newTestResolver(t, st)

	res, err := r.Resolve(context.Background(), c.ID, "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ID != c.ID || res.Path != PathConversation || res.Created {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	gets, lists, creates := st.counts()
	if gets != 1 || lists != 0 || creates != 0 {
		t.Fatalf("expected one fetch only, got gets=%d lists=%d creates=%d", gets, lists, creates)
	}
}

func TestResolver_SelfConversationNeverCreates(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	r := newTestResolver(t, st)

	_, err := r.Resolve(context.Background(), "u1", "u1")
	if !IsSelfConversation(err) {
		t.Fatalf("expected self conversation error, got %v", err)
	}
	_, lists, creates := st.counts()
	if lists != 0 || creates != 0 {
		t.Fatalf("expected no list/create, got lists=%d creates=%d", lists, creates)
	}
}

func TestResolver_InvalidInput(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, newCountingStore())
	if _, err := r.Resolve(context.Background(), "  ", "u1"); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for blank identifier, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "u2", ""); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for missing user, got %v", err)
	}
}

func TestResolver_ConversationRetryAfterMiss(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	c, _ := st.InMemoryStore.CreateConversation(context.Background(), []string{"u1", "u2"})
	st.getErrs = []error{notFoundErr(c.ID)}

	var slept time.Duration
	r := newTestResolver(t, st, WithRetryDelay(200*time.Millisecond))
	r.sleep = func(_ context.Context, d time.Duration) error { slept = d; return nil }

	res, err := r.Resolve(context.Background(), c.ID, "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ID != c.ID {
		t.Fatalf("expected %s, got %s", c.ID, res.ID)
	}
	if slept != 200*time.Millisecond {
		t.Fatalf("expected one 200ms wait, got %v", slept)
	}
	gets, _, creates := st.counts()
	if gets != 2 || creates != 0 {
		t.Fatalf("expected two fetches and no create, got gets=%d creates=%d", gets, creates)
	}
}

func TestResolver_ConversationRetryTransientThenFetchFailed(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	id := "7b0c7d8e-1f2a-4b3c-9d4e-5f6a7b8c9d0e"
	st.getErrs = []error{errBoom, errBoom}
	r := newTestResolver(t, st)

	_, err := r.Resolve(context.Background(), id, "u1")
	if !IsTransient(err) {
		t.Fatalf("expected fetch failed, got %v", err)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
	if Code(err) != "fetch_failed" {
		t.Fatalf("unexpected code %q", Code(err))
	}
	_, lists, creates := st.counts()
	if lists != 0 || creates != 0 {
		t.Fatalf("expected no fallback on transient failure, got lists=%d creates=%d", lists, creates)
	}
}

func TestResolver_UUIDShapedPersonFallsBack(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	r := newTestResolver(t, st)
	person := "0f8fad5b-d9cb-469f-a165-70867728950e"

	res, err := r.Resolve(context.Background(), person, "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Path != PathFallback || !res.Created || res.Kind != KindConversation {
		t.Fatalf("unexpected fallback resolution: %+v", res)
	}
	if !res.IsDirectBetween("u1", person) {
		t.Fatalf("unexpected participants: %v", res.ParticipantIDs)
	}

	again, err := r.Resolve(context.Background(), person, "u1")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again.ID != res.ID || again.Created {
		t.Fatalf("fallback must not duplicate: %+v", again)
	}
}

func TestResolver_CurrentUserShapedIDIsNotFound(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	r := newTestResolver(t, st)
	me := "0f8fad5b-d9cb-469f-a165-70867728950e"

	_, err := r.Resolve(context.Background(), me, me)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, _, creates := st.counts()
	if creates != 0 {
		t.Fatalf("expected no create, got %d", creates)
	}
}

func TestResolver_FallbackFailureIsNotFound(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	st.listErr = errBoom
	r := newTestResolver(t, st)

	_, err := r.Resolve(context.Background(), "0f8fad5b-d9cb-469f-a165-70867728950e", "u1")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected cause to be wrapped, got %v", err)
	}
}

func TestResolver_ListFailureIsTransient(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	st.listErr = errBoom
	r := newTestResolver(t, st)

	_, err := r.Resolve(context.Background(), "u2", "u1")
	if !IsTransient(err) {
		t.Fatalf("expected transient, got %v", err)
	}
	_, _, creates := st.counts()
	if creates != 0 {
		t.Fatalf("expected no create after list failure, got %d", creates)
	}
}

func TestResolver_RetryWaitHonoursCancellation(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	st.getErrs = []error{notFoundErr("x")}
	r := newTestResolver(t, st, WithRetryDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, "7b0c7d8e-1f2a-4b3c-9d4e-5f6a7b8c9d0e", "u1")
	if !IsTransient(err) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled wait to fail transiently, got %v", err)
	}
}

func TestResolver_ConcurrentOppositeDirectionsShareOneConversation(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	gate := make(chan struct{})
	st.createGate = gate
	r := newTestResolver(t, st)

	const n = 16
	results := make(chan Resolution, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		me, other := "alice", "bob"
		if i%2 == 1 {
			me, other = other, me
		}
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), other, me)
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			results <- res
		}()
	}

	// Let the callers pile up behind the in-flight create.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)

	var id string
	for res := range results {
		if id == "" {
			id = res.ID
		}
		if res.ID != id {
			t.Fatalf("duplicate conversations: %s vs %s", id, res.ID)
		}
	}
	list, _ := st.InMemoryStore.ListConversations(context.Background(), "alice")
	if len(list) != 1 {
		t.Fatalf("expected exactly one conversation, got %d", len(list))
	}
}

func TestResolver_PairCacheHitSkipsList(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	cache := newMapCache()
	r := newTestResolver(t, st, WithPairCache(cache))
	ctx := context.Background()

	first, err := r.Resolve(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if id, _ := cache.Lookup(ctx, PairKey("u1", "u2")); id != first.ID {
		t.Fatalf("expected cache to remember %s, got %q", first.ID, id)
	}

	_, listsBefore, _ := st.counts()
	second, err := r.Resolve(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	_, listsAfter, _ := st.counts()
	if second.ID != first.ID || listsAfter != listsBefore {
		t.Fatalf("expected cache hit without list: id=%s lists %d->%d", second.ID, listsBefore, listsAfter)
	}
}

func TestResolver_StalePairCacheEntryIsForgotten(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	cache := newMapCache()
	key := PairKey("u1", "u2")
	_ = cache.Remember(context.Background(), key, "3c2b1a09-8f7e-4d6c-b5a4-93827160f5e4")
	r := newTestResolver(t, st, WithPairCache(cache))

	res, err := r.Resolve(context.Background(), "u2", "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Created {
		t.Fatalf("expected a fresh conversation, got %+v", res)
	}
	if id, _ := cache.Lookup(context.Background(), key); id != res.ID {
		t.Fatalf("expected cache to be repaired with %s, got %q", res.ID, id)
	}
}

func TestResolver_ForeignConversationIsNotFound(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	c, err := st.InMemoryStore.CreateConversation(context.Background(), []string{"u2", "u3"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := newTestResolver(t, st)

	res, err := r.Resolve(context.Background(), c.ID, "u1")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %+v %v", res, err)
	}
	if res.ID != "" || len(res.ParticipantIDs) != 0 {
		t.Fatalf("foreign conversation leaked: %+v", res)
	}
	gets, lists, creates := st.counts()
	if gets != 1 || lists != 0 || creates != 0 {
		t.Fatalf("expected a single fetch without retry or fallback, got gets=%d lists=%d creates=%d", gets, lists, creates)
	}
}

func TestResolver_CreateOfExistingPairIsNotCreated(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	existing, err := st.InMemoryStore.CreateConversation(context.Background(), []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	st.hideLists = true
	r := newTestResolver(t, st)

	res, err := r.Resolve(context.Background(), "u2", "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ID != existing.ID || res.Created {
		t.Fatalf("expected the existing conversation without Created, got %+v", res)
	}
	if _, _, creates := st.counts(); creates != 1 {
		t.Fatalf("expected one create attempt, got %d", creates)
	}
}

func TestResolver_PairCacheForgetFailureIsLogged(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	st := newCountingStore()
	cache := newMapCache()
	cache.forgetErr = errBoom
	key := PairKey("u1", "u2")
	_ = cache.Remember(context.Background(), key, "3c2b1a09-8f7e-4d6c-b5a4-93827160f5e4")
	r := newTestResolver(t, st, WithPairCache(cache), WithLogger(log))

	if _, err := r.Resolve(context.Background(), "u2", "u1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(buf.String(), "thread.paircache.forget_failed") {
		t.Fatalf("expected forget failure to be logged, got %q", buf.String())
	}
}
