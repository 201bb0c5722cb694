package realtime

import (
	"fmt"
	"testing"
	"time"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	if !rl.Allow(t0) || !rl.Allow(t0.Add(100*time.Millisecond)) {
		t.Fatalf("expected first two events to pass")
	}
	if rl.Allow(t0.Add(200 * time.Millisecond)) {
		t.Fatalf("expected third event inside the window to be limited")
	}
	if !rl.Allow(t0.Add(1050 * time.Millisecond)) {
		t.Fatalf("expected event after the first expired to pass")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	if rl.limit != rateLimitEvents || rl.window != rateLimitWindow {
		t.Fatalf("expected defaults, got limit=%d window=%v", rl.limit, rl.window)
	}
}

func TestKeyedRateLimiter_IsolatesKeys(t *testing.T) {
	t.Parallel()

	k := NewKeyedRateLimiter(1, time.Minute)
	now := time.Now()

	if !k.Allow("alice", now) {
		t.Fatalf("expected alice to pass")
	}
	if k.Allow("alice", now) {
		t.Fatalf("expected alice to be limited")
	}
	if !k.Allow("bob", now) {
		t.Fatalf("expected bob to be unaffected by alice")
	}
}

func TestKeyedRateLimiter_SweepsIdleKeys(t *testing.T) {
	t.Parallel()

	k := NewKeyedRateLimiter(1, time.Second)
	t0 := time.Unix(1_700_000_000, 0)
	for i := 0; i < keyedSweepAt; i++ {
		k.Allow(fmt.Sprintf("u%d", i), t0)
	}
	if k.Len() != keyedSweepAt {
		t.Fatalf("expected %d keys, got %d", keyedSweepAt, k.Len())
	}

	k.Allow("late", t0.Add(time.Hour))
	if k.Len() != 1 {
		t.Fatalf("expected idle keys to be swept, got %d", k.Len())
	}
}
