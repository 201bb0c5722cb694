package realtime

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(now)
	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}

func (r *RateLimiter) idle(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(now)
	return len(r.events) == 0
}

func (r *RateLimiter) pruneLocked(now time.Time) {
	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst
}

// keyedSweepAt is the number of keys above which idle limiters are dropped.
const keyedSweepAt = 1024

// KeyedRateLimiter applies one sliding window per key, e.g. per user across all of
// their sessions.
type KeyedRateLimiter struct {
	limit  int
	window time.Duration

	mu   sync.Mutex
	keys map[string]*RateLimiter
}

// NewKeyedRateLimiter constructs a KeyedRateLimiter.
func NewKeyedRateLimiter(limit int, window time.Duration) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limit:  limit,
		window: window,
		keys:   make(map[string]*RateLimiter),
	}
}

// Allow reports whether an event for key at time "now" should be permitted.
func (k *KeyedRateLimiter) Allow(key string, now time.Time) bool {
	k.mu.Lock()
	rl, ok := k.keys[key]
	if !ok {
		if len(k.keys) >= keyedSweepAt {
			for id, l := range k.keys {
				if l.idle(now) {
					delete(k.keys, id)
				}
			}
		}
		rl = NewRateLimiter(k.limit, k.window)
		k.keys[key] = rl
	}
	k.mu.Unlock()

	return rl.Allow(now)
}

// Len returns the number of tracked keys.
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}
