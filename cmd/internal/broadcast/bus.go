package broadcast

import (
	"log/slog"
	"sync"

	"inbox/cmd/internal/metrics"
)

// DefaultBuffer is the subscriber queue size used when none is given.
const DefaultBuffer = 32

// Subscription is one listener on a Bus.
//
// Events is never closed by the bus, so publishers can never panic on a send;
// use Done to learn that the subscription ended.
type Subscription struct {
	id     uint64
	bus    *Bus
	events chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// Events returns the delivery queue.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed once Unsubscribe was called.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe detaches the subscription (idempotent).
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.bus.remove(s.id)
		close(s.done)
	})
}

// Bus is an in-process publish/subscribe channel.
// Publish never blocks; it drops deliveries to full queues.
type Bus struct {
	log  *slog.Logger
	name string

	mu   sync.RWMutex
	next uint64
	subs map[uint64]*Subscription
}

// NewBus constructs a Bus. name is used in logs only.
func NewBus(log *slog.Logger, name string) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:  log,
		name: name,
		subs: make(map[uint64]*Subscription),
	}
}

// Subscribe registers a listener with a queue of buffer events.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	s := &Subscription{
		id:     b.next,
		bus:    b,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	b.subs[s.id] = s
	return s
}

// Publish delivers e to every current subscriber.
func (b *Bus) Publish(e Event) {
	if b == nil || e == nil {
		return
	}

	dropped := 0

	b.mu.RLock()
	for _, s := range b.subs {
		select {
		case <-s.done:
			continue
		default:
		}

		select {
		case s.events <- e:
		default:
			dropped++
		}
	}
	b.mu.RUnlock()

	metrics.RecordPublish(string(e.Kind()), dropped)
	if dropped > 0 {
		b.log.Warn("broadcast.drop", "bus", b.name, "kind", string(e.Kind()), "dropped", dropped)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}
