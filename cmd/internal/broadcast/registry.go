package broadcast

import (
	"log/slog"
	"sync"
)

// Registry hands out one Bus per user so every surface of that user shares it.
//
// Holders take a reference with Acquire and drop it with Release; the bus of a
// user lives while any reference or subscriber remains.
type Registry struct {
	log *slog.Logger

	mu    sync.Mutex
	buses map[string]*entry
}

type entry struct {
	bus  *Bus
	refs int
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		buses: make(map[string]*entry),
	}
}

// Acquire returns the bus of userID and takes a reference on it.
// Every Acquire must be paired with one Release.
func (r *Registry) Acquire(userID string) *Bus {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.buses[userID]
	if !ok {
		e = &entry{bus: NewBus(r.log, userID)}
		r.buses[userID] = e
	}
	e.refs++
	return e.bus
}

// Subscribe subscribes to the bus of userID. The lookup and the subscription
// happen atomically with respect to Release.
func (r *Registry) Subscribe(userID string, buffer int) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.buses[userID]
	if !ok {
		e = &entry{bus: NewBus(r.log, userID)}
		r.buses[userID] = e
	}
	return e.bus.Subscribe(buffer)
}

// Publish sends e to the bus of userID, if anyone listens there.
func (r *Registry) Publish(userID string, e Event) {
	r.mu.Lock()
	var b *Bus
	if en := r.buses[userID]; en != nil {
		b = en.bus
	}
	r.mu.Unlock()

	if b != nil {
		b.Publish(e)
	}
}

// Release drops one reference on the bus of userID and forgets the bus once no
// reference and no subscriber is left.
func (r *Registry) Release(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.buses[userID]
	if !ok {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.refs == 0 && e.bus.Len() == 0 {
		delete(r.buses, userID)
	}
}
