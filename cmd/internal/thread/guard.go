package thread

import (
	"sync"

	"inbox/cmd/internal/metrics"
)

// Status is the lifecycle state of a Guard.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusResolving Status = "resolving"
	StatusResolved  Status = "resolved"
	StatusFailed    Status = "failed"
)

// State is a point-in-time copy of a Guard.
type State struct {
	Requested     string
	ResolvedID    string
	LastProcessed string
	Busy          bool
	Status        Status
	Err           error
}

// Ticket identifies one attempt admitted by Guard.Begin.
type Ticket struct {
	gen        uint64
	Identifier string
}

// Outcome reports what a Guard did with a finished attempt.
type Outcome uint8

const (
	// OutcomeApplied means state was updated and effects ran.
	OutcomeApplied Outcome = iota
	// OutcomeStale means a newer identifier was requested meanwhile; nothing was applied.
	OutcomeStale
	// OutcomeDiscarded means the guard was closed or the ticket superseded.
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	default:
		return "discarded"
	}
}

// Guard serializes resolution attempts of one surface.
//
// At most one attempt is in flight. Requests arriving while busy are recorded in
// Requested but not queued; the owner re-evaluates Requested when an attempt comes
// back OutcomeStale. After Close every outcome is discarded.
type Guard struct {
	mu     sync.Mutex
	st     State
	gen    uint64
	closed bool
}

// NewGuard returns an idle Guard.
func NewGuard() *Guard {
	return &Guard{st: State{Status: StatusIdle}}
}

// Begin admits an attempt for identifier.
// It returns false while another attempt is in flight, when identifier was already
// processed to a final status, or after Close.
func (g *Guard) Begin(identifier string) (Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		metrics.RecordGuardDrop("closed")
		return Ticket{}, false
	}
	g.st.Requested = identifier
	if g.st.Busy {
		metrics.RecordGuardDrop("busy")
		return Ticket{}, false
	}
	if identifier == g.st.LastProcessed && (g.st.Status == StatusResolved || g.st.Status == StatusFailed) {
		metrics.RecordGuardDrop("repeat")
		return Ticket{}, false
	}

	g.gen++
	g.st.Busy = true
	g.st.Status = StatusResolving
	g.st.LastProcessed = identifier
	g.st.Err = nil
	return Ticket{gen: g.gen, Identifier: identifier}, true
}

// Succeed finishes t with the canonical conversationID.
// effects runs under the guard lock, only when the outcome is applied.
func (g *Guard) Succeed(t Ticket, conversationID string, effects func()) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := g.finishLocked(t)
	if out != OutcomeApplied {
		return out
	}
	g.st.Status = StatusResolved
	g.st.ResolvedID = conversationID
	if conversationID != t.Identifier {
		g.st.LastProcessed = conversationID
		g.st.Requested = conversationID
	}
	if effects != nil {
		effects()
	}
	return OutcomeApplied
}

// Fail finishes t with err.
// effects runs under the guard lock, only when the outcome is applied.
func (g *Guard) Fail(t Ticket, err error, effects func()) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := g.finishLocked(t)
	if out != OutcomeApplied {
		return out
	}
	g.st.Status = StatusFailed
	g.st.ResolvedID = ""
	g.st.Err = err
	if effects != nil {
		effects()
	}
	return OutcomeApplied
}

func (g *Guard) finishLocked(t Ticket) Outcome {
	if g.closed || t.gen == 0 || t.gen != g.gen || !g.st.Busy {
		return OutcomeDiscarded
	}
	g.st.Busy = false
	if g.st.Requested != t.Identifier {
		g.st.Status = StatusIdle
		g.st.LastProcessed = ""
		return OutcomeStale
	}
	return OutcomeApplied
}

// Adopt retargets the guard from oldID to newID when oldID is what the guard
// currently shows. The guard becomes ready to load newID; an attempt in flight
// comes back stale instead. effects runs under the guard lock.
func (g *Guard) Adopt(oldID, newID string, effects func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || oldID == "" || newID == "" || oldID == newID {
		return false
	}
	if g.st.Requested != oldID && g.st.ResolvedID != oldID {
		return false
	}
	g.st.Requested = newID
	if !g.st.Busy {
		g.st.LastProcessed = ""
		g.st.ResolvedID = ""
		g.st.Status = StatusIdle
		g.st.Err = nil
	}
	if effects != nil {
		effects()
	}
	return true
}

// Clear forgets the current identifier, as when leaving the conversation view.
// An attempt in flight comes back stale.
func (g *Guard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.st.Requested = ""
	g.st.ResolvedID = ""
	g.st.Err = nil
	if !g.st.Busy {
		g.st.LastProcessed = ""
		g.st.Status = StatusIdle
	}
}

// Reset clears the memo so the last identifier may be attempted again.
// It has no effect while an attempt is in flight.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || g.st.Busy {
		return
	}
	g.st.LastProcessed = ""
	g.st.Status = StatusIdle
	g.st.Err = nil
}

// Close marks the guard dead. Pending outcomes are discarded.
func (g *Guard) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Closed reports whether Close was called.
func (g *Guard) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Snapshot returns a copy of the current state.
func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st
}
