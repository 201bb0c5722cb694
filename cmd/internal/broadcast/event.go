// Package broadcast carries thread resolution outcomes between surfaces of the same user.
//
// Delivery is at-most-once with no replay: a subscriber that is not listening, or whose
// queue is full, misses the event. Surfaces therefore treat events as hints and keep
// their own state authoritative.
package broadcast

import "inbox/cmd/internal/thread"

// Kind is the wire name of an event.
type Kind string

const (
	KindThreadCreated      Kind = "thread-created"
	KindThreadIDChanged    Kind = "thread-id-changed"
	KindLastMessageUpdated Kind = "last-message-updated"
	KindRefreshThreads     Kind = "refresh-threads"
)

// Event is one of ThreadCreated, ThreadIDChanged, LastMessageUpdated or RefreshThreads.
type Event interface {
	Kind() Kind
	isEvent()
}

// ThreadCreated announces a conversation created while resolving RequestedID.
type ThreadCreated struct {
	ConversationID string
	RequestedID    string
}

// ThreadIDChanged announces that OldID now resolves to the canonical NewID.
type ThreadIDChanged struct {
	OldID string
	NewID string
}

// LastMessageUpdated announces a new last message in a conversation.
type LastMessageUpdated struct {
	ConversationID string
	Summary        thread.MessageSummary
}

// RefreshThreads asks list surfaces to refetch.
type RefreshThreads struct{}

func (ThreadCreated) Kind() Kind      { return KindThreadCreated }
func (ThreadIDChanged) Kind() Kind    { return KindThreadIDChanged }
func (LastMessageUpdated) Kind() Kind { return KindLastMessageUpdated }
func (RefreshThreads) Kind() Kind     { return KindRefreshThreads }

func (ThreadCreated) isEvent()      {}
func (ThreadIDChanged) isEvent()    {}
func (LastMessageUpdated) isEvent() {}
func (RefreshThreads) isEvent()     {}

// Publisher is the write side of a Bus.
type Publisher interface {
	Publish(e Event)
}

// UserPublisher publishes to the bus of a given user. Registry implements it.
type UserPublisher interface {
	Publish(userID string, e Event)
}
