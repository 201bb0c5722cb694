package surface

import (
	"log/slog"

	"inbox/cmd/internal/broadcast"
	"inbox/cmd/internal/thread"
)

// Synchronizer mirrors a finished resolution into history and onto the bus.
type Synchronizer struct {
	history *History
	pub     broadcast.Publisher
	log     *slog.Logger

	others broadcast.UserPublisher
	userID string
}

// NewSynchronizer constructs a Synchronizer. pub may be nil.
func NewSynchronizer(history *History, pub broadcast.Publisher, log *slog.Logger) *Synchronizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{history: history, pub: pub, log: log}
}

// NotifyCounterpart makes s announce conversations created by userID to the other
// participant's bus. It returns s.
func (s *Synchronizer) NotifyCounterpart(others broadcast.UserPublisher, userID string) *Synchronizer {
	s.others = others
	s.userID = userID
	return s
}

// Resolved applies res, the resolution of requested.
func (s *Synchronizer) Resolved(requested string, res thread.Resolution) {
	canonical := ConversationPath(res.ID)
	if s.history != nil && s.history.Current() != canonical {
		s.history.Replace(canonical)
	}

	if s.pub != nil {
		if res.Created {
			s.pub.Publish(broadcast.ThreadCreated{ConversationID: res.ID, RequestedID: requested})
		}
		if requested != res.ID {
			s.pub.Publish(broadcast.ThreadIDChanged{OldID: requested, NewID: res.ID})
		}
		if res.Created && res.Path == thread.PathFallback {
			s.pub.Publish(broadcast.RefreshThreads{})
		}
	}

	if res.Created && s.others != nil && s.userID != "" {
		if other := res.Counterpart(s.userID); other != "" && other != s.userID {
			s.others.Publish(other, broadcast.ThreadCreated{ConversationID: res.ID, RequestedID: s.userID})
		}
	}

	s.log.Debug("surface.sync.resolved",
		"requested", requested,
		"conversation_id", res.ID,
		"created", res.Created,
		"path", string(res.Path),
	)
}
