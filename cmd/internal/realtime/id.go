package realtime

import (
	"time"

	"inbox/cmd/internal/ids"
)

// NewSessionID returns a ULID used as websocket session id.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewServerMsgID returns a ULID used as server_msg_id.
func NewServerMsgID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
