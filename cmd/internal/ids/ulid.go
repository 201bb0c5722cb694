// Package ids provides the identifier primitives used across inbox.
//
// Conversations are addressed by RFC 4122 UUID strings so they can be told apart from
// person identifiers by shape alone. Everything else (sessions, envelopes, server message ids)
// uses ULIDs, which sort by creation time and read well in logs.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
