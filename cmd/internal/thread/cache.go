package thread

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned by PairCache.Lookup when no mapping is stored.
var ErrCacheMiss = errors.New("pair cache miss")

// PairCache remembers the conversation id of a participant pair.
// Entries are hints: the resolver validates every hit against the Store.
type PairCache interface {
	Lookup(ctx context.Context, pairKey string) (string, error)
	Remember(ctx context.Context, pairKey, conversationID string) error
	Forget(ctx context.Context, pairKey string) error
}
