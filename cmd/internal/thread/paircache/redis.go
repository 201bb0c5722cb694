// Package paircache stores participant pair -> conversation id hints in Redis.
package paircache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"inbox/cmd/internal/thread"
)

// DefaultTTL bounds how long a pair hint is kept.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "inbox:pair:v1:"

// RedisCache is a thread.PairCache backed by go-redis v9.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ thread.PairCache = (*RedisCache)(nil)

// Open parses url, connects and pings Redis.
func Open(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("paircache: empty redis url")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("paircache: parse url: %w", err)
	}
	c := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("paircache: ping: %w", err)
	}
	return New(c, ttl), nil
}

// New wraps an existing client. A non-positive ttl selects DefaultTTL.
func New(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Lookup returns the cached conversation id for pairKey, or thread.ErrCacheMiss.
func (r *RedisCache) Lookup(ctx context.Context, pairKey string) (string, error) {
	res, err := r.client.Get(ctx, keyPrefix+pairKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", thread.ErrCacheMiss
	}
	if err != nil {
		return "", err
	}
	return res, nil
}

// Remember stores the conversation id for pairKey.
func (r *RedisCache) Remember(ctx context.Context, pairKey, conversationID string) error {
	return r.client.Set(ctx, keyPrefix+pairKey, conversationID, r.ttl).Err()
}

// Forget removes pairKey.
func (r *RedisCache) Forget(ctx context.Context, pairKey string) error {
	return r.client.Del(ctx, keyPrefix+pairKey).Err()
}

// Ping reports whether Redis is reachable.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
