// Package cache stores serialized recommendation lists with a TTL.
package cache

import (
	"context"
	"time"
)

// KeyPrefix namespaces recommendation entries.
const KeyPrefix = "recommendations:"

// DefaultTTL is how long a computed recommendation list is served from cache.
const DefaultTTL = time.Hour

// Key returns the cache key for a user's recommendations.
func Key(userID string) string { return KeyPrefix + userID }

// Cache is a byte-valued key-value store with per-entry expiry. Get reports a
// miss as ok == false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Close() error
}
