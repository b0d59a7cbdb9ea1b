package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Cache. Entries are lost on restart.
type Memory struct {
	c *gocache.Cache
}

// Compile-time check that Memory implements Cache.
var _ Cache = (*Memory)(nil)

// NewMemory creates an in-process cache that purges expired entries every
// cleanup interval.
func NewMemory(cleanup time.Duration) *Memory {
	return &Memory{c: gocache.New(DefaultTTL, cleanup)}
}

// Get returns a copy of the stored bytes.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b := v.([]byte)
	out := make([]byte, len(b))
	copy(out, b)
	return out, true, nil
}

// Set stores a copy of val. A non-positive ttl uses DefaultTTL.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	b := make([]byte, len(val))
	copy(b, val)
	m.c.Set(key, b, ttl)
	return nil
}

// Close drops every entry.
func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
