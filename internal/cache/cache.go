// Package cache provides the short-TTL in-memory maps a cycle uses for
// quote and balance lookups. A cache is constructed once per cycle and
// passed to the components that need it; it is a pure optimization, never a
// source of truth, and is never shared across processes. There are no
// background goroutines: expiry is checked on read.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value   float64
	expires time.Time
}

// Cache is a TTL map from string keys to float64 values (prices, balances).
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

// New returns a cache with the given TTL. TTLs are expected in the
// single-digit-seconds to tens-of-seconds range.
func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, entries: make(map[string]entry), now: time.Now}
}

// WithClock overrides the cache clock. Test hook.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the cached value when present and unexpired.
func (c *Cache) Get(key string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		return 0, false
	}
	return e.value, true
}

// Set stores a value under the cache TTL.
func (c *Cache) Set(key string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expires: c.now().Add(c.ttl)}
}

// GetOrFetch returns the cached value or fetches, stores and returns a fresh
// one. A fetch error is returned without caching.
func (c *Cache) GetOrFetch(key string, fetch func() (float64, error)) (float64, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fetch()
	if err != nil {
		return 0, err
	}
	c.Set(key, v)
	return v, nil
}
