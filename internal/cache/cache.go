// Package cache is a small in-memory cache with an explicit TTL and explicit
// invalidation. Entries expire by wall clock only — nothing is tied to any
// request or connection lifetime.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache maps string keys to values of type V. All methods are safe for
// concurrent use.
type Cache[V any] struct {
	mu   sync.Mutex
	ttl  time.Duration
	data map[string]entry[V]

	hits   int64
	misses int64

	// now is swappable in tests.
	now func() time.Time
}

// Stats is a point-in-time view of hit/miss counters.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

// New creates a cache whose entries expire ttl after being set.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:  ttl,
		data: make(map[string]entry[V]),
		now:  time.Now,
	}
}

// Get returns the cached value and whether it was present and fresh.
// Expired entries are removed on access.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if ok && c.now().Sub(e.storedAt) < c.ttl {
		c.hits++
		return e.value, true
	}
	if ok {
		delete(c.data, key)
	}
	c.misses++
	var zero V
	return zero, false
}

// Set stores value under key, resetting its TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = entry[V]{value: value, storedAt: c.now()}
}

// Delete invalidates a single key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Clear invalidates every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]entry[V])
}

// GetOrSet returns the cached value for key, calling fetch and caching its
// result on a miss. A fetch error is returned uncached.
func (c *Cache[V]) GetOrSet(key string, fetch func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Stats returns current counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.data)}
}
