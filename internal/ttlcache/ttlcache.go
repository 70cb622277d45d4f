// Package ttlcache is the gateway's keyed in-memory cache with per-entry
// expiry (spec §4.E). Expiration is lazy: an expired entry is evicted the
// next time it is read, not by a background sweep.
package ttlcache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a generic, concurrency-safe TTL cache. The zero value is not
// usable; construct with New.
type Cache[V any] struct {
	mu    sync.Mutex
	items map[string]entry[V]
}

// New returns an empty TTL cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{items: make(map[string]entry[V])}
}

// Get returns the cached value for key if present and not expired. An
// expired entry is evicted as part of the lookup.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key with the given time-to-live.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
}

// Len returns the current number of entries, including any not yet
// lazily evicted. Intended for diagnostics only.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
