package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a size-bounded cache with optional TTL expiry. Safe for concurrent
// use; the underlying hashicorp cache does its own locking.
type LRU[K comparable, V any] struct {
	cache  *lru.Cache[K, entry[V]]
	ttl    time.Duration
	now    func() time.Time
	hits   atomic.Uint64
	misses atomic.Uint64
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewLRU creates a cache holding at most size entries. ttl of 0 disables
// expiry.
func NewLRU[K comparable, V any](size int, ttl time.Duration) (*LRU[K, V], error) {
	c, err := lru.New[K, entry[V]](size)
	if err != nil {
		return nil, err
	}
	return &LRU[K, V]{cache: c, ttl: ttl, now: time.Now}, nil
}

// Get returns the cached value if present and not expired
func (c *LRU[K, V]) Get(key K) (V, bool) {
	e, ok := c.cache.Get(key)
	if ok && (c.ttl == 0 || c.now().Before(e.expiresAt)) {
		c.hits.Add(1)
		return e.value, true
	}
	if ok {
		c.cache.Remove(key)
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set stores value, evicting the least recently used entry when full
func (c *LRU[K, V]) Set(key K, value V) {
	e := entry[V]{value: value}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.cache.Add(key, e)
}

// Delete removes key
func (c *LRU[K, V]) Delete(key K) {
	c.cache.Remove(key)
}

// Len is the number of entries, expired ones included until touched
func (c *LRU[K, V]) Len() int {
	return c.cache.Len()
}

// Stats returns hit and miss counts
func (c *LRU[K, V]) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
