// Package cache provides a small bounded TTL cache. Entries carry their
// insertion time and are evaluated against an injected clock, so expiry is
// deterministic in tests.
package cache

import (
	"sync"
	"time"

	"github.com/amirphl/split-trader/internal/utils"
)

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// TTL is a concurrency-safe cache bounded both in age and in size. When full,
// the oldest entry is evicted.
type TTL[K comparable, V any] struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	clock    utils.Clock
	entries  map[K]entry[V]
}

// NewTTL creates a cache. capacity <= 0 means unbounded.
func NewTTL[K comparable, V any](ttl time.Duration, capacity int, clock utils.Clock) *TTL[K, V] {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &TTL[K, V]{
		ttl:      ttl,
		capacity: capacity,
		clock:    clock,
		entries:  make(map[K]entry[V]),
	}
}

// Get returns the cached value if it is younger than the TTL.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.expired(e) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, evicting the oldest entry if the cache is full.
func (c *TTL[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.capacity > 0 && len(c.entries) >= c.capacity {
		c.purgeLocked()
		if len(c.entries) >= c.capacity {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = entry[V]{value: value, insertedAt: c.clock.Now()}
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Errors are not cached.
func (c *TTL[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Put(key, v)
	return v, nil
}

func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of entries, including ones not yet purged.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every expired entry.
func (c *TTL[K, V]) Purge() {
	c.mu.Lock()
	c.purgeLocked()
	c.mu.Unlock()
}

func (c *TTL[K, V]) expired(e entry[V]) bool {
	return c.ttl > 0 && c.clock.Now().Sub(e.insertedAt) >= c.ttl
}

func (c *TTL[K, V]) purgeLocked() {
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
		}
	}
}

func (c *TTL[K, V]) evictOldestLocked() {
	var (
		oldestKey K
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.insertedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.insertedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
