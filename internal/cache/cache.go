// Package cache provides a generic in-memory TTL cache.
//
// Expiry is enforced lazily on read and by a background sweep goroutine; a
// capacity bound evicts the oldest entry on overflow. All operations are safe
// for concurrent use.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

type settings struct {
	capacity int
}

// Option configures a Cache.
type Option func(*settings)

// WithCapacity bounds the number of live entries. Inserting into a full
// cache evicts the entry with the oldest store time.
func WithCapacity(n int) Option {
	return func(s *settings) {
		s.capacity = n
	}
}

// Cache is a TTL cache keyed by K.
type Cache[K comparable, V any] struct {
	mu       sync.RWMutex
	entries  map[K]entry[V]
	capacity int
	done     chan struct{}
	closeOne sync.Once
}

// New creates a cache whose sweep goroutine runs every cleanupInterval.
// A non-positive interval disables the sweep; expiry still applies on read.
func New[K comparable, V any](cleanupInterval time.Duration, opts ...Option) *Cache[K, V] {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	c := &Cache[K, V]{
		entries:  make(map[K]entry[V]),
		capacity: s.capacity,
		done:     make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.sweep(cleanupInterval)
	}

	return c
}

// Get returns the live value for key. Expired entries are deleted on sight
// and reported as absent.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl.
func (c *Cache[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity > 0 {
		if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
			c.evictOldestLocked()
		}
	}

	c.entries[key] = entry[V]{
		value:     value,
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
}

// Delete removes key if present.
func (c *Cache[K, V]) Delete(ctx context.Context, key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones included until swept.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the sweep goroutine.
func (c *Cache[K, V]) Close() {
	c.closeOne.Do(func() {
		close(c.done)
	})
}

func (c *Cache[K, V]) evictOldestLocked() {
	var oldestKey K
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.storedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.storedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache[K, V]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
