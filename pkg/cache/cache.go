package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe in-memory cache with TTL support. Expired entries are
// dropped lazily on access.
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]
	ttl   time.Duration
	clock clock.Clock
	group singleflight.Group
}

// New creates a cache whose entries live for ttl.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return NewWithClock[K, V](ttl, clock.New())
}

// NewWithClock creates a cache driven by the given clock.
func NewWithClock[K comparable, V any](ttl time.Duration, clk clock.Clock) *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]entry[V]),
		ttl:   ttl,
		clock: clk,
	}
}

// Get retrieves a live value from cache.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || !c.clock.Now().Before(item.expiresAt) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set stores a value with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiresAt: c.clock.Now().Add(c.ttl)}
}

// Delete removes a key from cache.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Purge removes expired entries and returns how many were dropped.
func (c *Cache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	dropped := 0
	for key, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Concurrent misses for the same key share one load. Errors are not cached.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	res, err, _ := c.group.Do(fmt.Sprint(key), func() (interface{}, error) {
		if value, ok := c.Get(key); ok {
			return value, nil
		}
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, value)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}
