// Package cache wraps an expirable LRU for read-heavy lookups such as live
// catalog rules and pricing rates.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults applied when a caller passes zero values.
const (
	DefaultSize = 10_000
	DefaultTTL  = 5 * time.Minute
	MaxTTL      = time.Hour
)

// Cache is a bounded TTL cache. Entries evict on capacity pressure or age,
// whichever hits first.
type Cache[K comparable, V any] struct {
	inner *expirable.LRU[K, V]
}

// New builds a cache. Size defaults to DefaultSize; ttl clamps into
// (0, MaxTTL], defaulting to DefaultTTL.
func New[K comparable, V any](size int, ttl time.Duration) *Cache[K, V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	return &Cache[K, V]{inner: expirable.NewLRU[K, V](size, nil, ttl)}
}

// Get returns the live value for the key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.inner.Get(key)
}

// Set stores the value under the key.
func (c *Cache[K, V]) Set(key K, value V) {
	c.inner.Add(key, value)
}

// Remove drops the key.
func (c *Cache[K, V]) Remove(key K) {
	c.inner.Remove(key)
}

// Purge drops every entry.
func (c *Cache[K, V]) Purge() {
	c.inner.Purge()
}

// Len reports the live entry count.
func (c *Cache[K, V]) Len() int {
	return c.inner.Len()
}
