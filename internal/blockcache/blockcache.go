// Package blockcache is a bounded LRU of decoded skip-list blocks. A cache
// is owned by whoever opens an index and passed into its readers; there is
// no process-wide instance.
package blockcache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"kestrel/internal/metrics"
)

// Kind distinguishes the files a cached block came from.
type Kind uint8

const (
	KindDocs Kind = iota + 1
	KindValues
)

// Key identifies one decoded block.
type Key struct {
	Store  uint64 // from NewStoreID, unique per opened store
	Kind   Kind
	Offset uint64 // block payload offset in its file
}

var storeIDs atomic.Uint64

// NewStoreID returns an id that no other store in this process uses.
func NewStoreID() uint64 { return storeIDs.Add(1) }

// Cache holds decoded values of type V. Cached values are shared between
// readers and must not be modified. A nil *Cache is valid and caches nothing.
type Cache[V any] struct {
	lru     *lru.Cache
	metrics *metrics.Metrics
}

// New creates a cache holding up to size blocks.
func New[V any](size int, m *metrics.Metrics) (*Cache[V], error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create block cache: %w", err)
	}
	return &Cache[V]{lru: c, metrics: metrics.Default(m)}, nil
}

// Get returns the cached value for k.
func (c *Cache[V]) Get(k Key) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	v, ok := c.lru.Get(k)
	if !ok {
		c.metrics.CacheMisses.Inc()
		return zero, false
	}
	c.metrics.CacheHits.Inc()
	return v.(V), true
}

// Add stores v under k.
func (c *Cache[V]) Add(k Key, v V) {
	if c == nil {
		return
	}
	c.lru.Add(k, v)
}

// Len returns the number of cached blocks.
func (c *Cache[V]) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge drops every cached block.
func (c *Cache[V]) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// PurgeStore drops the blocks of one store, typically when its
// generation is retired.
func (c *Cache[V]) PurgeStore(store uint64) {
	if c == nil {
		return
	}
	for _, k := range c.lru.Keys() {
		if key, ok := k.(Key); ok && key.Store == store {
			c.lru.Remove(k)
		}
	}
}
