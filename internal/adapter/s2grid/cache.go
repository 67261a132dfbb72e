package s2grid

import (
	"fmt"
	"sync"

	"github.com/couchcryptid/ais-track-etl/internal/domain"
	"github.com/couchcryptid/ais-track-etl/internal/observability"
)

// CachedIndex wraps a GridIndexer with an in-memory LRU cache. Anchored and
// drifting vessels report the same rounded position many times over.
type CachedIndex struct {
	inner   domain.GridIndexer
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedIndex creates a cache decorator around a grid index. metrics may
// be nil.
func NewCachedIndex(inner domain.GridIndexer, maxEntries int, metrics *observability.Metrics) *CachedIndex {
	return &CachedIndex{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedIndex) GridIndex(lon, lat float64, level int) string {
	key := fmt.Sprintf("%.6f,%.6f/%d", lon, lat, level)
	if code, ok := c.cache.get(key); ok {
		c.observe("hit")
		return code
	}
	c.observe("miss")
	code := c.inner.GridIndex(lon, lat, level)
	c.cache.put(key, code)
	return code
}

func (c *CachedIndex) observe(result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.GridCache.WithLabelValues(result).Inc()
}

// lruCache is a simple thread-safe LRU cache of gridcodes.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value string
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
