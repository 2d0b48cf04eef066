// Package cache provides the in-memory caches backing role resolution and a
// distributed invalidation broadcaster.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is the minimal cache surface the roles store consumes.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	SetIfAbsent(key string, value interface{}) bool
	Delete(key string)
	RemoveIf(predicate func(key string, value interface{}) bool) int
	Clear()
	Len() int
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// LRU implements a bounded LRU cache with optional TTL support. A negative
// capacity leaves the cache unbounded; a zero TTL disables expiration.
type LRU struct {
	capacity int
	ttl      time.Duration

	items map[string]*list.Element
	order *list.List
	mu    sync.Mutex

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// NewLRU creates a new LRU cache.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get retrieves a value from the cache.
func (c *LRU) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)

		if c.expired(entry) {
			c.removeElement(elem)
			atomic.AddUint64(&c.misses, 1)
			return nil, false
		}

		c.order.MoveToFront(elem)
		atomic.AddUint64(&c.hits, 1)
		return entry.value, true
	}

	atomic.AddUint64(&c.misses, 1)
	return nil, false
}

// Set adds or updates a value in the cache.
func (c *LRU) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value, true)
}

// SetIfAbsent inserts the value only when no live entry exists for the key.
// It reports whether the value was inserted. Late resolutions racing an
// earlier insert for the same key no-op here instead of overwriting.
func (c *LRU) SetIfAbsent(key string, value interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set(key, value, false)
}

func (c *LRU) set(key string, value interface{}, overwrite bool) bool {
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		if !c.expired(entry) {
			if !overwrite {
				return false
			}
			entry.value = value
			entry.expiresAt = c.expiry()
			c.order.MoveToFront(elem)
			return true
		}
		c.removeElement(elem)
	}

	if c.capacity >= 0 {
		for c.order.Len() >= c.capacity {
			if !c.evictOldest() {
				return false
			}
		}
	}

	elem := c.order.PushFront(&cacheEntry{key: key, value: value, expiresAt: c.expiry()})
	c.items[key] = elem
	return true
}

// Delete removes a key from the cache.
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// RemoveIf removes every entry matching the predicate and returns the number
// of removed entries.
func (c *LRU) RemoveIf(predicate func(key string, value interface{}) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var next *list.Element
	for elem := c.order.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*cacheEntry)
		if predicate(entry.key, entry.value) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// Clear removes all entries from the cache.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of live entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cache statistics.
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	size := c.order.Len()
	c.mu.Unlock()

	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

func (c *LRU) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.ttl)
}

func (c *LRU) expired(entry *cacheEntry) bool {
	return !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)
}

func (c *LRU) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.order.Remove(elem)
}

func (c *LRU) evictOldest() bool {
	elem := c.order.Back()
	if elem == nil {
		return false
	}
	c.removeElement(elem)
	return true
}
