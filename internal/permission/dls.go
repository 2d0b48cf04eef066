package permission

import (
	"sync"

	"go.uber.org/zap"
)

// DocumentBitsetCache caches per-query document bitsets used by
// document-level security filtering. The resolution core does not evaluate
// queries; it owns the cache lifecycle because cached bitsets become invalid
// whenever role definitions change, so full role-cache invalidation clears
// this cache too.
type DocumentBitsetCache struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]int64 // query -> approximate bitset size in bytes
}

// NewDocumentBitsetCache creates an empty bitset cache.
func NewDocumentBitsetCache(logger *zap.Logger) *DocumentBitsetCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentBitsetCache{
		logger:  logger,
		entries: make(map[string]int64),
	}
}

// Record notes a cached bitset for query with its approximate memory usage.
func (c *DocumentBitsetCache) Record(query string, sizeBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[query] = sizeBytes
}

// Count returns the number of cached bitsets.
func (c *DocumentBitsetCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops all cached bitsets.
func (c *DocumentBitsetCache) Clear(reason string) {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]int64)
	c.mu.Unlock()
	c.logger.Debug("cleared DLS bitset cache",
		zap.String("reason", reason),
		zap.Int("entries", n),
	)
}

// UsageStats reports the cache size for the usage statistics surface.
func (c *DocumentBitsetCache) UsageStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var memory int64
	for _, size := range c.entries {
		memory += size
	}
	return map[string]interface{}{
		"count":           len(c.entries),
		"memory_in_bytes": memory,
	}
}
