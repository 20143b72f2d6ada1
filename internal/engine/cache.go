package engine

import (
	"sync"
	"time"

	"github.com/oselz/taxon/internal/model"
)

// targetCache holds recently loaded taxonomy lists keyed by org and kind.
// Entries expire after the TTL; Invalidate drops an entry immediately.
type targetCache struct {
	entries map[string]cacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
}

type cacheEntry struct {
	targets  []model.TargetValue
	loadedAt time.Time
}

func newTargetCache(ttl time.Duration) *targetCache {
	return &targetCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func cacheKey(orgID string, kind model.ItemKind) string {
	return orgID + "/" + string(kind)
}

func (c *targetCache) Get(orgID string, kind model.ItemKind) ([]model.TargetValue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey(orgID, kind)]
	if !ok || time.Since(entry.loadedAt) > c.ttl {
		return nil, false
	}
	return entry.targets, true
}

func (c *targetCache) Put(orgID string, kind model.ItemKind, targets []model.TargetValue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(orgID, kind)] = cacheEntry{
		targets:  targets,
		loadedAt: time.Now(),
	}
}

func (c *targetCache) Invalidate(orgID string, kind model.ItemKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, cacheKey(orgID, kind))
}
