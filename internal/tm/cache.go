package tm

import (
	"sync"
	"time"
)

const (
	lookupCacheMaxEntries = 2048
	lookupCacheTTL        = 5 * time.Minute
)

type lookupEntry struct {
	match    *Match // nil for a cached miss
	cachedAt time.Time
}

// lookupCache is the small read-through cache in front of exact-match storage
// lookups, keyed "hash:targetLang". Negative results are cached too so
// repeated misses do not hit storage.
type lookupCache struct {
	mu      sync.Mutex
	entries map[string]lookupEntry
}

func newLookupCache() *lookupCache {
	return &lookupCache{entries: make(map[string]lookupEntry)}
}

func (c *lookupCache) get(key string) (*Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.cachedAt) > lookupCacheTTL {
		delete(c.entries, key)
		return nil, false
	}
	if entry.match == nil {
		return nil, true
	}
	clone := *entry.match
	return &clone, true
}

func (c *lookupCache) put(key string, match *Match) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= lookupCacheMaxEntries {
		c.evictOldestLocked()
	}
	var stored *Match
	if match != nil {
		clone := *match
		stored = &clone
	}
	c.entries[key] = lookupEntry{match: stored, cachedAt: time.Now()}
}

func (c *lookupCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// evictOldestLocked drops the oldest cached lookups to make room. Best-effort:
// the cache is a latency shortcut, not a source of truth.
func (c *lookupCache) evictOldestLocked() {
	toEvict := len(c.entries) / 10
	if toEvict < 1 {
		toEvict = 1
	}
	for i := 0; i < toEvict; i++ {
		var oldestKey string
		var oldestAt time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.cachedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = entry.cachedAt
			}
		}
		delete(c.entries, oldestKey)
	}
}
