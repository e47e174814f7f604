package dedup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lingvo-tools/tmpipeline/pkg/log"
)

const (
	// DefaultTTL bounds how stale a reused translation can be.
	DefaultTTL      = 30 * time.Minute
	DefaultCapacity = 10000

	evictFraction = 0.2
)

// LookupState classifies a Lookup result.
type LookupState int

const (
	// Miss: nothing cached or pending; caller should translate (after
	// RegisterPending).
	Miss LookupState = iota
	// Hit: a valid cached translation was returned.
	Hit
	// Pending: another batch is already translating this text; await the
	// handle.
	Pending
)

// LookupResult is the outcome of a cache lookup.
type LookupResult struct {
	State       LookupState
	Translation string
	Handle      *PendingHandle
}

// PendingHandle lets a waiter await the translation being produced by another
// batch. Owned collectively by all waiters.
type PendingHandle struct {
	entry *pendingEntry
}

// Wait blocks until the owning batch completes or fails the entry. ok=false
// means the producer failed and the waiter should translate independently.
func (h *PendingHandle) Wait(ctx context.Context) (translation string, ok bool, err error) {
	select {
	case <-h.entry.done:
		return h.entry.translation, h.entry.ok, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

type cacheEntry struct {
	translation string
	createdAt   time.Time
	useCount    int
}

type pendingEntry struct {
	batchID     string
	done        chan struct{}
	translation string
	ok          bool
}

// Cache deduplicates provider calls across concurrently running batches: when
// N parallel batches contain the same source text for the same target
// language, only the first caller translates and everyone else awaits its
// result. Keys are source hashes scoped by target language (callers build
// them via tm.SourceHash + ":" + lang).
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	pending  map[string]*pendingEntry
	ttl      time.Duration
	capacity int
}

func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries:  make(map[string]*cacheEntry),
		pending:  make(map[string]*pendingEntry),
		ttl:      ttl,
		capacity: capacity,
	}
}

// RegisterPending atomically tests whether hash is already cached or pending.
// Returns true only for the single caller that must perform the translation;
// everyone else should Lookup and await the pending handle.
func (c *Cache) RegisterPending(hash, batchID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[hash]; ok && !c.expiredLocked(entry) {
		return false
	}
	if _, ok := c.pending[hash]; ok {
		return false
	}
	c.pending[hash] = &pendingEntry{
		batchID: batchID,
		done:    make(chan struct{}),
	}
	return true
}

// Lookup returns a Hit (TTL-checked, use count incremented), a Pending handle
// or a Miss. Expired entries are pruned rather than reused.
func (c *Cache) Lookup(hash string) LookupResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[hash]; ok {
		if c.expiredLocked(entry) {
			delete(c.entries, hash)
		} else {
			entry.useCount++
			return LookupResult{State: Hit, Translation: entry.translation}
		}
	}
	if pend, ok := c.pending[hash]; ok {
		return LookupResult{State: Pending, Handle: &PendingHandle{entry: pend}}
	}
	return LookupResult{State: Miss}
}

// Complete stores the finished translation, replacing any pending entry, and
// wakes every waiter with the same value.
func (c *Cache) Complete(hash, translation string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pend, ok := c.pending[hash]; ok {
		pend.translation = translation
		pend.ok = true
		close(pend.done)
		delete(c.pending, hash)
	}
	c.entries[hash] = &cacheEntry{
		translation: translation,
		createdAt:   time.Now(),
	}
	c.evictIfOverCapacityLocked()
}

// Fail wakes waiters with a miss signal so each can independently retry.
func (c *Cache) Fail(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(hash)
}

func (c *Cache) failLocked(hash string) {
	if pend, ok := c.pending[hash]; ok {
		close(pend.done)
		delete(c.pending, hash)
	}
}

// CancelBatch fails only the pending entries registered by batchID, leaving
// other batches' in-flight work untouched.
func (c *Cache) CancelBatch(batchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for hash, pend := range c.pending {
		if pend.batchID == batchID {
			c.failLocked(hash)
		}
	}
}

// Prune drops expired cached entries. Called periodically by the maintenance
// schedule.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for hash, entry := range c.entries {
		if c.expiredLocked(entry) {
			delete(c.entries, hash)
			pruned++
		}
	}
	if pruned > 0 {
		log.Debug("Pruned %d expired dedup cache entries", pruned)
	}
	return pruned
}

// Len reports the number of cached (non-pending) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expiredLocked(entry *cacheEntry) bool {
	return time.Since(entry.createdAt) > c.ttl
}

// evictIfOverCapacityLocked removes the lowest-use-count, oldest-created 20%
// of cached entries once the ceiling is exceeded. Best-effort heuristic, not
// strict LRU: a new-but-popular-later entry can be evicted; keep the two-key
// ordering as is.
func (c *Cache) evictIfOverCapacityLocked() {
	if len(c.entries) <= c.capacity {
		return
	}

	type victim struct {
		hash      string
		useCount  int
		createdAt time.Time
	}
	all := make([]victim, 0, len(c.entries))
	for hash, entry := range c.entries {
		all = append(all, victim{hash: hash, useCount: entry.useCount, createdAt: entry.createdAt})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].useCount != all[j].useCount {
			return all[i].useCount < all[j].useCount
		}
		return all[i].createdAt.Before(all[j].createdAt)
	})

	toEvict := int(float64(len(all)) * evictFraction)
	if toEvict < 1 {
		toEvict = 1
	}
	for i := 0; i < toEvict; i++ {
		delete(c.entries, all[i].hash)
	}
	log.Debug("Dedup cache over capacity, evicted %d entries", toEvict)
}
