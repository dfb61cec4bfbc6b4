package sqlite

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultResultCapacity = 1000
	defaultResultTTL      = 5 * time.Minute

	// evictTargetPercent is how full the cache is allowed to be after a
	// capacity eviction pass.
	evictTargetPercent = 90
)

type resultEntry struct {
	value      interface{}
	insertedAt time.Time
	expiresAt  time.Time
}

// ResultCache maps (query text, parameters) keys to previously computed
// results with a time-to-live. It is shared, process-wide state: all access
// is serialized behind one mutex since concurrent callers may trigger
// maintenance at the same time.
//
// Invalidation policy: every mutating operation clears the whole cache
// (InvalidateAll) after its transaction commits. Substring invalidation is
// available for callers that know their key space, but clear-all is the
// policy the operation layer relies on for staleness-freedom.
type ResultCache struct {
	mu         sync.Mutex
	entries    map[string]*resultEntry
	capacity   int
	defaultTTL time.Duration
	now        func() time.Time
}

// NewResultCache creates a cache bounded at capacity entries with the given
// default TTL. Non-positive arguments select the defaults.
func NewResultCache(capacity int, defaultTTL time.Duration) *ResultCache {
	if capacity <= 0 {
		capacity = defaultResultCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultResultTTL
	}
	return &ResultCache{
		entries:    make(map[string]*resultEntry),
		capacity:   capacity,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the cached value for key, treating expired entries as misses
// (and dropping them).
func (c *ResultCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Put caches value under key with the default TTL.
func (c *ResultCache) Put(key string, value interface{}) {
	c.PutTTL(key, value, c.defaultTTL)
}

// PutTTL caches value under key with an explicit TTL. If insertion would
// exceed capacity, expired entries are removed first; if the cache is still
// over capacity, the oldest-inserted entries are evicted until the cache is
// below the eviction target.
func (c *ResultCache) PutTTL(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.sweepLocked()
		if len(c.entries) >= c.capacity {
			c.evictOldestLocked(c.capacity * evictTargetPercent / 100)
		}
	}

	now := c.now()
	c.entries[key] = &resultEntry{
		value:      value,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	}
}

// Invalidate removes all entries whose key contains pattern as a substring
// and returns the number removed.
func (c *ResultCache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.Contains(key, pattern) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// InvalidateAll clears the cache.
func (c *ResultCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*resultEntry)
}

// Sweep removes expired entries. The pool triggers it lazily from Acquire,
// at most once per sweep interval.
func (c *ResultCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
}

func (c *ResultCache) sweepLocked() {
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictOldestLocked removes oldest-inserted entries until at most target
// entries remain.
func (c *ResultCache) evictOldestLocked(target int) {
	for len(c.entries) > target {
		var oldestKey string
		var oldestAt time.Time
		for key, e := range c.entries {
			if oldestKey == "" || e.insertedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = e.insertedAt
			}
		}
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of cached entries, expired or not.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// resultKey derives a deterministic cache key from the operation name, the
// whitespace-normalized query text, and a hash of the bound parameters. The
// readable prefix keeps substring invalidation meaningful.
func resultKey(op, text string, params ...interface{}) string {
	norm := strings.Join(strings.Fields(text), " ")
	if len(params) == 0 {
		return op + ":" + norm
	}
	sum := sha256.Sum256([]byte(fmt.Sprint(params...)))
	return op + ":" + norm + ":" + hex.EncodeToString(sum[:8])
}
