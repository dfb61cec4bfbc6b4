package sqlite

import (
	"fmt"
	"testing"
	"time"
)

// cacheClock pins the cache's clock for deterministic TTL tests.
func cacheClock(c *ResultCache, start time.Time) func(time.Duration) {
	current := start
	c.now = func() time.Time { return current }
	return func(d time.Duration) { current = current.Add(d) }
}

func TestResultCacheGetPut(t *testing.T) {
	c := NewResultCache(10, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Errorf("expected miss for absent key")
	}

	c.Put("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Errorf("Get(k) = (%v, %v), want (v, true)", got, ok)
	}
}

func TestResultCacheTTLExpiry(t *testing.T) {
	c := NewResultCache(10, time.Minute)
	advance := cacheClock(c, epoch)

	c.Put("k", "v")
	advance(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("entry expired before its TTL")
	}

	advance(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("entry survived past its TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry must be dropped on access, len = %d", c.Len())
	}
}

func TestResultCachePerEntryTTL(t *testing.T) {
	c := NewResultCache(10, time.Minute)
	advance := cacheClock(c, epoch)

	c.PutTTL("short", "v", time.Second)
	c.Put("long", "v")

	advance(2 * time.Second)
	if _, ok := c.Get("short"); ok {
		t.Errorf("per-entry TTL not honored")
	}
	if _, ok := c.Get("long"); !ok {
		t.Errorf("default-TTL entry expired early")
	}
}

func TestResultCacheCapacityEviction(t *testing.T) {
	const capacity = 10
	c := NewResultCache(capacity, time.Minute)
	advance := cacheClock(c, epoch)

	for i := 0; i < capacity; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
		advance(time.Millisecond) // distinct insertion order
	}
	if c.Len() != capacity {
		t.Fatalf("len = %d, want %d", c.Len(), capacity)
	}

	// Nothing has expired, so insertion at capacity evicts oldest-inserted
	// entries down to the 90% target before adding the new one.
	c.Put("overflow", "v")
	if c.Len() > capacity {
		t.Errorf("len = %d exceeds capacity %d", c.Len(), capacity)
	}
	if _, ok := c.Get("k0"); ok {
		t.Errorf("oldest-inserted entry must be evicted first")
	}
	if _, ok := c.Get("overflow"); !ok {
		t.Errorf("new entry missing after eviction")
	}
}

func TestResultCacheSweepsExpiredBeforeEvicting(t *testing.T) {
	const capacity = 4
	c := NewResultCache(capacity, time.Minute)
	advance := cacheClock(c, epoch)

	c.PutTTL("expired", "v", time.Second)
	c.Put("live1", "v")
	c.Put("live2", "v")
	c.Put("live3", "v")

	advance(2 * time.Second)
	c.Put("new", "v")

	if _, ok := c.Get("live1"); !ok {
		t.Errorf("live entry evicted while an expired one was available")
	}
	if _, ok := c.Get("new"); !ok {
		t.Errorf("new entry missing")
	}
}

func TestResultCacheInvalidate(t *testing.T) {
	c := NewResultCache(10, time.Minute)

	c.Put("search_nodes:alice", 1)
	c.Put("search_nodes:bob", 2)
	c.Put("read_graph:", 3)

	if removed := c.Invalidate("search_nodes"); removed != 2 {
		t.Errorf("Invalidate removed %d entries, want 2", removed)
	}
	if _, ok := c.Get("read_graph:"); !ok {
		t.Errorf("non-matching entry removed by pattern invalidation")
	}

	c.InvalidateAll()
	if c.Len() != 0 {
		t.Errorf("InvalidateAll left %d entries", c.Len())
	}
}

func TestResultKey(t *testing.T) {
	// Whitespace-normalized text, so formatting changes do not split keys.
	a := resultKey("search_nodes", "SELECT *\n\tFROM t")
	b := resultKey("search_nodes", "SELECT * FROM t")
	if a != b {
		t.Errorf("whitespace variants produced different keys: %q vs %q", a, b)
	}

	// Parameters factor into the key.
	p1 := resultKey("open_nodes", "q", "alice")
	p2 := resultKey("open_nodes", "q", "bob")
	if p1 == p2 {
		t.Errorf("different parameters produced the same key")
	}

	// Operation name stays a readable prefix for substring invalidation.
	if got := resultKey("read_graph", ""); got != "read_graph:" {
		t.Errorf("resultKey without params = %q", got)
	}
}
