package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
)

func newTestConn(t *testing.T) *sql.Conn {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "stmt_test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	conn, err := db.Conn(context.Background())
	if err != nil {
		t.Fatalf("open connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStmtCacheHit(t *testing.T) {
	conn := newTestConn(t)
	c := newStmtCache(10)
	defer c.Close()
	ctx := context.Background()

	first, err := c.getOrPrepare(ctx, conn, "SELECT 1")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	second, err := c.getOrPrepare(ctx, conn, "SELECT 1")
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if first != second {
		t.Errorf("expected the same prepared statement on hit")
	}
	if c.Len() != 1 {
		t.Errorf("cache size = %d, want 1", c.Len())
	}
}

func TestStmtCacheEvictsLeastRecentlyUsed(t *testing.T) {
	conn := newTestConn(t)
	const capacity = 5
	c := newStmtCache(capacity)
	defer c.Close()
	ctx := context.Background()

	queries := make([]string, capacity)
	for i := range queries {
		queries[i] = fmt.Sprintf("SELECT %d", i)
		if _, err := c.getOrPrepare(ctx, conn, queries[i]); err != nil {
			t.Fatalf("prepare %d: %v", i, err)
		}
	}

	// Touch everything except queries[0], then insert one more: the untouched
	// entry must be the one evicted.
	for _, q := range queries[1:] {
		if _, err := c.getOrPrepare(ctx, conn, q); err != nil {
			t.Fatalf("touch %q: %v", q, err)
		}
	}
	if _, err := c.getOrPrepare(ctx, conn, "SELECT 100"); err != nil {
		t.Fatalf("overflow insert: %v", err)
	}

	if c.Len() > capacity {
		t.Errorf("cache size %d exceeds capacity %d", c.Len(), capacity)
	}
	if c.Contains(queries[0]) {
		t.Errorf("least-recently-used entry was not evicted")
	}
	for _, q := range queries[1:] {
		if !c.Contains(q) {
			t.Errorf("recently used entry %q was evicted", q)
		}
	}
}

func TestStmtCacheEvictedStatementUnusableAfterClose(t *testing.T) {
	conn := newTestConn(t)
	c := newStmtCache(1)
	ctx := context.Background()

	stmt, err := c.getOrPrepare(ctx, conn, "SELECT 1")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := c.getOrPrepare(ctx, conn, "SELECT 2"); err != nil {
		t.Fatalf("evicting insert: %v", err)
	}

	// Eviction closed the first statement.
	var one int
	if err := stmt.QueryRowContext(ctx).Scan(&one); err == nil {
		t.Errorf("expected evicted statement to be closed")
	}
	c.Close()
}
