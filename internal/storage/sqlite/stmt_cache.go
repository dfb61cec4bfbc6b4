package sqlite

import (
	"context"
	"database/sql"
	"log"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultStatementCapacity bounds compiled-plan memory per handle.
const defaultStatementCapacity = 100

// stmtCache maps query text to a prepared statement for a single handle.
// Statements are scoped to the owning connection, so the cache lives and dies
// with its Handle: eviction (LRU, bounded capacity) and retirement both close
// the underlying statement.
type stmtCache struct {
	lru *lru.Cache[string, *sql.Stmt]
}

func newStmtCache(capacity int) *stmtCache {
	if capacity <= 0 {
		capacity = defaultStatementCapacity
	}
	cache, _ := lru.NewWithEvict(capacity, func(query string, stmt *sql.Stmt) {
		if err := stmt.Close(); err != nil {
			log.Printf("sqlite: failed to close evicted statement: %v", err)
		}
	})
	return &stmtCache{lru: cache}
}

// getOrPrepare returns the cached statement for query, compiling and caching
// it on miss. A hit refreshes the entry's recency; at capacity the
// least-recently-used statement is evicted and closed before insertion.
func (c *stmtCache) getOrPrepare(ctx context.Context, conn *sql.Conn, query string) (*sql.Stmt, error) {
	if stmt, ok := c.lru.Get(query); ok {
		return stmt, nil
	}
	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.lru.Add(query, stmt)
	return stmt, nil
}

func (c *stmtCache) Len() int { return c.lru.Len() }

func (c *stmtCache) Contains(query string) bool { return c.lru.Contains(query) }

// Close evicts every entry, closing all cached statements.
func (c *stmtCache) Close() { c.lru.Purge() }
