// Package sqlite implements the graphkeep storage engine on a single
// embedded SQLite file: a bounded connection pool with statement and result
// caching, batched entity/relation operations, application-level temporal
// versioning, and age-based partition maintenance.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/graphkeep/graphkeep/internal/metrics"
	"github.com/graphkeep/graphkeep/internal/storage"
	"github.com/graphkeep/graphkeep/pkg/types"
)

// Compile-time interface checks.
var (
	_ storage.GraphStore    = (*Store)(nil)
	_ storage.TemporalStore = (*Store)(nil)
	_ storage.SummaryReader = (*Store)(nil)
	_ storage.HealthChecker = (*Store)(nil)
)

const defaultBatchSize = 1000

// Options tune the store's pool and caches. Zero values select defaults.
type Options struct {
	PoolSize          int           // Max concurrent handles (default: 5)
	AcquireTimeout    time.Duration // Handle acquisition bound (default: 5s)
	StatementCapacity int           // Prepared statements per handle (default: 100)
	ResultCapacity    int           // Result cache entries (default: 1000)
	ResultTTL         time.Duration // Result cache TTL (default: 5m)
	SweepInterval     time.Duration // Lazy cache sweep interval (default: 60s)
}

func (o *Options) withDefaults() {
	if o.PoolSize <= 0 {
		o.PoolSize = 5
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 5 * time.Second
	}
	if o.StatementCapacity <= 0 {
		o.StatementCapacity = defaultStatementCapacity
	}
	if o.ResultCapacity <= 0 {
		o.ResultCapacity = defaultResultCapacity
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = defaultResultTTL
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 60 * time.Second
	}
}

// Store is the SQLite-backed knowledge-graph store. The pool, caches, and
// metrics collector are owned by the Store: constructed on Open, torn down on
// Close, never ambient global state.
type Store struct {
	db      *sql.DB
	pool    *Pool
	results *ResultCache
	metrics *metrics.Collector
	path    string

	// now is the mutation clock; replaceable in tests.
	now func() time.Time
}

// Open opens (creating if absent) the database at dsn and initializes the
// schema. dsn is a bare path, a file: URI, or ":memory:".
func Open(dsn string, opts Options) (*Store, error) {
	opts.withDefaults()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", storage.ErrStorage, err)
	}

	// The pool owns up to PoolSize dedicated connections; one extra is left
	// for schema creation and the health probe.
	db.SetMaxOpenConns(opts.PoolSize + 1)
	db.SetMaxIdleConns(opts.PoolSize + 1)
	db.SetConnMaxLifetime(0)

	// WAL must be on before any pooled handle opens; handles re-apply it
	// with the rest of the tuning pragmas, which is a no-op by then.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %v", storage.ErrStorage, err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %v", storage.ErrStorage, err)
	}

	collector := metrics.NewCollector()
	results := NewResultCache(opts.ResultCapacity, opts.ResultTTL)
	pool := NewPool(db, opts.PoolSize, opts.AcquireTimeout, opts.StatementCapacity, opts.SweepInterval, results.Sweep, collector)

	return &Store{
		db:      db,
		pool:    pool,
		results: results,
		metrics: collector,
		path:    dbPathFromDSN(dsn),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close retires all pooled handles, flushes the WAL into the main database
// file, and releases resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	if err := s.pool.Close(); err != nil {
		log.Printf("sqlite: pool close failed (non-fatal): %v", err)
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}

	return s.db.Close()
}

// Metrics returns the store's metrics collector.
func (s *Store) Metrics() *metrics.Collector { return s.metrics }

// PoolStats returns a snapshot of pool utilization.
func (s *Store) PoolStats() storage.PoolStats { return s.pool.Stats() }

// Health probes the store: a timed SELECT 1 on a short deadline, the storage
// file size, and pool utilization. It never mutates state and does not
// consume a pooled handle.
func (s *Store) Health(ctx context.Context) *storage.HealthStatus {
	status := &storage.HealthStatus{
		Status: "healthy",
		Pool:   s.pool.Stats(),
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	var one int
	if err := s.db.QueryRowContext(probeCtx, "SELECT 1").Scan(&one); err != nil {
		status.Status = "unhealthy"
		status.Error = err.Error()
	}
	status.ResponseTime = time.Since(start)

	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			status.DatabaseSizeBytes = info.Size()
		}
	}

	return status
}

// EntityStats reads the per-type summary table refreshed by the maintenance
// pass.
func (s *Store) EntityStats(ctx context.Context) ([]types.EntityStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, count, avg_confidence, oldest_entry, newest_entry, last_refreshed
		FROM entity_stats ORDER BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read entity stats: %v", storage.ErrStorage, err)
	}
	defer rows.Close()

	var stats []types.EntityStats
	for rows.Next() {
		var st types.EntityStats
		if err := rows.Scan(&st.EntityType, &st.Count, &st.AvgConfidence, &st.OldestEntry, &st.NewestEntry, &st.LastRefreshed); err != nil {
			return nil, fmt.Errorf("%w: failed to scan entity stats: %v", storage.ErrStorage, err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// RelationSummary reads the per-relation-type summary table.
func (s *Store) RelationSummary(ctx context.Context) ([]types.RelationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT relation_type, count, avg_confidence, unique_sources, unique_targets, last_refreshed
		FROM relation_summary ORDER BY relation_type`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read relation summary: %v", storage.ErrStorage, err)
	}
	defer rows.Close()

	var summaries []types.RelationSummary
	for rows.Next() {
		var sum types.RelationSummary
		if err := rows.Scan(&sum.RelationType, &sum.Count, &sum.AvgConfidence, &sum.UniqueSources, &sum.UniqueTargets, &sum.LastRefreshed); err != nil {
			return nil, fmt.Errorf("%w: failed to scan relation summary: %v", storage.ErrStorage, err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN. Handles bare
// paths and file: URIs; returns empty string for in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}

	return dsn
}
