package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/graphkeep/graphkeep/internal/storage"
)

const defaultMaintenanceInterval = time.Hour

// maintenanceFailureLimit is the consecutive-failure count that trips the
// maintenance circuit breaker.
const maintenanceFailureLimit = 3

// Maintainer runs the periodic partition maintenance pass: it relocates
// entities that have aged out of their partition, refreshes the derived
// summary tables, and re-optimizes the database. Failures are logged and
// retried on the next tick; they never reach the serving path. Repeated
// failures trip a circuit breaker so subsequent ticks skip cheaply until the
// cool-down elapses.
type Maintainer struct {
	store    *Store
	interval time.Duration
	breaker  *gobreaker.CircuitBreaker

	// running guarantees a single in-flight pass; a tick that finds one
	// already running is dropped, not queued.
	running sync.Mutex

	stop chan struct{}
	done chan struct{}
}

// NewMaintainer builds a maintainer for the store. An interval <= 0 selects
// the hourly default. The maintainer does not run until Start is called.
func NewMaintainer(store *Store, interval time.Duration) *Maintainer {
	if interval <= 0 {
		interval = defaultMaintenanceInterval
	}
	m := &Maintainer{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "partition-maintenance",
		Timeout: 2 * interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maintenanceFailureLimit
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("sqlite: %s breaker %s -> %s", name, from, to)
		},
	})
	return m
}

// Start launches the ticker loop in its own goroutine.
func (m *Maintainer) Start() {
	go m.loop()
}

// Stop halts the ticker loop and waits for it to exit. A pass already in
// flight finishes first.
func (m *Maintainer) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Maintainer) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if err := m.RunOnce(context.Background()); err != nil {
				log.Printf("sqlite: maintenance pass failed: %v", err)
			}
		}
	}
}

// RunOnce executes one maintenance pass through the circuit breaker. A tick
// arriving while a pass is in flight returns nil without doing anything; a
// tick arriving while the breaker is open is skipped.
func (m *Maintainer) RunOnce(ctx context.Context) error {
	if !m.running.TryLock() {
		return nil
	}
	defer m.running.Unlock()

	runID := uuid.NewString()
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.pass(ctx, runID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		log.Printf("sqlite: maintenance run %s skipped, breaker open", runID)
		return nil
	}
	return err
}

// pass does the actual work: migrate aged rows between partitions and refresh
// the summary tables inside one transaction, then re-optimize outside it.
func (m *Maintainer) pass(ctx context.Context, runID string) error {
	start := time.Now()

	h, err := m.store.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer m.store.pool.Release(h)

	now := m.store.now()
	var toIntermediate, toArchive int64

	err = withTx(ctx, h, func(tx *sql.Tx) error {
		// Order matters: a row that aged past both boundaries since the last
		// pass flows recent -> intermediate -> archive within this pass.
		toIntermediate, err = migrateAged(ctx, tx, "entities_recent", "entities_intermediate", now.Add(-recentMaxAge))
		if err != nil {
			return err
		}
		toArchive, err = migrateAged(ctx, tx, "entities_intermediate", "entities_archive", now.Add(-intermediateMaxAge))
		if err != nil {
			return err
		}
		if err := refreshEntityStats(ctx, tx, now); err != nil {
			return err
		}
		return refreshRelationSummary(ctx, tx, now)
	})
	if err != nil {
		return err
	}

	if _, err := h.conn.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("%w: optimize: %v", storage.ErrStorage, err)
	}
	if _, err := h.conn.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("%w: analyze: %v", storage.ErrStorage, err)
	}

	log.Printf("sqlite: maintenance run %s done in %s (to_intermediate=%d, to_archive=%d)",
		runID, time.Since(start).Round(time.Millisecond), toIntermediate, toArchive)
	return nil
}

// migrateAged moves rows with created_at at or before cutoff from source to
// target as insert-then-delete inside the caller's transaction.
func migrateAged(ctx context.Context, tx *sql.Tx, source, target string, cutoff time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO "+target+" ("+entityColumns+") SELECT "+entityColumns+" FROM "+source+" WHERE created_at <= ?",
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: migrate %s -> %s: %v", storage.ErrStorage, source, target, err)
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", storage.ErrStorage, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+source+" WHERE created_at <= ?", cutoff); err != nil {
		return 0, fmt.Errorf("%w: clear migrated rows from %s: %v", storage.ErrStorage, source, err)
	}
	return moved, nil
}

// refreshEntityStats rebuilds the per-type entity summary table.
func refreshEntityStats(ctx context.Context, tx *sql.Tx, now time.Time) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM entity_stats"); err != nil {
		return fmt.Errorf("%w: clear entity_stats: %v", storage.ErrStorage, err)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO entity_stats (entity_type, count, avg_confidence, oldest_entry, newest_entry, last_refreshed)
		 SELECT entity_type, COUNT(*), AVG(confidence_score), MIN(created_at), MAX(created_at), ?
		 FROM (`+allEntitiesQuery+`) GROUP BY entity_type`, now)
	if err != nil {
		return fmt.Errorf("%w: refresh entity_stats: %v", storage.ErrStorage, err)
	}
	return nil
}

// refreshRelationSummary rebuilds the per-type relation summary table.
func refreshRelationSummary(ctx context.Context, tx *sql.Tx, now time.Time) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM relation_summary"); err != nil {
		return fmt.Errorf("%w: clear relation_summary: %v", storage.ErrStorage, err)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO relation_summary (relation_type, count, avg_confidence, unique_sources, unique_targets, last_refreshed)
		 SELECT relation_type, COUNT(*), AVG(confidence_score), COUNT(DISTINCT from_entity), COUNT(DISTINCT to_entity), ?
		 FROM relations GROUP BY relation_type`, now)
	if err != nil {
		return fmt.Errorf("%w: refresh relation_summary: %v", storage.ErrStorage, err)
	}
	return nil
}
