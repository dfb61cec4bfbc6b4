package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/graphkeep/graphkeep/internal/storage"
	"github.com/graphkeep/graphkeep/pkg/types"
)

const (
	// recentMaxAge and intermediateMaxAge are the partition boundaries:
	// recent < 30 days, intermediate 30-180 days, archive >= 180 days.
	recentMaxAge       = 30 * 24 * time.Hour
	intermediateMaxAge = 180 * 24 * time.Hour
)

// tableFor routes an entity to its partition table as a pure function of
// created_at relative to now.
func tableFor(createdAt, now time.Time) string {
	age := now.Sub(createdAt)
	switch {
	case age < recentMaxAge:
		return "entities_recent"
	case age < intermediateMaxAge:
		return "entities_intermediate"
	default:
		return "entities_archive"
	}
}

// CreateEntities validates, sanitizes, and inserts new entities in batches.
// The whole call is one transaction: a failure on any entity aborts all of
// them.
func (s *Store) CreateEntities(ctx context.Context, entities []types.Entity, batchSize int) ([]types.Entity, error) {
	start := time.Now()
	defer func() { s.metrics.RecordQuery("create_entities", time.Since(start), false) }()

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if len(entities) == 0 {
		return nil, nil
	}

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	now := s.now()
	var created []types.Entity

	err = withTx(ctx, h, func(tx *sql.Tx) error {
		for i := 0; i < len(entities); i += batchSize {
			for _, e := range entities[i:min(i+batchSize, len(entities))] {
				e.Name = sanitizeText(e.Name)
				e.EntityType = sanitizeText(e.EntityType)

				if e.Name == "" {
					return fmt.Errorf("%w: entity name cannot be empty", storage.ErrInvalidInput)
				}
				if e.EntityType == "" {
					return fmt.Errorf("%w: entity type cannot be empty for %q", storage.ErrInvalidInput, e.Name)
				}
				if e.ConfidenceScore < 0 || e.ConfidenceScore > 1 {
					return fmt.Errorf("%w: confidence score %v for %q outside [0, 1]", storage.ErrInvalidInput, e.ConfidenceScore, e.Name)
				}

				exists, err := liveEntityExists(ctx, tx, e.Name)
				if err != nil {
					return err
				}
				if exists {
					return fmt.Errorf("%w: %s", storage.ErrEntityExists, e.Name)
				}

				if e.CreatedAt.IsZero() {
					e.CreatedAt = now
				}
				if e.LastUpdated.IsZero() {
					e.LastUpdated = e.CreatedAt
				}

				if err := insertEntity(ctx, tx, e, now); err != nil {
					return err
				}
				if err := recordEntityVersion(ctx, tx, e, types.ChangeCreate, now); err != nil {
					return err
				}
				created = append(created, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.results.InvalidateAll()
	return created, nil
}

// AddObservations appends observation contents to existing entities,
// preserving order and duplicates, and returns a map from entity name to the
// observations that were added.
func (s *Store) AddObservations(ctx context.Context, additions []types.ObservationAddition, batchSize int) (map[string][]string, error) {
	start := time.Now()
	defer func() { s.metrics.RecordQuery("add_observations", time.Since(start), false) }()

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	now := s.now()
	added := make(map[string][]string)

	err = withTx(ctx, h, func(tx *sql.Tx) error {
		for i := 0; i < len(additions); i += batchSize {
			for _, add := range additions[i:min(i+batchSize, len(additions))] {
				name := sanitizeText(add.EntityName)

				e, table, err := findLiveEntity(ctx, tx, name)
				if err != nil {
					return err
				}
				if e == nil {
					return fmt.Errorf("%w: %s", storage.ErrEntityNotFound, name)
				}

				e.Observations = append(e.Observations, add.Contents...)
				e.LastUpdated = now
				if err := updateEntityRow(ctx, tx, table, *e); err != nil {
					return err
				}
				if err := recordEntityVersion(ctx, tx, *e, types.ChangeUpdate, now); err != nil {
					return err
				}
				added[name] = append(added[name], add.Contents...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.results.InvalidateAll()
	return added, nil
}

// DeleteEntities removes entities and cascades to every relation referencing
// them as source or target. Deleting a non-existent name is not an error.
func (s *Store) DeleteEntities(ctx context.Context, names []string, batchSize int) error {
	start := time.Now()
	defer func() { s.metrics.RecordQuery("delete_entities", time.Since(start), false) }()

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	now := s.now()

	err = withTx(ctx, h, func(tx *sql.Tx) error {
		for i := 0; i < len(names); i += batchSize {
			for _, raw := range names[i:min(i+batchSize, len(names))] {
				name := sanitizeText(raw)
				if name == "" {
					continue
				}

				e, table, err := findLiveEntity(ctx, tx, name)
				if err != nil {
					return err
				}
				if e == nil {
					continue // idempotent
				}

				// Cascade: close version history for every touching
				// relation, then remove the live rows.
				rels, err := relationsTouching(ctx, tx, name)
				if err != nil {
					return err
				}
				for _, r := range rels {
					if err := recordRelationVersion(ctx, tx, r, types.ChangeDelete, now); err != nil {
						return err
					}
				}
				if _, err := tx.ExecContext(ctx,
					"DELETE FROM relations WHERE from_entity = ? OR to_entity = ?", name, name); err != nil {
					return fmt.Errorf("%w: failed to delete relations for %q: %v", storage.ErrStorage, name, err)
				}

				if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE name = ?", name); err != nil {
					return fmt.Errorf("%w: failed to delete entity %q: %v", storage.ErrStorage, name, err)
				}
				if err := recordEntityVersion(ctx, tx, *e, types.ChangeDelete, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.results.InvalidateAll()
	return nil
}

// DeleteObservations removes specific observation strings by exact match;
// the remaining observations keep their original relative order. Names that
// do not resolve to a live entity are skipped.
func (s *Store) DeleteObservations(ctx context.Context, deletions []types.ObservationDeletion, batchSize int) error {
	start := time.Now()
	defer func() { s.metrics.RecordQuery("delete_observations", time.Since(start), false) }()

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	now := s.now()

	err = withTx(ctx, h, func(tx *sql.Tx) error {
		for i := 0; i < len(deletions); i += batchSize {
			for _, del := range deletions[i:min(i+batchSize, len(deletions))] {
				name := sanitizeText(del.EntityName)

				e, table, err := findLiveEntity(ctx, tx, name)
				if err != nil {
					return err
				}
				if e == nil {
					continue
				}

				remove := make(map[string]bool, len(del.Observations))
				for _, obs := range del.Observations {
					remove[obs] = true
				}

				kept := e.Observations[:0]
				for _, obs := range e.Observations {
					if !remove[obs] {
						kept = append(kept, obs)
					}
				}
				e.Observations = kept
				e.LastUpdated = now

				if err := updateEntityRow(ctx, tx, table, *e); err != nil {
					return err
				}
				if err := recordEntityVersion(ctx, tx, *e, types.ChangeUpdate, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.results.InvalidateAll()
	return nil
}

// insertEntity writes a new entity row into the partition derived from its
// created_at.
func insertEntity(ctx context.Context, tx *sql.Tx, e types.Entity, now time.Time) error {
	obs, err := marshalStringList(e.Observations)
	if err != nil {
		return err
	}
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	table := tableFor(e.CreatedAt, now)
	_, err = tx.ExecContext(ctx,
		"INSERT INTO "+table+" ("+entityColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.Name, e.EntityType, obs, e.CreatedAt, e.LastUpdated,
		e.ConfidenceScore, nullableString(e.ContextSource), meta, nullableInt64(e.CategoryID))
	if err != nil {
		return fmt.Errorf("%w: failed to insert entity %q: %v", storage.ErrStorage, e.Name, err)
	}
	return nil
}

// updateEntityRow rewrites the mutable columns of a live entity row in place.
func updateEntityRow(ctx context.Context, tx *sql.Tx, table string, e types.Entity) error {
	obs, err := marshalStringList(e.Observations)
	if err != nil {
		return err
	}
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE "+table+" SET entity_type = ?, observations = ?, last_updated = ?, confidence_score = ?, context_source = ?, metadata = ?, category_id = ? WHERE name = ?",
		e.EntityType, obs, e.LastUpdated, e.ConfidenceScore,
		nullableString(e.ContextSource), meta, nullableInt64(e.CategoryID), e.Name)
	if err != nil {
		return fmt.Errorf("%w: failed to update entity %q: %v", storage.ErrStorage, e.Name, err)
	}
	return nil
}

// liveEntityExists checks all partitions for a live entity with the name.
func liveEntityExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	for _, table := range entityTables {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE name = ?", name).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: existence check for %q: %v", storage.ErrStorage, name, err)
		}
		return true, nil
	}
	return false, nil
}

// findLiveEntity returns the live entity and the partition table holding it,
// or (nil, "", nil) when absent.
func findLiveEntity(ctx context.Context, tx *sql.Tx, name string) (*types.Entity, string, error) {
	for _, table := range entityTables {
		row := tx.QueryRowContext(ctx, "SELECT "+entityColumns+" FROM "+table+" WHERE name = ?", name)
		e, err := scanEntity(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: failed to read entity %q: %v", storage.ErrStorage, name, err)
		}
		return &e, table, nil
	}
	return nil, "", nil
}

// relationsTouching returns all live relations where name is source or
// target.
func relationsTouching(ctx context.Context, tx *sql.Tx, name string) ([]types.Relation, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+relationColumns+" FROM relations WHERE from_entity = ? OR to_entity = ?", name, name)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read relations for %q: %v", storage.ErrStorage, name, err)
	}
	defer rows.Close()

	var rels []types.Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan relation: %v", storage.ErrStorage, err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}
