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

// CreateRelations inserts relations between existing entities. Duplicates of
// an already-live (from, to, type) triple are silently skipped; the returned
// slice holds only the relations actually inserted.
func (s *Store) CreateRelations(ctx context.Context, relations []types.Relation, batchSize int) ([]types.Relation, error) {
	start := time.Now()
	defer func() { s.metrics.RecordQuery("create_relations", time.Since(start), false) }()

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if len(relations) == 0 {
		return nil, nil
	}

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	now := s.now()
	var created []types.Relation

	err = withTx(ctx, h, func(tx *sql.Tx) error {
		for i := 0; i < len(relations); i += batchSize {
			for _, r := range relations[i:min(i+batchSize, len(relations))] {
				r.From = sanitizeText(r.From)
				r.To = sanitizeText(r.To)
				r.RelationType = sanitizeText(r.RelationType)

				if r.From == "" || r.To == "" {
					return fmt.Errorf("%w: relation endpoints cannot be empty", storage.ErrInvalidInput)
				}
				if r.RelationType == "" {
					return fmt.Errorf("%w: relation type cannot be empty for %s -> %s", storage.ErrInvalidInput, r.From, r.To)
				}
				if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
					return fmt.Errorf("%w: confidence score %v for %s -> %s outside [0, 1]", storage.ErrInvalidInput, r.ConfidenceScore, r.From, r.To)
				}

				for _, endpoint := range []string{r.From, r.To} {
					exists, err := liveEntityExists(ctx, tx, endpoint)
					if err != nil {
						return err
					}
					if !exists {
						return fmt.Errorf("%w: %s", storage.ErrEntityNotFound, endpoint)
					}
				}

				if r.CreatedAt.IsZero() {
					r.CreatedAt = now
				}
				if r.ValidFrom.IsZero() {
					r.ValidFrom = r.CreatedAt
				}

				res, err := tx.ExecContext(ctx,
					"INSERT INTO relations ("+relationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (from_entity, to_entity, relation_type) DO NOTHING",
					r.From, r.To, r.RelationType, r.CreatedAt, r.ValidFrom,
					nullableTime(r.ValidUntil), r.ConfidenceScore, nullableString(r.ContextSource))
				if err != nil {
					return fmt.Errorf("%w: failed to insert relation %s -> %s: %v", storage.ErrStorage, r.From, r.To, err)
				}
				n, err := res.RowsAffected()
				if err != nil {
					return fmt.Errorf("%w: rows affected: %v", storage.ErrStorage, err)
				}
				if n == 0 {
					continue // already live
				}

				if err := recordRelationVersion(ctx, tx, r, types.ChangeCreate, now); err != nil {
					return err
				}
				created = append(created, r)
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

// DeleteRelations removes relations matched by (from, to, type). Triples
// without a live row are skipped.
func (s *Store) DeleteRelations(ctx context.Context, relations []types.Relation, batchSize int) error {
	start := time.Now()
	defer func() { s.metrics.RecordQuery("delete_relations", time.Since(start), false) }()

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
		for i := 0; i < len(relations); i += batchSize {
			for _, r := range relations[i:min(i+batchSize, len(relations))] {
				from := sanitizeText(r.From)
				to := sanitizeText(r.To)
				relType := sanitizeText(r.RelationType)

				row := tx.QueryRowContext(ctx,
					"SELECT "+relationColumns+" FROM relations WHERE from_entity = ? AND to_entity = ? AND relation_type = ?",
					from, to, relType)
				live, err := scanRelation(row)
				if errors.Is(err, sql.ErrNoRows) {
					continue // idempotent
				}
				if err != nil {
					return fmt.Errorf("%w: failed to read relation %s -> %s: %v", storage.ErrStorage, from, to, err)
				}

				if err := recordRelationVersion(ctx, tx, live, types.ChangeDelete, now); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx,
					"DELETE FROM relations WHERE from_entity = ? AND to_entity = ? AND relation_type = ?",
					from, to, relType); err != nil {
					return fmt.Errorf("%w: failed to delete relation %s -> %s: %v", storage.ErrStorage, from, to, err)
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
