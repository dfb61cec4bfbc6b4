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

// Version recording happens inside the same transaction as the mutation it
// describes, from application code. For each identity the version intervals
// are contiguous and non-overlapping: recording closes the open version at
// now and appends the next one with valid_until = NULL.

const entityVersionColumns = "id, entity_name, entity_type, observations, confidence_score, context_source, metadata, version_number, valid_from, valid_until, change_type, changed_by"

const relationVersionColumns = "id, from_entity, to_entity, relation_type, confidence_score, context_source, version_number, valid_from, valid_until, change_type, changed_by"

// recordEntityVersion closes the entity's open version and appends a snapshot
// of its state after the mutation.
func recordEntityVersion(ctx context.Context, tx *sql.Tx, e types.Entity, change types.ChangeType, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE entity_versions SET valid_until = ? WHERE entity_name = ? AND valid_until IS NULL",
		now, e.Name); err != nil {
		return fmt.Errorf("%w: failed to close version for %q: %v", storage.ErrStorage, e.Name, err)
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version_number), 0) + 1 FROM entity_versions WHERE entity_name = ?",
		e.Name).Scan(&next); err != nil {
		return fmt.Errorf("%w: failed to number version for %q: %v", storage.ErrStorage, e.Name, err)
	}

	obs, err := marshalStringList(e.Observations)
	if err != nil {
		return err
	}
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entity_versions
		 (entity_name, entity_type, observations, confidence_score, context_source, metadata, version_number, valid_from, valid_until, change_type, changed_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		e.Name, e.EntityType, obs, e.ConfidenceScore, nullableString(e.ContextSource),
		meta, next, now, string(change), nullableString(e.ContextSource))
	if err != nil {
		return fmt.Errorf("%w: failed to record version for %q: %v", storage.ErrStorage, e.Name, err)
	}
	return nil
}

// recordRelationVersion does the same for one (from, to, type) identity.
func recordRelationVersion(ctx context.Context, tx *sql.Tx, r types.Relation, change types.ChangeType, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE relation_versions SET valid_until = ? WHERE from_entity = ? AND to_entity = ? AND relation_type = ? AND valid_until IS NULL",
		now, r.From, r.To, r.RelationType); err != nil {
		return fmt.Errorf("%w: failed to close version for %s -> %s: %v", storage.ErrStorage, r.From, r.To, err)
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version_number), 0) + 1 FROM relation_versions WHERE from_entity = ? AND to_entity = ? AND relation_type = ?",
		r.From, r.To, r.RelationType).Scan(&next); err != nil {
		return fmt.Errorf("%w: failed to number version for %s -> %s: %v", storage.ErrStorage, r.From, r.To, err)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO relation_versions
		 (from_entity, to_entity, relation_type, confidence_score, context_source, version_number, valid_from, valid_until, change_type, changed_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		r.From, r.To, r.RelationType, r.ConfidenceScore, nullableString(r.ContextSource),
		next, now, string(change), nullableString(r.ContextSource))
	if err != nil {
		return fmt.Errorf("%w: failed to record version for %s -> %s: %v", storage.ErrStorage, r.From, r.To, err)
	}
	return nil
}

// GetEntityAtTime returns the version whose validity interval contains at, or
// nil when the entity had no version then. The caller must check ChangeType:
// a "delete" version means the entity did not exist at that time.
func (s *Store) GetEntityAtTime(ctx context.Context, name string, at time.Time) (*types.EntityVersion, error) {
	start := time.Now()
	defer func() { s.metrics.RecordQuery("get_entity_at_time", time.Since(start), false) }()

	name = sanitizeText(name)
	if name == "" {
		return nil, fmt.Errorf("%w: entity name cannot be empty", storage.ErrInvalidInput)
	}

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	row, err := h.QueryRowContext(ctx,
		`SELECT `+entityVersionColumns+` FROM entity_versions
		 WHERE entity_name = ? AND valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)
		 ORDER BY version_number DESC LIMIT 1`,
		name, at, at)
	if err != nil {
		return nil, err
	}

	v, err := scanEntityVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read version for %q: %v", storage.ErrStorage, name, err)
	}
	return &v, nil
}

// GetEntityChanges returns the entity's versions whose valid_from falls in
// [start, end], oldest first. Nil bounds are open.
func (s *Store) GetEntityChanges(ctx context.Context, name string, start, end *time.Time) ([]types.EntityVersion, error) {
	began := time.Now()
	defer func() { s.metrics.RecordQuery("get_entity_changes", time.Since(began), false) }()

	name = sanitizeText(name)
	if name == "" {
		return nil, fmt.Errorf("%w: entity name cannot be empty", storage.ErrInvalidInput)
	}

	query := "SELECT " + entityVersionColumns + " FROM entity_versions WHERE entity_name = ?"
	args := []interface{}{name}
	if start != nil {
		query += " AND valid_from >= ?"
		args = append(args, *start)
	}
	if end != nil {
		query += " AND valid_from <= ?"
		args = append(args, *end)
	}
	query += " ORDER BY valid_from ASC, version_number ASC"

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	return queryEntityVersions(ctx, h, query, args...)
}

// GetRelationsAtTime returns relations involving name, filtered by direction,
// whose validity interval contains at. Delete markers are excluded.
func (s *Store) GetRelationsAtTime(ctx context.Context, name string, at time.Time, direction storage.Direction) ([]types.Relation, error) {
	start := time.Now()
	defer func() { s.metrics.RecordQuery("get_relations_at_time", time.Since(start), false) }()

	name = sanitizeText(name)
	if name == "" {
		return nil, fmt.Errorf("%w: entity name cannot be empty", storage.ErrInvalidInput)
	}

	var where string
	args := []interface{}{at, at}
	switch direction {
	case storage.DirectionOutgoing:
		where = "from_entity = ?"
		args = append(args, name)
	case storage.DirectionIncoming:
		where = "to_entity = ?"
		args = append(args, name)
	case storage.DirectionBoth, "":
		where = "(from_entity = ? OR to_entity = ?)"
		args = append(args, name, name)
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", storage.ErrInvalidInput, direction)
	}

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	versions, err := queryRelationVersions(ctx, h,
		`SELECT `+relationVersionColumns+` FROM relation_versions
		 WHERE valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)
		   AND change_type != 'delete' AND `+where+`
		 ORDER BY from_entity, to_entity`, args...)
	if err != nil {
		return nil, err
	}

	relations := make([]types.Relation, len(versions))
	for i, v := range versions {
		relations[i] = v.Relation()
	}
	return relations, nil
}

// GetRelationChanges returns the versions for one (from, to, type) identity
// whose valid_from falls in [start, end], oldest first.
func (s *Store) GetRelationChanges(ctx context.Context, from, to, relationType string, start, end *time.Time) ([]types.RelationVersion, error) {
	began := time.Now()
	defer func() { s.metrics.RecordQuery("get_relation_changes", time.Since(began), false) }()

	from = sanitizeText(from)
	to = sanitizeText(to)
	relationType = sanitizeText(relationType)
	if from == "" || to == "" || relationType == "" {
		return nil, fmt.Errorf("%w: relation identity cannot be empty", storage.ErrInvalidInput)
	}

	query := "SELECT " + relationVersionColumns + " FROM relation_versions WHERE from_entity = ? AND to_entity = ? AND relation_type = ?"
	args := []interface{}{from, to, relationType}
	if start != nil {
		query += " AND valid_from >= ?"
		args = append(args, *start)
	}
	if end != nil {
		query += " AND valid_from <= ?"
		args = append(args, *end)
	}
	query += " ORDER BY valid_from ASC, version_number ASC"

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	return queryRelationVersions(ctx, h, query, args...)
}

// GetChangesInPeriod returns entity versions recorded in [start, end], newest
// first, optionally narrowed by change type and by the live entity's type.
// The type filter joins against the live tables, so versions of since-deleted
// entities fall out when it is set.
func (s *Store) GetChangesInPeriod(ctx context.Context, start, end time.Time, filter storage.ChangeFilter) ([]types.EntityVersion, error) {
	began := time.Now()
	defer func() { s.metrics.RecordQuery("get_changes_in_period", time.Since(began), false) }()

	query := "SELECT v.id, v.entity_name, v.entity_type, v.observations, v.confidence_score, v.context_source, v.metadata, v.version_number, v.valid_from, v.valid_until, v.change_type, v.changed_by FROM entity_versions v"
	args := []interface{}{}
	if filter.EntityType != "" {
		query += " JOIN (" + allEntitiesQuery + ") e ON e.name = v.entity_name"
	}
	query += " WHERE v.valid_from >= ? AND v.valid_from <= ?"
	args = append(args, start, end)
	if filter.EntityType != "" {
		query += " AND e.entity_type = ?"
		args = append(args, filter.EntityType)
	}
	if filter.ChangeType != "" {
		if !filter.ChangeType.Valid() {
			return nil, fmt.Errorf("%w: unknown change type %q", storage.ErrInvalidInput, filter.ChangeType)
		}
		query += " AND v.change_type = ?"
		args = append(args, string(filter.ChangeType))
	}
	query += " ORDER BY v.valid_from DESC, v.id DESC"

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	return queryEntityVersions(ctx, h, query, args...)
}

// GetGraphAtTime reconstructs the graph as of at. For each identity the
// version intervals are non-overlapping, so the interval predicate selects at
// most one version per name; delete markers drop the identity.
func (s *Store) GetGraphAtTime(ctx context.Context, at time.Time) (*types.Graph, error) {
	start := time.Now()
	defer func() { s.metrics.RecordQuery("get_graph_at_time", time.Since(start), false) }()

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	entityVersions, err := queryEntityVersions(ctx, h,
		`SELECT `+entityVersionColumns+` FROM entity_versions
		 WHERE valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)
		   AND change_type != 'delete'
		 ORDER BY entity_name`, at, at)
	if err != nil {
		return nil, err
	}

	relationVersions, err := queryRelationVersions(ctx, h,
		`SELECT `+relationVersionColumns+` FROM relation_versions
		 WHERE valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)
		   AND change_type != 'delete'
		 ORDER BY from_entity, to_entity`, at, at)
	if err != nil {
		return nil, err
	}

	g := &types.Graph{}
	for _, v := range entityVersions {
		g.Entities = append(g.Entities, v.Entity())
	}
	for _, v := range relationVersions {
		g.Relations = append(g.Relations, v.Relation())
	}
	return g, nil
}

func queryEntityVersions(ctx context.Context, h *Handle, query string, args ...interface{}) ([]types.EntityVersion, error) {
	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: entity version query: %v", storage.ErrStorage, err)
	}
	defer rows.Close()

	var versions []types.EntityVersion
	for rows.Next() {
		v, err := scanEntityVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan entity version: %v", storage.ErrStorage, err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: entity version iteration: %v", storage.ErrStorage, err)
	}
	return versions, nil
}

func queryRelationVersions(ctx context.Context, h *Handle, query string, args ...interface{}) ([]types.RelationVersion, error) {
	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: relation version query: %v", storage.ErrStorage, err)
	}
	defer rows.Close()

	var versions []types.RelationVersion
	for rows.Next() {
		v, err := scanRelationVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan relation version: %v", storage.ErrStorage, err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: relation version iteration: %v", storage.ErrStorage, err)
	}
	return versions, nil
}

func scanEntityVersion(s rowScanner) (types.EntityVersion, error) {
	var (
		v          types.EntityVersion
		obs, meta  sql.NullString
		source, by sql.NullString
		until      sql.NullTime
		change     string
	)
	if err := s.Scan(&v.ID, &v.EntityName, &v.EntityType, &obs, &v.ConfidenceScore,
		&source, &meta, &v.VersionNumber, &v.ValidFrom, &until, &change, &by); err != nil {
		return types.EntityVersion{}, err
	}

	var err error
	if v.Observations, err = unmarshalStringList(obs); err != nil {
		return types.EntityVersion{}, err
	}
	if v.Metadata, err = unmarshalMetadata(meta); err != nil {
		return types.EntityVersion{}, err
	}
	v.ContextSource = source.String
	v.ChangedBy = by.String
	if until.Valid {
		t := until.Time
		v.ValidUntil = &t
	}
	v.ChangeType = types.ChangeType(change)
	return v, nil
}

func scanRelationVersion(s rowScanner) (types.RelationVersion, error) {
	var (
		v          types.RelationVersion
		source, by sql.NullString
		until      sql.NullTime
		change     string
	)
	if err := s.Scan(&v.ID, &v.FromEntity, &v.ToEntity, &v.RelationType, &v.ConfidenceScore,
		&source, &v.VersionNumber, &v.ValidFrom, &until, &change, &by); err != nil {
		return types.RelationVersion{}, err
	}

	v.ContextSource = source.String
	v.ChangedBy = by.String
	if until.Valid {
		t := until.Time
		v.ValidUntil = &t
	}
	v.ChangeType = types.ChangeType(change)
	return v, nil
}
