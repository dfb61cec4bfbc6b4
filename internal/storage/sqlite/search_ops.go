package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/graphkeep/graphkeep/internal/storage"
	"github.com/graphkeep/graphkeep/pkg/types"
)

// SearchNodes matches the query case-insensitively against entity name, type,
// and observation text across all partitions. The returned graph contains the
// matched entities plus every relation touching a matched entity, so a hit on
// one endpoint still surfaces its edges. Results are cached keyed by the
// literal query string; callers must treat the returned graph as read-only.
func (s *Store) SearchNodes(ctx context.Context, query string) (*types.Graph, error) {
	start := time.Now()

	q := sanitizeText(query)
	if q == "" {
		return nil, fmt.Errorf("%w: search query cannot be empty", storage.ErrInvalidInput)
	}

	key := resultKey("search_nodes", query)
	if v, ok := s.results.Get(key); ok {
		s.metrics.RecordQuery("search_nodes", time.Since(start), true)
		return v.(*types.Graph), nil
	}
	defer func() { s.metrics.RecordQuery("search_nodes", time.Since(start), false) }()

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	pattern := "%" + escapeLike(q) + "%"
	entities, err := queryEntities(ctx, h,
		`SELECT `+entityColumns+` FROM (`+allEntitiesQuery+`)
		 WHERE name LIKE ? ESCAPE '\'
		    OR entity_type LIKE ? ESCAPE '\'
		    OR observations LIKE ? ESCAPE '\'
		 ORDER BY name`,
		pattern, pattern, pattern)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	relations, err := relationsTouchingAny(ctx, h, names)
	if err != nil {
		return nil, err
	}

	g := &types.Graph{Entities: entities, Relations: relations}
	s.results.Put(key, g)
	return g, nil
}

// OpenNodes returns exactly the live entities named in names plus the
// relations among them. An empty name set yields an empty graph.
func (s *Store) OpenNodes(ctx context.Context, names []string) (*types.Graph, error) {
	start := time.Now()

	clean := make([]string, 0, len(names))
	for _, n := range names {
		if n = sanitizeText(n); n != "" {
			clean = append(clean, n)
		}
	}
	if len(clean) == 0 {
		return &types.Graph{}, nil
	}

	key := resultKey("open_nodes", strings.Join(clean, "\x1f"))
	if v, ok := s.results.Get(key); ok {
		s.metrics.RecordQuery("open_nodes", time.Since(start), true)
		return v.(*types.Graph), nil
	}
	defer func() { s.metrics.RecordQuery("open_nodes", time.Since(start), false) }()

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	args := make([]interface{}, len(clean))
	for i, n := range clean {
		args[i] = n
	}
	entities, err := queryEntities(ctx, h,
		`SELECT `+entityColumns+` FROM (`+allEntitiesQuery+`)
		 WHERE name IN (`+placeholders(len(clean))+`) ORDER BY name`, args...)
	if err != nil {
		return nil, err
	}

	found := make([]string, len(entities))
	for i, e := range entities {
		found[i] = e.Name
	}
	relations, err := relationsAmong(ctx, h, found)
	if err != nil {
		return nil, err
	}

	g := &types.Graph{Entities: entities, Relations: relations}
	s.results.Put(key, g)
	return g, nil
}

// ReadGraph dumps all live entities across all partitions and all live
// relations.
func (s *Store) ReadGraph(ctx context.Context) (*types.Graph, error) {
	start := time.Now()

	key := resultKey("read_graph", "")
	if v, ok := s.results.Get(key); ok {
		s.metrics.RecordQuery("read_graph", time.Since(start), true)
		return v.(*types.Graph), nil
	}
	defer func() { s.metrics.RecordQuery("read_graph", time.Since(start), false) }()

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	entities, err := queryEntities(ctx, h,
		`SELECT `+entityColumns+` FROM (`+allEntitiesQuery+`) ORDER BY name`)
	if err != nil {
		return nil, err
	}

	rows, err := h.QueryContext(ctx, "SELECT "+relationColumns+" FROM relations ORDER BY from_entity, to_entity")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read relations: %v", storage.ErrStorage, err)
	}
	defer rows.Close()

	var relations []types.Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan relation: %v", storage.ErrStorage, err)
		}
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: relation iteration: %v", storage.ErrStorage, err)
	}

	g := &types.Graph{Entities: entities, Relations: relations}
	s.results.Put(key, g)
	return g, nil
}

// queryEntities runs an entity-shaped query through the handle's prepared
// statement cache and scans all rows.
func queryEntities(ctx context.Context, h *Handle, query string, args ...interface{}) ([]types.Entity, error) {
	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: entity query: %v", storage.ErrStorage, err)
	}
	defer rows.Close()

	var entities []types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan entity: %v", storage.ErrStorage, err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: entity iteration: %v", storage.ErrStorage, err)
	}
	return entities, nil
}

// relationsAmong returns live relations with both endpoints in names.
func relationsAmong(ctx context.Context, h *Handle, names []string) ([]types.Relation, error) {
	return relationsByEndpoints(ctx, h, names, "AND")
}

// relationsTouchingAny returns live relations with at least one endpoint in
// names.
func relationsTouchingAny(ctx context.Context, h *Handle, names []string) ([]types.Relation, error) {
	return relationsByEndpoints(ctx, h, names, "OR")
}

func relationsByEndpoints(ctx context.Context, h *Handle, names []string, junction string) ([]types.Relation, error) {
	if len(names) == 0 {
		return nil, nil
	}

	ph := placeholders(len(names))
	args := make([]interface{}, 0, len(names)*2)
	for _, n := range names {
		args = append(args, n)
	}
	for _, n := range names {
		args = append(args, n)
	}

	rows, err := h.QueryContext(ctx,
		"SELECT "+relationColumns+" FROM relations WHERE from_entity IN ("+ph+") "+junction+" to_entity IN ("+ph+") ORDER BY from_entity, to_entity",
		args...)
	if err != nil {
		return nil, fmt.Errorf("%w: relation query: %v", storage.ErrStorage, err)
	}
	defer rows.Close()

	var relations []types.Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan relation: %v", storage.ErrStorage, err)
		}
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: relation iteration: %v", storage.ErrStorage, err)
	}
	return relations, nil
}
