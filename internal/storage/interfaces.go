// Package storage defines the composable storage interfaces and the error
// taxonomy for the graphkeep knowledge-graph store.
//
// The interfaces are small and focused so that backends can implement them
// independently. All of them exchange plain structured records from
// pkg/types, keeping the boundary serialization-agnostic.
package storage

import (
	"context"
	"time"

	"github.com/graphkeep/graphkeep/pkg/types"
)

// GraphStore provides the batched entity/relation mutation protocol and the
// read operations over the live graph.
//
// Every mutating call runs inside a single transaction: it either fully
// succeeds (returning the affected records) or fully fails with one typed
// error and no partial effects. A batchSize <= 0 selects the default.
type GraphStore interface {
	// CreateEntities validates, sanitizes, and inserts new entities.
	// Fails with ErrEntityExists if any name is already live and with
	// ErrInvalidInput on an empty name/type or out-of-range confidence.
	CreateEntities(ctx context.Context, entities []types.Entity, batchSize int) ([]types.Entity, error)

	// AddObservations appends observation contents to existing entities,
	// preserving order and duplicates. Returns a map from entity name to the
	// observations that were added. Fails with ErrEntityNotFound if any
	// named entity is absent.
	AddObservations(ctx context.Context, additions []types.ObservationAddition, batchSize int) (map[string][]string, error)

	// DeleteEntities removes entities and every relation referencing them as
	// source or target. Deleting a non-existent name is not an error.
	DeleteEntities(ctx context.Context, names []string, batchSize int) error

	// DeleteObservations removes specific observation strings by exact
	// match; remaining observations keep their relative order. Idempotent.
	DeleteObservations(ctx context.Context, deletions []types.ObservationDeletion, batchSize int) error

	// CreateRelations inserts relations after verifying both endpoints are
	// live (ErrEntityNotFound names the missing endpoint). Exact-duplicate
	// (from, to, type) triples are ignored; only actually inserted relations
	// are returned.
	CreateRelations(ctx context.Context, relations []types.Relation, batchSize int) ([]types.Relation, error)

	// DeleteRelations removes relations matching the given (from, to, type)
	// triples. Idempotent.
	DeleteRelations(ctx context.Context, relations []types.Relation, batchSize int) error

	// SearchNodes performs a case-insensitive substring match against entity
	// name, type, and observation text across all partitions, returning
	// matched entities plus relations touching any matched entity.
	// Fails with ErrInvalidInput on an empty query. Results are cached keyed
	// by the literal query string.
	SearchNodes(ctx context.Context, query string) (*types.Graph, error)

	// OpenNodes returns exactly the live entities whose name is in names
	// plus the relations among them. An empty name set yields an empty
	// graph, not an error.
	OpenNodes(ctx context.Context, names []string) (*types.Graph, error)

	// ReadGraph dumps all live entities (across all partitions) and
	// relations.
	ReadGraph(ctx context.Context) (*types.Graph, error)

	// Close releases pooled handles and flushes the storage file.
	Close() error
}

// TemporalStore answers point-in-time and change-range queries over the
// version records appended by every mutation.
type TemporalStore interface {
	// GetEntityAtTime returns the version whose validity interval contains
	// at, or nil when the entity had no version at that time. A returned
	// version with ChangeType "delete" means the entity was deleted at or
	// before at.
	GetEntityAtTime(ctx context.Context, name string, at time.Time) (*types.EntityVersion, error)

	// GetEntityChanges returns all versions for the entity whose valid_from
	// falls within [start, end], ordered oldest first. Nil bounds are open.
	GetEntityChanges(ctx context.Context, name string, start, end *time.Time) ([]types.EntityVersion, error)

	// GetRelationsAtTime returns relations involving name, filtered by
	// direction, whose validity interval contains at.
	GetRelationsAtTime(ctx context.Context, name string, at time.Time, direction Direction) ([]types.Relation, error)

	// GetRelationChanges returns all versions for one relation identity
	// whose valid_from falls within [start, end], ordered oldest first.
	GetRelationChanges(ctx context.Context, from, to, relationType string, start, end *time.Time) ([]types.RelationVersion, error)

	// GetChangesInPeriod returns entity versions recorded in [start, end],
	// optionally filtered, ordered newest first.
	GetChangesInPeriod(ctx context.Context, start, end time.Time, filter ChangeFilter) ([]types.EntityVersion, error)

	// GetGraphAtTime reconstructs the full graph as of at, skipping
	// identities whose version at that time is a delete marker.
	GetGraphAtTime(ctx context.Context, at time.Time) (*types.Graph, error)
}

// SummaryReader exposes the derived summary tables maintained by the
// partition manager.
type SummaryReader interface {
	EntityStats(ctx context.Context) ([]types.EntityStats, error)
	RelationSummary(ctx context.Context) ([]types.RelationSummary, error)
}

// HealthChecker is the read-only health/metrics surface. It must never
// mutate storage state.
type HealthChecker interface {
	Health(ctx context.Context) *HealthStatus
}
