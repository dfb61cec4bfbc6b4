// Package api routes operation requests to the storage layer through a
// closed set of request variants. Callers construct one of the exported
// request structs and hand it to Dispatch; the type switch is the complete
// operation table, so an unsupported operation is a compile-time absence, not
// a runtime lookup failure.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/graphkeep/graphkeep/internal/storage"
	"github.com/graphkeep/graphkeep/pkg/types"
)

// Request is the sealed set of dispatchable operations. Only the request
// types in this package implement it.
type Request interface {
	isRequest()
}

type CreateEntitiesRequest struct {
	Entities  []types.Entity
	BatchSize int
}

type AddObservationsRequest struct {
	Additions []types.ObservationAddition
	BatchSize int
}

type DeleteEntitiesRequest struct {
	Names     []string
	BatchSize int
}

type DeleteObservationsRequest struct {
	Deletions []types.ObservationDeletion
	BatchSize int
}

type CreateRelationsRequest struct {
	Relations []types.Relation
	BatchSize int
}

type DeleteRelationsRequest struct {
	Relations []types.Relation
	BatchSize int
}

type SearchNodesRequest struct {
	Query string
}

type OpenNodesRequest struct {
	Names []string
}

type ReadGraphRequest struct{}

type GetEntityAtTimeRequest struct {
	Name string
	At   time.Time
}

type GetEntityChangesRequest struct {
	Name  string
	Start *time.Time
	End   *time.Time
}

type GetRelationsAtTimeRequest struct {
	Name      string
	At        time.Time
	Direction storage.Direction
}

type GetRelationChangesRequest struct {
	From         string
	To           string
	RelationType string
	Start        *time.Time
	End          *time.Time
}

type GetChangesInPeriodRequest struct {
	Start  time.Time
	End    time.Time
	Filter storage.ChangeFilter
}

type GetGraphAtTimeRequest struct {
	At time.Time
}

func (CreateEntitiesRequest) isRequest()     {}
func (AddObservationsRequest) isRequest()    {}
func (DeleteEntitiesRequest) isRequest()     {}
func (DeleteObservationsRequest) isRequest() {}
func (CreateRelationsRequest) isRequest()    {}
func (DeleteRelationsRequest) isRequest()    {}
func (SearchNodesRequest) isRequest()        {}
func (OpenNodesRequest) isRequest()          {}
func (ReadGraphRequest) isRequest()          {}
func (GetEntityAtTimeRequest) isRequest()    {}
func (GetEntityChangesRequest) isRequest()   {}
func (GetRelationsAtTimeRequest) isRequest() {}
func (GetRelationChangesRequest) isRequest() {}
func (GetChangesInPeriodRequest) isRequest() {}
func (GetGraphAtTimeRequest) isRequest()     {}

// Dispatcher binds the request variants to a graph store and its temporal
// query surface.
type Dispatcher struct {
	graph    storage.GraphStore
	temporal storage.TemporalStore
}

// NewDispatcher builds a dispatcher over the given store surfaces.
func NewDispatcher(graph storage.GraphStore, temporal storage.TemporalStore) *Dispatcher {
	return &Dispatcher{graph: graph, temporal: temporal}
}

// Dispatch executes one request and returns its payload. Mutations return
// the created records (or nil for deletions); reads return *types.Graph or
// version slices. Errors come straight from the storage layer and satisfy
// errors.Is against the storage sentinels.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (interface{}, error) {
	switch r := req.(type) {
	case CreateEntitiesRequest:
		return d.graph.CreateEntities(ctx, r.Entities, r.BatchSize)
	case AddObservationsRequest:
		return d.graph.AddObservations(ctx, r.Additions, r.BatchSize)
	case DeleteEntitiesRequest:
		return nil, d.graph.DeleteEntities(ctx, r.Names, r.BatchSize)
	case DeleteObservationsRequest:
		return nil, d.graph.DeleteObservations(ctx, r.Deletions, r.BatchSize)
	case CreateRelationsRequest:
		return d.graph.CreateRelations(ctx, r.Relations, r.BatchSize)
	case DeleteRelationsRequest:
		return nil, d.graph.DeleteRelations(ctx, r.Relations, r.BatchSize)
	case SearchNodesRequest:
		return d.graph.SearchNodes(ctx, r.Query)
	case OpenNodesRequest:
		return d.graph.OpenNodes(ctx, r.Names)
	case ReadGraphRequest:
		return d.graph.ReadGraph(ctx)
	case GetEntityAtTimeRequest:
		return d.temporal.GetEntityAtTime(ctx, r.Name, r.At)
	case GetEntityChangesRequest:
		return d.temporal.GetEntityChanges(ctx, r.Name, r.Start, r.End)
	case GetRelationsAtTimeRequest:
		return d.temporal.GetRelationsAtTime(ctx, r.Name, r.At, r.Direction)
	case GetRelationChangesRequest:
		return d.temporal.GetRelationChanges(ctx, r.From, r.To, r.RelationType, r.Start, r.End)
	case GetChangesInPeriodRequest:
		return d.temporal.GetChangesInPeriod(ctx, r.Start, r.End, r.Filter)
	case GetGraphAtTimeRequest:
		return d.temporal.GetGraphAtTime(ctx, r.At)
	case nil:
		return nil, fmt.Errorf("%w: nil request", storage.ErrInvalidInput)
	default:
		return nil, fmt.Errorf("%w: unsupported request type %T", storage.ErrInvalidInput, req)
	}
}
