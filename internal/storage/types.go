package storage

import (
	"errors"
	"time"

	"github.com/graphkeep/graphkeep/pkg/types"
)

var (
	// ErrEntityNotFound indicates that a referenced entity does not exist
	// among the live entities.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrEntityExists indicates a uniqueness violation on entity creation.
	ErrEntityExists = errors.New("entity already exists")

	// ErrInvalidInput indicates an empty required field, an out-of-range
	// confidence score, or an empty search query.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPoolExhausted indicates that no connection handle became available
	// within the acquisition deadline. It is distinct from query errors so
	// that callers can apply backpressure instead of retrying blindly.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrStorage indicates an underlying engine or I/O failure.
	ErrStorage = errors.New("storage failure")
)

// Direction filters temporal relation queries by edge orientation relative to
// the entity being asked about.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// ChangeFilter narrows GetChangesInPeriod results. Zero values mean no filter.
type ChangeFilter struct {
	// EntityType restricts results to versions whose entity currently has
	// this type. Filtering joins against the live entity tables, so changes
	// for since-deleted entities are excluded when this is set.
	EntityType string

	// ChangeType restricts results to one change kind (create/update/delete).
	ChangeType types.ChangeType
}

// PoolStats is a point-in-time snapshot of pool utilization for the health
// surface. Reading it never blocks or touches storage.
type PoolStats struct {
	Active    int    `json:"active"`
	Available int    `json:"available"`
	Max       int    `json:"max"`
	Timeouts  uint64 `json:"timeouts"`
}

// HealthStatus is the read-only health probe result.
type HealthStatus struct {
	Status            string        `json:"status"` // "healthy" or "unhealthy"
	Error             string        `json:"error,omitempty"`
	ResponseTime      time.Duration `json:"response_time"`
	DatabaseSizeBytes int64         `json:"database_size_bytes"`
	Pool              PoolStats     `json:"pool"`
}
