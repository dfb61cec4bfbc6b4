package types

import "time"

// Graph is the plain dump shape returned by read, search, and open
// operations: matched entities plus the relations among them.
type Graph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Partition names one of the three age-based entity buckets. An entity's
// partition is a pure function of created_at relative to now; it is derived,
// never stored.
type Partition string

const (
	PartitionRecent       Partition = "recent"       // < 30 days old
	PartitionIntermediate Partition = "intermediate" // 30-180 days old
	PartitionArchive      Partition = "archive"      // >= 180 days old
)

// ObservationAddition asks to append Contents to an existing entity's
// observation list, preserving order and duplicates.
type ObservationAddition struct {
	EntityName string   `json:"entityName"`
	Contents   []string `json:"contents"`
}

// ObservationDeletion asks to remove specific observation strings from an
// entity's list by exact match; remaining observations keep their order.
type ObservationDeletion struct {
	EntityName   string   `json:"entityName"`
	Observations []string `json:"observations"`
}

// EntityStats is one row of the per-type summary table refreshed by the
// partition maintenance pass.
type EntityStats struct {
	EntityType    string    `json:"entity_type"`
	Count         int       `json:"count"`
	AvgConfidence float64   `json:"avg_confidence"`
	OldestEntry   time.Time `json:"oldest_entry"`
	NewestEntry   time.Time `json:"newest_entry"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// RelationSummary is one row of the per-relation-type summary table.
type RelationSummary struct {
	RelationType  string    `json:"relation_type"`
	Count         int       `json:"count"`
	AvgConfidence float64   `json:"avg_confidence"`
	UniqueSources int       `json:"unique_sources"`
	UniqueTargets int       `json:"unique_targets"`
	LastRefreshed time.Time `json:"last_refreshed"`
}
