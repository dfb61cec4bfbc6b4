package types

import "time"

// Entity is a named node in the knowledge graph. The name is the primary
// identity: non-empty and globally unique among live entities. Observations
// are an ordered list of free-text facts; duplicates are allowed.
type Entity struct {
	// Core identification fields
	Name         string   `json:"name"`         // Unique name (primary identity)
	EntityType   string   `json:"entityType"`   // Entity type (person, project, concept, ...)
	Observations []string `json:"observations"` // Ordered free-text observations

	// Quality and provenance
	ConfidenceScore float64                `json:"confidence_score"`         // Always clamped into [0, 1]
	ContextSource   string                 `json:"context_source,omitempty"` // Where this entity came from
	Metadata        map[string]interface{} `json:"metadata,omitempty"`       // Opaque string-keyed metadata

	// Timestamps
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`

	// Optional category assignment (0 = uncategorized)
	CategoryID int64 `json:"category_id,omitempty"`
}

// NewEntity constructs an Entity with a clamped confidence score and UTC
// timestamps. Callers that build an Entity literal directly are expected to
// pass it through the operation layer, which validates and clamps again.
func NewEntity(name, entityType string, observations []string) Entity {
	now := time.Now().UTC()
	return Entity{
		Name:            name,
		EntityType:      entityType,
		Observations:    observations,
		ConfidenceScore: 1.0,
		CreatedAt:       now,
		LastUpdated:     now,
	}
}

// ClampConfidence forces a confidence score into [0, 1].
func ClampConfidence(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
