package types

import "time"

// ChangeType tags what kind of mutation produced a version record.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Valid reports whether c is one of the known change types.
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeCreate, ChangeUpdate, ChangeDelete:
		return true
	}
	return false
}

// EntityVersion is an immutable snapshot of an entity's state, bounded by
// [ValidFrom, ValidUntil). At most one version per entity name is open
// (ValidUntil == nil). Version numbers are strictly increasing per name.
type EntityVersion struct {
	ID              int64                  `json:"id"`
	EntityName      string                 `json:"entity_name"`
	EntityType      string                 `json:"entity_type"`
	Observations    []string               `json:"observations"`
	ConfidenceScore float64                `json:"confidence_score"`
	ContextSource   string                 `json:"context_source,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	VersionNumber   int                    `json:"version_number"`
	ValidFrom       time.Time              `json:"valid_from"`
	ValidUntil      *time.Time             `json:"valid_until,omitempty"`
	ChangeType      ChangeType             `json:"change_type"`
	ChangedBy       string                 `json:"changed_by,omitempty"`
}

// Entity projects the version snapshot back into an Entity record.
func (v EntityVersion) Entity() Entity {
	return Entity{
		Name:            v.EntityName,
		EntityType:      v.EntityType,
		Observations:    v.Observations,
		ConfidenceScore: v.ConfidenceScore,
		ContextSource:   v.ContextSource,
		Metadata:        v.Metadata,
		CreatedAt:       v.ValidFrom,
		LastUpdated:     v.ValidFrom,
	}
}

// RelationVersion is an immutable snapshot of a relation's state, keyed by the
// composite (FromEntity, ToEntity, RelationType) identity.
type RelationVersion struct {
	ID              int64      `json:"id"`
	FromEntity      string     `json:"from_entity"`
	ToEntity        string     `json:"to_entity"`
	RelationType    string     `json:"relation_type"`
	ConfidenceScore float64    `json:"confidence_score"`
	ContextSource   string     `json:"context_source,omitempty"`
	VersionNumber   int        `json:"version_number"`
	ValidFrom       time.Time  `json:"valid_from"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	ChangeType      ChangeType `json:"change_type"`
	ChangedBy       string     `json:"changed_by,omitempty"`
}

// Relation projects the version snapshot back into a Relation record.
func (v RelationVersion) Relation() Relation {
	return Relation{
		From:            v.FromEntity,
		To:              v.ToEntity,
		RelationType:    v.RelationType,
		ConfidenceScore: v.ConfidenceScore,
		ContextSource:   v.ContextSource,
		CreatedAt:       v.ValidFrom,
		ValidFrom:       v.ValidFrom,
		ValidUntil:      v.ValidUntil,
	}
}
