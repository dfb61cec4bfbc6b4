package types

import "time"

// Relation is a typed directed edge between two entities. Its identity is the
// composite (From, To, RelationType); both endpoints must reference live
// entities when the relation is created. A nil ValidUntil means the relation
// is still valid.
type Relation struct {
	From         string `json:"from"`         // Source entity name
	To           string `json:"to"`           // Target entity name
	RelationType string `json:"relationType"` // Edge type (knows, depends_on, ...)

	ConfidenceScore float64 `json:"confidence_score"`
	ContextSource   string  `json:"context_source,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// NewRelation constructs a Relation with a clamped confidence score and UTC
// timestamps.
func NewRelation(from, to, relationType string) Relation {
	now := time.Now().UTC()
	return Relation{
		From:            from,
		To:              to,
		RelationType:    relationType,
		ConfidenceScore: 1.0,
		CreatedAt:       now,
		ValidFrom:       now,
	}
}

// Key returns the composite identity of the relation.
func (r Relation) Key() string {
	return r.From + "\x1f" + r.To + "\x1f" + r.RelationType
}
