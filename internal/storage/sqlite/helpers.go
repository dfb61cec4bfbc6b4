package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/graphkeep/graphkeep/internal/storage"
	"github.com/graphkeep/graphkeep/pkg/types"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// marshalStringList encodes a string list as a JSON array; nil/empty lists
// become NULL.
func marshalStringList(list []string) (sql.NullString, error) {
	if len(list) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("%w: failed to marshal list: %v", storage.ErrStorage, err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalStringList(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(ns.String), &list); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal list: %v", storage.ErrStorage, err)
	}
	return list, nil
}

// marshalMetadata encodes an opaque metadata map as JSON; nil maps become NULL.
func marshalMetadata(m map[string]interface{}) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("%w: failed to marshal metadata: %v", storage.ErrStorage, err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMetadata(ns sql.NullString) (map[string]interface{}, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal metadata: %v", storage.ErrStorage, err)
	}
	return m, nil
}

// nullableTime converts a time pointer to sql.NullTime.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullableString converts a string to sql.NullString; empty means NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableInt64 converts an int64 to sql.NullInt64; zero means NULL.
func nullableInt64(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}

// scanEntity scans one row in entityColumns order.
func scanEntity(s rowScanner) (types.Entity, error) {
	var (
		e             types.Entity
		observations  sql.NullString
		confidence    sql.NullFloat64
		contextSource sql.NullString
		metadata      sql.NullString
		categoryID    sql.NullInt64
	)

	if err := s.Scan(&e.Name, &e.EntityType, &observations, &e.CreatedAt, &e.LastUpdated,
		&confidence, &contextSource, &metadata, &categoryID); err != nil {
		return types.Entity{}, err
	}

	var err error
	if e.Observations, err = unmarshalStringList(observations); err != nil {
		return types.Entity{}, err
	}
	if e.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return types.Entity{}, err
	}
	if confidence.Valid {
		e.ConfidenceScore = confidence.Float64
	}
	if contextSource.Valid {
		e.ContextSource = contextSource.String
	}
	if categoryID.Valid {
		e.CategoryID = categoryID.Int64
	}
	return e, nil
}

// relationColumns is the shared column list for live relation queries.
const relationColumns = "from_entity, to_entity, relation_type, created_at, valid_from, valid_until, confidence_score, context_source"

// scanRelation scans one row in relationColumns order.
func scanRelation(s rowScanner) (types.Relation, error) {
	var (
		r             types.Relation
		validUntil    sql.NullTime
		confidence    sql.NullFloat64
		contextSource sql.NullString
	)

	if err := s.Scan(&r.From, &r.To, &r.RelationType, &r.CreatedAt, &r.ValidFrom,
		&validUntil, &confidence, &contextSource); err != nil {
		return types.Relation{}, err
	}

	if validUntil.Valid {
		t := validUntil.Time
		r.ValidUntil = &t
	}
	if confidence.Valid {
		r.ConfidenceScore = confidence.Float64
	}
	if contextSource.Valid {
		r.ContextSource = contextSource.String
	}
	return r, nil
}

// placeholders returns a comma-separated list of n SQL placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
