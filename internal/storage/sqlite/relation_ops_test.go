package sqlite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/graphkeep/graphkeep/internal/storage"
	"github.com/graphkeep/graphkeep/pkg/types"
)

func TestCreateRelations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s,
		types.NewEntity("alice", "person", nil),
		types.NewEntity("bob", "person", nil),
	)

	created, err := s.CreateRelations(ctx, []types.Relation{
		types.NewRelation("alice", "bob", "knows"),
	}, 0)
	if err != nil {
		t.Fatalf("create relations: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 created relation, got %d", len(created))
	}
	if created[0].ValidFrom.IsZero() {
		t.Errorf("expected valid_from to be set")
	}
}

func TestCreateRelationMissingEndpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, types.NewEntity("alice", "person", nil))

	_, err := s.CreateRelations(ctx, []types.Relation{
		types.NewRelation("alice", "bob", "knows"),
	}, 0)
	if !errors.Is(err, storage.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "bob") {
		t.Errorf("error must name the missing endpoint, got %q", err)
	}

	g, _ := s.ReadGraph(ctx)
	if len(g.Relations) != 0 {
		t.Errorf("expected no relations after failed create, got %d", len(g.Relations))
	}
}

func TestCreateRelationDuplicateIsIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s,
		types.NewEntity("alice", "person", nil),
		types.NewEntity("bob", "person", nil),
	)

	rel := types.NewRelation("alice", "bob", "knows")
	if _, err := s.CreateRelations(ctx, []types.Relation{rel}, 0); err != nil {
		t.Fatalf("first create: %v", err)
	}

	created, err := s.CreateRelations(ctx, []types.Relation{rel}, 0)
	if err != nil {
		t.Fatalf("duplicate create must not error: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("duplicate must not be reported as created, got %d", len(created))
	}

	g, _ := s.ReadGraph(ctx)
	if len(g.Relations) != 1 {
		t.Errorf("expected exactly 1 relation, got %d", len(g.Relations))
	}
}

func TestCreateRelationValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s,
		types.NewEntity("alice", "person", nil),
		types.NewEntity("bob", "person", nil),
	)

	cases := []types.Relation{
		{From: "", To: "bob", RelationType: "knows", ConfidenceScore: 1},
		{From: "alice", To: "bob", RelationType: "", ConfidenceScore: 1},
		{From: "alice", To: "bob", RelationType: "knows", ConfidenceScore: 2},
	}
	for i, r := range cases {
		if _, err := s.CreateRelations(ctx, []types.Relation{r}, 0); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestDeleteRelationsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s,
		types.NewEntity("alice", "person", nil),
		types.NewEntity("bob", "person", nil),
	)
	rel := types.NewRelation("alice", "bob", "knows")
	if _, err := s.CreateRelations(ctx, []types.Relation{rel}, 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.DeleteRelations(ctx, []types.Relation{rel}, 0); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.DeleteRelations(ctx, []types.Relation{rel}, 0); err != nil {
		t.Fatalf("second delete must not error: %v", err)
	}

	g, _ := s.ReadGraph(ctx)
	if len(g.Relations) != 0 {
		t.Errorf("expected zero relations, got %d", len(g.Relations))
	}
}
