package sqlite

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/graphkeep/graphkeep/internal/storage"
	"github.com/graphkeep/graphkeep/pkg/types"
)

// testClock pins the store's mutation clock so version intervals land at
// known instants. Advance moves the clock forward and returns the new time.
func testClock(s *Store, start time.Time) func(time.Duration) time.Time {
	current := start
	s.now = func() time.Time { return current }
	return func(d time.Duration) time.Time {
		current = current.Add(d)
		return current
	}
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestEntityVersionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	advance := testClock(s, epoch)

	mustCreate(t, s, types.NewEntity("alice", "person", []string{"likes tea"}))

	advance(time.Hour)
	if _, err := s.AddObservations(ctx, []types.ObservationAddition{
		{EntityName: "alice", Contents: []string{"drinks coffee"}},
	}, 0); err != nil {
		t.Fatalf("update: %v", err)
	}

	advance(time.Hour)
	if err := s.DeleteEntities(ctx, []string{"alice"}, 0); err != nil {
		t.Fatalf("delete: %v", err)
	}

	versions, err := s.GetEntityChanges(ctx, "alice", nil, nil)
	if err != nil {
		t.Fatalf("get changes: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}

	wantChanges := []types.ChangeType{types.ChangeCreate, types.ChangeUpdate, types.ChangeDelete}
	for i, v := range versions {
		if v.VersionNumber != i+1 {
			t.Errorf("version %d: number %d, want %d (strictly increasing, no gaps)", i, v.VersionNumber, i+1)
		}
		if v.ChangeType != wantChanges[i] {
			t.Errorf("version %d: change type %s, want %s", i, v.ChangeType, wantChanges[i])
		}
	}

	// All but the last version must be closed; the last stays open.
	for i, v := range versions[:2] {
		if v.ValidUntil == nil {
			t.Errorf("version %d: expected closed interval", i)
		}
	}
	if versions[2].ValidUntil != nil {
		t.Errorf("final version must be open, got valid_until %v", versions[2].ValidUntil)
	}
}

func TestGetEntityAtTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	advance := testClock(s, epoch)

	mustCreate(t, s, types.NewEntity("alice", "person", []string{"likes tea"}))

	advance(time.Hour) // update at epoch+1h
	if _, err := s.AddObservations(ctx, []types.ObservationAddition{
		{EntityName: "alice", Contents: []string{"drinks coffee"}},
	}, 0); err != nil {
		t.Fatalf("update: %v", err)
	}

	advance(time.Hour) // delete at epoch+2h
	if err := s.DeleteEntities(ctx, []string{"alice"}, 0); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Before creation: no version.
	v, err := s.GetEntityAtTime(ctx, "alice", epoch.Add(-time.Second))
	if err != nil {
		t.Fatalf("at time before creation: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil before creation, got %+v", v)
	}

	// Between create and update: creation state.
	v, err = s.GetEntityAtTime(ctx, "alice", epoch.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("at creation interval: %v", err)
	}
	if v == nil || v.VersionNumber != 1 {
		t.Fatalf("expected version 1, got %+v", v)
	}
	if !reflect.DeepEqual(v.Observations, []string{"likes tea"}) {
		t.Errorf("creation state observations = %v", v.Observations)
	}

	// Between update and delete: updated state.
	v, err = s.GetEntityAtTime(ctx, "alice", epoch.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("at update interval: %v", err)
	}
	if v == nil || v.VersionNumber != 2 {
		t.Fatalf("expected version 2, got %+v", v)
	}
	if !reflect.DeepEqual(v.Observations, []string{"likes tea", "drinks coffee"}) {
		t.Errorf("updated state observations = %v", v.Observations)
	}

	// After delete: the delete marker.
	v, err = s.GetEntityAtTime(ctx, "alice", epoch.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("after delete: %v", err)
	}
	if v == nil || v.ChangeType != types.ChangeDelete {
		t.Errorf("expected delete marker, got %+v", v)
	}
}

func TestGetEntityChangesRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	advance := testClock(s, epoch)

	mustCreate(t, s, types.NewEntity("alice", "person", nil))
	for i := 0; i < 3; i++ {
		advance(time.Hour)
		if _, err := s.AddObservations(ctx, []types.ObservationAddition{
			{EntityName: "alice", Contents: []string{"obs"}},
		}, 0); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	// Updates happened at +1h, +2h, +3h. Window [1h, 2h] catches two.
	start := epoch.Add(time.Hour)
	end := epoch.Add(2 * time.Hour)
	versions, err := s.GetEntityChanges(ctx, "alice", &start, &end)
	if err != nil {
		t.Fatalf("get changes: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions in window, got %d", len(versions))
	}
	if versions[0].VersionNumber >= versions[1].VersionNumber {
		t.Errorf("versions must be ordered oldest first: %d then %d",
			versions[0].VersionNumber, versions[1].VersionNumber)
	}
}

func TestGetRelationsAtTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	advance := testClock(s, epoch)

	mustCreate(t, s,
		types.NewEntity("alice", "person", nil),
		types.NewEntity("bob", "person", nil),
		types.NewEntity("carol", "person", nil),
	)
	if _, err := s.CreateRelations(ctx, []types.Relation{
		types.NewRelation("alice", "bob", "knows"),
		types.NewRelation("carol", "alice", "manages"),
	}, 0); err != nil {
		t.Fatalf("create relations: %v", err)
	}

	at := advance(time.Hour)

	out, err := s.GetRelationsAtTime(ctx, "alice", at, storage.DirectionOutgoing)
	if err != nil {
		t.Fatalf("outgoing: %v", err)
	}
	if len(out) != 1 || out[0].To != "bob" {
		t.Errorf("outgoing = %+v, want alice->bob", out)
	}

	in, err := s.GetRelationsAtTime(ctx, "alice", at, storage.DirectionIncoming)
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if len(in) != 1 || in[0].From != "carol" {
		t.Errorf("incoming = %+v, want carol->alice", in)
	}

	both, err := s.GetRelationsAtTime(ctx, "alice", at, storage.DirectionBoth)
	if err != nil {
		t.Fatalf("both: %v", err)
	}
	if len(both) != 2 {
		t.Errorf("both = %d relations, want 2", len(both))
	}

	// Delete one relation; it disappears after the deletion instant but is
	// still visible before it.
	deletedAt := advance(time.Hour)
	if err := s.DeleteRelations(ctx, []types.Relation{types.NewRelation("alice", "bob", "knows")}, 0); err != nil {
		t.Fatalf("delete relation: %v", err)
	}

	after, err := s.GetRelationsAtTime(ctx, "alice", deletedAt.Add(time.Minute), storage.DirectionBoth)
	if err != nil {
		t.Fatalf("after delete: %v", err)
	}
	if len(after) != 1 || after[0].From != "carol" {
		t.Errorf("after delete = %+v, want only carol->alice", after)
	}

	before, err := s.GetRelationsAtTime(ctx, "alice", at, storage.DirectionBoth)
	if err != nil {
		t.Fatalf("before delete: %v", err)
	}
	if len(before) != 2 {
		t.Errorf("history before delete = %d relations, want 2", len(before))
	}
}

func TestGetRelationChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	advance := testClock(s, epoch)

	mustCreate(t, s,
		types.NewEntity("alice", "person", nil),
		types.NewEntity("bob", "person", nil),
	)
	rel := types.NewRelation("alice", "bob", "knows")
	if _, err := s.CreateRelations(ctx, []types.Relation{rel}, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	advance(time.Hour)
	if err := s.DeleteRelations(ctx, []types.Relation{rel}, 0); err != nil {
		t.Fatalf("delete: %v", err)
	}

	versions, err := s.GetRelationChanges(ctx, "alice", "bob", "knows", nil, nil)
	if err != nil {
		t.Fatalf("get relation changes: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].ChangeType != types.ChangeCreate || versions[1].ChangeType != types.ChangeDelete {
		t.Errorf("change sequence = %s, %s; want create, delete",
			versions[0].ChangeType, versions[1].ChangeType)
	}
	if versions[0].ValidUntil == nil {
		t.Errorf("created version must be closed by the delete")
	}
}

func TestGetChangesInPeriod(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	advance := testClock(s, epoch)

	mustCreate(t, s, types.NewEntity("alice", "person", nil))
	advance(time.Hour)
	mustCreate(t, s, types.NewEntity("proj", "project", nil))
	advance(time.Hour)
	if _, err := s.AddObservations(ctx, []types.ObservationAddition{
		{EntityName: "alice", Contents: []string{"obs"}},
	}, 0); err != nil {
		t.Fatalf("update: %v", err)
	}

	all, err := s.GetChangesInPeriod(ctx, epoch, epoch.Add(3*time.Hour), storage.ChangeFilter{})
	if err != nil {
		t.Fatalf("unfiltered: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(all))
	}
	// Newest first.
	for i := 1; i < len(all); i++ {
		if all[i].ValidFrom.After(all[i-1].ValidFrom) {
			t.Errorf("changes must be ordered newest first")
		}
	}

	creates, err := s.GetChangesInPeriod(ctx, epoch, epoch.Add(3*time.Hour),
		storage.ChangeFilter{ChangeType: types.ChangeCreate})
	if err != nil {
		t.Fatalf("filtered by change type: %v", err)
	}
	if len(creates) != 2 {
		t.Errorf("expected 2 creates, got %d", len(creates))
	}

	projects, err := s.GetChangesInPeriod(ctx, epoch, epoch.Add(3*time.Hour),
		storage.ChangeFilter{EntityType: "project"})
	if err != nil {
		t.Fatalf("filtered by entity type: %v", err)
	}
	if len(projects) != 1 || projects[0].EntityName != "proj" {
		t.Errorf("expected only proj changes, got %+v", projects)
	}

	if _, err := s.GetChangesInPeriod(ctx, epoch, epoch.Add(time.Hour),
		storage.ChangeFilter{ChangeType: "mutate"}); err == nil {
		t.Errorf("unknown change type must be rejected")
	}
}

func TestGetGraphAtTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	advance := testClock(s, epoch)

	mustCreate(t, s,
		types.NewEntity("alice", "person", nil),
		types.NewEntity("bob", "person", nil),
	)
	if _, err := s.CreateRelations(ctx, []types.Relation{
		types.NewRelation("alice", "bob", "knows"),
	}, 0); err != nil {
		t.Fatalf("create relation: %v", err)
	}

	mid := advance(time.Hour)

	advance(time.Hour)
	if err := s.DeleteEntities(ctx, []string{"bob"}, 0); err != nil {
		t.Fatalf("delete bob: %v", err)
	}

	// Before the deletion: full graph.
	g, err := s.GetGraphAtTime(ctx, mid)
	if err != nil {
		t.Fatalf("graph at mid: %v", err)
	}
	if len(g.Entities) != 2 || len(g.Relations) != 1 {
		t.Errorf("graph at mid = %d entities, %d relations; want 2, 1",
			len(g.Entities), len(g.Relations))
	}

	// After the deletion: bob and his relation are gone.
	late := advance(time.Hour)
	g, err = s.GetGraphAtTime(ctx, late)
	if err != nil {
		t.Fatalf("graph at late: %v", err)
	}
	if len(g.Entities) != 1 || g.Entities[0].Name != "alice" {
		t.Errorf("graph at late entities = %+v, want only alice", g.Entities)
	}
	if len(g.Relations) != 0 {
		t.Errorf("graph at late relations = %+v, want none", g.Relations)
	}
}
