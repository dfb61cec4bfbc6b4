package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/graphkeep/graphkeep/pkg/types"
)

func partitionCounts(t *testing.T, s *Store, name string) (recent, intermediate, archive int) {
	t.Helper()
	for _, probe := range []struct {
		table string
		dst   *int
	}{
		{"entities_recent", &recent},
		{"entities_intermediate", &intermediate},
		{"entities_archive", &archive},
	} {
		err := s.db.QueryRow("SELECT COUNT(*) FROM "+probe.table+" WHERE name = ?", name).Scan(probe.dst)
		if err != nil {
			t.Fatalf("count %s: %v", probe.table, err)
		}
	}
	return recent, intermediate, archive
}

func TestMaintenanceMigratesAgedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	advance := testClock(s, epoch)

	e := types.Entity{Name: "aging", EntityType: "note", ConfidenceScore: 1, CreatedAt: epoch, LastUpdated: epoch}
	mustCreate(t, s, e)

	r, i, a := partitionCounts(t, s, "aging")
	if r != 1 || i != 0 || a != 0 {
		t.Fatalf("fresh entity partition counts = %d/%d/%d, want 1/0/0", r, i, a)
	}

	m := NewMaintainer(s, time.Hour)

	// 40 days later the row has aged out of recent.
	advance(40 * 24 * time.Hour)
	if err := m.RunOnce(ctx); err != nil {
		t.Fatalf("maintenance pass: %v", err)
	}
	r, i, a = partitionCounts(t, s, "aging")
	if r != 0 || i != 1 || a != 0 {
		t.Fatalf("after 40 days partition counts = %d/%d/%d, want 0/1/0", r, i, a)
	}

	// 200 days in, it belongs in the archive.
	advance(160 * 24 * time.Hour)
	if err := m.RunOnce(ctx); err != nil {
		t.Fatalf("second maintenance pass: %v", err)
	}
	r, i, a = partitionCounts(t, s, "aging")
	if r != 0 || i != 0 || a != 1 {
		t.Fatalf("after 200 days partition counts = %d/%d/%d, want 0/0/1", r, i, a)
	}

	// Exactly one partition holds the row, and it is still reachable.
	g, err := s.OpenNodes(ctx, []string{"aging"})
	if err != nil {
		t.Fatalf("open nodes: %v", err)
	}
	if len(g.Entities) != 1 {
		t.Errorf("migrated entity not reachable, got %d entities", len(g.Entities))
	}
}

func TestMaintenanceSkipsBothBoundariesInOnePass(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	advance := testClock(s, epoch)

	e := types.Entity{Name: "dormant", EntityType: "note", ConfidenceScore: 1, CreatedAt: epoch, LastUpdated: epoch}
	mustCreate(t, s, e)

	// No maintenance ran for 200 days; one pass must carry the row through
	// intermediate straight into the archive.
	advance(200 * 24 * time.Hour)
	if err := NewMaintainer(s, time.Hour).RunOnce(ctx); err != nil {
		t.Fatalf("maintenance pass: %v", err)
	}

	r, i, a := partitionCounts(t, s, "dormant")
	if r != 0 || i != 0 || a != 1 {
		t.Fatalf("partition counts = %d/%d/%d, want 0/0/1", r, i, a)
	}
}

func TestMaintenanceRefreshesSummaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s,
		types.NewEntity("alice", "person", nil),
		types.NewEntity("bob", "person", nil),
		types.NewEntity("proj", "project", nil),
	)
	if _, err := s.CreateRelations(ctx, []types.Relation{
		types.NewRelation("alice", "proj", "works_on"),
		types.NewRelation("bob", "proj", "works_on"),
	}, 0); err != nil {
		t.Fatalf("create relations: %v", err)
	}

	if err := NewMaintainer(s, time.Hour).RunOnce(ctx); err != nil {
		t.Fatalf("maintenance pass: %v", err)
	}

	stats, err := s.EntityStats(ctx)
	if err != nil {
		t.Fatalf("entity stats: %v", err)
	}
	byType := make(map[string]types.EntityStats, len(stats))
	for _, st := range stats {
		byType[st.EntityType] = st
	}
	if byType["person"].Count != 2 {
		t.Errorf("person count = %d, want 2", byType["person"].Count)
	}
	if byType["project"].Count != 1 {
		t.Errorf("project count = %d, want 1", byType["project"].Count)
	}
	if byType["person"].AvgConfidence != 1 {
		t.Errorf("person avg confidence = %v, want 1", byType["person"].AvgConfidence)
	}

	sums, err := s.RelationSummary(ctx)
	if err != nil {
		t.Fatalf("relation summary: %v", err)
	}
	if len(sums) != 1 {
		t.Fatalf("expected 1 summary row, got %d", len(sums))
	}
	if sums[0].RelationType != "works_on" || sums[0].Count != 2 {
		t.Errorf("summary = %+v, want works_on count 2", sums[0])
	}
	if sums[0].UniqueSources != 2 || sums[0].UniqueTargets != 1 {
		t.Errorf("unique endpoints = %d/%d, want 2/1", sums[0].UniqueSources, sums[0].UniqueTargets)
	}
}

func TestMaintenanceSingleFlight(t *testing.T) {
	s := newTestStore(t)
	m := NewMaintainer(s, time.Hour)

	// Hold the in-flight lock; a concurrent tick must return immediately
	// without running a pass.
	m.running.Lock()
	done := make(chan error, 1)
	go func() { done <- m.RunOnce(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dropped tick returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("tick blocked behind an in-flight pass")
	}
	m.running.Unlock()
}

func TestMaintenanceBreakerTripsAndSkips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := NewMaintainer(s, time.Hour)

	// Break the pass by making a summary table unusable.
	if _, err := s.db.Exec("DROP TABLE entity_stats"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	var failures int
	for i := 0; i < maintenanceFailureLimit; i++ {
		if err := m.RunOnce(ctx); err != nil {
			failures++
		}
	}
	if failures != maintenanceFailureLimit {
		t.Fatalf("expected %d failures, got %d", maintenanceFailureLimit, failures)
	}

	// The breaker is open now: ticks skip without surfacing an error.
	if err := m.RunOnce(ctx); err != nil {
		t.Fatalf("open-breaker tick must be a silent skip, got %v", err)
	}
}

func TestMaintenanceStartStop(t *testing.T) {
	s := newTestStore(t)
	m := NewMaintainer(s, time.Hour)

	m.Start()
	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestMaintenanceFailureNeverReachesServing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, types.NewEntity("alice", "person", nil))

	if _, err := s.db.Exec("DROP TABLE relation_summary"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	m := NewMaintainer(s, time.Hour)
	if err := m.RunOnce(ctx); err == nil {
		t.Fatalf("expected the broken pass to fail")
	}

	// Serving path keeps working.
	g, err := s.SearchNodes(ctx, "alice")
	if err != nil {
		t.Fatalf("search after failed maintenance: %v", err)
	}
	if len(g.Entities) != 1 {
		t.Errorf("expected alice, got %+v", g.Entities)
	}
}
