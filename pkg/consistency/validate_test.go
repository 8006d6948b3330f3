package consistency

import (
	"context"
	"testing"

	"github.com/saptak/screenshotnotes-sub005/pkg/changelog"
	"github.com/saptak/screenshotnotes-sub005/pkg/layoutcache"
	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
)

// corruptEdge plants an edge whose relationship type is later retired,
// simulating a graph restored from a producer running a newer taxonomy.
func corruptEdge(t *testing.T, g *mindmap.Graph, source, target string) mindmap.Edge {
	t.Helper()
	const retired = "deprecated_relation"
	mindmap.ValidRelationTypes[retired] = true
	t.Cleanup(func() { delete(mindmap.ValidRelationTypes, retired) })

	e := mindmap.Edge{Source: source, Target: target, Type: retired, Strength: 0.5, Confidence: 0.5}
	if err := g.AddEdge(e); err != nil {
		t.Fatal(err)
	}
	delete(mindmap.ValidRelationTypes, retired)
	return e
}

func TestValidateIntegrityCleanGraph(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{})

	report, err := m.ValidateIntegrity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Repaired || report.FullRecompute {
		t.Errorf("clean graph reported repairs: %+v", report)
	}
	if report.CheckedNodes != 5 || report.CheckedEdges != 4 {
		t.Errorf("checked %d nodes / %d edges, want 5 / 4", report.CheckedNodes, report.CheckedEdges)
	}
	if len(m.ChangesSince(0)) != 0 {
		t.Error("clean validation recorded a change")
	}
}

func TestValidateIntegrityRemovesInvalidEdges(t *testing.T) {
	g := chainGraph(t)
	bad := corruptEdge(t, g, "a", "e")
	m := newTestManager(t, g, Options{})

	report, err := m.ValidateIntegrity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Repaired {
		t.Fatal("invalid edge went undetected")
	}
	if len(report.RemovedEdges) != 1 || report.RemovedEdges[0] != bad.Key() {
		t.Errorf("RemovedEdges = %v, want [%s]", report.RemovedEdges, bad.Key())
	}
	if report.FullRecompute {
		t.Error("a single repair should not escalate")
	}

	after := m.Snapshot()
	if _, ok := after.Edge(bad.Key()); ok {
		t.Error("invalid edge survived the repair")
	}
	if after.EdgeCount() != 4 {
		t.Errorf("EdgeCount = %d, want 4", after.EdgeCount())
	}

	// The repair is recorded like any other change.
	recs := m.ChangesSince(0)
	if len(recs) != 1 || recs[0].Origin != changelog.OriginSemanticReanalysis {
		t.Errorf("repair record = %+v", recs)
	}

	// A follow-up pass finds nothing and resets the failure streak.
	report, err = m.ValidateIntegrity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Repaired {
		t.Error("second pass found violations after repair")
	}
	if m.repairs != 0 {
		t.Errorf("repair streak = %d, want 0", m.repairs)
	}
}

func TestValidateIntegrityEscalatesToFullRecompute(t *testing.T) {
	g := chainGraph(t)
	corruptEdge(t, g, "a", "e")
	m := newTestManager(t, g, Options{IntegrityFailureLimit: 1})

	report, err := m.ValidateIntegrity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Repaired || !report.FullRecompute {
		t.Fatalf("want repair plus escalation, got %+v", report)
	}
	if m.repairs != 0 {
		t.Errorf("repair streak = %d after escalation, want 0", m.repairs)
	}

	// The rebuilt layout is retrievable by the repaired fingerprint.
	if _, cached, err := m.GetLayout(context.Background(), m.Fingerprint()); err != nil || !cached {
		t.Fatalf("cached = %v, err = %v; want a cache hit", cached, err)
	}
}

func TestValidateIntegrityEvictsStaleCacheEntries(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{})
	ctx := context.Background()

	// Plant an entry under the live fingerprint whose positions cover a
	// node set the graph does not have, as a bad restore would.
	fp := m.Fingerprint()
	err := m.cache.Put(ctx, layoutcache.Snapshot{
		Fingerprint: fp,
		Positions:   map[string]mindmap.Position{"ghost": {X: 1, Y: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	report, err := m.ValidateIntegrity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Repaired || report.EvictedEntries == 0 {
		t.Fatalf("stale entry survived: %+v", report)
	}
	if _, ok, _ := m.cache.Get(ctx, fp); ok {
		t.Error("entry with stale coverage still retrievable")
	}
}
