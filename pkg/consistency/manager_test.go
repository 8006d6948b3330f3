package consistency

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saptak/screenshotnotes-sub005/pkg/changelog"
	apperrors "github.com/saptak/screenshotnotes-sub005/pkg/errors"
	"github.com/saptak/screenshotnotes-sub005/pkg/layout"
	"github.com/saptak/screenshotnotes-sub005/pkg/layoutcache"
	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
	"github.com/saptak/screenshotnotes-sub005/pkg/observability"
)

// chainGraph builds a - b - c - d - e with semantic edges.
func chainGraph(t *testing.T) *mindmap.Graph {
	t.Helper()
	g := mindmap.NewGraph()
	ids := []string{"a", "b", "c", "d", "e"}
	for i, id := range ids {
		err := g.AddNode(mindmap.Node{
			ID:       id,
			Position: mindmap.Position{X: float64(i) * 60, Y: 0},
			Version:  1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i+1 < len(ids); i++ {
		err := g.AddEdge(mindmap.Edge{
			Source: ids[i], Target: ids[i+1],
			Type: mindmap.RelationSemantic, Strength: 0.7, Confidence: 0.9,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return g
}

func newTestManager(t *testing.T, g *mindmap.Graph, opts Options) *Manager {
	t.Helper()
	engine := layout.New(layout.Options{MaxIterations: 20}, nil)
	tracker := changelog.NewTracker(nil, nil)
	cache := layoutcache.NewTieredStore(nil, nil)
	m := NewManager(g, tracker, cache, engine, nil, opts)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestApplyChangeNodeAdded(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{})

	res, err := m.ApplyChange(context.Background(), Change{
		Type:   changelog.NodeAdded,
		Origin: changelog.OriginUserEdit,
		Node:   &mindmap.Node{ID: "f"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.AppliedVersion != 1 {
		t.Errorf("AppliedVersion = %d, want 1", res.AppliedVersion)
	}
	if !m.Snapshot().HasNode("f") {
		t.Error("node f missing after apply")
	}
	if len(m.ChangesSince(0)) != 1 {
		t.Error("change was not recorded")
	}
}

func TestApplyChangeRejectsInvalid(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{})

	_, err := m.ApplyChange(context.Background(), Change{
		Type:   changelog.NodeDeleted,
		Origin: changelog.OriginUserEdit,
	})
	if !apperrors.Is(err, apperrors.ErrCodeInvalidChange) {
		t.Errorf("err = %v, want INVALID_CHANGE", err)
	}

	// Deleting an unknown node fails without mutating anything.
	_, err = m.HandleDeletion(context.Background(), "ghost")
	if !apperrors.Is(err, apperrors.ErrCodeInvalidChange) {
		t.Errorf("err = %v, want INVALID_CHANGE", err)
	}
	if m.Snapshot().NodeCount() != 5 {
		t.Error("failed change mutated the graph")
	}
}

func TestApplyChangeRejectsOutOfRangeEdge(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{})

	_, err := m.ApplyChange(context.Background(), Change{
		Type:   changelog.EdgeAdded,
		Origin: changelog.OriginAIRelationship,
		Edge:   &mindmap.Edge{Source: "a", Target: "c", Type: mindmap.RelationSemantic, Strength: 1.5, Confidence: 0.5},
	})
	if !apperrors.Is(err, apperrors.ErrCodeInvalidEdge) {
		t.Errorf("err = %v, want INVALID_EDGE", err)
	}
	if m.Snapshot().EdgeCount() != 4 {
		t.Error("rejected edge mutated the graph")
	}
}

func TestDeletionBoundsRelayoutToNeighbors(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{})

	res, err := m.HandleDeletion(context.Background(), "c")
	if err != nil {
		t.Fatal(err)
	}

	sort.Strings(res.DirtyNodeIDs)
	if len(res.DirtyNodeIDs) != 2 || res.DirtyNodeIDs[0] != "b" || res.DirtyNodeIDs[1] != "d" {
		t.Errorf("dirty region = %v, want exactly the former neighbors [b d]", res.DirtyNodeIDs)
	}

	g := m.Snapshot()
	if g.HasNode("c") {
		t.Error("deleted node still present")
	}
	for _, e := range g.Edges() {
		if e.Touches("c") {
			t.Errorf("orphan edge %s survived the cascade", e.Key())
		}
	}
	if g.EdgeCount() != 2 {
		t.Errorf("EdgeCount = %d, want 2", g.EdgeCount())
	}
}

func TestConflictWindowSupersedesLowerPriority(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{})
	ctx := context.Background()

	if _, err := m.ApplyChange(ctx, Change{
		Type:   changelog.NodeModified,
		Origin: changelog.OriginUserEdit,
		NodeID: "b",
	}); err != nil {
		t.Fatal(err)
	}
	before := m.Snapshot()

	res, err := m.ApplyChange(ctx, Change{
		Type:   changelog.RelationshipBatchUpdated,
		Origin: changelog.OriginAIRelationship,
		NodeID: "b",
		Edges:  nil, // would drop both of b's edges
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Superseded {
		t.Fatal("AI change on a user-held entity should be superseded")
	}
	if res.AppliedVersion != 0 {
		t.Errorf("superseded change got version %d", res.AppliedVersion)
	}
	if got := m.Snapshot().EdgeCount(); got != before.EdgeCount() {
		t.Errorf("superseded change mutated the graph: %d edges, want %d", got, before.EdgeCount())
	}
}

func TestConflictWindowExpires(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{ConflictWindow: 10 * time.Millisecond})
	ctx := context.Background()

	if _, err := m.ApplyChange(ctx, Change{
		Type:   changelog.NodeModified,
		Origin: changelog.OriginUserEdit,
		NodeID: "b",
	}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(25 * time.Millisecond)

	res, err := m.ApplyChange(ctx, Change{
		Type:   changelog.NodeModified,
		Origin: changelog.OriginAIRelationship,
		NodeID: "b",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Superseded {
		t.Error("window expired, the AI change should apply")
	}
}

func TestConflictWindowPrunesExpiredEntries(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{ConflictWindow: 10 * time.Millisecond})
	ctx := context.Background()

	// Delete a node, then let its window entry expire. The key names an
	// entity that no longer exists, so only the sweep can remove it.
	if _, err := m.HandleDeletion(ctx, "e"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(25 * time.Millisecond)

	if _, err := m.ApplyChange(ctx, Change{
		Type:   changelog.NodeModified,
		Origin: changelog.OriginUserEdit,
		NodeID: "b",
	}); err != nil {
		t.Fatal(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.window[Change{Type: changelog.NodeDeleted, NodeID: "e"}.entityKey()]; ok {
		t.Error("expired window entry for a deleted node survived the sweep")
	}
	if len(m.window) != 1 {
		t.Errorf("window holds %d entries, want only the fresh one", len(m.window))
	}
}

func TestEqualPriorityLaterChangeWins(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := m.ApplyChange(ctx, Change{
			Type:   changelog.NodeModified,
			Origin: changelog.OriginAIRelationship,
			NodeID: "b",
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Superseded {
			t.Fatalf("equal-priority change %d was superseded", i)
		}
	}
}

type conflictCounter struct {
	observability.NoopChangeHooks
	retries atomic.Int64
}

func (c *conflictCounter) OnConflictRetry(_ context.Context, _ string, _ int) {
	c.retries.Add(1)
}

func TestStaleBaseVersionRetriesThenApplies(t *testing.T) {
	hooks := &conflictCounter{}
	observability.SetChangeHooks(hooks)
	t.Cleanup(observability.Reset)

	m := newTestManager(t, chainGraph(t), Options{})

	// Live version of b is 1; the producer computed against version 5.
	res, err := m.ApplyChange(context.Background(), Change{
		Type:        changelog.NodeModified,
		Origin:      changelog.OriginAIRelationship,
		NodeID:      "b",
		BaseVersion: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := hooks.retries.Load(); got != DefaultMaxRetries {
		t.Errorf("conflict retries = %d, want %d", got, DefaultMaxRetries)
	}
	// No higher-priority holder, so the change lands after the retries.
	if res.Superseded || res.AppliedVersion == 0 {
		t.Errorf("change should apply after retry budget, got %+v", res)
	}
}

func TestStaleBaseVersionLosesToUserEdit(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{})
	ctx := context.Background()

	// User edit bumps b to version 2 and holds the entity.
	if _, err := m.ApplyChange(ctx, Change{
		Type:   changelog.NodeModified,
		Origin: changelog.OriginUserEdit,
		NodeID: "b",
	}); err != nil {
		t.Fatal(err)
	}

	res, err := m.ApplyChange(ctx, Change{
		Type:        changelog.NodeModified,
		Origin:      changelog.OriginAIRelationship,
		NodeID:      "b",
		BaseVersion: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Superseded {
		t.Error("stale AI change against a user-held entity should be superseded")
	}
}

func TestRelationshipDiffBoundsBlastRadius(t *testing.T) {
	g := mindmap.NewGraph()
	for _, id := range []string{"hub", "same", "changed", "dropped", "x", "y"} {
		if err := g.AddNode(mindmap.Node{ID: id, Version: 1}); err != nil {
			t.Fatal(err)
		}
	}
	keep := mindmap.Edge{Source: "hub", Target: "same", Type: mindmap.RelationSemantic, Strength: 0.5, Confidence: 0.5}
	for _, e := range []mindmap.Edge{
		keep,
		{Source: "hub", Target: "changed", Type: mindmap.RelationSemantic, Strength: 0.3, Confidence: 0.5},
		{Source: "hub", Target: "dropped", Type: mindmap.RelationSemantic, Strength: 0.3, Confidence: 0.5},
		// A chain behind the untouched neighbor. If "same" leaked into
		// the seeds, "y" would fall inside the 2-hop dirty region.
		{Source: "same", Target: "x", Type: mindmap.RelationSemantic, Strength: 0.5, Confidence: 0.5},
		{Source: "x", Target: "y", Type: mindmap.RelationSemantic, Strength: 0.5, Confidence: 0.5},
	} {
		if err := g.AddEdge(e); err != nil {
			t.Fatal(err)
		}
	}

	m := newTestManager(t, g, Options{})
	res, err := m.HandleRelationshipUpdate(context.Background(), "hub", []mindmap.Edge{
		keep,
		{Source: "hub", Target: "changed", Type: mindmap.RelationSemantic, Strength: 0.9, Confidence: 0.5},
	})
	if err != nil {
		t.Fatal(err)
	}

	dirty := make(map[string]bool, len(res.DirtyNodeIDs))
	for _, id := range res.DirtyNodeIDs {
		dirty[id] = true
	}
	for _, want := range []string{"hub", "changed", "dropped"} {
		if !dirty[want] {
			t.Errorf("dirty region %v misses %s", res.DirtyNodeIDs, want)
		}
	}
	if dirty["y"] {
		t.Errorf("untouched relationship widened the dirty region: %v", res.DirtyNodeIDs)
	}

	after := m.Snapshot()
	if _, ok := after.Edge(mindmap.Edge{Source: "hub", Target: "dropped"}.Key()); ok {
		t.Error("dropped relationship still present")
	}
	if e, _ := after.Edge(mindmap.Edge{Source: "hub", Target: "changed"}.Key()); e.Strength != 0.9 {
		t.Errorf("changed relationship strength = %v, want 0.9", e.Strength)
	}
}

type recomputeCounter struct {
	observability.NoopLayoutHooks
	starts atomic.Int64
}

func (c *recomputeCounter) OnRecomputeStart(_ context.Context, _, _ int) {
	c.starts.Add(1)
}

func TestAnnotationChangeSkipsRelayout(t *testing.T) {
	hooks := &recomputeCounter{}
	observability.SetLayoutHooks(hooks)
	t.Cleanup(observability.Reset)

	m := newTestManager(t, chainGraph(t), Options{})
	ctx := context.Background()

	res, err := m.ApplyChange(ctx, Change{
		Type:   changelog.AnnotationChanged,
		Origin: changelog.OriginAnnotation,
		NodeID: "b",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.AppliedVersion == 0 {
		t.Error("annotation change should still be recorded")
	}
	if got := hooks.starts.Load(); got != 0 {
		t.Errorf("annotation change triggered %d recomputes, want 0", got)
	}

	// A content modification on the same node does schedule one.
	if _, err := m.ApplyChange(ctx, Change{
		Type:   changelog.NodeModified,
		Origin: changelog.OriginAnnotation,
		NodeID: "b",
	}); err != nil {
		t.Fatal(err)
	}
	if got := hooks.starts.Load(); got != 1 {
		t.Errorf("recompute starts = %d, want 1", got)
	}
}

func TestGetLayoutRecomputesOnLiveMiss(t *testing.T) {
	// A graph that was never laid out: every node sits at the origin.
	g := mindmap.NewGraph()
	for _, id := range []string{"a", "b", "c"} {
		if err := g.AddNode(mindmap.Node{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	g.AddEdge(mindmap.Edge{Source: "a", Target: "b", Type: mindmap.RelationSemantic, Strength: 0.5, Confidence: 0.5})
	g.AddEdge(mindmap.Edge{Source: "b", Target: "c", Type: mindmap.RelationSemantic, Strength: 0.5, Confidence: 0.5})

	m := newTestManager(t, g, Options{})
	ctx := context.Background()
	fp := m.Fingerprint()

	// First call misses and must solve, never hand back the stored
	// all-origin positions.
	snap, cached, err := m.GetLayout(ctx, fp)
	if err != nil {
		t.Fatal(err)
	}
	if cached {
		t.Error("first call reported a cache hit")
	}
	if len(snap.Positions) != 3 {
		t.Fatalf("snapshot covers %d nodes, want 3", len(snap.Positions))
	}
	placed := 0
	for _, p := range snap.Positions {
		if p.X != 0 || p.Y != 0 {
			placed++
		}
	}
	if placed < 2 {
		t.Errorf("layout left %d of 3 nodes at the origin", 3-placed)
	}

	// Second call is served from the cache, byte-identical.
	again, cached, err := m.GetLayout(ctx, fp)
	if err != nil {
		t.Fatal(err)
	}
	if !cached {
		t.Error("second call missed the cache")
	}
	if !reflect.DeepEqual(again.Positions, snap.Positions) {
		t.Errorf("cached snapshot differs:\n%v\nvs\n%v", again.Positions, snap.Positions)
	}

	// A fingerprint the live graph cannot produce is a hard miss.
	if _, _, err := m.GetLayout(ctx, "0000000000000000"); !apperrors.Is(err, apperrors.ErrCodeCacheMiss) {
		t.Errorf("stale fingerprint err = %v, want CACHE_MISS", err)
	}
}

func TestGetLayoutReflectsApply(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{})
	ctx := context.Background()

	old := m.Fingerprint()
	if _, err := m.HandleDeletion(ctx, "e"); err != nil {
		t.Fatal(err)
	}
	if m.Fingerprint() == old {
		t.Fatal("fingerprint should change after a deletion")
	}

	snap, _, err := m.GetLayout(ctx, m.Fingerprint())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snap.Positions["e"]; ok {
		t.Error("layout for the new fingerprint still contains the deleted node")
	}
}

func TestFullRecompute(t *testing.T) {
	g := mindmap.NewGraph()
	// Never-positioned nodes, so only a recompute can place them.
	for _, id := range []string{"a", "b", "c"} {
		if err := g.AddNode(mindmap.Node{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	g.AddEdge(mindmap.Edge{Source: "a", Target: "b", Type: mindmap.RelationSemantic, Strength: 0.5, Confidence: 0.5})
	g.AddEdge(mindmap.Edge{Source: "b", Target: "c", Type: mindmap.RelationSemantic, Strength: 0.5, Confidence: 0.5})

	m := newTestManager(t, g, Options{})
	snap, err := m.FullRecompute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Positions) != 3 {
		t.Fatalf("snapshot covers %d nodes, want 3", len(snap.Positions))
	}
	placed := 0
	for _, p := range snap.Positions {
		if p.X != 0 || p.Y != 0 {
			placed++
		}
	}
	if placed < 2 {
		t.Errorf("only %d nodes were placed", placed)
	}

	// The committed layout is immediately retrievable by fingerprint.
	if _, cached, err := m.GetLayout(context.Background(), m.Fingerprint()); err != nil || !cached {
		t.Fatalf("cached = %v, err = %v; want a cache hit", cached, err)
	}
}

func TestConcurrentAppliesStayConsistent(t *testing.T) {
	m := newTestManager(t, chainGraph(t), Options{Workers: 4})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			for j := 0; j < 5; j++ {
				m.ApplyChange(ctx, Change{
					Type:   changelog.NodeModified,
					Origin: changelog.OriginAIRelationship,
					NodeID: id,
				})
			}
		}(i)
	}
	wg.Wait()

	g := m.Snapshot()
	if g.NodeCount() != 5 {
		t.Errorf("NodeCount = %d, want 5", g.NodeCount())
	}
	for _, e := range g.Edges() {
		if !g.HasNode(e.Source) || !g.HasNode(e.Target) {
			t.Errorf("edge %s dangles after concurrent applies", e.Key())
		}
	}
	recs := m.ChangesSince(0)
	seen := make(map[uint64]bool, len(recs))
	for _, r := range recs {
		if seen[r.VersionID] {
			t.Errorf("duplicate version id %d", r.VersionID)
		}
		seen[r.VersionID] = true
	}
}
