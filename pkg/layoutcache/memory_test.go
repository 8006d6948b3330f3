package layoutcache

import (
	"context"
	"testing"

	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
)

func snapshot(fp string, nodeIDs ...string) Snapshot {
	pos := make(map[string]mindmap.Position, len(nodeIDs))
	for i, id := range nodeIDs {
		pos[id] = mindmap.Position{X: float64(i), Y: float64(-i)}
	}
	return Snapshot{Fingerprint: fp, Positions: pos, SourceVersion: 1}
}

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if _, ok, _ := m.Get(ctx, "absent"); ok {
		t.Fatal("empty store should miss")
	}

	snap := snapshot("fp1", "a", "b")
	if err := m.Put(ctx, snap); err != nil {
		t.Fatal(err)
	}

	got, ok, err := m.Get(ctx, "fp1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if len(got.Positions) != 2 || got.Positions["b"].X != 1 {
		t.Errorf("Get() positions = %v", got.Positions)
	}
}

func TestMemoryStoreSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	snap := snapshot("fp1", "a")
	m.Put(ctx, snap)

	// Mutating the caller's copy after Put must not affect the store.
	snap.Positions["a"] = mindmap.Position{X: 999}
	got, _, _ := m.Get(ctx, "fp1")
	if got.Positions["a"].X == 999 {
		t.Error("Put should store a defensive copy")
	}

	// Mutating a Get result must not affect later readers.
	got.Positions["a"] = mindmap.Position{X: -1}
	again, _, _ := m.Get(ctx, "fp1")
	if again.Positions["a"].X == -1 {
		t.Error("Get should return a defensive copy")
	}
}

func TestMemoryStoreInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.Put(ctx, snapshot("fp1", "a", "b"))
	m.Put(ctx, snapshot("fp2", "b", "c"))
	m.Put(ctx, snapshot("fp3", "x", "y"))

	n, err := m.Invalidate(ctx, []string{"b"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Invalidate(b) removed %d entries, want 2", n)
	}
	if _, ok, _ := m.Get(ctx, "fp1"); ok {
		t.Error("fp1 covers b and should be gone")
	}
	if _, ok, _ := m.Get(ctx, "fp3"); !ok {
		t.Error("fp3 does not cover b and should survive")
	}

	// Idempotent: nothing left to remove.
	if n, _ := m.Invalidate(ctx, []string{"b"}); n != 0 {
		t.Errorf("second Invalidate removed %d, want 0", n)
	}
}

func TestMemoryStorePutReplacesCoverage(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.Put(ctx, snapshot("fp1", "a", "b"))
	// Re-put the same fingerprint covering different nodes.
	m.Put(ctx, snapshot("fp1", "c"))

	if n, _ := m.Invalidate(ctx, []string{"a"}); n != 0 {
		t.Errorf("stale coverage for a still present: removed %d", n)
	}
	if n, _ := m.Invalidate(ctx, []string{"c"}); n != 1 {
		t.Errorf("Invalidate(c) removed %d, want 1", n)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.Put(ctx, snapshot("fp1", "a"))
	m.Put(ctx, snapshot("fp2", "b"))

	if err := m.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", m.Len())
	}
}

func TestNullStore(t *testing.T) {
	ctx := context.Background()
	s := NewNullStore()

	if err := s.Put(ctx, snapshot("fp", "a")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "fp"); ok {
		t.Error("null store should never hit")
	}
	if n, _ := s.Invalidate(ctx, []string{"a"}); n != 0 {
		t.Error("null store invalidate should report 0")
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
