package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/saptak/screenshotnotes-sub005/pkg/changelog"
	"github.com/saptak/screenshotnotes-sub005/pkg/layoutcache"
	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func snap(fp string, version uint64, ids ...string) layoutcache.Snapshot {
	positions := make(map[string]mindmap.Position, len(ids))
	for i, id := range ids {
		positions[id] = mindmap.Position{X: float64(i) * 10, Y: float64(i) * 5}
	}
	return layoutcache.Snapshot{
		Fingerprint:   fp,
		Positions:     positions,
		SourceVersion: version,
		SavedAt:       time.Now().UTC(),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	in := snap("fp1", 7, "a", "b", "c")
	if err := s.Put(ctx, in); err != nil {
		t.Fatal(err)
	}

	out, ok, err := s.Get(ctx, "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("stored snapshot not found")
	}
	if out.SourceVersion != 7 {
		t.Errorf("SourceVersion = %d, want 7", out.SourceVersion)
	}
	if len(out.Positions) != 3 {
		t.Fatalf("positions = %d, want 3", len(out.Positions))
	}
	if out.Positions["b"] != in.Positions["b"] {
		t.Errorf("position b = %v, want %v", out.Positions["b"], in.Positions["b"])
	}
	if out.SavedAt.IsZero() {
		t.Error("SavedAt not persisted")
	}

	if _, ok, err := s.Get(ctx, "absent"); err != nil || ok {
		t.Errorf("Get(absent) = %v, %v; want miss", ok, err)
	}
}

func TestPutReplacesEntryAndCoverage(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.Put(ctx, snap("fp1", 1, "a", "b")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, snap("fp1", 2, "c")); err != nil {
		t.Fatal(err)
	}

	out, ok, _ := s.Get(ctx, "fp1")
	if !ok || out.SourceVersion != 2 || len(out.Positions) != 1 {
		t.Fatalf("replaced entry = %+v, ok=%v", out, ok)
	}

	// The old coverage rows must be gone: invalidating by the old node
	// set touches nothing.
	n, err := s.Invalidate(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("invalidated %d entries via stale coverage, want 0", n)
	}
	if _, ok, _ := s.Get(ctx, "fp1"); !ok {
		t.Error("entry evicted through stale coverage")
	}
}

func TestInvalidateByCoverage(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	s.Put(ctx, snap("region", 1, "a", "b"))
	s.Put(ctx, snap("whole", 1, "a", "b", "c", "d"))
	s.Put(ctx, snap("far", 1, "x", "y"))

	n, err := s.Invalidate(ctx, []string{"b"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("invalidated %d entries, want 2", n)
	}
	for _, fp := range []string{"region", "whole"} {
		if _, ok, _ := s.Get(ctx, fp); ok {
			t.Errorf("entry %s survived invalidation", fp)
		}
	}
	if _, ok, _ := s.Get(ctx, "far"); !ok {
		t.Error("unrelated entry was evicted")
	}

	// Unknown nodes and empty sets are no-ops.
	if n, _ := s.Invalidate(ctx, []string{"ghost"}); n != 0 {
		t.Errorf("ghost invalidation evicted %d", n)
	}
	if n, _ := s.Invalidate(ctx, nil); n != 0 {
		t.Errorf("empty invalidation evicted %d", n)
	}
}

func TestClearKeepsChangeLog(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	s.Put(ctx, snap("fp1", 1, "a"))
	if err := s.AppendChange(ctx, testRecord(1)); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "fp1"); ok {
		t.Error("cache entry survived Clear")
	}

	recs, err := s.ChangesSince(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("change log has %d records after Clear, want 1", len(recs))
	}
}

func testRecord(version uint64) changelog.Record {
	return changelog.Record{
		VersionID: version,
		RecordID:  uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      changelog.NodeModified,
		Origin:    changelog.OriginUserEdit,
		NodeIDs:   []string{"a", "b"},
		Checksum:  "abc123",
	}
}

func TestChangeLogRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for v := uint64(1); v <= 5; v++ {
		if err := s.AppendChange(ctx, testRecord(v)); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.ChangesSince(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("ChangesSince(2) = %d records, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.VersionID != uint64(3+i) {
			t.Errorf("record %d has version %d, want ascending from 3", i, rec.VersionID)
		}
	}
	if recs[0].Type != changelog.NodeModified || recs[0].Origin != changelog.OriginUserEdit {
		t.Errorf("record fields lost: %+v", recs[0])
	}
	if len(recs[0].NodeIDs) != 2 || recs[0].NodeIDs[0] != "a" {
		t.Errorf("node ids lost: %v", recs[0].NodeIDs)
	}
	if recs[0].Timestamp.IsZero() {
		t.Error("timestamp lost")
	}

	if recs, _ := s.ChangesSince(ctx, 5); len(recs) != 0 {
		t.Errorf("ChangesSince(5) = %d records, want 0", len(recs))
	}
}

func TestAppendChangeRejectsDuplicateVersion(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.AppendChange(ctx, testRecord(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendChange(ctx, testRecord(1)); err == nil {
		t.Error("duplicate version id accepted")
	}
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mindmap.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %s, want %s", s.Path(), path)
	}
	if err := s.Put(context.Background(), snap("fp1", 1, "a")); err != nil {
		t.Fatal(err)
	}
}
