// Package layoutcache maps graph fingerprints to persisted layout
// snapshots. It provides a fast in-memory tier, shared and durable
// backends, and a tiered store that combines them with degraded-mode
// fallback when the durable tier keeps failing.
//
// # Snapshot Isolation
//
// A snapshot returned by Get is immutable from the store's point of
// view: stores hand out defensive copies, so readers never observe a
// concurrent Put and never need to hold a lock while using the result.
// A Put is atomic — the entry becomes fully visible or not at all.
//
// # Invalidation
//
// Every entry records the node ids its snapshot covers. Invalidate
// removes all entries whose coverage intersects the changed node set;
// Clear wipes the store and is reserved for fingerprint mismatches with
// no identifiable localized cause.
package layoutcache

import (
	"context"
	"time"

	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
)

// Snapshot is a persisted layout: positions for a set of nodes, keyed
// by the fingerprint of the node/edge state it was computed from.
type Snapshot struct {
	Fingerprint   string                      `json:"fingerprint" bson:"fingerprint"`
	Positions     map[string]mindmap.Position `json:"positions" bson:"positions"`
	SourceVersion uint64                      `json:"source_version" bson:"source_version"`
	SavedAt       time.Time                   `json:"saved_at" bson:"saved_at"`
}

// CoveredNodes returns the node ids the snapshot covers.
func (s Snapshot) CoveredNodes() []string {
	out := make([]string, 0, len(s.Positions))
	for id := range s.Positions {
		out = append(out, id)
	}
	return out
}

// clone returns a deep copy of the snapshot.
func (s Snapshot) clone() Snapshot {
	cp := s
	cp.Positions = make(map[string]mindmap.Position, len(s.Positions))
	for id, p := range s.Positions {
		cp.Positions[id] = p
	}
	return cp
}

// Store is the layout cache contract shared by all tiers.
type Store interface {
	// Get returns the snapshot for the fingerprint. The boolean reports
	// whether the entry was found; absence is not an error.
	Get(ctx context.Context, fingerprint string) (Snapshot, bool, error)

	// Put stores a snapshot atomically, replacing any entry with the
	// same fingerprint.
	Put(ctx context.Context, snap Snapshot) error

	// Invalidate removes every entry whose covered nodes intersect
	// nodeIDs, returning the number of entries removed.
	Invalidate(ctx context.Context, nodeIDs []string) (int, error)

	// Clear removes all entries. Fallback path only.
	Clear(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
