package layoutcache

import (
	"context"
	"sync"
)

// MemoryStore is the in-process fast tier.
//
// Entries are immutable once stored: Get and Put exchange deep copies,
// so a reader holds a consistent snapshot without blocking writers of
// other entries. A coverage index (node id → fingerprints) makes
// Invalidate proportional to the affected entries, not the store size.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]Snapshot
	coverage map[string]map[string]struct{} // node id → set of fingerprints
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]Snapshot),
		coverage: make(map[string]map[string]struct{}),
	}
}

// Get returns a copy of the snapshot for the fingerprint.
func (m *MemoryStore) Get(ctx context.Context, fingerprint string) (Snapshot, bool, error) {
	m.mu.RLock()
	snap, ok := m.entries[fingerprint]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false, nil
	}
	return snap.clone(), true, nil
}

// Put stores a copy of the snapshot. The entry and its coverage index
// update under one lock acquisition, so the entry is either fully
// visible or not at all.
func (m *MemoryStore) Put(ctx context.Context, snap Snapshot) error {
	cp := snap.clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.entries[cp.Fingerprint]; ok {
		m.dropCoverage(old)
	}
	m.entries[cp.Fingerprint] = cp
	for id := range cp.Positions {
		set, ok := m.coverage[id]
		if !ok {
			set = make(map[string]struct{})
			m.coverage[id] = set
		}
		set[cp.Fingerprint] = struct{}{}
	}
	return nil
}

// Invalidate removes every entry covering any of the given nodes.
func (m *MemoryStore) Invalidate(ctx context.Context, nodeIDs []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stale := make(map[string]struct{})
	for _, id := range nodeIDs {
		for fp := range m.coverage[id] {
			stale[fp] = struct{}{}
		}
	}
	for fp := range stale {
		if snap, ok := m.entries[fp]; ok {
			m.dropCoverage(snap)
			delete(m.entries, fp)
		}
	}
	return len(stale), nil
}

// Clear removes all entries.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Snapshot)
	m.coverage = make(map[string]map[string]struct{})
	return nil
}

// Close does nothing for the memory store.
func (m *MemoryStore) Close() error { return nil }

// Len returns the number of cached entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// dropCoverage removes the entry's fingerprints from the coverage
// index. Caller holds the write lock.
func (m *MemoryStore) dropCoverage(snap Snapshot) {
	for id := range snap.Positions {
		if set, ok := m.coverage[id]; ok {
			delete(set, snap.Fingerprint)
			if len(set) == 0 {
				delete(m.coverage, id)
			}
		}
	}
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
