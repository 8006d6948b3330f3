package layoutcache

import "context"

// NullStore is a no-op store that never caches anything.
// Useful for testing or when caching should be disabled.
type NullStore struct{}

// NewNullStore creates a null store.
func NewNullStore() Store {
	return &NullStore{}
}

// Get always returns a miss.
func (NullStore) Get(ctx context.Context, fingerprint string) (Snapshot, bool, error) {
	return Snapshot{}, false, nil
}

// Put does nothing.
func (NullStore) Put(ctx context.Context, snap Snapshot) error { return nil }

// Invalidate does nothing.
func (NullStore) Invalidate(ctx context.Context, nodeIDs []string) (int, error) { return 0, nil }

// Clear does nothing.
func (NullStore) Clear(ctx context.Context) error { return nil }

// Close does nothing.
func (NullStore) Close() error { return nil }

// Ensure NullStore implements Store.
var _ Store = (*NullStore)(nil)
