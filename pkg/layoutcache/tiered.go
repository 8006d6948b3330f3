package layoutcache

import (
	"context"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/saptak/screenshotnotes-sub005/pkg/observability"
)

// TieredStore combines the in-memory fast tier with a durable tier.
//
// Reads hit memory first and promote durable hits. Writes go to memory
// immediately and to the durable tier with bounded backoff; when the
// durable tier keeps failing the store flips to degraded mode and keeps
// serving from memory alone, surfacing a warning instead of failing the
// operation. The next successful durable write clears the flag.
type TieredStore struct {
	memory   *MemoryStore
	durable  Store
	degraded atomic.Bool
	logger   *log.Logger
}

// NewTieredStore creates a tiered store over the given durable backend.
// durable may be nil, leaving a purely in-memory cache; logger may be
// nil (a default logger is used).
func NewTieredStore(durable Store, logger *log.Logger) *TieredStore {
	if logger == nil {
		logger = log.Default()
	}
	return &TieredStore{
		memory:  NewMemoryStore(),
		durable: durable,
		logger:  logger,
	}
}

// Degraded reports whether the durable tier is currently bypassed.
func (t *TieredStore) Degraded() bool { return t.degraded.Load() }

// Get checks the memory tier first, then the durable tier. A durable
// hit is promoted into memory. Durable read failures count as a miss.
func (t *TieredStore) Get(ctx context.Context, fingerprint string) (Snapshot, bool, error) {
	if snap, ok, _ := t.memory.Get(ctx, fingerprint); ok {
		return snap, true, nil
	}
	if t.durable == nil {
		return Snapshot{}, false, nil
	}
	snap, ok, err := t.durable.Get(ctx, fingerprint)
	if err != nil {
		t.logger.Warn("durable cache read failed", "fingerprint", short(fingerprint), "err", err)
		return Snapshot{}, false, nil
	}
	if !ok {
		return Snapshot{}, false, nil
	}
	_ = t.memory.Put(ctx, snap)
	return snap, true, nil
}

// Put writes to memory, then to the durable tier with backoff. A
// durable failure leaves the memory tier authoritative and enters
// degraded mode; the entry is still considered stored.
func (t *TieredStore) Put(ctx context.Context, snap Snapshot) error {
	if err := t.memory.Put(ctx, snap); err != nil {
		return err
	}
	if t.durable == nil {
		return nil
	}
	err := RetryWithBackoff(ctx, func() error {
		if err := t.durable.Put(ctx, snap); err != nil {
			return Retryable(err)
		}
		return nil
	})
	if err != nil {
		if t.degraded.CompareAndSwap(false, true) {
			t.logger.Warn("durable cache tier unavailable, serving from memory only", "err", err)
			observability.Cache().OnCacheDegraded(ctx, true)
		}
		return nil
	}
	if t.degraded.CompareAndSwap(true, false) {
		t.logger.Info("durable cache tier recovered")
		observability.Cache().OnCacheDegraded(ctx, false)
	}
	return nil
}

// Invalidate removes intersecting entries from both tiers. The durable
// count is folded in so repeated invalidations stay idempotent.
func (t *TieredStore) Invalidate(ctx context.Context, nodeIDs []string) (int, error) {
	n, _ := t.memory.Invalidate(ctx, nodeIDs)
	if t.durable == nil {
		return n, nil
	}
	dn, err := t.durable.Invalidate(ctx, nodeIDs)
	if err != nil {
		t.logger.Warn("durable cache invalidate failed", "err", err)
		return n, nil
	}
	if dn > n {
		n = dn
	}
	return n, nil
}

// Clear wipes both tiers.
func (t *TieredStore) Clear(ctx context.Context) error {
	if err := t.memory.Clear(ctx); err != nil {
		return err
	}
	if t.durable == nil {
		return nil
	}
	if err := t.durable.Clear(ctx); err != nil {
		t.logger.Warn("durable cache clear failed", "err", err)
	}
	return nil
}

// Close closes both tiers.
func (t *TieredStore) Close() error {
	_ = t.memory.Close()
	if t.durable != nil {
		return t.durable.Close()
	}
	return nil
}

// short truncates a fingerprint for log output.
func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// Ensure TieredStore implements Store.
var _ Store = (*TieredStore)(nil)
