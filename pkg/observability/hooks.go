// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about layout recomputes, cache operations, and change
// processing.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// This approach:
//   - Avoids import cycles (hooks are registered by main, not by libraries)
//   - Keeps the core library dependency-free from observability frameworks
//   - Allows different backends (OpenTelemetry, Prometheus, DataDog, etc.)
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetLayoutHooks(&myLayoutHooks{})
//	    observability.SetCacheHooks(&myCacheHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Layout().OnRecomputeStart(ctx, dirtyCount, anchorCount)
//	// ... run the solver ...
//	observability.Layout().OnRecomputeComplete(ctx, dirtyCount, iterations, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Layout Hooks
// =============================================================================

// LayoutHooks receives events from the incremental layout engine.
type LayoutHooks interface {
	// OnRecomputeStart records the start of a solver run over a dirty
	// region with its anchored boundary.
	OnRecomputeStart(ctx context.Context, dirtyCount, anchorCount int)

	// OnRecomputeComplete records the end of a solver run.
	OnRecomputeComplete(ctx context.Context, dirtyCount, iterations int, duration time.Duration, err error)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)

	// OnCacheDegraded records a transition into or out of memory-only
	// degraded mode after a durable-tier failure.
	OnCacheDegraded(ctx context.Context, degraded bool)
}

// =============================================================================
// Change Hooks
// =============================================================================

// ChangeHooks receives events from change processing and conflict
// resolution.
type ChangeHooks interface {
	// OnChangeApplied records a successfully applied change and the
	// size of the dirty region it produced.
	OnChangeApplied(ctx context.Context, changeType, origin string, dirtyCount int)

	// OnChangeSuperseded records a change discarded because a
	// higher-priority change held the same entity.
	OnChangeSuperseded(ctx context.Context, changeType, origin string)

	// OnConflictRetry records an optimistic re-validation attempt after
	// a base-version mismatch.
	OnConflictRetry(ctx context.Context, changeType string, attempt int)

	// OnIntegrityValidated records an integrity pass: how many edges
	// were repaired and whether it escalated to a full recompute.
	OnIntegrityValidated(ctx context.Context, repairedEdges int, escalated bool)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopLayoutHooks is a no-op implementation of LayoutHooks.
type NoopLayoutHooks struct{}

func (NoopLayoutHooks) OnRecomputeStart(context.Context, int, int)                          {}
func (NoopLayoutHooks) OnRecomputeComplete(context.Context, int, int, time.Duration, error) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}
func (NoopCacheHooks) OnCacheDegraded(context.Context, bool)   {}

// NoopChangeHooks is a no-op implementation of ChangeHooks.
type NoopChangeHooks struct{}

func (NoopChangeHooks) OnChangeApplied(context.Context, string, string, int) {}
func (NoopChangeHooks) OnChangeSuperseded(context.Context, string, string)   {}
func (NoopChangeHooks) OnConflictRetry(context.Context, string, int)         {}
func (NoopChangeHooks) OnIntegrityValidated(context.Context, int, bool)      {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	layoutHooks LayoutHooks = NoopLayoutHooks{}
	cacheHooks  CacheHooks  = NoopCacheHooks{}
	changeHooks ChangeHooks = NoopChangeHooks{}
	hooksMu     sync.RWMutex
)

// SetLayoutHooks registers custom layout hooks.
// This should be called once at application startup before any recomputes.
func SetLayoutHooks(h LayoutHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		layoutHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetChangeHooks registers custom change hooks.
// This should be called once at application startup before any changes flow.
func SetChangeHooks(h ChangeHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		changeHooks = h
	}
}

// Layout returns the registered layout hooks.
func Layout() LayoutHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return layoutHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// Change returns the registered change hooks.
func Change() ChangeHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return changeHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	layoutHooks = NoopLayoutHooks{}
	cacheHooks = NoopCacheHooks{}
	changeHooks = NoopChangeHooks{}
}
