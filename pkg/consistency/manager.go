// Package consistency orchestrates the incremental layout pipeline:
// it receives changes from uncoordinated producers, resolves conflicts
// by the fixed priority order, bounds the dirty region of each change,
// drives the layout engine, and keeps the layout cache coherent.
//
// A Manager owns the live graph. All mutations flow through
// ApplyChange (or the HandleDeletion / HandleRelationshipUpdate
// convenience operations), which apply transactionally, record the
// change in the append-only log, and schedule a bounded relayout.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/saptak/screenshotnotes-sub005/pkg/changelog"
	apperrors "github.com/saptak/screenshotnotes-sub005/pkg/errors"
	"github.com/saptak/screenshotnotes-sub005/pkg/fingerprint"
	"github.com/saptak/screenshotnotes-sub005/pkg/layout"
	"github.com/saptak/screenshotnotes-sub005/pkg/layoutcache"
	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
	"github.com/saptak/screenshotnotes-sub005/pkg/observability"
)

// =============================================================================
// Options
// =============================================================================

// Default dirty-region and conflict parameters.
const (
	DefaultDeletionHops          = 1
	DefaultUpdateHops            = 2
	DefaultConflictWindow        = 2 * time.Second
	DefaultMaxRetries            = 3
	DefaultIntegrityFailureLimit = 3
	DefaultFullRecomputeTimeout  = 10 * time.Second
)

// Options tunes the consistency manager.
type Options struct {
	// DeletionHops is the dirty-region radius for deletions, measured
	// from the deleted node. The default of 1 relays out exactly the
	// deleted node's former neighbors.
	DeletionHops int

	// UpdateHops is the dirty-region radius for relationship and
	// content updates, measured from the changed node(s).
	UpdateHops int

	// ConflictWindow is the resolution window: a lower-priority change
	// arriving after a higher-priority one on the same entity within
	// this window is superseded, not merged.
	ConflictWindow time.Duration

	// MaxRetries bounds optimistic re-validation when a change's base
	// version is behind the live version.
	MaxRetries int

	// IntegrityFailureLimit is the number of consecutive repairing
	// validations after which the manager falls back to a full
	// recompute.
	IntegrityFailureLimit int

	// FullRecomputeTimeout is the wall-clock budget for a full layout;
	// exceeding it degrades to best-so-far plus a background retry.
	FullRecomputeTimeout time.Duration

	// Workers and QueueSize configure the recompute scheduler.
	Workers   int
	QueueSize int
}

func (o *Options) setDefaults() {
	if o.DeletionHops == 0 {
		o.DeletionHops = DefaultDeletionHops
	}
	if o.UpdateHops == 0 {
		o.UpdateHops = DefaultUpdateHops
	}
	if o.ConflictWindow == 0 {
		o.ConflictWindow = DefaultConflictWindow
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.IntegrityFailureLimit == 0 {
		o.IntegrityFailureLimit = DefaultIntegrityFailureLimit
	}
	if o.FullRecomputeTimeout == 0 {
		o.FullRecomputeTimeout = DefaultFullRecomputeTimeout
	}
}

// =============================================================================
// Manager
// =============================================================================

// windowEntry remembers the last accepted change per entity for
// conflict-window arbitration.
type windowEntry struct {
	origin  changelog.Origin
	version uint64
	at      time.Time
}

// Manager is the consistency orchestrator. Construct with NewManager;
// services are passed in explicitly, never reached through globals.
type Manager struct {
	mu      sync.Mutex
	graph   *mindmap.Graph
	window  map[string]windowEntry
	repairs int // consecutive validations that had to repair something

	tracker *changelog.Tracker
	cache   layoutcache.Store
	engine  *layout.Engine
	sched   *Scheduler
	logger  *log.Logger
	opts    Options
}

// NewManager creates a manager over the given graph and collaborators.
// graph may be nil (an empty graph is created); cache may be nil (a
// null store is used); logger may be nil.
func NewManager(graph *mindmap.Graph, tracker *changelog.Tracker, cache layoutcache.Store, engine *layout.Engine, logger *log.Logger, opts Options) *Manager {
	opts.setDefaults()
	if graph == nil {
		graph = mindmap.NewGraph()
	}
	if cache == nil {
		cache = layoutcache.NewNullStore()
	}
	if engine == nil {
		engine = layout.New(layout.Options{}, logger)
	}
	if tracker == nil {
		tracker = changelog.NewTracker(nil, logger)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		graph:   graph,
		window:  make(map[string]windowEntry),
		tracker: tracker,
		cache:   cache,
		engine:  engine,
		sched:   NewScheduler(opts.Workers, opts.QueueSize),
		logger:  logger,
		opts:    opts,
	}
}

// Close stops the recompute scheduler and closes the cache.
func (m *Manager) Close() error {
	m.sched.Close()
	return m.cache.Close()
}

// Fingerprint returns the digest of the current graph state.
func (m *Manager) Fingerprint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fingerprint.Graph(m.graph)
}

// Snapshot returns a deep copy of the live graph.
func (m *Manager) Snapshot() *mindmap.Graph {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph.Clone()
}

// ChangesSince returns every recorded change after the given version.
func (m *Manager) ChangesSince(version uint64) []changelog.Record {
	return m.tracker.ChangesSince(version)
}

// InvalidateLayouts evicts every cached layout covering any of the
// given nodes, across all tiers.
func (m *Manager) InvalidateLayouts(ctx context.Context, nodeIDs []string) (int, error) {
	return m.cache.Invalidate(ctx, nodeIDs)
}

// ClearLayoutCache wipes all cached layouts.
func (m *Manager) ClearLayoutCache(ctx context.Context) error {
	return m.cache.Clear(ctx)
}

// =============================================================================
// ApplyChange
// =============================================================================

// ApplyChange validates the change, resolves conflicts per the fixed
// priority order, mutates state transactionally, records the change,
// and schedules a bounded relayout of the dirty region. The call
// returns once the relayout settles (or is superseded by a cancelling
// higher-priority change).
func (m *Manager) ApplyChange(ctx context.Context, ch Change) (Result, error) {
	if err := ch.Validate(); err != nil {
		return Result{}, err
	}

	for attempt := 0; ; attempt++ {
		res, retry, err := m.tryApply(ctx, ch, attempt)
		if err != nil || !retry {
			return res, err
		}
		// Live version advanced under us: retry against current state.
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 5 * time.Millisecond):
		}
	}
}

// tryApply performs one optimistic attempt. The middle return value
// requests a retry after a version conflict.
func (m *Manager) tryApply(ctx context.Context, ch Change, attempt int) (Result, bool, error) {
	m.mu.Lock()

	key := ch.entityKey()
	now := time.Now()

	// Resolution window: a higher-priority change already holds this
	// entity; the newcomer is superseded, not merged.
	if w, ok := m.window[key]; ok && now.Sub(w.at) <= m.opts.ConflictWindow && w.origin.Supersedes(ch.Origin) {
		m.mu.Unlock()
		observability.Change().OnChangeSuperseded(ctx, string(ch.Type), string(ch.Origin))
		m.logger.Info("change superseded by higher-priority change",
			"code", apperrors.ErrCodeConflictSuperseded, "entity", key, "origin", ch.Origin, "winner", w.origin)
		return Result{Superseded: true}, false, nil
	}

	// Optimistic versioning: the change was computed against a node
	// version that may be stale.
	if ch.BaseVersion > 0 && ch.NodeID != "" {
		if n := m.graph.Node(ch.NodeID); n != nil && n.Version != ch.BaseVersion {
			if attempt < m.opts.MaxRetries {
				m.mu.Unlock()
				observability.Change().OnConflictRetry(ctx, string(ch.Type), attempt+1)
				return Result{}, true, nil
			}
			// Retry budget exhausted: the priority order is the final
			// arbiter. Equal tiers fall through and the later version wins.
			if w, ok := m.window[key]; ok && w.origin.Supersedes(ch.Origin) {
				m.mu.Unlock()
				observability.Change().OnChangeSuperseded(ctx, string(ch.Type), string(ch.Origin))
				return Result{Superseded: true}, false, nil
			}
		}
	}

	// All-or-nothing: mutate a clone, swap on success.
	next := m.graph.Clone()
	seeds, gone, err := m.applyTo(next, ch, now)
	if err != nil {
		m.mu.Unlock()
		return Result{}, false, apperrors.Wrap(apperrors.ErrCodeInvalidChange, err, "apply %s", ch.Type)
	}
	m.graph = next

	rec := m.tracker.Record(ctx, ch.Type, ch.Origin, seeds, fingerprint.Graph(next))
	m.window[key] = windowEntry{origin: ch.Origin, version: rec.VersionID, at: now}
	// Sweep entries past the resolution window, including keys for
	// entities that no longer exist.
	for k, w := range m.window {
		if now.Sub(w.at) > m.opts.ConflictWindow {
			delete(m.window, k)
		}
	}

	dirty := next.NodesWithin(seeds, m.hops(ch.Type))
	boundary := next.Boundary(dirty)
	snap := next.Clone()
	m.mu.Unlock()

	observability.Change().OnChangeApplied(ctx, string(ch.Type), string(ch.Origin), len(dirty))

	// Stale entries cover the dirty region plus anything removed.
	invalid := append(append([]string{}, dirty...), gone...)
	if _, err := m.cache.Invalidate(ctx, invalid); err != nil {
		m.logger.Warn("cache invalidation failed", "err", err)
	}

	if len(dirty) > 0 && ch.Type != changelog.AnnotationChanged {
		m.relayout(ctx, snap, dirty, boundary, ch.Origin.Priority(), rec.VersionID)
	}
	return Result{AppliedVersion: rec.VersionID, DirtyNodeIDs: dirty}, false, nil
}

// hops returns the configured dirty-region radius for a change type.
func (m *Manager) hops(typ changelog.ChangeType) int {
	if typ == changelog.NodeDeleted {
		// Seeds for a deletion are already the former neighbors
		// (1 hop from the deleted node), so expand by one less.
		return m.opts.DeletionHops - 1
	}
	return m.opts.UpdateHops
}

// applyTo mutates g per the change, returning the seed node ids for
// the dirty region and any node ids removed from the graph.
func (m *Manager) applyTo(g *mindmap.Graph, ch Change, now time.Time) (seeds, gone []string, err error) {
	switch ch.Type {
	case changelog.NodeAdded:
		n := *ch.Node
		if err := apperrors.ValidateNodeID(n.ID); err != nil {
			return nil, nil, err
		}
		n.UpdatedAt = now
		if err := g.AddNode(n); err != nil {
			return nil, nil, err
		}
		return []string{n.ID}, nil, nil

	case changelog.NodeDeleted:
		neighbors := g.Neighbors(ch.NodeID)
		if _, err := g.RemoveNode(ch.NodeID); err != nil {
			return nil, nil, err
		}
		return neighbors, []string{ch.NodeID}, nil

	case changelog.NodeModified, changelog.AnnotationChanged:
		if _, err := g.TouchNode(ch.NodeID, now); err != nil {
			return nil, nil, err
		}
		return []string{ch.NodeID}, nil, nil

	case changelog.EdgeAdded:
		e := *ch.Edge
		e.ComputedAt = now
		if err := g.AddEdge(e); err != nil {
			return nil, nil, err
		}
		return []string{e.Source, e.Target}, nil, nil

	case changelog.EdgeDeleted:
		if !g.RemoveEdge(ch.Edge.Key()) {
			return nil, nil, fmt.Errorf("edge %s not found", ch.Edge.Key())
		}
		return []string{ch.Edge.Source, ch.Edge.Target}, nil, nil

	case changelog.RelationshipBatchUpdated:
		return m.applyRelationshipDiff(g, ch.NodeID, ch.Edges, now)
	}
	return nil, nil, fmt.Errorf("unhandled change type %s", ch.Type)
}

// applyRelationshipDiff replaces the relationship set of one node by
// applying only the delta against its current incident edges. Seeds
// are the node plus every endpoint of an added, removed, or changed
// edge — untouched relationships do not widen the dirty region.
func (m *Manager) applyRelationshipDiff(g *mindmap.Graph, nodeID string, edges []mindmap.Edge, now time.Time) (seeds, gone []string, err error) {
	if !g.HasNode(nodeID) {
		return nil, nil, fmt.Errorf("node %s not found", nodeID)
	}

	current := make(map[string]mindmap.Edge)
	for _, e := range g.EdgesTouching(nodeID) {
		current[e.Key()] = e
	}

	touched := map[string]struct{}{nodeID: {}}
	incoming := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		key := e.Key()
		incoming[key] = struct{}{}
		old, exists := current[key]
		if exists && old.Strength == e.Strength && old.Confidence == e.Confidence {
			continue // unchanged
		}
		e.ComputedAt = now
		if err := g.AddEdge(e); err != nil {
			return nil, nil, err
		}
		touched[e.Source] = struct{}{}
		touched[e.Target] = struct{}{}
	}
	for key, old := range current {
		if _, keep := incoming[key]; keep {
			continue
		}
		g.RemoveEdge(key)
		touched[old.Source] = struct{}{}
		touched[old.Target] = struct{}{}
	}

	seeds = make([]string, 0, len(touched))
	for id := range touched {
		seeds = append(seeds, id)
	}
	sort.Strings(seeds)
	return seeds, nil, nil
}

// =============================================================================
// Convenience Operations
// =============================================================================

// HandleDeletion removes the node, cascades removal of every edge
// referencing it, and relays out the bounded neighbor set. No orphan
// edge survives: cascade and node removal commit atomically.
func (m *Manager) HandleDeletion(ctx context.Context, nodeID string) (Result, error) {
	return m.ApplyChange(ctx, Change{
		Type:   changelog.NodeDeleted,
		Origin: changelog.OriginUserEdit,
		NodeID: nodeID,
	})
}

// HandleRelationshipUpdate applies the relationship-discovery
// collaborator's new edge set for a node, diffing against current
// edges so only the delta propagates.
func (m *Manager) HandleRelationshipUpdate(ctx context.Context, nodeID string, edges []mindmap.Edge) (Result, error) {
	return m.ApplyChange(ctx, Change{
		Type:   changelog.RelationshipBatchUpdated,
		Origin: changelog.OriginAIRelationship,
		NodeID: nodeID,
		Edges:  edges,
	})
}

// =============================================================================
// Layout Access
// =============================================================================

// GetLayout returns the layout snapshot for the given fingerprint and
// reports whether it was served from the cache. A miss for the live
// fingerprint triggers a recompute (the initial-layout path, and the
// recovery path when the cache lost the entry); a miss for any other
// fingerprint means the caller's state is stale and surfaces as a
// CACHE_MISS error.
func (m *Manager) GetLayout(ctx context.Context, fp string) (layoutcache.Snapshot, bool, error) {
	if snap, ok, err := m.cache.Get(ctx, fp); err == nil && ok {
		observability.Cache().OnCacheHit(ctx, "layout")
		return snap, true, nil
	}
	observability.Cache().OnCacheMiss(ctx, "layout")

	m.mu.Lock()
	liveFP := fingerprint.Graph(m.graph)
	m.mu.Unlock()
	if fp != liveFP {
		return layoutcache.Snapshot{}, false, apperrors.New(apperrors.ErrCodeCacheMiss,
			"no layout for fingerprint %s (live is %s)", fp, liveFP)
	}

	// A miss on the live state means the layout was never computed or
	// the cache lost it; stored positions cannot be trusted, so solve.
	snap, err := m.FullRecompute(ctx)
	return snap, false, err
}

// CachedLayout looks up the snapshot for the fingerprint without
// triggering a recompute on miss.
func (m *Manager) CachedLayout(ctx context.Context, fp string) (layoutcache.Snapshot, bool, error) {
	return m.cache.Get(ctx, fp)
}

// FullRecompute lays out the entire graph from current positions with
// no anchors. It is the fallback for irreconcilable regions and the
// initial layout path; a wall-clock timeout degrades to the best
// positions found with a background retry rather than blocking.
func (m *Manager) FullRecompute(ctx context.Context) (layoutcache.Snapshot, error) {
	m.mu.Lock()
	snap := m.graph.Clone()
	all := snap.NodeIDs()
	m.mu.Unlock()

	full := layout.New(layout.Options{Timeout: m.opts.FullRecomputeTimeout}, m.logger)
	observability.Layout().OnRecomputeStart(ctx, len(all), 0)
	start := time.Now()
	res, err := full.Recompute(ctx, snap, all, nil)
	observability.Layout().OnRecomputeComplete(ctx, len(all), res.Iterations, time.Since(start), err)
	if err != nil {
		return layoutcache.Snapshot{}, apperrors.Wrap(apperrors.ErrCodeRecomputeCancelled, err, "full recompute")
	}
	if res.TimedOut {
		m.logger.Warn("full recompute hit wall-clock budget, keeping best-so-far and retrying in background",
			"code", apperrors.ErrCodeRecomputeTimeout, "nodes", len(all), "iterations", res.Iterations)
		m.retryFullRecompute()
	}
	return m.commit(ctx, snap, all, res), nil
}

// retryFullRecompute schedules one background retry of the full layout.
func (m *Manager) retryFullRecompute() {
	m.mu.Lock()
	snap := m.graph.Clone()
	all := snap.NodeIDs()
	m.mu.Unlock()
	m.sched.Submit(context.Background(), all, 0, func(taskCtx context.Context) error {
		full := layout.New(layout.Options{Timeout: m.opts.FullRecomputeTimeout}, m.logger)
		res, err := full.Recompute(taskCtx, snap, all, nil)
		if err != nil {
			return err
		}
		m.commit(taskCtx, snap, all, res)
		return nil
	})
}

// relayout schedules an incremental recompute of the dirty region over
// a consistent graph snapshot and waits for it to settle. A cancelled
// run commits nothing: the last persisted snapshot stays authoritative.
func (m *Manager) relayout(ctx context.Context, snap *mindmap.Graph, dirty, boundary []string, priority int, version uint64) {
	task := m.sched.Submit(ctx, dirty, priority, func(taskCtx context.Context) error {
		observability.Layout().OnRecomputeStart(taskCtx, len(dirty), len(boundary))
		start := time.Now()
		res, err := m.engine.Recompute(taskCtx, snap, dirty, boundary)
		observability.Layout().OnRecomputeComplete(taskCtx, len(dirty), res.Iterations, time.Since(start), err)
		if err != nil {
			return err
		}
		m.commit(taskCtx, snap, dirty, res)
		return nil
	})
	if task == nil {
		return
	}
	if err := task.Wait(); err != nil && errors.Is(err, layout.ErrCancelled) {
		m.logger.Debug("relayout cancelled by higher-priority change",
			"version", version, "dirty", len(dirty))
	}
}

// commit writes solved positions back into the live graph and persists
// region and whole-graph snapshots. Positions for nodes that were
// mutated or removed while the solver ran are skipped: the newer change
// has scheduled its own relayout.
func (m *Manager) commit(ctx context.Context, solved *mindmap.Graph, dirty []string, res layout.Result) layoutcache.Snapshot {
	m.mu.Lock()
	for id, pos := range res.Positions {
		n := m.graph.Node(id)
		if n == nil {
			continue
		}
		n.Position = pos
		n.Velocity = res.Velocities[id]
	}
	regionFP := fingerprint.Region(m.graph, dirty)
	liveFP := fingerprint.Graph(m.graph)
	version := m.tracker.LatestVersion()
	now := time.Now().UTC()

	region := layoutcache.Snapshot{
		Fingerprint:   regionFP,
		Positions:     make(map[string]mindmap.Position, len(dirty)),
		SourceVersion: version,
		SavedAt:       now,
	}
	for _, id := range dirty {
		if n := m.graph.Node(id); n != nil {
			region.Positions[id] = n.Position
		}
	}
	whole := layoutcache.Snapshot{
		Fingerprint:   liveFP,
		Positions:     make(map[string]mindmap.Position, m.graph.NodeCount()),
		SourceVersion: version,
		SavedAt:       now,
	}
	for _, id := range m.graph.NodeIDs() {
		whole.Positions[id] = m.graph.Node(id).Position
	}
	m.mu.Unlock()

	for _, snap := range []layoutcache.Snapshot{region, whole} {
		if err := m.cache.Put(ctx, snap); err != nil {
			m.logger.Warn("cache put failed", "fingerprint", snap.Fingerprint[:12], "err", err)
			continue
		}
		observability.Cache().OnCacheSet(ctx, "layout", len(snap.Positions))
	}
	return whole
}
