package consistency

import (
	"context"
	"sort"

	"github.com/saptak/screenshotnotes-sub005/pkg/changelog"
	apperrors "github.com/saptak/screenshotnotes-sub005/pkg/errors"
	"github.com/saptak/screenshotnotes-sub005/pkg/fingerprint"
	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
	"github.com/saptak/screenshotnotes-sub005/pkg/observability"
)

// =============================================================================
// Integrity Validation
// =============================================================================

// IntegrityReport summarizes one validation pass. Repaired is true if
// anything had to be fixed; FullRecompute is true if the pass escalated
// to a full layout rebuild.
type IntegrityReport struct {
	CheckedNodes   int      `json:"checked_nodes"`
	CheckedEdges   int      `json:"checked_edges"`
	RemovedEdges   []string `json:"removed_edges,omitempty"`
	EvictedEntries int      `json:"evicted_entries"`
	Repaired       bool     `json:"repaired"`
	FullRecompute  bool     `json:"full_recompute"`
}

// ValidateIntegrity scans the graph and cache for violations and
// repairs them in place: dangling or malformed edges are removed, and
// cache entries keyed by fingerprints the current graph can no longer
// produce are evicted. Repeated repairing passes indicate systematic
// corruption and escalate to a full recompute with a cache reset.
func (m *Manager) ValidateIntegrity(ctx context.Context) (IntegrityReport, error) {
	m.mu.Lock()

	report := IntegrityReport{
		CheckedNodes: m.graph.NodeCount(),
		CheckedEdges: m.graph.EdgeCount(),
	}

	// The graph maintains referential integrity on every mutation, so
	// a violation here means external corruption (a bad restore, a bug
	// in a collaborator). Repair is removal: a relationship that lost
	// an endpoint or its validity carries no information worth keeping.
	var bad []string
	touched := make(map[string]struct{})
	for _, e := range m.graph.Edges() {
		if err := e.Validate(); err == nil && m.graph.HasNode(e.Source) && m.graph.HasNode(e.Target) {
			continue
		}
		bad = append(bad, e.Key())
		for _, id := range []string{e.Source, e.Target} {
			if m.graph.HasNode(id) {
				touched[id] = struct{}{}
			}
		}
	}
	sort.Strings(bad)
	for _, key := range bad {
		m.graph.RemoveEdge(key)
	}
	report.RemovedEdges = bad

	var seeds []string
	if len(bad) > 0 {
		report.Repaired = true
		for id := range touched {
			seeds = append(seeds, id)
		}
		sort.Strings(seeds)
		m.tracker.Record(ctx, changelog.NodeModified, changelog.OriginSemanticReanalysis,
			seeds, fingerprint.Graph(m.graph))
	}

	if report.Repaired {
		m.repairs++
	} else {
		m.repairs = 0
	}
	escalate := m.repairs >= m.opts.IntegrityFailureLimit
	if escalate {
		m.repairs = 0
	}

	var snap []string
	if len(seeds) > 0 && !escalate {
		snap = m.graph.NodesWithin(seeds, m.opts.UpdateHops)
	}
	liveFP := fingerprint.Graph(m.graph)
	liveNodes := m.graph.NodeIDs()
	graphSnap := m.graph.Clone()
	m.mu.Unlock()

	observability.Change().OnIntegrityValidated(ctx, len(bad), escalate)

	if escalate {
		// Incremental repair keeps failing: reset the cache and rebuild
		// the layout from scratch.
		m.logger.Warn("repeated integrity repairs, falling back to full recompute",
			"limit", m.opts.IntegrityFailureLimit)
		if err := m.cache.Clear(ctx); err != nil {
			m.logger.Warn("cache clear failed during integrity fallback", "err", err)
		}
		report.FullRecompute = true
		if _, err := m.FullRecompute(ctx); err != nil {
			return report, err
		}
		return report, nil
	}

	if len(snap) > 0 {
		n, err := m.cache.Invalidate(ctx, snap)
		if err != nil {
			m.logger.Warn("cache invalidation failed during integrity repair", "err", err)
		}
		report.EvictedEntries = n
		boundary := graphSnap.Boundary(snap)
		m.relayout(ctx, graphSnap, snap, boundary, changelog.OriginSemanticReanalysis.Priority(), m.tracker.LatestVersion())
	}

	// The entry keyed by the live fingerprint must cover exactly the
	// live node set. Anything else entered the store out-of-band (a bad
	// restore, manual edits to the durable tier) and is evicted.
	if cached, ok, err := m.cache.Get(ctx, liveFP); err == nil && ok && !coversNodeSet(cached.Positions, liveNodes) {
		ids := make([]string, 0, len(cached.Positions))
		for id := range cached.Positions {
			ids = append(ids, id)
		}
		n, err := m.cache.Invalidate(ctx, ids)
		if err != nil {
			m.logger.Warn("stale cache eviction failed", "err", err)
		} else {
			report.EvictedEntries += n
			report.Repaired = true
			m.logger.Warn("evicted cache entries with stale coverage",
				"code", apperrors.ErrCodeIntegrityViolation, "evicted", n)
		}
	}

	if report.Repaired {
		m.logger.Info("integrity violations repaired",
			"removed_edges", len(bad), "evicted", report.EvictedEntries)
	}
	return report, nil
}

// coversNodeSet reports whether the position map covers exactly ids.
func coversNodeSet(positions map[string]mindmap.Position, ids []string) bool {
	if len(positions) != len(ids) {
		return false
	}
	for _, id := range ids {
		if _, ok := positions[id]; !ok {
			return false
		}
	}
	return true
}
