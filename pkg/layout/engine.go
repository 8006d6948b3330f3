// Package layout implements the incremental force-directed position
// solver. A recompute is restricted to a bounded dirty node set; the
// dirty set's immediate neighbors outside it are anchored — they exert
// force but never move — which keeps an incremental update from
// perturbing the rest of the graph.
//
// The solver is deterministic: nodes are processed in ascending id
// order and forces accumulate in that fixed order, so two recomputes of
// the same region with the same anchors converge to identical
// positions.
package layout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
)

// ErrCancelled is returned when a recompute is cancelled mid-flight by
// a higher-priority change. No positions from the cancelled run may be
// made visible; the caller keeps the last consistent snapshot.
var ErrCancelled = errors.New("recompute cancelled")

// =============================================================================
// Options
// =============================================================================

// Default solver parameters.
const (
	DefaultMaxIterations   = 300
	DefaultConvergence     = 0.5 // total displacement per iteration
	DefaultRepulsion       = 80.0
	DefaultSpringLength    = 60.0
	DefaultSpring          = 0.05
	DefaultDamping         = 0.85
	DefaultMaxDisplacement = 30.0
)

// Options tunes the force-directed solver.
type Options struct {
	// MaxIterations bounds the relaxation loop.
	MaxIterations int

	// Convergence stops the loop early once the total positional
	// displacement across the dirty set falls below this threshold.
	Convergence float64

	// Repulsion scales the pairwise repulsive force.
	Repulsion float64

	// SpringLength is the rest length of edge springs.
	SpringLength float64

	// Spring scales the attractive force along edges; the edge's
	// strength multiplies it, so strong relationships pull harder.
	Spring float64

	// Damping is applied to velocities each iteration.
	Damping float64

	// MaxDisplacement caps per-node movement per iteration.
	MaxDisplacement float64

	// Timeout is the wall-clock budget for a full recompute. When hit,
	// the solver returns the best positions found so far rather than
	// failing. Zero means no wall-clock limit.
	Timeout time.Duration
}

// setDefaults fills zero fields with solver defaults.
func (o *Options) setDefaults() {
	if o.MaxIterations == 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Convergence == 0 {
		o.Convergence = DefaultConvergence
	}
	if o.Repulsion == 0 {
		o.Repulsion = DefaultRepulsion
	}
	if o.SpringLength == 0 {
		o.SpringLength = DefaultSpringLength
	}
	if o.Spring == 0 {
		o.Spring = DefaultSpring
	}
	if o.Damping == 0 {
		o.Damping = DefaultDamping
	}
	if o.MaxDisplacement == 0 {
		o.MaxDisplacement = DefaultMaxDisplacement
	}
}

// =============================================================================
// Engine
// =============================================================================

// Engine is the incremental layout solver. It is stateless between
// recomputes and safe for concurrent use on disjoint regions.
type Engine struct {
	opts   Options
	logger *log.Logger
}

// New creates an engine. Zero option fields take solver defaults;
// logger may be nil.
func New(opts Options, logger *log.Logger) *Engine {
	opts.setDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{opts: opts, logger: logger}
}

// Result holds the outcome of a recompute.
type Result struct {
	// Positions are the final coordinates for the dirty nodes only.
	Positions map[string]mindmap.Position

	// Velocities are the residual solver velocities for the dirty nodes.
	Velocities map[string]mindmap.Vector

	// Iterations is the number of relaxation steps performed.
	Iterations int

	// Converged reports whether the displacement threshold was reached
	// before the iteration bound.
	Converged bool

	// TimedOut reports that the wall-clock budget expired and Positions
	// holds the best layout found so far.
	TimedOut bool
}

// Recompute relaxes the dirty nodes while holding every anchor at its
// last known position. Anchors act only as force sources. dirtyIDs not
// present in the graph are ignored; an empty dirty set returns an empty
// result.
//
// Cancellation via ctx aborts with ErrCancelled and no usable result.
// Hitting the wall-clock budget is not an error: the best positions so
// far are returned with TimedOut set.
func (e *Engine) Recompute(ctx context.Context, g *mindmap.Graph, dirtyIDs, anchorIDs []string) (Result, error) {
	dirty := e.presentSorted(g, dirtyIDs)
	anchors := e.presentSorted(g, anchorIDs)
	res := Result{
		Positions:  make(map[string]mindmap.Position, len(dirty)),
		Velocities: make(map[string]mindmap.Vector, len(dirty)),
	}
	if len(dirty) == 0 {
		return res, nil
	}

	pos := make(map[string]mindmap.Position, len(dirty)+len(anchors))
	vel := make(map[string]mindmap.Vector, len(dirty))
	isDirty := make(map[string]bool, len(dirty))
	for i, id := range dirty {
		n := g.Node(id)
		pos[id] = seedPosition(n, i)
		vel[id] = n.Velocity
		isDirty[id] = true
	}
	for _, id := range anchors {
		pos[id] = g.Node(id).Position
	}

	var deadline time.Time
	if e.opts.Timeout > 0 {
		deadline = time.Now().Add(e.opts.Timeout)
	}

	for iter := 0; iter < e.opts.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		default:
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			res.TimedOut = true
			break
		}

		total := e.step(g, dirty, anchors, isDirty, pos, vel)
		res.Iterations = iter + 1
		if total < e.opts.Convergence {
			res.Converged = true
			break
		}
	}

	for _, id := range dirty {
		res.Positions[id] = pos[id]
		res.Velocities[id] = vel[id]
	}
	return res, nil
}

// step performs one relaxation iteration and returns the total
// displacement across the dirty set.
func (e *Engine) step(g *mindmap.Graph, dirty, anchors []string, isDirty map[string]bool, pos map[string]mindmap.Position, vel map[string]mindmap.Vector) float64 {
	forces := make(map[string]mindmap.Vector, len(dirty))

	// Repulsion between all pairs in the dirty set, and from anchors
	// onto dirty nodes.
	for i, id := range dirty {
		f := forces[id]
		for j, other := range dirty {
			if i == j {
				continue
			}
			fx, fy := e.repulse(id, other, pos[id], pos[other])
			f.X += fx
			f.Y += fy
		}
		for _, other := range anchors {
			fx, fy := e.repulse(id, other, pos[id], pos[other])
			f.X += fx
			f.Y += fy
		}
		forces[id] = f
	}

	// Attraction along edges weighted by strength. Only endpoints with
	// a known position participate: edges leaving the dirty∪anchor
	// region exert no force.
	for _, id := range dirty {
		f := forces[id]
		for _, edge := range g.EdgesTouching(id) {
			other, _ := edge.Other(id)
			op, ok := pos[other]
			if !ok {
				continue
			}
			fx, fy := e.attract(pos[id], op, edge.Strength)
			f.X += fx
			f.Y += fy
		}
		forces[id] = f
	}

	// Integrate. High-importance nodes cool faster so they drift less
	// during incremental relayouts.
	var total float64
	for _, id := range dirty {
		n := g.Node(id)
		cooling := 1.0 / (1.0 + math.Max(0, n.Importance))
		v := vel[id]
		f := forces[id]
		v.X = (v.X + f.X) * e.opts.Damping * cooling
		v.Y = (v.Y + f.Y) * e.opts.Damping * cooling

		disp := math.Hypot(v.X, v.Y)
		if disp > e.opts.MaxDisplacement {
			scale := e.opts.MaxDisplacement / disp
			v.X *= scale
			v.Y *= scale
			disp = e.opts.MaxDisplacement
		}

		p := pos[id]
		p.X += v.X
		p.Y += v.Y
		pos[id] = p
		vel[id] = v
		total += disp
	}
	return total
}

// repulse returns the repulsive force exerted on a by b.
func (e *Engine) repulse(aID, bID string, a, b mindmap.Position) (float64, float64) {
	dx := a.X - b.X
	dy := a.Y - b.Y
	d2 := dx*dx + dy*dy
	if d2 < 1e-6 {
		// Coincident nodes: push apart along x, the smaller id going
		// negative so the pair separates instead of moving together.
		if aID < bID {
			return -e.opts.Repulsion, 0
		}
		return e.opts.Repulsion, 0
	}
	f := e.opts.Repulsion * e.opts.Repulsion / d2
	d := math.Sqrt(d2)
	return dx / d * f, dy / d * f
}

// attract returns the spring force pulling a toward b, scaled by the
// edge strength.
func (e *Engine) attract(a, b mindmap.Position, strength float64) (float64, float64) {
	dx := b.X - a.X
	dy := b.Y - a.Y
	d := math.Hypot(dx, dy)
	if d < 1e-6 {
		return 0, 0
	}
	f := e.opts.Spring * strength * (d - e.opts.SpringLength)
	return dx / d * f, dy / d * f
}

// presentSorted filters ids to those present in the graph, deduplicated
// and sorted ascending for deterministic processing order.
func (e *Engine) presentSorted(g *mindmap.Graph, ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !g.HasNode(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// seedPosition returns the node's current position, or a deterministic
// spiral placement for nodes that have never been positioned. The index
// is the node's rank in the sorted dirty set, so cold starts are
// reproducible.
func seedPosition(n *mindmap.Node, index int) mindmap.Position {
	if n.Position.X != 0 || n.Position.Y != 0 || n.Version > 0 {
		return n.Position
	}
	// Golden-angle spiral.
	angle := float64(index) * 2.399963229728653
	radius := 20.0 * math.Sqrt(float64(index+1))
	return mindmap.Position{
		X: radius * math.Cos(angle),
		Y: radius * math.Sin(angle),
	}
}
