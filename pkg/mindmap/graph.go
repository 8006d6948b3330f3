package mindmap

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// Graph - Mutable Document Graph
// =============================================================================

// Graph is the live node/edge state of one user's mind map.
//
// Graph is not safe for concurrent use; the consistency manager owns a
// Graph and serializes mutations through its change pipeline. Edges are
// indexed by canonical key and by endpoint for hop queries.
type Graph struct {
	nodes    map[string]*Node
	edges    map[string]Edge
	incident map[string]map[string]struct{} // node id → set of edge keys
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		edges:    make(map[string]Edge),
		incident: make(map[string]map[string]struct{}),
	}
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Node returns the node with the given id, or nil if absent.
func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// HasNode reports whether a node with the given id exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// NodeIDs returns all node ids sorted ascending for deterministic output.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Edges returns all edges sorted by canonical key.
func (g *Graph) Edges() []Edge {
	keys := make([]string, 0, len(g.edges))
	for k := range g.edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Edge, len(keys))
	for i, k := range keys {
		out[i] = g.edges[k]
	}
	return out
}

// Edge returns the edge with the given canonical key, if present.
func (g *Graph) Edge(key string) (Edge, bool) {
	e, ok := g.edges[key]
	return e, ok
}

// AddNode inserts a node. Adding an id that already exists is an error;
// use TouchNode for modifications.
func (g *Graph) AddNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("node id must be non-empty")
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("node %s already exists", n.ID)
	}
	cp := n
	g.nodes[n.ID] = &cp
	g.incident[n.ID] = make(map[string]struct{})
	return nil
}

// TouchNode bumps the node's version and updates its timestamp.
// Returns the new version.
func (g *Graph) TouchNode(id string, now time.Time) (uint64, error) {
	n, ok := g.nodes[id]
	if !ok {
		return 0, fmt.Errorf("node %s not found", id)
	}
	n.Version++
	n.UpdatedAt = now
	return n.Version, nil
}

// RemoveNode deletes the node and cascades removal of every edge that
// references it, returning the removed edges. Removing an unknown node
// is an error.
func (g *Graph) RemoveNode(id string) ([]Edge, error) {
	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("node %s not found", id)
	}
	removed := g.EdgesTouching(id)
	for _, e := range removed {
		g.removeEdgeKey(e.Key())
	}
	delete(g.nodes, id)
	delete(g.incident, id)
	return removed, nil
}

// AddEdge inserts or replaces an edge. Both endpoints must exist: an
// edge referencing a missing node must never enter the graph.
func (g *Graph) AddEdge(e Edge) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if _, ok := g.nodes[e.Source]; !ok {
		return fmt.Errorf("edge %s references missing node %s", e.Key(), e.Source)
	}
	if _, ok := g.nodes[e.Target]; !ok {
		return fmt.Errorf("edge %s references missing node %s", e.Key(), e.Target)
	}
	key := e.Key()
	g.edges[key] = e
	g.incident[e.Source][key] = struct{}{}
	g.incident[e.Target][key] = struct{}{}
	return nil
}

// RemoveEdge deletes the edge with the given canonical key.
// Removing an absent edge is a no-op returning false.
func (g *Graph) RemoveEdge(key string) bool {
	if _, ok := g.edges[key]; !ok {
		return false
	}
	g.removeEdgeKey(key)
	return true
}

func (g *Graph) removeEdgeKey(key string) {
	e := g.edges[key]
	delete(g.edges, key)
	if set, ok := g.incident[e.Source]; ok {
		delete(set, key)
	}
	if set, ok := g.incident[e.Target]; ok {
		delete(set, key)
	}
}

// EdgesTouching returns every edge incident to id, sorted by key.
func (g *Graph) EdgesTouching(id string) []Edge {
	set, ok := g.incident[id]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Edge, len(keys))
	for i, k := range keys {
		out[i] = g.edges[k]
	}
	return out
}

// Neighbors returns the ids adjacent to id, sorted ascending.
func (g *Graph) Neighbors(id string) []string {
	set, ok := g.incident[id]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, len(set))
	for k := range set {
		e := g.edges[k]
		if other, ok := e.Other(id); ok {
			seen[other] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// NodesWithin returns every node reachable within k edge traversals from
// any of the seed ids, including the seeds themselves. The result is
// sorted ascending. This is the dirty-region primitive: work after a
// change is bounded by hop radius, not graph size.
func (g *Graph) NodesWithin(seeds []string, k int) []string {
	visited := make(map[string]struct{})
	frontier := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if _, ok := g.nodes[id]; ok {
			visited[id] = struct{}{}
			frontier = append(frontier, id)
		}
	}
	for hop := 0; hop < k && len(frontier) > 0; hop++ {
		next := frontier[:0:0]
		for _, id := range frontier {
			for _, n := range g.Neighbors(id) {
				if _, ok := visited[n]; !ok {
					visited[n] = struct{}{}
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	out := make([]string, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Boundary returns the immediate neighbors of region that are not in the
// region themselves, sorted ascending. These are the anchored boundary
// nodes for an incremental relayout.
func (g *Graph) Boundary(region []string) []string {
	in := make(map[string]struct{}, len(region))
	for _, id := range region {
		in[id] = struct{}{}
	}
	seen := make(map[string]struct{})
	for _, id := range region {
		for _, n := range g.Neighbors(id) {
			if _, ok := in[n]; !ok {
				seen[n] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	out := NewGraph()
	for id, n := range g.nodes {
		cp := *n
		out.nodes[id] = &cp
		out.incident[id] = make(map[string]struct{}, len(g.incident[id]))
	}
	for k, e := range g.edges {
		out.edges[k] = e
		out.incident[e.Source][k] = struct{}{}
		out.incident[e.Target][k] = struct{}{}
	}
	return out
}
