// Package mindmap defines the document graph at the core of the layout
// engine: nodes are documents, edges are discovered relationships.
//
// # Graph vs Document
//
// Two representations exist on purpose:
//
//   - [Graph] is the mutable, indexed in-memory state. It enforces the
//     structural invariant that every edge's endpoints exist, and it
//     answers the hop queries ([Graph.NodesWithin], [Graph.Boundary])
//     that bound the dirty region after a change.
//   - [Document] is the canonical serialization format, deterministic
//     by construction (nodes sorted by id, edges by canonical key) so
//     that identical graphs fingerprint identically.
//
// # Edge Identity
//
// Edges are undirected. [Edge.Key] canonicalizes the endpoint pair and
// includes the relationship type, so two documents can be related by
// several typed edges at once (entity plus temporal, say) without those
// edges colliding.
//
// # Example
//
//	g := mindmap.NewGraph()
//	g.AddNode(mindmap.Node{ID: "doc-a"})
//	g.AddNode(mindmap.Node{ID: "doc-b"})
//	g.AddEdge(mindmap.Edge{
//	    Source:   "doc-a",
//	    Target:   "doc-b",
//	    Type:     mindmap.RelationEntity,
//	    Strength: 0.8,
//	})
//	region := g.NodesWithin([]string{"doc-a"}, 2)
package mindmap
