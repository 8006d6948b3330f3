package mindmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// =============================================================================
// Document - Canonical Serialization Format
// =============================================================================

// Document is the canonical serialization format for a mind map graph.
// Used for storage, caching, fingerprinting, and CLI file interchange.
//
// The format is deterministic: nodes are sorted by id and edges by
// canonical key on marshal, so identical graphs always serialize to
// identical bytes regardless of construction order.
type Document struct {
	Nodes []Node `json:"nodes" bson:"nodes"`
	Edges []Edge `json:"edges" bson:"edges"`
}

// FromGraph converts a Graph to its serialization format.
func FromGraph(g *Graph) Document {
	ids := g.NodeIDs()
	doc := Document{
		Nodes: make([]Node, len(ids)),
		Edges: g.Edges(),
	}
	for i, id := range ids {
		doc.Nodes[i] = *g.nodes[id]
	}
	return doc
}

// ToGraph converts a Document back into a mutable Graph.
// Returns an error on duplicate nodes or edges referencing missing nodes.
func ToGraph(doc Document) (*Graph, error) {
	g := NewGraph()
	for _, n := range doc.Nodes {
		if err := g.AddNode(n); err != nil {
			return nil, fmt.Errorf("add node %s: %w", n.ID, err)
		}
	}
	for _, e := range doc.Edges {
		if err := g.AddEdge(e); err != nil {
			return nil, fmt.Errorf("add edge %s: %w", e.Key(), err)
		}
	}
	return g, nil
}

// Normalize sorts the document's nodes and edges into canonical order.
// Unmarshalled documents should be normalized before fingerprinting.
func (d *Document) Normalize() {
	sort.Slice(d.Nodes, func(i, j int) bool { return d.Nodes[i].ID < d.Nodes[j].ID })
	sort.Slice(d.Edges, func(i, j int) bool { return d.Edges[i].Key() < d.Edges[j].Key() })
}

// =============================================================================
// Serialization API
// =============================================================================

// MarshalGraph converts a Graph to pretty-printed JSON bytes.
func MarshalGraph(g *Graph) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeGraphTo(g, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteGraphFile writes a Graph to a JSON file with 0644 permissions.
func WriteGraphFile(g *Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return writeGraphTo(g, f)
}

// ReadGraphFile reads a JSON file and returns the decoded Graph.
func ReadGraphFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadGraph(f)
}

// ReadGraph decodes a JSON document from an io.Reader into a Graph.
func ReadGraph(r io.Reader) (*Graph, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return ToGraph(doc)
}

func writeGraphTo(g *Graph, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(FromGraph(g)); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}
