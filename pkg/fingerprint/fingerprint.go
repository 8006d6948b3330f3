// Package fingerprint computes order-independent content digests over
// node and edge sets. A fingerprint is the cache key for a persisted
// layout snapshot: identical graph state always yields an identical
// digest, regardless of the order in which nodes and edges were added.
//
// Digests are computed by sorting canonical per-element lines and
// hashing them with SHA-256. Region digests cover an arbitrary node
// subset plus every edge touching it, in time proportional to the
// subset, not the whole graph.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
)

// Graph computes the whole-graph fingerprint over the node-id set and
// the edge set. Scores participate in the digest because the solver's
// output depends on them; timestamps and positions do not.
func Graph(g *mindmap.Graph) string {
	lines := make([]string, 0, g.NodeCount()+g.EdgeCount())
	for _, id := range g.NodeIDs() {
		lines = append(lines, nodeLine(id))
	}
	for _, e := range g.Edges() {
		lines = append(lines, edgeLine(e))
	}
	return digest(lines)
}

// Region computes a fingerprint restricted to the given node subset.
// The digest covers the subset's node ids and every edge with at least
// one endpoint in the subset: boundary edges exert force on the region,
// so a change to one must invalidate the region's cached layout.
func Region(g *mindmap.Graph, nodeIDs []string) string {
	inRegion := make(map[string]struct{}, len(nodeIDs))
	lines := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if !g.HasNode(id) {
			continue
		}
		if _, dup := inRegion[id]; dup {
			continue
		}
		inRegion[id] = struct{}{}
		lines = append(lines, nodeLine(id))
	}
	seen := make(map[string]struct{})
	for id := range inRegion {
		for _, e := range g.EdgesTouching(id) {
			key := e.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			lines = append(lines, edgeLine(e))
		}
	}
	return digest(lines)
}

// Document computes the fingerprint of a serialized document. The
// result matches Graph for the same state, so a fingerprint computed
// from a file can be checked against a live graph.
func Document(doc mindmap.Document) string {
	lines := make([]string, 0, len(doc.Nodes)+len(doc.Edges))
	for _, n := range doc.Nodes {
		lines = append(lines, nodeLine(n.ID))
	}
	for _, e := range doc.Edges {
		lines = append(lines, edgeLine(e))
	}
	return digest(lines)
}

// nodeLine is the canonical digest line for a node. Only the id
// participates: position and velocity are solver output, and version
// bumps without structural effect must not invalidate layouts.
func nodeLine(id string) string {
	return "n|" + id
}

// edgeLine is the canonical digest line for an edge.
func edgeLine(e mindmap.Edge) string {
	return fmt.Sprintf("e|%s|%s|%s",
		e.Key(),
		strconv.FormatFloat(e.Strength, 'g', -1, 64),
		strconv.FormatFloat(e.Confidence, 'g', -1, 64))
}

// digest sorts the lines and hashes them. Sorting makes the result
// independent of construction order.
func digest(lines []string) string {
	sort.Strings(lines)
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
