package mindmap

import (
	"fmt"
	"time"

	apperrors "github.com/saptak/screenshotnotes-sub005/pkg/errors"
)

// =============================================================================
// Constants - Single Source of Truth
// =============================================================================

// Relationship types discovered between documents.
//
// These mirror the categories emitted by the relationship-discovery
// collaborator: shared entities, temporal proximity, thematic overlap,
// visual similarity, spatial co-occurrence, and semantic similarity.
const (
	RelationEntity   = "entity"
	RelationTemporal = "temporal"
	RelationThematic = "thematic"
	RelationVisual   = "visual"
	RelationSpatial  = "spatial"
	RelationSemantic = "semantic"
)

// ValidRelationTypes is the set of supported relationship types.
var ValidRelationTypes = map[string]bool{
	RelationEntity:   true,
	RelationTemporal: true,
	RelationThematic: true,
	RelationVisual:   true,
	RelationSpatial:  true,
	RelationSemantic: true,
}

// =============================================================================
// Position - Solver Coordinates
// =============================================================================

// Position is a 2D coordinate in layout space.
type Position struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// Vector is a 2D velocity or force accumulator for the solver.
type Vector struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// =============================================================================
// Node - Document in the Mind Map
// =============================================================================

// Node represents a single document in the mind map.
//
// The ID is stable and opaque (assigned by the content-management
// collaborator). Version increases monotonically with every recorded
// mutation of the node and is the basis for optimistic conflict checks.
type Node struct {
	ID         string    `json:"id" bson:"id"`
	Position   Position  `json:"position" bson:"position"`
	Velocity   Vector    `json:"velocity,omitempty" bson:"velocity,omitempty"`
	Importance float64   `json:"importance,omitempty" bson:"importance,omitempty"`
	Version    uint64    `json:"version" bson:"version"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updated_at"`
}

// =============================================================================
// Edge - Discovered Relationship
// =============================================================================

// Edge is an undirected, typed relationship between two documents.
//
// Source and Target form an unordered pair; Key() canonicalizes the
// orientation so that (a,b) and (b,a) refer to the same edge. Strength
// and Confidence are clamped to [0,1] by validation; values outside the
// range are an integrity violation.
type Edge struct {
	Source     string    `json:"source" bson:"source"`
	Target     string    `json:"target" bson:"target"`
	Type       string    `json:"type" bson:"type"`
	Strength   float64   `json:"strength" bson:"strength"`
	Confidence float64   `json:"confidence" bson:"confidence"`
	ComputedAt time.Time `json:"computed_at,omitempty" bson:"computed_at,omitempty"`
}

// Key returns the canonical identity of the edge: the endpoint pair in
// lexicographic order plus the relationship type. Two documents may be
// linked by edges of different types; each type is a distinct edge.
func (e Edge) Key() string {
	a, b := e.Source, e.Target
	if b < a {
		a, b = b, a
	}
	return a + "|" + b + "|" + e.Type
}

// Other returns the endpoint opposite to id, and whether id is an endpoint.
func (e Edge) Other(id string) (string, bool) {
	switch id {
	case e.Source:
		return e.Target, true
	case e.Target:
		return e.Source, true
	}
	return "", false
}

// Touches reports whether id is one of the edge's endpoints.
func (e Edge) Touches(id string) bool {
	return e.Source == id || e.Target == id
}

// Validate checks structural validity of the edge independent of any
// graph: non-empty distinct endpoints, a known relationship type, and
// in-range scores. Endpoint existence is checked by Graph.AddEdge.
func (e Edge) Validate() error {
	if e.Source == "" || e.Target == "" {
		return fmt.Errorf("edge endpoints must be non-empty")
	}
	if e.Source == e.Target {
		return fmt.Errorf("edge %s is a self-loop", e.Source)
	}
	if !ValidRelationTypes[e.Type] {
		return fmt.Errorf("unknown relationship type %q", e.Type)
	}
	if err := apperrors.ValidateScore("strength", e.Strength); err != nil {
		return err
	}
	return apperrors.ValidateScore("confidence", e.Confidence)
}
