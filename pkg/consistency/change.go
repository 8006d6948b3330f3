package consistency

import (
	"github.com/saptak/screenshotnotes-sub005/pkg/changelog"
	apperrors "github.com/saptak/screenshotnotes-sub005/pkg/errors"
	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
)

// =============================================================================
// Change - Incoming Mutation Request
// =============================================================================

// Change is a mutation request from one of the producers: the user
// interaction path, the relationship-discovery collaborator, or the
// content-management collaborator.
//
// Exactly one payload field is used, selected by Type. BaseVersion
// optionally carries the node version the producer computed against:
// if the live version has advanced the change is re-validated against
// current state (bounded retries) instead of being applied blindly.
type Change struct {
	Type   changelog.ChangeType `json:"type"`
	Origin changelog.Origin     `json:"origin"`

	// NodeID is the primary target for node-scoped changes.
	NodeID string `json:"node_id,omitempty"`

	// Node is the payload for NodeAdded.
	Node *mindmap.Node `json:"node,omitempty"`

	// Edge is the payload for EdgeAdded and EdgeDeleted.
	Edge *mindmap.Edge `json:"edge,omitempty"`

	// Edges is the replacement relationship set for
	// RelationshipBatchUpdated (the full new edge list for NodeID).
	Edges []mindmap.Edge `json:"edges,omitempty"`

	// BaseVersion is the node version this change was computed against.
	// Zero means unconditional.
	BaseVersion uint64 `json:"base_version,omitempty"`
}

// Validate checks the change is well-formed before it touches state.
// Malformed requests get INVALID_CHANGE; a request whose edge payload
// fails edge-level validation gets INVALID_EDGE.
func (c Change) Validate() error {
	if !changelog.ValidChangeTypes[c.Type] {
		return apperrors.New(apperrors.ErrCodeInvalidChange, "unknown change type %q", c.Type)
	}
	if !c.Origin.Valid() {
		return apperrors.New(apperrors.ErrCodeInvalidChange, "unknown change origin %q", c.Origin)
	}
	switch c.Type {
	case changelog.NodeAdded:
		if c.Node == nil || c.Node.ID == "" {
			return apperrors.New(apperrors.ErrCodeInvalidChange, "node_added requires a node payload")
		}
	case changelog.NodeDeleted, changelog.NodeModified, changelog.AnnotationChanged:
		if c.NodeID == "" {
			return apperrors.New(apperrors.ErrCodeInvalidChange, "%s requires node_id", c.Type)
		}
	case changelog.EdgeAdded, changelog.EdgeDeleted:
		if c.Edge == nil {
			return apperrors.New(apperrors.ErrCodeInvalidChange, "%s requires an edge payload", c.Type)
		}
		if err := c.Edge.Validate(); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInvalidEdge, err, "%s payload", c.Type)
		}
	case changelog.RelationshipBatchUpdated:
		if c.NodeID == "" {
			return apperrors.New(apperrors.ErrCodeInvalidChange, "relationship_batch_updated requires node_id")
		}
		for _, e := range c.Edges {
			if err := e.Validate(); err != nil {
				return apperrors.Wrap(apperrors.ErrCodeInvalidEdge, err, "edge %s", e.Key())
			}
			if !e.Touches(c.NodeID) {
				return apperrors.New(apperrors.ErrCodeInvalidEdge, "edge %s does not touch target node %s", e.Key(), c.NodeID)
			}
		}
	}
	return nil
}

// entityKey identifies the entity a change targets, for conflict
// resolution. Node-scoped changes key on the node id; edge-scoped
// changes key on the canonical edge key.
func (c Change) entityKey() string {
	switch c.Type {
	case changelog.EdgeAdded, changelog.EdgeDeleted:
		return "edge:" + c.Edge.Key()
	case changelog.NodeAdded:
		return "node:" + c.Node.ID
	default:
		return "node:" + c.NodeID
	}
}

// =============================================================================
// Result - Applied Change Outcome
// =============================================================================

// Result reports the outcome of an applied (or superseded) change.
type Result struct {
	// AppliedVersion is the version id assigned by the change tracker.
	// Zero when the change was superseded.
	AppliedVersion uint64 `json:"applied_version"`

	// DirtyNodeIDs is the bounded region scheduled for relayout.
	DirtyNodeIDs []string `json:"dirty_node_ids"`

	// Superseded reports that a higher-priority change targeting the
	// same entity won within the resolution window and this change was
	// discarded, not merged.
	Superseded bool `json:"superseded,omitempty"`
}
