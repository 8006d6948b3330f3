package changelog

// =============================================================================
// Change Types
// =============================================================================

// ChangeType identifies the kind of structural change recorded in the log.
type ChangeType string

const (
	NodeAdded                ChangeType = "node_added"
	NodeDeleted              ChangeType = "node_deleted"
	NodeModified             ChangeType = "node_modified"
	EdgeAdded                ChangeType = "edge_added"
	EdgeDeleted              ChangeType = "edge_deleted"
	AnnotationChanged        ChangeType = "annotation_changed"
	RelationshipBatchUpdated ChangeType = "relationship_batch_updated"
)

// ValidChangeTypes is the set of recordable change types.
var ValidChangeTypes = map[ChangeType]bool{
	NodeAdded:                true,
	NodeDeleted:              true,
	NodeModified:             true,
	EdgeAdded:                true,
	EdgeDeleted:              true,
	AnnotationChanged:        true,
	RelationshipBatchUpdated: true,
}

// =============================================================================
// Origin - Conflict Priority
// =============================================================================

// Origin identifies which producer issued a change. Origins form a fixed
// precedence order used whenever two changes target the same entity
// within one resolution window: the higher-priority change wins and the
// other is superseded, never merged.
type Origin string

const (
	// OriginUserEdit is a direct manual edit by the user. Highest priority.
	OriginUserEdit Origin = "user_edit"

	// OriginManualRelationship is a relationship the user created or
	// removed by hand.
	OriginManualRelationship Origin = "manual_relationship"

	// OriginAnnotation is a user annotation change on a document.
	OriginAnnotation Origin = "annotation"

	// OriginAIRelationship is a relationship update emitted by the
	// discovery collaborator after (re-)analyzing a document.
	OriginAIRelationship Origin = "ai_relationship"

	// OriginSemanticReanalysis is a background semantic re-analysis pass.
	// Lowest priority.
	OriginSemanticReanalysis Origin = "semantic_reanalysis"
)

// priorities maps origins to their precedence; higher wins.
var priorities = map[Origin]int{
	OriginUserEdit:           5,
	OriginManualRelationship: 4,
	OriginAnnotation:         3,
	OriginAIRelationship:     2,
	OriginSemanticReanalysis: 1,
}

// Priority returns the precedence rank of the origin; higher wins.
// Unknown origins rank below every known one.
func (o Origin) Priority() int { return priorities[o] }

// Valid reports whether the origin is one of the known producers.
func (o Origin) Valid() bool {
	_, ok := priorities[o]
	return ok
}

// Supersedes reports whether a change from origin o beats one from
// other when both target the same entity in one resolution window.
// Equal priorities do not supersede; those ties resolve by version id
// (the later recorded change wins).
func (o Origin) Supersedes(other Origin) bool {
	return o.Priority() > other.Priority()
}
