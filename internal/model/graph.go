package model

// RelationKind names why two entities are connected in the relationship
// graph built by the GraphAnalyzer (C3).
type RelationKind string

const (
	SharedOrganization RelationKind = "shared_organization"
	SharedLocation     RelationKind = "shared_location"
	SharedEvent        RelationKind = "shared_event"
	SharedContact      RelationKind = "shared_contact"
	// MentionedIn is reserved for a directional "record A is named inside
	// record B's text fields" relation. The analyzer's SharedEvent check
	// already captures the mutual-mention case from spec.md §4.3; nothing
	// in spec.md defines a distinct formula for the directional variant, so
	// it is not emitted by Build today but is kept as a recognized kind for
	// callers that attach edges directly (e.g. a future ingestion source
	// that already knows the direction).
	MentionedIn RelationKind = "mentioned_in"
)

// GraphNode is one entity's position in the relationship graph: its
// neighbors, per-neighbor edge strength, centrality, and cluster membership.
type GraphNode struct {
	EntityID     string
	EntityType   EntityType
	Data         Record
	Neighbors    map[string]struct{}
	EdgeStrength map[string]float64
	Centrality   float64
	ClusterID    *uint64
}

// Edge connects two nodes with a relation kind, strength, and the evidence
// that produced it.
type Edge struct {
	SourceID   string
	TargetID   string
	Relation   RelationKind
	Strength   float64 // [0,1]
	Confidence float64 // [0,1]
	Evidence   []string
}
