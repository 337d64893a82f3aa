package model

// ConceptNode is a vertex of the knowledge graph. ID is the concept's
// canonical label and the deduplication key.
type ConceptNode struct {
	ID          string  `json:"id"`
	Group       int     `json:"group"`  // presentation color class
	Weight      float64 `json:"weight"` // importance; drives size and collision radius
	Description string  `json:"description"`
}

// ConceptRelation is a weighted, directed association between two concepts
type ConceptRelation struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Strength float64 `json:"strength"`
}

// ConceptSet is what the concept extraction service proposes for one document
type ConceptSet struct {
	Nodes     []ConceptNode     `json:"nodes"`
	Relations []ConceptRelation `json:"relations"`
}

// GraphSnapshot is a point-in-time copy of the graph store.
// Version increases every time the store admits new nodes or relations.
type GraphSnapshot struct {
	Version   uint64            `json:"version"`
	Nodes     []ConceptNode     `json:"nodes"`
	Relations []ConceptRelation `json:"relations"`
}
