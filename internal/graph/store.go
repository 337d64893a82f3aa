// Package graph holds the deduplicated concept graph built up by ingestion.
//
// Merge policy:
//   - nodes are first-write-wins on ID; a proposed node whose ID is already
//     present (in the store or earlier in the same proposal) is discarded and
//     the existing node is left untouched
//   - relations are never deduplicated; parallel edges between the same pair
//     coexist and each contributes its own link force during layout
//   - relations whose source or target is not a known node after the node
//     merge are dropped at merge time
package graph

import (
	"strings"
	"sync"

	"github.com/ppiankov/decipher/internal/model"
)

// MergeResult describes what a single Merge admitted
type MergeResult struct {
	AddedNodes       []model.ConceptNode
	DiscardedNodes   int
	AddedRelations   []model.ConceptRelation
	DroppedRelations int
}

// Changed reports whether the merge altered the store
func (r MergeResult) Changed() bool {
	return len(r.AddedNodes) > 0 || len(r.AddedRelations) > 0
}

// Store is an append/merge-only concept graph
type Store struct {
	mu        sync.RWMutex
	nodes     []model.ConceptNode
	index     map[string]int
	relations []model.ConceptRelation
	version   uint64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		index: make(map[string]int),
	}
}

// Merge folds a proposed node and relation list into the store
func (s *Store) Merge(nodes []model.ConceptNode, relations []model.ConceptRelation) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res MergeResult
	for _, n := range nodes {
		n.ID = strings.TrimSpace(n.ID)
		if n.ID == "" {
			res.DiscardedNodes++
			continue
		}
		if _, exists := s.index[n.ID]; exists {
			res.DiscardedNodes++
			continue
		}
		s.index[n.ID] = len(s.nodes)
		s.nodes = append(s.nodes, n)
		res.AddedNodes = append(res.AddedNodes, n)
	}

	for _, r := range relations {
		r.Source = strings.TrimSpace(r.Source)
		r.Target = strings.TrimSpace(r.Target)
		_, okSource := s.index[r.Source]
		_, okTarget := s.index[r.Target]
		if !okSource || !okTarget {
			res.DroppedRelations++
			continue
		}
		s.relations = append(s.relations, r)
		res.AddedRelations = append(res.AddedRelations, r)
	}

	if res.Changed() {
		s.version++
	}
	return res
}

// Snapshot returns a copy of the current graph
func (s *Store) Snapshot() model.GraphSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return model.GraphSnapshot{
		Version:   s.version,
		Nodes:     append([]model.ConceptNode{}, s.nodes...),
		Relations: append([]model.ConceptRelation{}, s.relations...),
	}
}

// Node looks up a concept by ID
func (s *Store) Node(id string) (model.ConceptNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[strings.TrimSpace(id)]
	if !ok {
		return model.ConceptNode{}, false
	}
	return s.nodes[i], true
}

// Counts returns the number of nodes and relations
func (s *Store) Counts() (nodes int, relations int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.relations)
}

// Version returns the current snapshot version
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
