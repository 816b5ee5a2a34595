package graph

import (
	"context"
	"sync"
)

// MemoryStore keeps the graph in process. It backs tests and dry runs with
// the same merge semantics as the Neo4j backend: nodes merge per (label, id),
// edges per (type, endpoints, key), and property maps merge key-wise.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]map[string]*Node
	rels  map[string]*Relationship
	order []string
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]map[string]*Node),
		rels:  make(map[string]*Relationship),
	}
}

// FetchNodes returns deep copies so callers never alias store state.
func (s *MemoryStore) FetchNodes(_ context.Context, label string, ids []string) (map[string][]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]*Node, len(ids))
	byID := s.nodes[label]
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			out[id] = append(out[id], copyNode(n))
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertNodes(_ context.Context, nodes []*Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		byID := s.nodes[n.Label]
		if byID == nil {
			byID = make(map[string]*Node)
			s.nodes[n.Label] = byID
		}
		existing, ok := byID[n.ID]
		if !ok {
			byID[n.ID] = copyNode(n)
			continue
		}
		for k, v := range n.Properties {
			existing.Properties[k] = v
		}
	}
	return nil
}

func (s *MemoryStore) UpsertRelationships(_ context.Context, rels []*Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rels {
		k := r.Type + "|" + r.FromID + "|" + r.ToID + "|" + r.Key
		existing, ok := s.rels[k]
		if !ok {
			s.rels[k] = copyRel(r)
			s.order = append(s.order, k)
			continue
		}
		for name, v := range r.Properties {
			if existing.Properties == nil {
				existing.Properties = make(map[string]any)
			}
			existing.Properties[name] = v
		}
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close(context.Context) error { return nil }

// Node returns a copy of one stored node, if present.
func (s *MemoryStore) Node(label, id string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[label][id]
	if !ok {
		return nil, false
	}
	return copyNode(n), true
}

// NodeCount is the number of stored nodes across labels.
func (s *MemoryStore) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, byID := range s.nodes {
		total += len(byID)
	}
	return total
}

// Relationships returns stored edges in insertion order.
func (s *MemoryStore) Relationships() []*Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Relationship, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, copyRel(s.rels[k]))
	}
	return out
}

func copyNode(n *Node) *Node {
	props := make(map[string]any, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = v
	}
	return &Node{ID: n.ID, Label: n.Label, Properties: props}
}

func copyRel(r *Relationship) *Relationship {
	props := make(map[string]any, len(r.Properties))
	for k, v := range r.Properties {
		props[k] = v
	}
	return &Relationship{
		Type: r.Type, FromLabel: r.FromLabel, FromID: r.FromID,
		ToLabel: r.ToLabel, ToID: r.ToID, Key: r.Key,
		Properties: props,
	}
}
