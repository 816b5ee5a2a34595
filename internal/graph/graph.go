// Package graph persists entity nodes and relationships behind one Store
// interface: Neo4j for production, an append-only JSONL sink for local runs,
// and an in-memory store for tests.
package graph

import "context"

// Node is one entity node in backend-neutral form. ID is the stable identity
// property computed during mapping, not a backend-internal identifier.
type Node struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Relationship is one edge. Key is the uniqueness key computed during
// binding; backends merge on it so re-ingesting a document never duplicates
// edges.
type Relationship struct {
	Type       string         `json:"type"`
	FromLabel  string         `json:"from_label"`
	FromID     string         `json:"from_id"`
	ToLabel    string         `json:"to_label"`
	ToID       string         `json:"to_id"`
	Key        string         `json:"key"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Store is the graph persistence boundary.
type Store interface {
	// FetchNodes returns current state for the given ids under one label.
	// The map holds every node carrying each id; more than one entry per id
	// means the graph itself has conflicting nodes.
	FetchNodes(ctx context.Context, label string, ids []string) (map[string][]*Node, error)
	UpsertNodes(ctx context.Context, nodes []*Node) error
	UpsertRelationships(ctx context.Context, rels []*Relationship) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
