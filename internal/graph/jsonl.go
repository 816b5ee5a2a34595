package graph

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// JSONLStore appends every upsert as one JSON line. It serves local runs
// without a graph server. Reads always come back empty, so conflict checks
// see a blank graph and every write goes through.
type JSONLStore struct {
	mu   sync.Mutex
	path string
	f    *os.File
	enc  *json.Encoder
	log  *zap.Logger
}

type jsonlRecord struct {
	Kind string        `json:"kind"`
	At   time.Time     `json:"at"`
	Node *Node         `json:"node,omitempty"`
	Rel  *Relationship `json:"relationship,omitempty"`
}

// NewJSONL opens (or creates) the sink file in append mode.
func NewJSONL(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "graph: open jsonl sink %s", path)
	}
	return &JSONLStore{
		path: path,
		f:    f,
		enc:  json.NewEncoder(f),
		log:  zap.L().Named("graph.jsonl"),
	}, nil
}

func (s *JSONLStore) FetchNodes(_ context.Context, _ string, _ []string) (map[string][]*Node, error) {
	return map[string][]*Node{}, nil
}

func (s *JSONLStore) UpsertNodes(_ context.Context, nodes []*Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, n := range nodes {
		if err := s.enc.Encode(jsonlRecord{Kind: "node", At: now, Node: n}); err != nil {
			return eris.Wrap(err, "graph: append node record")
		}
	}
	return nil
}

func (s *JSONLStore) UpsertRelationships(_ context.Context, rels []*Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, r := range rels {
		if err := s.enc.Encode(jsonlRecord{Kind: "relationship", At: now, Rel: r}); err != nil {
			return eris.Wrap(err, "graph: append relationship record")
		}
	}
	return nil
}

func (s *JSONLStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Stat(); err != nil {
		return eris.Wrapf(err, "graph: jsonl sink %s", s.path)
	}
	return nil
}

func (s *JSONLStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
