// Package merge reconciles extracted entity instances with current graph
// state. It reads every touched node before deciding anything and produces a
// write plan; a conflict aborts the document with zero writes.
package merge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/registry-ingest/internal/dsl"
	"github.com/sells-group/registry-ingest/internal/graph"
	"github.com/sells-group/registry-ingest/internal/model"
	"github.com/sells-group/registry-ingest/internal/schema"
)

// sourceTSProp is the bookkeeping property carrying the newest source
// timestamp that contributed to a node. Dynamic properties compare against
// it.
const sourceTSProp = "_source_ts"

// Resolver applies per-property conflict rules.
type Resolver struct {
	log *zap.Logger
}

// New returns a Resolver.
func New() *Resolver {
	return &Resolver{log: zap.L().Named("merge")}
}

// ConflictError is a structured rejection: an immutable property disagrees
// with graph state, or one identifier resolves to several nodes.
type ConflictError struct {
	Reason   model.ReasonCode
	Message  string
	Evidence map[string]any
}

func (e *ConflictError) Error() string { return e.Message }

// Warning records a kept-existing decision for the run log.
type Warning struct {
	NodeID   string `json:"node_id"`
	Entity   string `json:"entity"`
	Property string `json:"property"`
	Existing any    `json:"existing"`
	Incoming any    `json:"incoming"`
}

// Plan is a document's node write set after conflict resolution. Nothing in
// it has been written yet.
type Plan struct {
	Nodes    []*graph.Node
	Warnings []Warning
}

type pending struct {
	node *graph.Node
	ts   time.Time
}

// Plan reads graph state for every node the instances touch, then folds the
// instances in. Per-property change rules apply uniformly whether the prior
// value came from the graph or from an earlier instance in the same
// document, so a document disagreeing with itself on an immutable property
// also quarantines.
func (r *Resolver) Plan(ctx context.Context, snap *schema.Snapshot, store graph.Store, doc *model.CanonicalDocument, instances []*model.EntityInstance) (*Plan, error) {
	plan := &Plan{}
	if len(instances) == 0 {
		return plan, nil
	}

	idsByLabel := make(map[string][]string)
	var labelOrder []string
	seen := make(map[string]map[string]bool)
	for _, inst := range instances {
		if seen[inst.Entity] == nil {
			seen[inst.Entity] = make(map[string]bool)
			labelOrder = append(labelOrder, inst.Entity)
		}
		if !seen[inst.Entity][inst.NodeID] {
			seen[inst.Entity][inst.NodeID] = true
			idsByLabel[inst.Entity] = append(idsByLabel[inst.Entity], inst.NodeID)
		}
	}

	state := make(map[string]map[string][]*graph.Node, len(labelOrder))
	for _, label := range labelOrder {
		fetched, err := store.FetchNodes(ctx, label, idsByLabel[label])
		if err != nil {
			return nil, err
		}
		state[label] = fetched
	}

	docTS := documentTS(doc)
	work := make(map[string]*pending)
	var order []string

	for _, inst := range instances {
		key := inst.Entity + "|" + inst.NodeID
		p, ok := work[key]
		if !ok {
			existing := state[inst.Entity][inst.NodeID]
			if len(existing) > 1 {
				return nil, &ConflictError{
					Reason:  model.ReasonIdentityCollision,
					Message: fmt.Sprintf("merge: %d %s nodes share id %s", len(existing), inst.Entity, inst.NodeID),
					Evidence: map[string]any{
						"entity":  inst.Entity,
						"node_id": inst.NodeID,
						"count":   len(existing),
					},
				}
			}
			p = &pending{node: &graph.Node{ID: inst.NodeID, Label: inst.Entity, Properties: map[string]any{}}}
			if len(existing) == 1 {
				for name, v := range existing[0].Properties {
					p.node.Properties[name] = v
				}
				p.ts = storedTS(existing[0].Properties)
			}
			work[key] = p
			order = append(order, key)
		}

		ce, _ := snap.Entity(inst.Entity)
		if err := r.applyInstance(p, ce, docTS, inst, plan); err != nil {
			return nil, err
		}
	}

	for _, key := range order {
		p := work[key]
		if p.ts.IsZero() || docTS.After(p.ts) {
			p.ts = docTS
		}
		if !p.ts.IsZero() {
			p.node.Properties[sourceTSProp] = p.ts.UTC().Format(time.RFC3339)
		}
		plan.Nodes = append(plan.Nodes, p.node)
	}
	return plan, nil
}

// applyInstance folds one instance's properties into the pending node.
// Property names apply in sorted order so the first conflict reported is
// stable.
func (r *Resolver) applyInstance(p *pending, ce *schema.CompiledEntity, docTS time.Time, inst *model.EntityInstance, plan *Plan) error {
	names := make([]string, 0, len(inst.Properties))
	for name := range inst.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		incoming := inst.Properties[name]
		existing, has := p.node.Properties[name]
		occupied := has && dsl.Present(existing)
		differs := occupied && dsl.ScalarString(existing) != dsl.ScalarString(incoming)

		ct := schema.ChangeDefault
		if ce != nil {
			ct = ce.ChangeTypeFor(name)
		}
		switch ct {
		case schema.ChangeImmutable:
			if differs {
				return &ConflictError{
					Reason:  model.ReasonImmutableConflict,
					Message: fmt.Sprintf("merge: immutable property %s.%s differs", inst.Entity, name),
					Evidence: map[string]any{
						"entity":   inst.Entity,
						"node_id":  inst.NodeID,
						"property": name,
						"existing": existing,
						"incoming": incoming,
					},
				}
			}
			p.node.Properties[name] = incoming
		case schema.ChangeRarelyChanged:
			if differs {
				plan.Warnings = append(plan.Warnings, Warning{
					NodeID: inst.NodeID, Entity: inst.Entity, Property: name,
					Existing: existing, Incoming: incoming,
				})
				r.log.Warn("rarely-changed property differs, keeping existing",
					zap.String("entity", inst.Entity),
					zap.String("node_id", inst.NodeID),
					zap.String("property", name))
				continue
			}
			p.node.Properties[name] = incoming
		case schema.ChangeDynamic:
			if occupied && docTS.Before(p.ts) {
				continue
			}
			p.node.Properties[name] = incoming
		default:
			if occupied {
				continue
			}
			p.node.Properties[name] = incoming
		}
	}
	return nil
}

func storedTS(props map[string]any) time.Time {
	s, _ := props[sourceTSProp].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// documentTS is the timestamp dynamic comparisons use: the source timestamp
// when the envelope carried one, otherwise the ingestion time.
func documentTS(doc *model.CanonicalDocument) time.Time {
	if !doc.Meta.SourceTS.IsZero() {
		return doc.Meta.SourceTS
	}
	return doc.Meta.ReceivedAt
}
