// Package binder derives relationship instances between mapped entities. A
// relationship rule names two entity slots; the binding strategy decides
// which instance pairs connect, creation conditions gate the whole rule, and
// a uniqueness key collapses duplicate edges before upsert.
package binder

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/registry-ingest/internal/dsl"
	"github.com/sells-group/registry-ingest/internal/model"
	"github.com/sells-group/registry-ingest/internal/schema"
)

// Binder builds relationship instances from a variant's rules.
type Binder struct {
	log *zap.Logger
}

// New returns a Binder.
func New() *Binder {
	return &Binder{log: zap.L().Named("binder")}
}

// BindError is a structured rejection raised when duplicate edges conflict
// under the quarantine_and_alert merge policy.
type BindError struct {
	Reason   model.ReasonCode
	Message  string
	Evidence map[string]any
}

func (e *BindError) Error() string { return e.Message }

// Build runs every relationship rule of the variant. Rules whose creation
// conditions fail produce nothing. Output order follows rule order, then
// from-instance order, then to-instance order, so edges are deterministic
// for a given document.
func (b *Binder) Build(variant *schema.CompiledVariant, doc *model.CanonicalDocument, instances []*model.EntityInstance) ([]*model.RelationshipInstance, error) {
	var out []*model.RelationshipInstance
	for _, rel := range variant.Relations {
		if !b.conditionsMet(rel, doc, instances) {
			b.log.Debug("relationship conditions unmet",
				zap.String("document_id", doc.DocumentID),
				zap.String("type", rel.Def.Type))
			continue
		}
		edges, err := b.bindRule(rel, doc, instances)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	return out, nil
}

// conditionsMet checks every creation condition. entity_exists needs at
// least one emitted instance of the named slot; predicates evaluate against
// the document tree.
func (b *Binder) conditionsMet(rel *schema.CompiledRelationship, doc *model.CanonicalDocument, instances []*model.EntityInstance) bool {
	for _, w := range rel.When {
		if w.EntityExists != "" && !refEmitted(instances, w.EntityExists) {
			return false
		}
		if w.Predicate != nil && w.Predicate.Score(doc.Data) == 0 {
			return false
		}
	}
	return true
}

func refEmitted(instances []*model.EntityInstance, ref string) bool {
	for _, inst := range instances {
		if inst.EntityRef == ref {
			return true
		}
	}
	return false
}

func (b *Binder) bindRule(rel *schema.CompiledRelationship, doc *model.CanonicalDocument, instances []*model.EntityInstance) ([]*model.RelationshipInstance, error) {
	froms := instancesByRef(instances, rel.Def.From)
	tos := instancesByRef(instances, rel.Def.To)
	if len(froms) == 0 || len(tos) == 0 {
		return nil, nil
	}

	byKey := make(map[string]*model.RelationshipInstance)
	var order []string
	for _, f := range froms {
		for _, t := range tos {
			if f.NodeID == t.NodeID {
				continue
			}
			if !pairBinds(rel.Def.Binding, f, t) {
				continue
			}
			props := b.deriveProps(rel.Def.Properties, doc, f, t)
			edge := &model.RelationshipInstance{
				Type:       rel.Def.Type,
				FromEntity: f.Entity,
				FromID:     f.NodeID,
				ToEntity:   t.Entity,
				ToID:       t.NodeID,
				Properties: props,
			}
			edge.Key = edgeKey(rel.Def, edge)
			existing, dup := byKey[edge.Key]
			if !dup {
				byKey[edge.Key] = edge
				order = append(order, edge.Key)
				continue
			}
			if err := b.mergeDuplicate(rel.Def, doc, existing, edge); err != nil {
				return nil, err
			}
		}
	}

	out := make([]*model.RelationshipInstance, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out, nil
}

func instancesByRef(instances []*model.EntityInstance, ref string) []*model.EntityInstance {
	var out []*model.EntityInstance
	for _, inst := range instances {
		if inst.EntityRef == ref {
			out = append(out, inst)
		}
	}
	return out
}

// pairBinds applies the binding strategy. all_to_all connects every pair;
// hierarchical only pairs whose scopes nest, so an income extracted under one
// person never attaches to a sibling.
func pairBinds(binding schema.BindingKind, f, t *model.EntityInstance) bool {
	switch binding {
	case schema.BindHierarchical:
		return model.ScopeAncestor(f.ScopePath, t.ScopePath) || model.ScopeAncestor(t.ScopePath, f.ScopePath)
	default:
		return true
	}
}

// deriveProps computes edge properties. Absent source values are skipped
// rather than written as nulls.
func (b *Binder) deriveProps(defs []schema.RelationshipProp, doc *model.CanonicalDocument, f, t *model.EntityInstance) map[string]any {
	if len(defs) == 0 {
		return nil
	}
	props := make(map[string]any, len(defs))
	for _, p := range defs {
		var v any
		switch {
		case p.Const != nil:
			v = p.Const
		case p.FromMeta != "":
			v = metaValue(doc, p.FromMeta)
		case p.FromSource != "":
			v = f.Properties[p.FromSource]
		case p.FromTarget != "":
			v = t.Properties[p.FromTarget]
		}
		if dsl.Present(v) {
			props[p.Name] = v
		}
	}
	if len(props) == 0 {
		return nil
	}
	return props
}

// metaValue exposes document envelope fields to from_meta properties.
func metaValue(doc *model.CanonicalDocument, key string) any {
	switch key {
	case "document_id":
		return doc.DocumentID
	case "content_hash":
		return doc.ContentHash
	case "registry_code":
		return doc.Meta.RegistryCode
	case "service_code":
		return doc.Meta.ServiceCode
	case "method_code":
		return doc.Meta.MethodCode
	case "request_id":
		return doc.Meta.RequestID
	case "user_id":
		return doc.Meta.UserID
	case "source_ref":
		return doc.Meta.SourceRef
	case "content_kind":
		return string(doc.Meta.ContentKind)
	case "source_ts":
		if doc.Meta.SourceTS.IsZero() {
			return nil
		}
		return doc.Meta.SourceTS.UTC().Format(time.RFC3339)
	case "received_at":
		if doc.Meta.ReceivedAt.IsZero() {
			return nil
		}
		return doc.Meta.ReceivedAt.UTC().Format(time.RFC3339)
	}
	return nil
}

// edgeKey builds the uniqueness key: endpoints plus the unique_by property
// values in declared order. Without unique_by, one edge per endpoint pair.
func edgeKey(def *schema.RelationshipDefinition, edge *model.RelationshipInstance) string {
	parts := make([]string, 0, 3+len(def.UniqueBy))
	parts = append(parts, edge.Type, edge.FromID, edge.ToID)
	for _, name := range def.UniqueBy {
		parts = append(parts, dsl.ScalarString(edge.Properties[name]))
	}
	return strings.Join(parts, "|")
}

// mergeDuplicate folds a duplicate edge into the kept one per the rule's
// merge policy. Within one document every duplicate carries the same source
// timestamp, so take_latest degrades to last-writer-wins.
func (b *Binder) mergeDuplicate(def *schema.RelationshipDefinition, doc *model.CanonicalDocument, kept, dup *model.RelationshipInstance) error {
	switch def.MergePolicy {
	case schema.MergeKeepExistingWarn:
		b.log.Warn("duplicate relationship kept first occurrence",
			zap.String("document_id", doc.DocumentID),
			zap.String("type", def.Type),
			zap.String("key", kept.Key))
		return nil
	case schema.MergeQuarantineAndAlert:
		for name, v := range dup.Properties {
			old, has := kept.Properties[name]
			if has && dsl.ScalarString(old) != dsl.ScalarString(v) {
				return &BindError{
					Reason:  model.ReasonImmutableConflict,
					Message: fmt.Sprintf("binder: duplicate %s edges disagree on %q", def.Type, name),
					Evidence: map[string]any{
						"type":     def.Type,
						"key":      kept.Key,
						"property": name,
						"values":   []any{old, v},
					},
				}
			}
		}
		fillMissing(kept, dup)
		return nil
	case schema.MergeTakeLatest:
		for name, v := range dup.Properties {
			if dsl.Present(v) {
				if kept.Properties == nil {
					kept.Properties = make(map[string]any)
				}
				kept.Properties[name] = v
			}
		}
		return nil
	default:
		fillMissing(kept, dup)
		return nil
	}
}

// fillMissing is prefer_non_null: the kept edge wins, duplicates only fill
// gaps.
func fillMissing(kept, dup *model.RelationshipInstance) {
	for name, v := range dup.Properties {
		if !dsl.Present(kept.Properties[name]) && dsl.Present(v) {
			if kept.Properties == nil {
				kept.Properties = make(map[string]any)
			}
			kept.Properties[name] = v
		}
	}
}
