// Package mapper executes a resolved variant's mapping blocks against a
// canonical document and produces identified entity instances. Every rule
// contributing to the same (scope, entity slot) lands in one property bag, so
// a person assembled from three mapping blocks is still one instance.
package mapper

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/registry-ingest/internal/dsl"
	"github.com/sells-group/registry-ingest/internal/model"
	"github.com/sells-group/registry-ingest/internal/schema"
)

// Mapper turns resolved documents into entity instances.
type Mapper struct {
	log *zap.Logger
}

// New returns a Mapper.
func New() *Mapper {
	return &Mapper{log: zap.L().Named("mapper")}
}

// instanceKey merges property bags: every rule writing to the same entity
// slot within the same scope contributes to one instance.
type instanceKey struct {
	scopeRoot string
	ref       string
}

// scope is one evaluation context for a mapping block: the document root, or
// one item a foreach path selected.
type scope struct {
	item any
	root string
	path string
}

// Map runs every mapping block of the variant against the document, merges
// property bags per scope, applies emit gates and resolves identities.
// Instances come out in first-contribution order, so output is deterministic
// for a given document and schema. A transform failure drops that one value;
// only an unresolvable identity under a quarantine policy fails the document.
func (m *Mapper) Map(snap *schema.Snapshot, variant *schema.CompiledVariant, doc *model.CanonicalDocument) ([]*model.EntityInstance, error) {
	bags := make(map[instanceKey]*model.EntityInstance)
	var order []instanceKey

	for mi, cm := range variant.Mappings {
		for _, sc := range scopesFor(cm, doc) {
			if cm.Filter != nil && cm.Filter.Score(sc.item) == 0 {
				continue
			}
			for ri, rule := range cm.Rules {
				raw, ok := rule.Source.First(sc.item)
				if !ok {
					continue
				}
				val, err := rule.Chain.Apply(raw)
				if err != nil {
					m.log.Debug("transform dropped value",
						zap.String("document_id", doc.DocumentID),
						zap.Int("mapping", mi),
						zap.Int("rule", ri),
						zap.String("source", rule.Source.String()),
						zap.Error(err))
					continue
				}
				if !dsl.Present(val) {
					continue
				}
				for _, tgt := range rule.Targets {
					k := instanceKey{scopeRoot: sc.root, ref: tgt.Ref}
					inst, exists := bags[k]
					if !exists {
						decl := variant.Refs[tgt.Ref]
						inst = &model.EntityInstance{
							Entity:     decl.Entity,
							EntityRef:  tgt.Ref,
							ScopeRoot:  sc.root,
							ScopePath:  sc.path,
							Properties: make(map[string]any),
						}
						bags[k] = inst
						order = append(order, k)
					}
					inst.Properties[tgt.Property] = val
				}
			}
		}
	}

	out := make([]*model.EntityInstance, 0, len(order))
	for _, k := range order {
		inst := bags[k]
		if !shouldEmit(inst, variant.Refs[inst.EntityRef]) {
			m.log.Debug("emit gate suppressed instance",
				zap.String("document_id", doc.DocumentID),
				zap.String("entity_ref", inst.EntityRef),
				zap.String("scope_root", inst.ScopeRoot))
			continue
		}
		if err := m.assignIdentity(snap, doc, inst); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// scopesFor expands a mapping block into its evaluation scopes. A nil Foreach
// is the single document-root scope; otherwise every selected item becomes a
// scope keyed by the branch it came from, so the same item reached by two
// mapping blocks merges into one bag.
func scopesFor(cm *schema.CompiledMapping, doc *model.CanonicalDocument) []scope {
	if cm.Foreach == nil {
		return []scope{{
			item: doc.Data,
			root: scopeRoot(doc.DocumentID, model.RootScopePath),
			path: model.RootScopePath,
		}}
	}
	matches := cm.Foreach.Matches(doc.Data)
	out := make([]scope, 0, len(matches))
	for _, mt := range matches {
		p := scopePath(cm.ForeachExpr, mt.Trail)
		out = append(out, scope{item: mt.Value, root: scopeRoot(doc.DocumentID, p), path: p})
	}
	return out
}

func scopePath(expr string, trail []int) string {
	if len(trail) == 0 {
		return expr
	}
	var b strings.Builder
	b.WriteString(expr)
	b.WriteByte('#')
	for i, idx := range trail {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(idx))
	}
	return b.String()
}

// scopeRoot derives the stable per-document scope identifier the instance
// bags key on.
func scopeRoot(docID, path string) string {
	sum := sha256.Sum256([]byte(docID + "|" + path))
	return hex.EncodeToString(sum[:8])
}

// shouldEmit applies the slot's emit gates. An instance with no present
// properties never emits; require_all needs every named property present,
// require_any at least one.
func shouldEmit(inst *model.EntityInstance, decl schema.EntityRef) bool {
	if len(inst.Properties) == 0 {
		return false
	}
	for _, p := range decl.RequireAll {
		if !dsl.Present(inst.Properties[p]) {
			return false
		}
	}
	if len(decl.RequireAny) > 0 {
		hit := false
		for _, p := range decl.RequireAny {
			if dsl.Present(inst.Properties[p]) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}
