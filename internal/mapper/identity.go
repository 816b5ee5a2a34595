package mapper

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/registry-ingest/internal/dsl"
	"github.com/sells-group/registry-ingest/internal/model"
	"github.com/sells-group/registry-ingest/internal/schema"
)

// MapError is a structured mapping rejection carrying the quarantine reason
// and evidence for the record.
type MapError struct {
	Reason   model.ReasonCode
	Message  string
	Evidence map[string]any
}

func (e *MapError) Error() string { return e.Message }

// assignIdentity resolves the node identifier for an instance. Identity rules
// run in priority order; the first applicable rule wins. The identifier hash
// covers the entity type and the ordered key values only, never the document,
// so the same person extracted from two registries lands on one node. When no
// rule applies the entity's missing-identity policy decides between a
// document-scoped identifier and quarantine.
func (m *Mapper) assignIdentity(snap *schema.Snapshot, doc *model.CanonicalDocument, inst *model.EntityInstance) error {
	ce, defined := snap.Entity(inst.Entity)
	if defined {
		for _, rule := range ce.Identity {
			id, name, ok := applyIdentityRule(inst, rule)
			if !ok {
				continue
			}
			inst.NodeID = id
			inst.IdentityRule = name
			return nil
		}
	}

	policy := schema.MissingIdentityDocScope
	if defined {
		policy = ce.MissingPolicy()
	}
	if policy == schema.MissingIdentityQuarantine {
		return &MapError{
			Reason:  model.ReasonIdentityUnresolved,
			Message: fmt.Sprintf("mapper: no identity rule matched entity %s (ref %s)", inst.Entity, inst.EntityRef),
			Evidence: map[string]any{
				"entity":             inst.Entity,
				"entity_ref":         inst.EntityRef,
				"scope_path":         inst.ScopePath,
				"present_properties": presentProperties(inst.Properties),
			},
		}
	}

	inst.NodeID = docScopedID(doc.DocumentID, inst)
	inst.DocScoped = true
	m.log.Debug("identity fell back to document scope",
		zap.String("document_id", doc.DocumentID),
		zap.String("entity", inst.Entity),
		zap.String("entity_ref", inst.EntityRef))
	return nil
}

// applyIdentityRule checks a rule's gate and computes the identifier. The
// rule applies when every when_exists property and every key property is
// present and non-empty on the bag.
func applyIdentityRule(inst *model.EntityInstance, rule schema.IdentityRule) (id, name string, ok bool) {
	for _, p := range rule.WhenExists {
		if !dsl.Present(inst.Properties[p]) {
			return "", "", false
		}
	}
	parts := make([]string, 0, len(rule.Keys)+1)
	parts = append(parts, inst.Entity)
	for _, k := range rule.Keys {
		v := inst.Properties[k]
		if !dsl.Present(v) {
			return "", "", false
		}
		parts = append(parts, dsl.ScalarString(v))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), strings.Join(rule.Keys, "+"), true
}

// docScopedID builds the fallback identifier. It embeds the document id, so
// repeated ingestion of the same bytes is idempotent while distinct documents
// never collide.
func docScopedID(docID string, inst *model.EntityInstance) string {
	return "doc:" + docID + ":" + inst.ScopeRoot + ":" + inst.EntityRef
}

func presentProperties(props map[string]any) []string {
	out := make([]string, 0, len(props))
	for k, v := range props {
		if dsl.Present(v) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
