package mapper

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-ingest/internal/dsl"
	"github.com/sells-group/registry-ingest/internal/model"
	"github.com/sells-group/registry-ingest/internal/schema"
)

// incomeRegistry declares one variant that assembles a Person from two
// mapping blocks and one IncomeRecord per foreach item.
func incomeRegistry() *schema.RegistryDefinition {
	return &schema.RegistryDefinition{
		RegistryCode: "DRFO", ServiceCode: "REQ_DRFO_INCOME", Version: 1, Status: schema.LifecycleActive,
		Variants: []schema.VariantDefinition{{
			VariantID: "drfo_income_v1",
			Match:     dsl.PredicateDef{All: []dsl.PredicateDef{{Exists: "$.answer"}}},
			Entities: []schema.EntityRef{
				{Ref: "person", Entity: "Person"},
				{Ref: "income", Entity: "IncomeRecord", RequireAll: []string{"amount", "year"}},
			},
			Mappings: []schema.MappingDefinition{
				{
					Rules: []schema.MappingRule{
						{
							Source:     "$.answer.rnokpp",
							Transforms: []dsl.TransformDef{{Op: "trim"}},
							Targets:    []schema.MappingTarget{{Ref: "person", Property: "rnokpp"}},
						},
						{
							Source:     "$.answer.last_name",
							Transforms: []dsl.TransformDef{{Op: "trim"}},
							Targets:    []schema.MappingTarget{{Ref: "person", Property: "last_name"}},
						},
					},
				},
				{
					Rules: []schema.MappingRule{
						{
							Source:     "$.answer.first_name",
							Transforms: []dsl.TransformDef{{Op: "trim"}},
							Targets:    []schema.MappingTarget{{Ref: "person", Property: "first_name"}},
						},
						{
							Source:     "$.answer.age",
							Transforms: []dsl.TransformDef{{Op: "to_int"}},
							Targets:    []schema.MappingTarget{{Ref: "person", Property: "age"}},
						},
					},
				},
				{
					Foreach: "$.answer.incomes[*]",
					Filter:  &dsl.PredicateDef{Exists: "$.amount"},
					Rules: []schema.MappingRule{
						{
							Source:     "$.amount",
							Transforms: []dsl.TransformDef{{Op: "to_float"}},
							Targets:    []schema.MappingTarget{{Ref: "income", Property: "amount"}},
						},
						{
							Source:     "$.year",
							Transforms: []dsl.TransformDef{{Op: "to_int"}},
							Targets:    []schema.MappingTarget{{Ref: "income", Property: "year"}},
						},
					},
				},
			},
		}},
	}
}

func personEntity() *schema.EntityDefinition {
	return &schema.EntityDefinition{
		Entity: "Person", Version: 1, Status: schema.LifecycleActive,
		IdentityKeys: []schema.IdentityRule{
			{Priority: 2, Keys: []string{"last_name", "first_name"}, WhenExists: []string{"first_name"}},
			{Priority: 1, Keys: []string{"rnokpp"}},
		},
	}
}

func mapperFixture(t *testing.T, entities ...*schema.EntityDefinition) (*schema.Snapshot, *schema.CompiledVariant) {
	t.Helper()
	snap, err := schema.BuildSnapshot(&schema.Bundle{
		Registries: []*schema.RegistryDefinition{incomeRegistry()},
		Entities:   entities,
	})
	require.NoError(t, err)
	cands := snap.CandidatesFor(model.DocumentMeta{})
	require.Len(t, cands, 1)
	return snap, cands[0]
}

func incomeDoc() *model.CanonicalDocument {
	return &model.CanonicalDocument{
		DocumentID: "doc-income-1",
		Data: map[string]any{
			"answer": map[string]any{
				"rnokpp":     " 1234567890 ",
				"last_name":  "Shevchenko",
				"first_name": "Taras",
				"incomes": []any{
					map[string]any{"amount": "1500,50", "year": "2023"},
					map[string]any{"amount": "1800", "year": "2024"},
					map[string]any{"note": "accrual pending"},
				},
			},
		},
	}
}

func byRef(instances []*model.EntityInstance, ref string) []*model.EntityInstance {
	var out []*model.EntityInstance
	for _, inst := range instances {
		if inst.EntityRef == ref {
			out = append(out, inst)
		}
	}
	return out
}

func TestMap_MergesBagsAcrossMappings(t *testing.T) {
	snap, variant := mapperFixture(t, personEntity())
	instances, err := New().Map(snap, variant, incomeDoc())
	require.NoError(t, err)

	persons := byRef(instances, "person")
	require.Len(t, persons, 1, "two root mapping blocks must assemble one person")
	p := persons[0]
	assert.Equal(t, "Person", p.Entity)
	assert.Equal(t, model.RootScopePath, p.ScopePath)
	assert.Equal(t, "1234567890", p.Properties["rnokpp"])
	assert.Equal(t, "Shevchenko", p.Properties["last_name"])
	assert.Equal(t, "Taras", p.Properties["first_name"])
}

func TestMap_ForeachEmitsOneInstancePerItem(t *testing.T) {
	snap, variant := mapperFixture(t, personEntity())
	instances, err := New().Map(snap, variant, incomeDoc())
	require.NoError(t, err)

	incomes := byRef(instances, "income")
	require.Len(t, incomes, 2, "item without amount is filtered out")
	assert.Equal(t, 1500.5, incomes[0].Properties["amount"])
	assert.Equal(t, int64(2023), incomes[0].Properties["year"])
	assert.Equal(t, 1800.0, incomes[1].Properties["amount"])
	assert.NotEqual(t, incomes[0].ScopeRoot, incomes[1].ScopeRoot)
	assert.True(t, strings.HasSuffix(incomes[0].ScopePath, "#0"), "got %q", incomes[0].ScopePath)
	assert.True(t, strings.HasSuffix(incomes[1].ScopePath, "#1"), "got %q", incomes[1].ScopePath)
}

func TestMap_RootScopeContainsForeachScopes(t *testing.T) {
	snap, variant := mapperFixture(t, personEntity())
	instances, err := New().Map(snap, variant, incomeDoc())
	require.NoError(t, err)

	person := byRef(instances, "person")[0]
	for _, inc := range byRef(instances, "income") {
		assert.True(t, model.ScopeAncestor(person.ScopePath, inc.ScopePath))
		assert.False(t, model.ScopeAncestor(inc.ScopePath, person.ScopePath))
	}
}

func TestMap_RequireAllSuppressesPartialInstance(t *testing.T) {
	snap, variant := mapperFixture(t, personEntity())
	doc := incomeDoc()
	doc.Data["answer"].(map[string]any)["incomes"] = []any{
		map[string]any{"amount": "500"},
	}
	instances, err := New().Map(snap, variant, doc)
	require.NoError(t, err)
	assert.Empty(t, byRef(instances, "income"), "income without year must not emit")
	assert.Len(t, byRef(instances, "person"), 1)
}

func TestMap_TransformFailureDropsValueOnly(t *testing.T) {
	snap, variant := mapperFixture(t, personEntity())
	doc := incomeDoc()
	doc.Data["answer"].(map[string]any)["age"] = "unknown"
	instances, err := New().Map(snap, variant, doc)
	require.NoError(t, err)

	p := byRef(instances, "person")[0]
	_, has := p.Properties["age"]
	assert.False(t, has, "unparseable age must be dropped, not fail the document")
	assert.Equal(t, "1234567890", p.Properties["rnokpp"])
}

func TestMap_IdentityPrefersPriorityRule(t *testing.T) {
	snap, variant := mapperFixture(t, personEntity())
	instances, err := New().Map(snap, variant, incomeDoc())
	require.NoError(t, err)

	p := byRef(instances, "person")[0]
	sum := sha256.Sum256([]byte("Person|1234567890"))
	assert.Equal(t, hex.EncodeToString(sum[:]), p.NodeID)
	assert.Equal(t, "rnokpp", p.IdentityRule)
	assert.False(t, p.DocScoped)
}

func TestMap_IdentityFallsThroughToCompositeRule(t *testing.T) {
	snap, variant := mapperFixture(t, personEntity())
	doc := incomeDoc()
	delete(doc.Data["answer"].(map[string]any), "rnokpp")
	instances, err := New().Map(snap, variant, doc)
	require.NoError(t, err)

	p := byRef(instances, "person")[0]
	sum := sha256.Sum256([]byte("Person|Shevchenko|Taras"))
	assert.Equal(t, hex.EncodeToString(sum[:]), p.NodeID)
	assert.Equal(t, "last_name+first_name", p.IdentityRule)
	assert.False(t, p.DocScoped)
}

func TestMap_DocScopeFallbackWhenNoRuleApplies(t *testing.T) {
	snap, variant := mapperFixture(t, personEntity())
	doc := incomeDoc()
	answer := doc.Data["answer"].(map[string]any)
	delete(answer, "rnokpp")
	delete(answer, "first_name")
	instances, err := New().Map(snap, variant, doc)
	require.NoError(t, err)

	p := byRef(instances, "person")[0]
	assert.True(t, p.DocScoped)
	assert.True(t, strings.HasPrefix(p.NodeID, "doc:doc-income-1:"), "got %q", p.NodeID)
}

func TestMap_UndefinedEntityFallsBackToDocScope(t *testing.T) {
	// IncomeRecord has no entity definition in this snapshot.
	snap, variant := mapperFixture(t, personEntity())
	instances, err := New().Map(snap, variant, incomeDoc())
	require.NoError(t, err)

	for _, inc := range byRef(instances, "income") {
		assert.True(t, inc.DocScoped)
		assert.True(t, strings.HasPrefix(inc.NodeID, "doc:"))
	}
}

func TestMap_QuarantinePolicyRejectsDocument(t *testing.T) {
	strict := &schema.EntityDefinition{
		Entity: "IncomeRecord", Version: 1, Status: schema.LifecycleActive,
		OnMissingIdentity: schema.MissingIdentityQuarantine,
	}
	snap, variant := mapperFixture(t, personEntity(), strict)
	_, err := New().Map(snap, variant, incomeDoc())

	var me *MapError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, model.ReasonIdentityUnresolved, me.Reason)
	assert.Equal(t, "IncomeRecord", me.Evidence["entity"])
}

func TestMap_DeterministicAcrossRuns(t *testing.T) {
	snap, variant := mapperFixture(t, personEntity())
	first, err := New().Map(snap, variant, incomeDoc())
	require.NoError(t, err)
	second, err := New().Map(snap, variant, incomeDoc())
	require.NoError(t, err)
	require.Equal(t, first, second)
}
