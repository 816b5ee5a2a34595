package schema

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-ingest/internal/dsl"
)

// CompiledVariant is a variant definition with every path, predicate and
// transform chain pre-compiled. Compilation happens once per snapshot load;
// per-document evaluation touches only compiled forms.
type CompiledVariant struct {
	Registry  *RegistryDefinition
	VariantID string
	Match     dsl.Predicate
	Mappings  []*CompiledMapping
	Relations []*CompiledRelationship

	// Refs maps entity slot ref to its declaration (entity type and emit
	// gates).
	Refs map[string]EntityRef
}

// Score evaluates the variant matcher against a document tree.
func (v *CompiledVariant) Score(data map[string]any) int {
	return v.Match.Score(data)
}

// CompiledMapping is one scope block. A nil Foreach means the document-root
// scope.
type CompiledMapping struct {
	Foreach     *dsl.Path
	ForeachExpr string
	Filter      dsl.Predicate
	Rules       []*CompiledRule
}

// CompiledRule is one source extraction with its transform chain.
type CompiledRule struct {
	Source  *dsl.Path
	Chain   dsl.TransformChain
	Targets []MappingTarget
}

// CompiledRelationship is one edge-creation rule with compiled conditions.
type CompiledRelationship struct {
	Def  *RelationshipDefinition
	When []CompiledWhen
}

// CompiledWhen is one compiled creation condition.
type CompiledWhen struct {
	EntityExists string
	Predicate    dsl.Predicate
}

// CompileRegistry validates and compiles every variant of a registry
// definition.
func CompileRegistry(def *RegistryDefinition) ([]*CompiledVariant, error) {
	if def.RegistryCode == "" {
		return nil, eris.New("schema: registry definition missing registry_code")
	}
	if len(def.Variants) == 0 {
		return nil, eris.Errorf("schema: registry %s has no variants", def.RegistryCode)
	}
	seen := make(map[string]bool, len(def.Variants))
	out := make([]*CompiledVariant, 0, len(def.Variants))
	for i := range def.Variants {
		vd := &def.Variants[i]
		if vd.VariantID == "" {
			return nil, eris.Errorf("schema: registry %s variant %d missing variant_id", def.RegistryCode, i)
		}
		if seen[vd.VariantID] {
			return nil, eris.Errorf("schema: duplicate variant_id %q", vd.VariantID)
		}
		seen[vd.VariantID] = true
		cv, err := compileVariant(def, vd)
		if err != nil {
			return nil, eris.Wrapf(err, "schema: variant %s", vd.VariantID)
		}
		out = append(out, cv)
	}
	return out, nil
}

func compileVariant(reg *RegistryDefinition, vd *VariantDefinition) (*CompiledVariant, error) {
	match, err := dsl.Compile(vd.Match)
	if err != nil {
		return nil, eris.Wrap(err, "match")
	}

	refs := make(map[string]EntityRef, len(vd.Entities))
	for _, er := range vd.Entities {
		if er.Ref == "" || er.Entity == "" {
			return nil, eris.Errorf("entity ref %q/%q incomplete", er.Ref, er.Entity)
		}
		if _, dup := refs[er.Ref]; dup {
			return nil, eris.Errorf("duplicate entity ref %q", er.Ref)
		}
		refs[er.Ref] = er
	}

	mappings := make([]*CompiledMapping, 0, len(vd.Mappings))
	for i := range vd.Mappings {
		cm, err := compileMapping(&vd.Mappings[i], refs)
		if err != nil {
			return nil, eris.Wrapf(err, "mapping %d", i)
		}
		mappings = append(mappings, cm)
	}

	relations := make([]*CompiledRelationship, 0, len(vd.Relationships))
	for i := range vd.Relationships {
		cr, err := compileRelationship(&vd.Relationships[i], refs)
		if err != nil {
			return nil, eris.Wrapf(err, "relationship %d (%s)", i, vd.Relationships[i].Type)
		}
		relations = append(relations, cr)
	}

	return &CompiledVariant{
		Registry:  reg,
		VariantID: vd.VariantID,
		Match:     match,
		Mappings:  mappings,
		Relations: relations,
		Refs:      refs,
	}, nil
}

func compileMapping(md *MappingDefinition, refs map[string]EntityRef) (*CompiledMapping, error) {
	cm := &CompiledMapping{ForeachExpr: md.Foreach}
	if md.Foreach != "" {
		p, err := dsl.ParsePath(md.Foreach)
		if err != nil {
			return nil, eris.Wrap(err, "foreach")
		}
		cm.Foreach = p
	}
	if md.Filter != nil {
		f, err := dsl.Compile(*md.Filter)
		if err != nil {
			return nil, eris.Wrap(err, "filter")
		}
		cm.Filter = f
	}
	if len(md.Rules) == 0 {
		return nil, eris.New("mapping has no rules")
	}
	for i := range md.Rules {
		rule := &md.Rules[i]
		src, err := dsl.ParsePath(rule.Source)
		if err != nil {
			return nil, eris.Wrapf(err, "rule %d source", i)
		}
		chain, err := dsl.CompileTransforms(rule.Transforms)
		if err != nil {
			return nil, eris.Wrapf(err, "rule %d transforms", i)
		}
		if len(rule.Targets) == 0 {
			return nil, eris.Errorf("rule %d has no targets", i)
		}
		for _, tgt := range rule.Targets {
			if _, ok := refs[tgt.Ref]; !ok {
				return nil, eris.Errorf("rule %d targets undeclared ref %q", i, tgt.Ref)
			}
			if tgt.Property == "" {
				return nil, eris.Errorf("rule %d target %q missing property", i, tgt.Ref)
			}
		}
		cm.Rules = append(cm.Rules, &CompiledRule{Source: src, Chain: chain, Targets: rule.Targets})
	}
	return cm, nil
}

func compileRelationship(rd *RelationshipDefinition, refs map[string]EntityRef) (*CompiledRelationship, error) {
	if rd.Type == "" {
		return nil, eris.New("relationship missing type")
	}
	if _, ok := refs[rd.From]; !ok {
		return nil, eris.Errorf("from ref %q not declared", rd.From)
	}
	if _, ok := refs[rd.To]; !ok {
		return nil, eris.Errorf("to ref %q not declared", rd.To)
	}
	switch rd.Binding {
	case "", BindAllToAll, BindHierarchical:
	default:
		return nil, eris.Errorf("unknown binding %q", rd.Binding)
	}
	switch rd.MergePolicy {
	case "", MergePreferNonNull, MergeTakeLatest, MergeKeepExistingWarn, MergeQuarantineAndAlert:
	default:
		return nil, eris.Errorf("unknown merge policy %q", rd.MergePolicy)
	}
	for _, p := range rd.Properties {
		if p.Name == "" {
			return nil, eris.New("relationship property missing name")
		}
		set := 0
		if p.Const != nil {
			set++
		}
		if p.FromMeta != "" {
			set++
		}
		if p.FromSource != "" {
			set++
		}
		if p.FromTarget != "" {
			set++
		}
		if set != 1 {
			return nil, eris.Errorf("property %q must set exactly one source", p.Name)
		}
	}
	cr := &CompiledRelationship{Def: rd}
	for i, w := range rd.When {
		cw := CompiledWhen{EntityExists: w.EntityExists}
		if w.EntityExists != "" {
			if _, ok := refs[w.EntityExists]; !ok {
				return nil, eris.Errorf("when %d references undeclared ref %q", i, w.EntityExists)
			}
		}
		if w.Predicate != nil {
			p, err := dsl.Compile(*w.Predicate)
			if err != nil {
				return nil, eris.Wrapf(err, "when %d predicate", i)
			}
			cw.Predicate = p
		}
		if w.EntityExists == "" && w.Predicate == nil {
			return nil, eris.Errorf("when %d is empty", i)
		}
		cr.When = append(cr.When, cw)
	}
	return cr, nil
}

// CompiledEntity is an entity definition ready for identity resolution and
// conflict checks.
type CompiledEntity struct {
	Def      *EntityDefinition
	Identity []IdentityRule
}

// CompileEntity validates and compiles an entity definition. Identity rules
// come out sorted by ascending priority.
func CompileEntity(def *EntityDefinition) (*CompiledEntity, error) {
	if def.Entity == "" {
		return nil, eris.New("schema: entity definition missing entity")
	}
	switch def.OnMissingIdentity {
	case "", MissingIdentityDocScope, MissingIdentityQuarantine:
	default:
		return nil, eris.Errorf("schema: entity %s: unknown on_missing_identity %q", def.Entity, def.OnMissingIdentity)
	}
	rules := make([]IdentityRule, len(def.IdentityKeys))
	copy(rules, def.IdentityKeys)
	for i, r := range rules {
		if len(r.Keys) == 0 {
			return nil, eris.Errorf("schema: entity %s: identity rule %d has no keys", def.Entity, i)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return &CompiledEntity{Def: def, Identity: rules}, nil
}

// MissingPolicy returns the configured fallback policy, defaulting to
// document-scoped identifiers.
func (e *CompiledEntity) MissingPolicy() MissingIdentityPolicy {
	if e.Def.OnMissingIdentity == "" {
		return MissingIdentityDocScope
	}
	return e.Def.OnMissingIdentity
}

// ChangeTypeFor returns the conflict behavior for a property.
func (e *CompiledEntity) ChangeTypeFor(property string) ChangeType {
	if rule, ok := e.Def.Properties[property]; ok {
		return rule.ChangeType
	}
	return ChangeDefault
}
