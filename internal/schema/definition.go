// Package schema holds the declarative mapping definitions the pipeline
// executes: registry definitions with scored variant matchers, entity
// identity and conflict rules, and relationship creation rules. Definitions
// are versioned data owned outside this service; this package loads,
// validates and compiles them.
package schema

import (
	"github.com/sells-group/registry-ingest/internal/dsl"
)

// Lifecycle is a definition's publication state. Only active definitions
// participate in resolution.
type Lifecycle string

const (
	LifecycleActive     Lifecycle = "active"
	LifecycleDraft      Lifecycle = "draft"
	LifecycleDeprecated Lifecycle = "deprecated"
)

// ChangeType governs how a property conflict against graph state resolves.
type ChangeType string

const (
	// ChangeImmutable never overwrites: a differing value quarantines the
	// whole document before any write.
	ChangeImmutable ChangeType = "immutable"
	// ChangeRarelyChanged keeps the existing value and logs a warning.
	ChangeRarelyChanged ChangeType = "rarely_changed"
	// ChangeDynamic takes the value with the latest source timestamp.
	ChangeDynamic ChangeType = "dynamic"
	// ChangeDefault fills only when the existing value is null or absent.
	ChangeDefault ChangeType = ""
)

// MergePolicy governs duplicate relationship property merging.
type MergePolicy string

const (
	MergePreferNonNull      MergePolicy = "prefer_non_null"
	MergeTakeLatest         MergePolicy = "take_latest_by_source_timestamp"
	MergeKeepExistingWarn   MergePolicy = "log_warning_and_keep_existing"
	MergeQuarantineAndAlert MergePolicy = "quarantine_and_alert"
)

// BindingKind selects how relationship endpoints pair up within a document.
type BindingKind string

const (
	// BindAllToAll pairs every from-instance with every to-instance.
	BindAllToAll BindingKind = "all_to_all"
	// BindHierarchical pairs instances only when one endpoint's scope path
	// is an ancestor of (or equal to) the other's.
	BindHierarchical BindingKind = "hierarchical"
)

// MissingIdentityPolicy decides what happens when no identity rule matches.
type MissingIdentityPolicy string

const (
	// MissingIdentityDocScope falls back to a document-scoped identifier.
	MissingIdentityDocScope MissingIdentityPolicy = "doc_scope"
	// MissingIdentityQuarantine rejects the document instead.
	MissingIdentityQuarantine MissingIdentityPolicy = "quarantine"
)

// RegistryDefinition describes one registry service's document structure:
// every known variant with its matcher, mappings and relationship rules.
type RegistryDefinition struct {
	RegistryCode string              `json:"registry_code" yaml:"registry_code"`
	ServiceCode  string              `json:"service_code,omitempty" yaml:"service_code,omitempty"`
	MethodCode   string              `json:"method_code,omitempty" yaml:"method_code,omitempty"`
	Version      int                 `json:"version" yaml:"version"`
	Status       Lifecycle           `json:"status" yaml:"status"`
	Variants     []VariantDefinition `json:"variants" yaml:"variants"`
}

// VariantDefinition is one structural shape a service's documents can take.
type VariantDefinition struct {
	VariantID     string                   `json:"variant_id" yaml:"variant_id"`
	Match         dsl.PredicateDef         `json:"match" yaml:"match"`
	Entities      []EntityRef              `json:"entities" yaml:"entities"`
	Mappings      []MappingDefinition      `json:"mappings" yaml:"mappings"`
	Relationships []RelationshipDefinition `json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// EntityRef declares a named entity slot a variant can emit, with optional
// emit gating on extracted properties.
type EntityRef struct {
	Ref        string   `json:"ref" yaml:"ref"`
	Entity     string   `json:"entity" yaml:"entity"`
	RequireAny []string `json:"require_any,omitempty" yaml:"require_any,omitempty"`
	RequireAll []string `json:"require_all,omitempty" yaml:"require_all,omitempty"`
}

// MappingDefinition extracts values under one scope. An empty Foreach means
// the single document-root scope; otherwise every item the path selects
// becomes its own scope.
type MappingDefinition struct {
	Foreach string            `json:"foreach,omitempty" yaml:"foreach,omitempty"`
	Filter  *dsl.PredicateDef `json:"filter,omitempty" yaml:"filter,omitempty"`
	Rules   []MappingRule     `json:"rules" yaml:"rules"`
}

// MappingRule pulls one source value, transforms it and fans it out to
// entity properties.
type MappingRule struct {
	Source     string             `json:"source" yaml:"source"`
	Transforms []dsl.TransformDef `json:"transforms,omitempty" yaml:"transforms,omitempty"`
	Targets    []MappingTarget    `json:"targets" yaml:"targets"`
}

// MappingTarget names the entity slot and property a value lands on.
type MappingTarget struct {
	Ref      string `json:"ref" yaml:"ref"`
	Property string `json:"property" yaml:"property"`
}

// RelationshipDefinition is one edge-creation rule between entity slots.
type RelationshipDefinition struct {
	Type        string             `json:"type" yaml:"type"`
	From        string             `json:"from" yaml:"from"`
	To          string             `json:"to" yaml:"to"`
	Binding     BindingKind        `json:"binding,omitempty" yaml:"binding,omitempty"`
	MergePolicy MergePolicy        `json:"merge_policy,omitempty" yaml:"merge_policy,omitempty"`
	UniqueBy    []string           `json:"unique_by,omitempty" yaml:"unique_by,omitempty"`
	When        []RelationshipWhen `json:"when,omitempty" yaml:"when,omitempty"`
	Properties  []RelationshipProp `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// RelationshipWhen is one creation condition. EntityExists requires at least
// one emitted instance of the named slot; Predicate evaluates against the
// document tree.
type RelationshipWhen struct {
	EntityExists string            `json:"entity_exists,omitempty" yaml:"entity_exists,omitempty"`
	Predicate    *dsl.PredicateDef `json:"predicate,omitempty" yaml:"predicate,omitempty"`
}

// RelationshipProp derives one edge property. Exactly one source field is
// set: Const, FromMeta (document meta key), FromSource or FromTarget
// (endpoint instance property).
type RelationshipProp struct {
	Name       string `json:"name" yaml:"name"`
	Const      any    `json:"const,omitempty" yaml:"const,omitempty"`
	FromMeta   string `json:"from_meta,omitempty" yaml:"from_meta,omitempty"`
	FromSource string `json:"from_source,omitempty" yaml:"from_source,omitempty"`
	FromTarget string `json:"from_target,omitempty" yaml:"from_target,omitempty"`
}

// EntityDefinition carries the cross-registry rules for one entity type:
// identity resolution and per-property conflict behavior.
type EntityDefinition struct {
	Entity            string                  `json:"entity" yaml:"entity"`
	IdentityKeys      []IdentityRule          `json:"identity_keys" yaml:"identity_keys"`
	OnMissingIdentity MissingIdentityPolicy   `json:"on_missing_identity,omitempty" yaml:"on_missing_identity,omitempty"`
	Properties        map[string]PropertyRule `json:"properties,omitempty" yaml:"properties,omitempty"`
	Version           int                     `json:"version" yaml:"version"`
	Status            Lifecycle               `json:"status" yaml:"status"`
}

// IdentityRule is one prioritized identity key set. The rule applies when
// every WhenExists property is present and non-empty; Keys in order feed the
// identifier hash.
type IdentityRule struct {
	Priority   int      `json:"priority" yaml:"priority"`
	Keys       []string `json:"keys" yaml:"keys"`
	WhenExists []string `json:"when_exists,omitempty" yaml:"when_exists,omitempty"`
}

// PropertyRule sets a property's conflict behavior.
type PropertyRule struct {
	ChangeType ChangeType `json:"change_type,omitempty" yaml:"change_type,omitempty"`
}

// Bundle is everything a schema store serves: registry definitions plus
// entity definitions, as loaded (all lifecycles included; filtering happens
// at compile time).
type Bundle struct {
	Registries []*RegistryDefinition
	Entities   []*EntityDefinition
}
