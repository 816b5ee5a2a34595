package model

import "strings"

// RootScopePath marks instances extracted at document level rather than from
// a foreach item.
const RootScopePath = "$"

// ScopeAncestor reports whether scope a contains scope b. The root scope
// contains everything. A foreach scope path has the form "EXPR#i.j" where
// EXPR is the foreach expression and i.j the branch indexes taken at each
// wildcard; a contains b when a's expression and branch prefix b's.
func ScopeAncestor(a, b string) bool {
	if a == RootScopePath || a == b {
		return true
	}
	if b == RootScopePath {
		return false
	}
	aExpr, aTrail := splitScopePath(a)
	bExpr, bTrail := splitScopePath(b)
	if !strings.HasPrefix(bExpr, aExpr) {
		return false
	}
	if rest := bExpr[len(aExpr):]; rest != "" && rest[0] != '.' && rest[0] != '[' {
		return false
	}
	if aTrail == "" {
		return true
	}
	return aTrail == bTrail || strings.HasPrefix(bTrail, aTrail+".")
}

func splitScopePath(p string) (expr, trail string) {
	i := strings.LastIndexByte(p, '#')
	if i < 0 {
		return p, ""
	}
	for _, r := range p[i+1:] {
		if r != '.' && (r < '0' || r > '9') {
			return p, ""
		}
	}
	return p[:i], p[i+1:]
}

// EntityInstance is one extracted entity before graph upsert. Instances are
// keyed by (ScopeRoot, EntityRef) during mapping so every rule contributing
// to the same scope lands in the same property bag.
type EntityInstance struct {
	Entity     string         `json:"entity"`
	EntityRef  string         `json:"entity_ref"`
	ScopeRoot  string         `json:"scope_root"`
	ScopePath  string         `json:"scope_path"`
	Properties map[string]any `json:"properties"`

	// NodeID is set by identity resolution. DocScoped marks the fallback
	// identifier form that never merges across documents.
	NodeID       string `json:"node_id,omitempty"`
	DocScoped    bool   `json:"doc_scoped,omitempty"`
	IdentityRule string `json:"identity_rule,omitempty"`
}

// RelationshipInstance is one extracted edge between two resolved nodes.
type RelationshipInstance struct {
	Type       string         `json:"type"`
	FromEntity string         `json:"from_entity"`
	FromID     string         `json:"from_id"`
	ToEntity   string         `json:"to_entity"`
	ToID       string         `json:"to_id"`
	Properties map[string]any `json:"properties,omitempty"`

	// Key is the computed uniqueness key. Instances sharing a key collapse
	// into one edge before upsert.
	Key string `json:"key,omitempty"`
}
