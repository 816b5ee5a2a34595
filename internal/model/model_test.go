package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeAncestor_RootContainsEverything(t *testing.T) {
	assert.True(t, ScopeAncestor(RootScopePath, RootScopePath))
	assert.True(t, ScopeAncestor(RootScopePath, "$.answer.incomes[*]#1"))
	assert.False(t, ScopeAncestor("$.answer.incomes[*]#1", RootScopePath))
}

func TestScopeAncestor_SameScope(t *testing.T) {
	assert.True(t, ScopeAncestor("$.persons[*]#0", "$.persons[*]#0"))
}

func TestScopeAncestor_NestedBranchesFollowTrail(t *testing.T) {
	parent := "$.persons[*]#0"
	child := "$.persons[*].incomes[*]#0.1"
	otherBranch := "$.persons[*].incomes[*]#1.0"

	assert.True(t, ScopeAncestor(parent, child))
	assert.False(t, ScopeAncestor(parent, otherBranch), "sibling branch is not contained")
	assert.False(t, ScopeAncestor(child, parent))
}

func TestScopeAncestor_ExpressionBoundary(t *testing.T) {
	// "$.a" must not contain "$.ab" just because of the string prefix.
	assert.False(t, ScopeAncestor("$.persons[*]#0", "$.personsextra[*]#0"))
	assert.True(t, ScopeAncestor("$.persons[*]#0", "$.persons[*][0]#0.0"))
}

func TestScopeAncestor_TraillessForeachContainsSubScopes(t *testing.T) {
	assert.True(t, ScopeAncestor("$.person", "$.person.addresses[*]#2"))
}

func TestFinalStatus_Precedence(t *testing.T) {
	clean := RunCounters{DocumentsTotal: 3, DocumentsProcessed: 3}
	dirty := RunCounters{DocumentsTotal: 3, DocumentsProcessed: 2, DocumentsQuarantined: 1}

	assert.Equal(t, RunStatusSucceeded, FinalStatus(clean, false, false))
	assert.Equal(t, RunStatusWarning, FinalStatus(dirty, false, false))
	assert.Equal(t, RunStatusDegraded, FinalStatus(dirty, true, false))
	assert.Equal(t, RunStatusCanceled, FinalStatus(dirty, true, true))
}

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.False(t, RunStatusRunning.IsTerminal())
	for _, s := range []RunStatus{RunStatusSucceeded, RunStatusWarning, RunStatusDegraded, RunStatusFailed, RunStatusCanceled} {
		assert.True(t, s.IsTerminal(), string(s))
	}
}

func TestSuggestedAction_ReasonMapping(t *testing.T) {
	action, severity := SuggestedAction(ReasonSchemaNotFound)
	assert.Equal(t, ActionDefineSchema, action)
	assert.Equal(t, SeverityWarning, severity)

	action, severity = SuggestedAction(ReasonImmutableConflict)
	assert.Equal(t, ActionReviewConflict, action)
	assert.Equal(t, SeverityCritical, severity)

	action, _ = SuggestedAction(ReasonVariantAmbiguous)
	assert.Equal(t, ActionFixVariant, action)

	action, severity = SuggestedAction(ReasonStoreUnavailable)
	assert.Equal(t, ActionReviewQuarantine, action)
	assert.Equal(t, SeverityCritical, severity)
}
