package model

import "time"

// ReasonCode classifies why a document left the pipeline.
type ReasonCode string

const (
	ReasonParseError         ReasonCode = "parse_error"
	ReasonSchemaNotFound     ReasonCode = "schema_not_found"
	ReasonVariantAmbiguous   ReasonCode = "variant_ambiguous"
	ReasonIdentityUnresolved ReasonCode = "identity_unresolved"
	ReasonIdentityCollision  ReasonCode = "identity_collision"
	ReasonImmutableConflict  ReasonCode = "immutable_conflict"
	ReasonAccessDenied       ReasonCode = "access_denied"
	ReasonCorrupt            ReasonCode = "corrupt"
	ReasonStoreUnavailable   ReasonCode = "store_unavailable"
)

// NextAction is the suggested operator follow-up for a failure.
type NextAction string

const (
	ActionNone             NextAction = "none"
	ActionDefineSchema     NextAction = "define_schema"
	ActionFixVariant       NextAction = "fix_variant"
	ActionReviewConflict   NextAction = "review_conflict"
	ActionReviewQuarantine NextAction = "review_quarantine"
)

// Severity grades a lineage or quarantine signal.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SuggestedAction maps a reason code to the operator follow-up and its
// severity.
func SuggestedAction(r ReasonCode) (NextAction, Severity) {
	switch r {
	case ReasonSchemaNotFound, ReasonIdentityUnresolved:
		return ActionDefineSchema, SeverityWarning
	case ReasonVariantAmbiguous:
		return ActionFixVariant, SeverityWarning
	case ReasonImmutableConflict, ReasonIdentityCollision:
		return ActionReviewConflict, SeverityCritical
	case ReasonStoreUnavailable:
		return ActionReviewQuarantine, SeverityCritical
	case ReasonParseError, ReasonAccessDenied, ReasonCorrupt:
		return ActionReviewQuarantine, SeverityWarning
	}
	return ActionNone, SeverityInfo
}

// QuarantineStatus is the review lifecycle of a quarantined document.
type QuarantineStatus string

const (
	QuarantineOpen     QuarantineStatus = "open"
	QuarantineResolved QuarantineStatus = "resolved"
	QuarantineIgnored  QuarantineStatus = "ignored"
)

// DefaultQuarantineOwner receives new quarantine records until reassigned.
const DefaultQuarantineOwner = "data-eng"

// QuarantineRecord captures a document removed from the pipeline along with
// enough evidence to diagnose it without re-reading the source.
type QuarantineRecord struct {
	ID          string           `json:"id"`
	RunID       string           `json:"run_id"`
	DocumentID  string           `json:"document_id"`
	SourceRef   string           `json:"source_ref"`
	ContentHash string           `json:"content_hash,omitempty"`
	Reason      ReasonCode       `json:"reason"`
	Message     string           `json:"message"`
	Evidence    map[string]any   `json:"evidence,omitempty"`
	NextAction  NextAction       `json:"next_action"`
	Severity    Severity         `json:"severity"`
	Status      QuarantineStatus `json:"status"`
	Owner       string           `json:"owner"`
	Resolution  string           `json:"resolution,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
