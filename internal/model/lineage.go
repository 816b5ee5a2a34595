package model

import "time"

// Step names one stage of the per-document pipeline. Lineage events always
// carry the step they describe.
type Step string

const (
	StepCanonicalize        Step = "canonicalize"
	StepResolveSchema       Step = "resolve_schema"
	StepMapEntities         Step = "map_entities"
	StepResolveConflicts    Step = "resolve_conflicts"
	StepUpsertEntities      Step = "upsert_entities"
	StepBuildRelationships  Step = "build_relationships"
	StepUpsertRelationships Step = "upsert_relationships"
	StepFinalize            Step = "finalize"
)

// Stage marks whether an event opens or closes a step.
type Stage string

const (
	StageStart Stage = "start"
	StageEnd   Stage = "end"
)

// EventStatus is the outcome recorded on a step-end event.
type EventStatus string

const (
	EventOK      EventStatus = "ok"
	EventWarning EventStatus = "warning"
	EventError   EventStatus = "error"
	EventSkipped EventStatus = "skipped"
)

// LineageEvent is one append-only trace record. The sequence of events for a
// document reconstructs every decision taken on its way into the graph.
type LineageEvent struct {
	ID         int64          `json:"id,omitempty"`
	RunID      string         `json:"run_id"`
	DocumentID string         `json:"document_id"`
	Step       Step           `json:"step"`
	Stage      Stage          `json:"stage"`
	Status     EventStatus    `json:"status"`
	Reason     ReasonCode     `json:"reason,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	NextAction NextAction     `json:"next_action,omitempty"`
	Severity   Severity       `json:"severity,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DocumentState is the per-document rollup kept alongside lineage events.
type DocumentState string

const (
	DocStatePending     DocumentState = "pending"
	DocStateProcessed   DocumentState = "processed"
	DocStateQuarantined DocumentState = "quarantined"
)

// DocumentRecord tracks one document within a run.
type DocumentRecord struct {
	DocumentID    string        `json:"document_id"`
	RunID         string        `json:"run_id"`
	SourceRef     string        `json:"source_ref"`
	ContentHash   string        `json:"content_hash,omitempty"`
	CanonicalHash string        `json:"canonical_hash,omitempty"`
	State         DocumentState `json:"state"`
	Reason        ReasonCode    `json:"reason,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
