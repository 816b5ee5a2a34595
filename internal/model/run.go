package model

import "time"

// RunStatus represents the current state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusWarning   RunStatus = "warning"
	RunStatusDegraded  RunStatus = "degraded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// IsTerminal reports whether the status is a final state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusWarning, RunStatusDegraded, RunStatusFailed, RunStatusCanceled:
		return true
	}
	return false
}

// TriggerKind describes what started a run.
type TriggerKind string

const (
	TriggerFileDrop  TriggerKind = "file_drop"
	TriggerManual    TriggerKind = "manual"
	TriggerScheduler TriggerKind = "scheduler"
)

// RunCounters aggregates per-run outcomes. Counters only grow; a document
// counts as processed or quarantined, never both.
type RunCounters struct {
	DocumentsTotal        int64 `json:"documents_total"`
	DocumentsProcessed    int64 `json:"documents_processed"`
	DocumentsQuarantined  int64 `json:"documents_quarantined"`
	EntitiesExtracted     int64 `json:"entities_extracted"`
	NodesUpserted         int64 `json:"nodes_upserted"`
	RelationshipsUpserted int64 `json:"relationships_upserted"`
	ImmutableConflicts    int64 `json:"immutable_conflicts"`
}

// IngestionRun represents one batch execution over a set of documents.
type IngestionRun struct {
	ID          string      `json:"id"`
	Trigger     TriggerKind `json:"trigger"`
	Status      RunStatus   `json:"status"`
	Source      string      `json:"source,omitempty"`
	Counters    RunCounters `json:"counters"`
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// FinalStatus derives the terminal run status from counters and flags.
// Degraded (store trouble) dominates warning (quarantines); a run with
// every document quarantined still completes.
func FinalStatus(c RunCounters, degraded, canceled bool) RunStatus {
	switch {
	case canceled:
		return RunStatusCanceled
	case degraded:
		return RunStatusDegraded
	case c.DocumentsQuarantined > 0:
		return RunStatusWarning
	default:
		return RunStatusSucceeded
	}
}
