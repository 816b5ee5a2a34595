// Package lineage persists the audit trail of the ingestion pipeline: runs,
// per-document state, step-level trace events, and quarantine records.
package lineage

import (
	"context"
	"time"

	"github.com/sells-group/registry-ingest/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus   `json:"status,omitempty"`
	Trigger      model.TriggerKind `json:"trigger,omitempty"`
	StartedAfter time.Time         `json:"started_after,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	Offset       int               `json:"offset,omitempty"`
}

// QuarantineFilter specifies criteria for listing quarantine records.
type QuarantineFilter struct {
	Status model.QuarantineStatus `json:"status,omitempty"`
	Reason model.ReasonCode       `json:"reason,omitempty"`
	RunID  string                 `json:"run_id,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
	Offset int                    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the ingestion audit trail.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, trigger model.TriggerKind, source string) (*model.IngestionRun, error)
	UpdateRunCounters(ctx context.Context, runID string, counters model.RunCounters) error
	FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.IngestionRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error)

	// Documents
	UpsertDocument(ctx context.Context, rec *model.DocumentRecord) error
	ListDocuments(ctx context.Context, runID string) ([]model.DocumentRecord, error)

	// Lineage events
	AppendEvent(ctx context.Context, ev *model.LineageEvent) error
	AppendEvents(ctx context.Context, events []model.LineageEvent) error
	ListDocumentEvents(ctx context.Context, documentID string) ([]model.LineageEvent, error)

	// Quarantine
	CreateQuarantine(ctx context.Context, rec *model.QuarantineRecord) (*model.QuarantineRecord, error)
	GetQuarantine(ctx context.Context, id string) (*model.QuarantineRecord, error)
	ListQuarantine(ctx context.Context, filter QuarantineFilter) ([]model.QuarantineRecord, error)
	ResolveQuarantine(ctx context.Context, id, resolution string) error
	IgnoreQuarantine(ctx context.Context, id, resolution string) error
	QuarantineDepth(ctx context.Context) (map[model.ReasonCode]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
