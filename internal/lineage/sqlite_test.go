package lineage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-ingest/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Runs ---

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.TriggerFileDrop, "drops/2024-03-01")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	counters := model.RunCounters{
		DocumentsTotal:       5,
		DocumentsProcessed:   4,
		DocumentsQuarantined: 1,
		EntitiesExtracted:    12,
		NodesUpserted:        9,
	}
	require.NoError(t, st.UpdateRunCounters(ctx, run.ID, counters))
	require.NoError(t, st.FinishRun(ctx, run.ID, model.RunStatusWarning, ""))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusWarning, got.Status)
	assert.Equal(t, model.TriggerFileDrop, got.Trigger)
	assert.Equal(t, "drops/2024-03-01", got.Source)
	assert.Equal(t, counters, got.Counters)
	require.NotNil(t, got.CompletedAt)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
}

func TestSQLite_UpdateRunCounters_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateRunCounters(context.Background(), "nonexistent", model.RunCounters{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLite_ListRuns_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r1, err := st.CreateRun(ctx, model.TriggerManual, "a")
	require.NoError(t, err)
	r2, err := st.CreateRun(ctx, model.TriggerScheduler, "b")
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, model.TriggerManual, "c")
	require.NoError(t, err)

	require.NoError(t, st.FinishRun(ctx, r1.ID, model.RunStatusFailed, "graph unreachable"))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, r1.ID, failed[0].ID)
	assert.Equal(t, "graph unreachable", failed[0].Error)

	scheduled, err := st.ListRuns(ctx, RunFilter{Trigger: model.TriggerScheduler})
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, r2.ID, scheduled[0].ID)
}

func TestSQLite_ListRuns_StartedAfter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateRun(ctx, model.TriggerManual, "a")
	require.NoError(t, err)

	recent, err := st.ListRuns(ctx, RunFilter{StartedAfter: time.Now().UTC().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	future, err := st.ListRuns(ctx, RunFilter{StartedAfter: time.Now().UTC().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)
}

// --- Documents ---

func TestSQLite_UpsertDocument_Overwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.TriggerManual, "")
	require.NoError(t, err)

	require.NoError(t, st.UpsertDocument(ctx, &model.DocumentRecord{
		RunID:      run.ID,
		DocumentID: "doc-1",
		SourceRef:  "drops/doc-1.json",
		State:      model.DocStatePending,
	}))
	require.NoError(t, st.UpsertDocument(ctx, &model.DocumentRecord{
		RunID:         run.ID,
		DocumentID:    "doc-1",
		SourceRef:     "drops/doc-1.json",
		ContentHash:   "abc",
		CanonicalHash: "def",
		State:         model.DocStateProcessed,
	}))

	docs, err := st.ListDocuments(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, model.DocStateProcessed, docs[0].State)
	assert.Equal(t, "abc", docs[0].ContentHash)
	assert.Equal(t, "def", docs[0].CanonicalHash)
}

func TestSQLite_ListDocuments_ScopedToRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r1, err := st.CreateRun(ctx, model.TriggerManual, "")
	require.NoError(t, err)
	r2, err := st.CreateRun(ctx, model.TriggerManual, "")
	require.NoError(t, err)

	require.NoError(t, st.UpsertDocument(ctx, &model.DocumentRecord{RunID: r1.ID, DocumentID: "doc-a", State: model.DocStateProcessed}))
	require.NoError(t, st.UpsertDocument(ctx, &model.DocumentRecord{RunID: r2.ID, DocumentID: "doc-b", State: model.DocStateQuarantined, Reason: model.ReasonParseError}))

	docs, err := st.ListDocuments(ctx, r2.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-b", docs[0].DocumentID)
	assert.Equal(t, model.ReasonParseError, docs[0].Reason)
}

// --- Lineage events ---

func TestSQLite_AppendEvents_OrderPreserved(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	batch := []model.LineageEvent{
		{RunID: "run-1", DocumentID: "doc-1", Step: model.StepCanonicalize, Stage: model.StageStart},
		{RunID: "run-1", DocumentID: "doc-1", Step: model.StepCanonicalize, Stage: model.StageEnd, Status: model.EventOK,
			Details: map[string]any{"canonical_hash": "abc123"}},
	}
	require.NoError(t, st.AppendEvents(ctx, batch))
	require.NoError(t, st.AppendEvent(ctx, &model.LineageEvent{
		RunID: "run-1", DocumentID: "doc-1", Step: model.StepResolveSchema, Stage: model.StageStart,
	}))

	events, err := st.ListDocumentEvents(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, model.StepCanonicalize, events[0].Step)
	assert.Equal(t, model.StageStart, events[0].Stage)
	assert.Equal(t, model.StageEnd, events[1].Stage)
	assert.Equal(t, map[string]any{"canonical_hash": "abc123"}, events[1].Details)
	assert.Equal(t, model.StepResolveSchema, events[2].Step)
	assert.Less(t, events[0].ID, events[1].ID)
	assert.Less(t, events[1].ID, events[2].ID)
}

func TestSQLite_AppendEvents_EmptyBatch(t *testing.T) {
	st := newTestSQLiteStore(t)

	require.NoError(t, st.AppendEvents(context.Background(), nil))
}

func TestSQLite_ListDocumentEvents_OtherDocumentsExcluded(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendEvent(ctx, &model.LineageEvent{RunID: "r", DocumentID: "doc-1", Step: model.StepCanonicalize, Stage: model.StageStart}))
	require.NoError(t, st.AppendEvent(ctx, &model.LineageEvent{RunID: "r", DocumentID: "doc-2", Step: model.StepCanonicalize, Stage: model.StageStart}))

	events, err := st.ListDocumentEvents(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "doc-1", events[0].DocumentID)
}

// --- Quarantine ---

func TestSQLite_Quarantine_CreateFillsDefaults(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec, err := st.CreateQuarantine(ctx, &model.QuarantineRecord{
		RunID:      "run-1",
		DocumentID: "doc-1",
		SourceRef:  "drops/doc-1.json",
		Reason:     model.ReasonSchemaNotFound,
		Message:    "no registry definition matched",
		Evidence:   map[string]any{"registry_code": "DRFO", "service_code": "UNKNOWN"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, model.QuarantineOpen, rec.Status)
	assert.Equal(t, model.DefaultQuarantineOwner, rec.Owner)
	assert.Equal(t, model.ActionDefineSchema, rec.NextAction)
	assert.Equal(t, model.SeverityWarning, rec.Severity)

	got, err := st.GetQuarantine(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "no registry definition matched", got.Message)
	assert.Equal(t, map[string]any{"registry_code": "DRFO", "service_code": "UNKNOWN"}, got.Evidence)
}

func TestSQLite_Quarantine_ResolveLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec, err := st.CreateQuarantine(ctx, &model.QuarantineRecord{
		RunID: "run-1", DocumentID: "doc-1", Reason: model.ReasonParseError, Message: "truncated payload",
	})
	require.NoError(t, err)

	open, err := st.ListQuarantine(ctx, QuarantineFilter{Status: model.QuarantineOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1)

	require.NoError(t, st.ResolveQuarantine(ctx, rec.ID, "source re-exported the file"))

	got, err := st.GetQuarantine(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuarantineResolved, got.Status)
	assert.Equal(t, "source re-exported the file", got.Resolution)

	// A closed record cannot be resolved again.
	err = st.ResolveQuarantine(ctx, rec.ID, "again")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open quarantine record not found")

	open, err = st.ListQuarantine(ctx, QuarantineFilter{Status: model.QuarantineOpen})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSQLite_Quarantine_Ignore(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec, err := st.CreateQuarantine(ctx, &model.QuarantineRecord{
		RunID: "run-1", DocumentID: "doc-1", Reason: model.ReasonVariantAmbiguous, Message: "two variants tied",
	})
	require.NoError(t, err)

	require.NoError(t, st.IgnoreQuarantine(ctx, rec.ID, "test registry, not production data"))

	got, err := st.GetQuarantine(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuarantineIgnored, got.Status)
}

func TestSQLite_Quarantine_FilterByReasonAndRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateQuarantine(ctx, &model.QuarantineRecord{RunID: "run-1", DocumentID: "d1", Reason: model.ReasonParseError})
	require.NoError(t, err)
	_, err = st.CreateQuarantine(ctx, &model.QuarantineRecord{RunID: "run-1", DocumentID: "d2", Reason: model.ReasonImmutableConflict})
	require.NoError(t, err)
	_, err = st.CreateQuarantine(ctx, &model.QuarantineRecord{RunID: "run-2", DocumentID: "d3", Reason: model.ReasonParseError})
	require.NoError(t, err)

	parseErrs, err := st.ListQuarantine(ctx, QuarantineFilter{Reason: model.ReasonParseError})
	require.NoError(t, err)
	assert.Len(t, parseErrs, 2)

	run1ParseErrs, err := st.ListQuarantine(ctx, QuarantineFilter{Reason: model.ReasonParseError, RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, run1ParseErrs, 1)
	assert.Equal(t, "d1", run1ParseErrs[0].DocumentID)
}

func TestSQLite_QuarantineDepth_CountsOpenByReason(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r1, err := st.CreateQuarantine(ctx, &model.QuarantineRecord{RunID: "r", DocumentID: "d1", Reason: model.ReasonParseError})
	require.NoError(t, err)
	_, err = st.CreateQuarantine(ctx, &model.QuarantineRecord{RunID: "r", DocumentID: "d2", Reason: model.ReasonParseError})
	require.NoError(t, err)
	_, err = st.CreateQuarantine(ctx, &model.QuarantineRecord{RunID: "r", DocumentID: "d3", Reason: model.ReasonSchemaNotFound})
	require.NoError(t, err)

	require.NoError(t, st.ResolveQuarantine(ctx, r1.ID, "fixed"))

	depth, err := st.QuarantineDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.ReasonCode]int{
		model.ReasonParseError:     1,
		model.ReasonSchemaNotFound: 1,
	}, depth)
}
