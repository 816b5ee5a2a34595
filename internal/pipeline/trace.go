package pipeline

import (
	"context"
	"time"

	"github.com/sells-group/registry-ingest/internal/lineage"
	"github.com/sells-group/registry-ingest/internal/model"
)

// trace buffers the lineage events of one document so its whole history
// lands in a single append once the outcome is known.
type trace struct {
	runID  string
	docID  string
	events []model.LineageEvent
}

func newTrace(runID, docID string) *trace {
	return &trace{runID: runID, docID: docID}
}

func (t *trace) add(ev model.LineageEvent) {
	ev.RunID = t.runID
	ev.DocumentID = t.docID
	ev.CreatedAt = time.Now().UTC()
	t.events = append(t.events, ev)
}

// start opens a step.
func (t *trace) start(step model.Step) {
	t.add(model.LineageEvent{Step: step, Stage: model.StageStart, Status: model.EventOK})
}

// done closes a step successfully.
func (t *trace) done(step model.Step, details map[string]any) {
	t.add(model.LineageEvent{Step: step, Stage: model.StageEnd, Status: model.EventOK, Details: details})
}

// warn closes a step that succeeded with concessions, such as kept-existing
// property decisions.
func (t *trace) warn(step model.Step, details map[string]any) {
	t.add(model.LineageEvent{Step: step, Stage: model.StageEnd, Status: model.EventWarning, Details: details})
}

// skip closes a step that had nothing to do.
func (t *trace) skip(step model.Step) {
	t.add(model.LineageEvent{Step: step, Stage: model.StageEnd, Status: model.EventSkipped})
}

// fail closes the step whose rejection ends the document. Next action and
// severity follow the reason taxonomy.
func (t *trace) fail(step model.Step, reason model.ReasonCode, details map[string]any) {
	action, severity := model.SuggestedAction(reason)
	t.add(model.LineageEvent{
		Step:       step,
		Stage:      model.StageEnd,
		Status:     model.EventError,
		Reason:     reason,
		Details:    details,
		NextAction: action,
		Severity:   severity,
	})
}

// flush appends the buffered events in order. The buffer clears only after
// a successful append so a retried flush re-sends the full trace.
func (t *trace) flush(ctx context.Context, store lineage.Store) error {
	if len(t.events) == 0 {
		return nil
	}
	if err := store.AppendEvents(ctx, t.events); err != nil {
		return err
	}
	t.events = nil
	return nil
}
