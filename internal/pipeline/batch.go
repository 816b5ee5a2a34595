package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/registry-ingest/internal/model"
)

// finalizeTimeout bounds the run-level lineage writes that still happen
// after the batch context is canceled.
const finalizeTimeout = 10 * time.Second

// BatchConfig tunes batch execution.
type BatchConfig struct {
	// Concurrency is the number of documents in flight at once.
	Concurrency int
	// DispatchRate is the steady dispatch rate in documents per second.
	// Store pushback halves the live rate down to a quarter of this.
	DispatchRate float64
	// DispatchBurst is the dispatch limiter's burst allowance.
	DispatchBurst int
	// CounterFlush is how often live counters are written to the run
	// record while the batch executes.
	CounterFlush time.Duration
}

// DefaultBatchConfig returns the batch tuning used when the caller does
// not override it.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Concurrency:   8,
		DispatchRate:  50,
		DispatchBurst: 10,
		CounterFlush:  5 * time.Second,
	}
}

func (c BatchConfig) withDefaults() BatchConfig {
	d := DefaultBatchConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.DispatchRate <= 0 {
		c.DispatchRate = d.DispatchRate
	}
	if c.DispatchBurst <= 0 {
		c.DispatchBurst = d.DispatchBurst
	}
	if c.CounterFlush <= 0 {
		c.CounterFlush = d.CounterFlush
	}
	return c
}

// RunBatch processes a manifest of raw documents under one ingestion run.
// Documents are dispatched through a rate limiter into a bounded worker
// pool; each document succeeds or quarantines on its own, and the run
// record finishes with aggregate counters even when the context is
// canceled mid-batch.
func (p *Pipeline) RunBatch(ctx context.Context, trigger model.TriggerKind, source string, docs []model.RawDocument, cfg BatchConfig) (*model.IngestionRun, error) {
	cfg = cfg.withDefaults()

	run, err := p.lineage.CreateRun(ctx, trigger, source)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := p.log.With(
		zap.String("run_id", run.ID),
		zap.String("trigger", string(trigger)),
		zap.Int("documents", len(docs)),
	)
	log.Info("run started", zap.String("source", source))

	// Refuse the whole batch when no schema snapshot has ever loaded;
	// dispatching would quarantine every document for the same cause.
	if _, err := p.schemas.Current(); err != nil {
		msg := "schema snapshot unavailable: " + err.Error()
		if finishErr := p.lineage.FinishRun(ctx, run.ID, model.RunStatusFailed, msg); finishErr != nil {
			log.Warn("run finish write failed", zap.Error(finishErr))
		}
		run.Status = model.RunStatusFailed
		run.Error = msg
		return run, eris.Wrap(err, "pipeline: schema snapshot")
	}

	p.registerPending(ctx, run.ID, docs, log)

	var (
		processed     atomic.Int64
		quarantined   atomic.Int64
		entities      atomic.Int64
		nodes         atomic.Int64
		relationships atomic.Int64
		conflicts     atomic.Int64
		degraded      atomic.Bool
	)
	snapshot := func() model.RunCounters {
		return model.RunCounters{
			DocumentsTotal:        int64(len(docs)),
			DocumentsProcessed:    processed.Load(),
			DocumentsQuarantined:  quarantined.Load(),
			EntitiesExtracted:     entities.Load(),
			NodesUpserted:         nodes.Load(),
			RelationshipsUpserted: relationships.Load(),
			ImmutableConflicts:    conflicts.Load(),
		}
	}

	stopFlush := make(chan struct{})
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		ticker := time.NewTicker(cfg.CounterFlush)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.lineage.UpdateRunCounters(ctx, run.ID, snapshot()); err != nil {
					log.Debug("counter flush failed", zap.Error(err))
				}
			case <-stopFlush:
				return
			}
		}
	}()

	limiter := newDispatchLimiter(cfg.DispatchRate, cfg.DispatchBurst)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	for _, raw := range docs {
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			out, procErr := p.Process(gctx, run.ID, raw)
			if procErr != nil {
				// Cancellation leaves the document pending for the next
				// run; anything else means the outcome went unrecorded.
				if gctx.Err() == nil {
					degraded.Store(true)
					log.Error("document finalization failed",
						zap.String("source_ref", raw.SourceRef), zap.Error(procErr))
				}
				return nil // one document never aborts the batch
			}
			if out.StoreDegraded {
				degraded.Store(true)
				limiter.OnPushback()
			} else {
				limiter.OnSuccess()
			}
			entities.Add(int64(out.Entities))
			nodes.Add(int64(out.Nodes))
			relationships.Add(int64(out.Relationships))
			if out.Quarantined {
				quarantined.Add(1)
				if out.Reason == model.ReasonImmutableConflict {
					conflicts.Add(1)
				}
			} else {
				processed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	close(stopFlush)
	<-flushDone

	p.finishRun(ctx, log, run, snapshot(), degraded.Load(), ctx.Err() != nil)
	return run, nil
}

// RunOne wraps a single document in its own run. It is the entry point for
// ad-hoc ingestion from the CLI and the HTTP surface.
func (p *Pipeline) RunOne(ctx context.Context, trigger model.TriggerKind, raw model.RawDocument) (*model.IngestionRun, *Outcome, error) {
	run, err := p.lineage.CreateRun(ctx, trigger, raw.SourceRef)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: create run")
	}
	log := p.log.With(zap.String("run_id", run.ID))

	if _, err := p.schemas.Current(); err != nil {
		msg := "schema snapshot unavailable: " + err.Error()
		if finishErr := p.lineage.FinishRun(ctx, run.ID, model.RunStatusFailed, msg); finishErr != nil {
			log.Warn("run finish write failed", zap.Error(finishErr))
		}
		run.Status = model.RunStatusFailed
		run.Error = msg
		return run, nil, eris.Wrap(err, "pipeline: schema snapshot")
	}

	out, procErr := p.Process(ctx, run.ID, raw)

	counters := model.RunCounters{DocumentsTotal: 1}
	degraded := false
	if procErr != nil {
		if ctx.Err() == nil {
			degraded = true
			log.Error("document finalization failed", zap.Error(procErr))
		}
	} else {
		counters.EntitiesExtracted = int64(out.Entities)
		counters.NodesUpserted = int64(out.Nodes)
		counters.RelationshipsUpserted = int64(out.Relationships)
		if out.Quarantined {
			counters.DocumentsQuarantined = 1
			if out.Reason == model.ReasonImmutableConflict {
				counters.ImmutableConflicts = 1
			}
		} else {
			counters.DocumentsProcessed = 1
		}
		degraded = out.StoreDegraded
	}

	p.finishRun(ctx, log, run, counters, degraded, ctx.Err() != nil)
	return run, out, procErr
}

// registerPending records every manifest entry before dispatch so a
// canceled run leaves its unreached documents visible as pending.
func (p *Pipeline) registerPending(ctx context.Context, runID string, docs []model.RawDocument, log *zap.Logger) {
	for _, raw := range docs {
		rec := &model.DocumentRecord{
			DocumentID: DocumentID(runID, raw.SourceRef),
			RunID:      runID,
			SourceRef:  raw.SourceRef,
			State:      model.DocStatePending,
		}
		if err := p.lineage.UpsertDocument(ctx, rec); err != nil {
			log.Warn("pending document registration failed",
				zap.String("source_ref", raw.SourceRef), zap.Error(err))
			return
		}
	}
}

// finishRun writes the final counters and status. When the batch context
// is already dead the writes run on a short detached deadline so the run
// record never stays open.
func (p *Pipeline) finishRun(ctx context.Context, log *zap.Logger, run *model.IngestionRun, counters model.RunCounters, degraded, canceled bool) {
	status := model.FinalStatus(counters, degraded, canceled)
	errMsg := ""
	if degraded {
		errMsg = "store operations failed after retries; see quarantine"
	}

	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
	}
	if err := p.lineage.UpdateRunCounters(ctx, run.ID, counters); err != nil {
		log.Warn("run counter write failed", zap.Error(err))
	}
	if err := p.lineage.FinishRun(ctx, run.ID, status, errMsg); err != nil {
		log.Warn("run finish write failed", zap.Error(err))
	}

	now := time.Now().UTC()
	run.Status = status
	run.Counters = counters
	run.Error = errMsg
	run.CompletedAt = &now

	log.Info("run complete",
		zap.String("status", string(status)),
		zap.Int64("processed", counters.DocumentsProcessed),
		zap.Int64("quarantined", counters.DocumentsQuarantined),
		zap.Int64("nodes", counters.NodesUpserted),
		zap.Int64("relationships", counters.RelationshipsUpserted),
	)
}
