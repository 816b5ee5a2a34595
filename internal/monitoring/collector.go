package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-ingest/internal/lineage"
	"github.com/sells-group/registry-ingest/internal/model"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsSucceeded int     `json:"runs_succeeded"`
	RunsWarning   int     `json:"runs_warning"`
	RunsDegraded  int     `json:"runs_degraded"`
	RunsFailed    int     `json:"runs_failed"`
	RunsCanceled  int     `json:"runs_canceled"`
	RunsRunning   int     `json:"runs_running"`
	RunFailRate   float64 `json:"run_fail_rate"`

	// Document metrics summed over runs in the window.
	DocumentsTotal        int64   `json:"documents_total"`
	DocumentsProcessed    int64   `json:"documents_processed"`
	DocumentsQuarantined  int64   `json:"documents_quarantined"`
	QuarantineRate        float64 `json:"quarantine_rate"`
	NodesUpserted         int64   `json:"nodes_upserted"`
	RelationshipsUpserted int64   `json:"relationships_upserted"`
	ImmutableConflicts    int64   `json:"immutable_conflicts"`

	// Open quarantine backlog across all runs, not just the window.
	QuarantineDepth    int            `json:"quarantine_depth"`
	QuarantineByReason map[string]int `json:"quarantine_by_reason,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the lineage store.
type Collector struct {
	store lineage.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st lineage.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	// Fetch ingestion runs within the window.
	runs, err := c.store.ListRuns(ctx, lineage.RunFilter{
		StartedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusSucceeded:
			snap.RunsSucceeded++
		case model.RunStatusWarning:
			snap.RunsWarning++
		case model.RunStatusDegraded:
			snap.RunsDegraded++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusCanceled:
			snap.RunsCanceled++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		snap.DocumentsTotal += r.Counters.DocumentsTotal
		snap.DocumentsProcessed += r.Counters.DocumentsProcessed
		snap.DocumentsQuarantined += r.Counters.DocumentsQuarantined
		snap.NodesUpserted += r.Counters.NodesUpserted
		snap.RelationshipsUpserted += r.Counters.RelationshipsUpserted
		snap.ImmutableConflicts += r.Counters.ImmutableConflicts
	}

	// Failed and degraded runs both count against the failure rate; a
	// degraded run left store writes behind even though it finished.
	finished := snap.RunsTotal - snap.RunsRunning
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed+snap.RunsDegraded) / float64(finished)
	}
	handled := snap.DocumentsProcessed + snap.DocumentsQuarantined
	if handled > 0 {
		snap.QuarantineRate = float64(snap.DocumentsQuarantined) / float64(handled)
	}

	// Open quarantine backlog by reason.
	depth, err := c.store.QuarantineDepth(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: quarantine depth")
	}
	if len(depth) > 0 {
		snap.QuarantineByReason = make(map[string]int, len(depth))
		for reason, n := range depth {
			snap.QuarantineByReason[string(reason)] = n
			snap.QuarantineDepth += n
		}
	}

	return snap, nil
}
