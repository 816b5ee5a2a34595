package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/registry-ingest/internal/lineage"
	"github.com/sells-group/registry-ingest/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingestion run history",
	Long:  "Commands for listing, viewing, and summarizing ingestion runs and their document lineage.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingestion runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openLineage(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		trigger, _ := cmd.Flags().GetString("trigger")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := lineage.RunFilter{
			Status:  model.RunStatus(status),
			Trigger: model.TriggerKind(trigger),
			Limit:   limit,
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run with its documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openLineage(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		docs, err := st.ListDocuments(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show documents")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Run       *model.IngestionRun    `json:"run"`
			Documents []model.DocumentRecord `json:"documents"`
		}{run, docs})
	},
}

// -- runs events --

var runsEventsCmd = &cobra.Command{
	Use:   "events <document-id>",
	Short: "Show the step-level lineage trail of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openLineage(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		events, err := st.ListDocumentEvents(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs events")
		}
		if len(events) == 0 {
			fmt.Fprintln(os.Stderr, "No events found.")
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openLineage(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		filter := lineage.RunFilter{}
		if since > 0 {
			filter.StartedAfter = time.Now().UTC().Add(-since)
		}
		filter.Limit = 10000 // high limit for stats

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		stats := computeRunStats(runs)
		formatRunStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, succeeded, warning, degraded, failed, canceled)")
	runsListCmd.Flags().String("trigger", "", "filter by trigger kind (file_drop, manual, scheduler)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsEventsCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// openLineage opens the lineage store for read-side commands and runs
// migrations so a fresh database works out of the box.
func openLineage(ctx context.Context) (lineage.Store, error) {
	if err := cfg.Validate("lineage"); err != nil {
		return nil, err
	}
	st, err := initLineageStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init lineage store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate lineage store")
	}
	return st, nil
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	ByStatus   map[model.RunStatus]int
	Documents  model.RunCounters
	AvgDurSecs float64
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.IngestionRun) runStats {
	s := runStats{ByStatus: make(map[model.RunStatus]int)}
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		s.ByStatus[r.Status]++
		s.Documents.DocumentsTotal += r.Counters.DocumentsTotal
		s.Documents.DocumentsProcessed += r.Counters.DocumentsProcessed
		s.Documents.DocumentsQuarantined += r.Counters.DocumentsQuarantined
		s.Documents.EntitiesExtracted += r.Counters.EntitiesExtracted
		s.Documents.NodesUpserted += r.Counters.NodesUpserted
		s.Documents.RelationshipsUpserted += r.Counters.RelationshipsUpserted
		s.Documents.ImmutableConflicts += r.Counters.ImmutableConflicts

		if r.CompletedAt != nil {
			totalDur += r.CompletedAt.Sub(r.StartedAt)
			durCount++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.IngestionRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTRIGGER\tSTATUS\tDOCS\tQUAR\tCONFLICTS\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t----\t----\t---------\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Trigger,
			r.Status,
			r.Counters.DocumentsProcessed,
			r.Counters.DocumentsTotal,
			r.Counters.DocumentsQuarantined,
			r.Counters.ImmutableConflicts,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	for _, status := range []model.RunStatus{
		model.RunStatusSucceeded, model.RunStatusWarning, model.RunStatusDegraded,
		model.RunStatusFailed, model.RunStatusCanceled, model.RunStatusRunning,
	} {
		if n := s.ByStatus[status]; n > 0 {
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", status, n)
		}
	}
	_, _ = fmt.Fprintf(w, "Documents:\t%d\n", s.Documents.DocumentsTotal)
	_, _ = fmt.Fprintf(w, "  Processed:\t%d\n", s.Documents.DocumentsProcessed)
	_, _ = fmt.Fprintf(w, "  Quarantined:\t%d\n", s.Documents.DocumentsQuarantined)
	_, _ = fmt.Fprintf(w, "Entities extracted:\t%d\n", s.Documents.EntitiesExtracted)
	_, _ = fmt.Fprintf(w, "Nodes upserted:\t%d\n", s.Documents.NodesUpserted)
	_, _ = fmt.Fprintf(w, "Relationships upserted:\t%d\n", s.Documents.RelationshipsUpserted)
	_, _ = fmt.Fprintf(w, "Immutable conflicts:\t%d\n", s.Documents.ImmutableConflicts)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
