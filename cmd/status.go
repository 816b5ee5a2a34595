package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/registry-ingest/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline health metrics",
	Long:  "Displays run outcomes, document throughput, and quarantine backlog over a lookback window.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openLineage(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours, _ := cmd.Flags().GetInt("hours")
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		formatMetrics(os.Stdout, snap)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("hours", 0, "lookback window in hours (default monitoring.lookback_window_hours)")
	rootCmd.AddCommand(statusCmd)
}

// formatMetrics writes a metrics snapshot as a key-value block to w.
func formatMetrics(out io.Writer, m *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", m.LookbackHours)
	_, _ = fmt.Fprintf(w, "Runs:\t%d\n", m.RunsTotal)
	_, _ = fmt.Fprintf(w, "  Succeeded:\t%d\n", m.RunsSucceeded)
	_, _ = fmt.Fprintf(w, "  Warning:\t%d\n", m.RunsWarning)
	_, _ = fmt.Fprintf(w, "  Degraded:\t%d\n", m.RunsDegraded)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", m.RunsFailed)
	_, _ = fmt.Fprintf(w, "  Canceled:\t%d\n", m.RunsCanceled)
	_, _ = fmt.Fprintf(w, "  Running:\t%d\n", m.RunsRunning)
	_, _ = fmt.Fprintf(w, "  Failure rate:\t%.1f%%\n", m.RunFailRate*100)
	_, _ = fmt.Fprintf(w, "Documents:\t%d\n", m.DocumentsTotal)
	_, _ = fmt.Fprintf(w, "  Processed:\t%d\n", m.DocumentsProcessed)
	_, _ = fmt.Fprintf(w, "  Quarantined:\t%d\n", m.DocumentsQuarantined)
	_, _ = fmt.Fprintf(w, "  Quarantine rate:\t%.1f%%\n", m.QuarantineRate*100)
	_, _ = fmt.Fprintf(w, "Nodes upserted:\t%d\n", m.NodesUpserted)
	_, _ = fmt.Fprintf(w, "Relationships upserted:\t%d\n", m.RelationshipsUpserted)
	_, _ = fmt.Fprintf(w, "Immutable conflicts:\t%d\n", m.ImmutableConflicts)
	_, _ = fmt.Fprintf(w, "Quarantine backlog:\t%d\n", m.QuarantineDepth)

	reasons := make([]string, 0, len(m.QuarantineByReason))
	for reason := range m.QuarantineByReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", reason, m.QuarantineByReason[reason])
	}

	_ = w.Flush()
}
