package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/registry-ingest/internal/lineage"
	"github.com/sells-group/registry-ingest/internal/model"
)

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Manage quarantined documents",
	Long:  "Commands for listing, inspecting, and resolving documents that failed ingestion.",
}

// -- quarantine list --

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantine records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openLineage(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		reason, _ := cmd.Flags().GetString("reason")
		runID, _ := cmd.Flags().GetString("run")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := lineage.QuarantineFilter{
			Status: model.QuarantineStatus(status),
			Reason: model.ReasonCode(reason),
			RunID:  runID,
			Limit:  limit,
		}

		recs, err := st.ListQuarantine(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "quarantine list")
		}

		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No quarantine records found.")
			return nil
		}

		formatQuarantineList(os.Stdout, recs)
		return nil
	},
}

// -- quarantine show --

var quarantineShowCmd = &cobra.Command{
	Use:   "show <quarantine-id>",
	Short: "Show full details of a quarantine record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openLineage(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetQuarantine(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "quarantine show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// -- quarantine resolve --

var quarantineResolveCmd = &cobra.Command{
	Use:   "resolve <quarantine-id>",
	Short: "Mark a quarantine record as resolved",
	Long:  "Marks the record resolved after the underlying problem has been fixed, so the document can be re-ingested.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openLineage(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		note, _ := cmd.Flags().GetString("note")
		if err := st.ResolveQuarantine(ctx, args[0], note); err != nil {
			return eris.Wrap(err, "quarantine resolve")
		}

		fmt.Printf("Resolved %s\n", args[0])
		return nil
	},
}

// -- quarantine ignore --

var quarantineIgnoreCmd = &cobra.Command{
	Use:   "ignore <quarantine-id>",
	Short: "Mark a quarantine record as ignored",
	Long:  "Marks the record ignored when the document will never be re-ingested, closing it without a fix.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openLineage(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		note, _ := cmd.Flags().GetString("note")
		if err := st.IgnoreQuarantine(ctx, args[0], note); err != nil {
			return eris.Wrap(err, "quarantine ignore")
		}

		fmt.Printf("Ignored %s\n", args[0])
		return nil
	},
}

// -- quarantine depth --

var quarantineDepthCmd = &cobra.Command{
	Use:   "depth",
	Short: "Show the open quarantine backlog by reason",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openLineage(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		depth, err := st.QuarantineDepth(ctx)
		if err != nil {
			return eris.Wrap(err, "quarantine depth")
		}

		if len(depth) == 0 {
			fmt.Println("Quarantine is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "REASON\tOPEN")
		_, _ = fmt.Fprintln(w, "------\t----")
		total := 0
		for reason, n := range depth {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", reason, n)
			total += n
		}
		_, _ = fmt.Fprintf(w, "total\t%d\n", total)
		return w.Flush()
	},
}

func init() {
	quarantineListCmd.Flags().String("status", string(model.QuarantineOpen), "filter by status (open, resolved, ignored)")
	quarantineListCmd.Flags().String("reason", "", "filter by reason code (parse_error, schema_not_found, ...)")
	quarantineListCmd.Flags().String("run", "", "filter by run id")
	quarantineListCmd.Flags().Int("limit", 50, "max number of records to display")

	quarantineResolveCmd.Flags().String("note", "", "resolution note recorded on the record")
	quarantineIgnoreCmd.Flags().String("note", "", "resolution note recorded on the record")

	quarantineCmd.AddCommand(quarantineListCmd)
	quarantineCmd.AddCommand(quarantineShowCmd)
	quarantineCmd.AddCommand(quarantineResolveCmd)
	quarantineCmd.AddCommand(quarantineIgnoreCmd)
	quarantineCmd.AddCommand(quarantineDepthCmd)
	rootCmd.AddCommand(quarantineCmd)
}

// formatQuarantineList writes a tabular list of quarantine records to w.
func formatQuarantineList(out io.Writer, recs []model.QuarantineRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tREASON\tSTATUS\tSEVERITY\tSOURCE\tNEXT ACTION\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t--------\t------\t-----------\t-------")

	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Reason,
			r.Status,
			r.Severity,
			truncate(r.SourceRef, 32),
			r.NextAction,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
