package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/registry-ingest/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Validate and manage mapping definitions",
	Long:  "Commands for validating, listing, and publishing registry and entity definitions.",
}

// -- schema validate --

var schemaValidateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Compile a definition directory and report problems",
	Long:  "Loads every definition file and compiles the full rule set. Exits non-zero on the first malformed file or rule, so it can gate definition changes in CI.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dir := cfg.Schema.Dir
		if len(args) > 0 {
			dir = args[0]
		}

		bundle, err := schema.NewFileStore(dir).Load(ctx)
		if err != nil {
			return err
		}
		snap, err := schema.BuildSnapshot(bundle)
		if err != nil {
			return err
		}

		fmt.Printf("OK: %d registries, %d variants, %d entities\n",
			len(bundle.Registries), snap.VariantCount(), snap.EntityCount())
		return nil
	},
}

// -- schema list --

var schemaListCmd = &cobra.Command{
	Use:   "list [dir]",
	Short: "List loaded registry and entity definitions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dir := cfg.Schema.Dir
		if len(args) > 0 {
			dir = args[0]
		}

		bundle, err := schema.NewFileStore(dir).Load(ctx)
		if err != nil {
			return err
		}
		if len(bundle.Registries) == 0 && len(bundle.Entities) == 0 {
			fmt.Fprintln(os.Stderr, "No definitions found.")
			return nil
		}

		formatBundle(os.Stdout, bundle)
		return nil
	},
}

// -- schema apply --

var schemaApplyCmd = &cobra.Command{
	Use:   "apply [dir]",
	Short: "Publish a definition directory to the schema database",
	Long:  "Compiles the directory first and refuses to publish a rule set that does not compile, then upserts every definition into Postgres.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Schema.DatabaseURL == "" {
			return eris.New("schema.database_url is required for apply")
		}

		dir := cfg.Schema.Dir
		if len(args) > 0 {
			dir = args[0]
		}

		bundle, err := schema.NewFileStore(dir).Load(ctx)
		if err != nil {
			return err
		}
		if _, err := schema.BuildSnapshot(bundle); err != nil {
			return eris.Wrap(err, "definitions do not compile, refusing to apply")
		}

		st, err := schema.NewPostgres(ctx, cfg.Schema.DatabaseURL)
		if err != nil {
			return eris.Wrap(err, "connect schema database")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate schema database")
		}

		for _, reg := range bundle.Registries {
			if err := st.ApplyRegistry(ctx, reg); err != nil {
				return eris.Wrapf(err, "apply registry %s", reg.RegistryCode)
			}
		}
		for _, ent := range bundle.Entities {
			if err := st.ApplyEntity(ctx, ent); err != nil {
				return eris.Wrapf(err, "apply entity %s", ent.Entity)
			}
		}

		fmt.Printf("Applied %d registries, %d entities\n", len(bundle.Registries), len(bundle.Entities))
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaValidateCmd)
	schemaCmd.AddCommand(schemaListCmd)
	schemaCmd.AddCommand(schemaApplyCmd)
	rootCmd.AddCommand(schemaCmd)
}

// formatBundle writes tabular registry and entity listings to w.
func formatBundle(out io.Writer, b *schema.Bundle) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if len(b.Registries) > 0 {
		_, _ = fmt.Fprintln(w, "REGISTRY\tSERVICE\tMETHOD\tVERSION\tSTATUS\tVARIANTS")
		_, _ = fmt.Fprintln(w, "--------\t-------\t------\t-------\t------\t--------")
		for _, r := range b.Registries {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\n",
				r.RegistryCode, orDash(r.ServiceCode), orDash(r.MethodCode),
				r.Version, r.Status, len(r.Variants))
		}
	}

	if len(b.Entities) > 0 {
		if len(b.Registries) > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintln(w, "ENTITY\tVERSION\tSTATUS\tIDENTITY RULES\tPROPERTIES")
		_, _ = fmt.Fprintln(w, "------\t-------\t------\t--------------\t----------")
		for _, e := range b.Entities {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\n",
				e.Entity, e.Version, e.Status, len(e.IdentityKeys), len(e.Properties))
		}
	}

	_ = w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
