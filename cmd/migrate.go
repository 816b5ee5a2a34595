package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/registry-ingest/internal/graph"
	"github.com/sells-group/registry-ingest/internal/schema"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Creates or updates the lineage tables, the schema definition tables when Postgres-backed, and the graph uniqueness constraints when Neo4j-backed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("lineage"); err != nil {
			return err
		}

		ls, err := initLineageStore(ctx)
		if err != nil {
			return eris.Wrap(err, "init lineage store")
		}
		defer ls.Close() //nolint:errcheck

		if err := ls.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate lineage store")
		}
		zap.L().Info("lineage migrations applied", zap.String("driver", cfg.Lineage.Driver))

		if cfg.Schema.Source == "postgres" {
			ss, err := schema.NewPostgres(ctx, cfg.Schema.DatabaseURL)
			if err != nil {
				return eris.Wrap(err, "connect schema database")
			}
			defer ss.Close() //nolint:errcheck

			if err := ss.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate schema store")
			}
			zap.L().Info("schema migrations applied")
		}

		if cfg.Graph.Backend == "neo4j" {
			gs, err := initGraphStore(ctx)
			if err != nil {
				return eris.Wrap(err, "init graph store")
			}
			defer gs.Close(ctx) //nolint:errcheck

			if neo, ok := gs.(*graph.Neo4jStore); ok {
				labels, err := loadEntityLabels(ctx)
				if err != nil {
					return err
				}
				neo.EnsureSchema(ctx, labels)
				zap.L().Info("graph constraints ensured", zap.Int("labels", len(labels)))
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

// loadEntityLabels loads the current definitions to learn which node labels
// need uniqueness constraints.
func loadEntityLabels(ctx context.Context) ([]string, error) {
	ss, err := initSchemaStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init schema store")
	}
	defer ss.Close() //nolint:errcheck

	bundle, err := ss.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load definitions")
	}
	snap, err := schema.BuildSnapshot(bundle)
	if err != nil {
		return nil, eris.Wrap(err, "compile definitions")
	}
	return snap.EntityTypes(), nil
}
