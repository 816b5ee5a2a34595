package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-ingest/internal/graph"
	"github.com/sells-group/registry-ingest/internal/lineage"
	"github.com/sells-group/registry-ingest/internal/pipeline"
	"github.com/sells-group/registry-ingest/internal/resilience"
	"github.com/sells-group/registry-ingest/internal/schema"
)

// ingestEnv holds the initialized stores, schema cache, and pipeline needed
// by the ingest and serve commands.
type ingestEnv struct {
	Schemas  *schema.Cache
	Graph    graph.Store
	Lineage  lineage.Store
	Pipeline *pipeline.Pipeline

	schemaStore schema.Store
}

// Close releases resources held by the environment.
func (e *ingestEnv) Close() {
	if e.schemaStore != nil {
		_ = e.schemaStore.Close()
	}
	if e.Graph != nil {
		_ = e.Graph.Close(context.Background())
	}
	if e.Lineage != nil {
		_ = e.Lineage.Close()
	}
}

// initLineageStore opens the configured lineage backend.
func initLineageStore(ctx context.Context) (lineage.Store, error) {
	switch cfg.Lineage.Driver {
	case "sqlite":
		return lineage.NewSQLite(cfg.Lineage.SQLitePath)
	default:
		return lineage.NewPostgres(ctx, cfg.Lineage.DatabaseURL, &lineage.PoolConfig{
			MaxConns: int32(cfg.Lineage.MaxConns),
			MinConns: int32(cfg.Lineage.MinConns),
		})
	}
}

// initGraphStore opens the configured graph backend.
func initGraphStore(ctx context.Context) (graph.Store, error) {
	switch cfg.Graph.Backend {
	case "jsonl":
		return graph.NewJSONL(cfg.Graph.JSONLPath)
	case "memory":
		return graph.NewMemory(), nil
	default:
		return graph.NewNeo4j(ctx, graph.Neo4jConfig{
			URI:         cfg.Graph.URI,
			Username:    cfg.Graph.Username,
			Password:    cfg.Graph.Password,
			Database:    cfg.Graph.Database,
			MaxPoolSize: cfg.Graph.MaxPoolSize,
			Timeout:     time.Duration(cfg.Graph.TimeoutSecs) * time.Second,
		})
	}
}

// initSchemaStore opens the configured definition source.
func initSchemaStore(ctx context.Context) (schema.Store, error) {
	switch cfg.Schema.Source {
	case "postgres":
		return schema.NewPostgres(ctx, cfg.Schema.DatabaseURL)
	default:
		return schema.NewFileStore(cfg.Schema.Dir), nil
	}
}

// batchConfig maps ingest settings onto the pipeline dispatch config.
func batchConfig() pipeline.BatchConfig {
	return pipeline.BatchConfig{
		Concurrency:   cfg.Ingest.Concurrency,
		DispatchRate:  cfg.Ingest.DispatchRate,
		DispatchBurst: cfg.Ingest.DispatchBurst,
		CounterFlush:  time.Duration(cfg.Ingest.CounterFlushSecs) * time.Second,
	}
}

// initEnv validates config for the given mode, opens both stores, loads the
// schema snapshot, and builds the pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*ingestEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	ls, err := initLineageStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init lineage store")
	}
	if err := ls.Migrate(ctx); err != nil {
		_ = ls.Close()
		return nil, eris.Wrap(err, "migrate lineage store")
	}

	gs, err := initGraphStore(ctx)
	if err != nil {
		_ = ls.Close()
		return nil, eris.Wrap(err, "init graph store")
	}

	ss, err := initSchemaStore(ctx)
	if err != nil {
		_ = gs.Close(ctx)
		_ = ls.Close()
		return nil, eris.Wrap(err, "init schema store")
	}

	cache := schema.NewCache(ss, time.Duration(cfg.Schema.RefreshSecs)*time.Second)
	if err := cache.Refresh(ctx); err != nil {
		_ = ss.Close()
		_ = gs.Close(ctx)
		_ = ls.Close()
		return nil, eris.Wrap(err, "load schema snapshot")
	}

	// Uniqueness constraints are best-effort; the store merges on id either way.
	if neo, ok := gs.(*graph.Neo4jStore); ok {
		if snap, err := cache.Current(); err == nil {
			neo.EnsureSchema(ctx, snap.EntityTypes())
		}
	}

	breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(
		cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs))
	retry := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier, cfg.Retry.JitterFraction)

	p := pipeline.New(cache, gs, ls,
		pipeline.WithRetry(retry),
		pipeline.WithBreakers(breakers),
	)

	zap.L().Info("pipeline initialized",
		zap.String("graph_backend", cfg.Graph.Backend),
		zap.String("lineage_driver", cfg.Lineage.Driver),
		zap.String("schema_source", cfg.Schema.Source),
	)

	return &ingestEnv{
		Schemas:     cache,
		Graph:       gs,
		Lineage:     ls,
		Pipeline:    p,
		schemaStore: ss,
	}, nil
}
