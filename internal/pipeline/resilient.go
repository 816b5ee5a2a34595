package pipeline

import (
	"context"

	"github.com/sells-group/registry-ingest/internal/graph"
	"github.com/sells-group/registry-ingest/internal/resilience"
)

// resilientGraph wraps the graph store with the pipeline's retry policy and
// circuit breaker, so stage code calls the store without resilience
// plumbing. Only store call results feed the breaker; rejections computed
// from fetched state never trip it.
type resilientGraph struct {
	inner   graph.Store
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

var _ graph.Store = (*resilientGraph)(nil)

func (g *resilientGraph) FetchNodes(ctx context.Context, label string, ids []string) (map[string][]*graph.Node, error) {
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (map[string][]*graph.Node, error) {
		return resilience.DoVal(ctx, g.retryFor("fetch_nodes"), func(ctx context.Context) (map[string][]*graph.Node, error) {
			return g.inner.FetchNodes(ctx, label, ids)
		})
	})
}

func (g *resilientGraph) UpsertNodes(ctx context.Context, nodes []*graph.Node) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, g.retryFor("upsert_nodes"), func(ctx context.Context) error {
			return g.inner.UpsertNodes(ctx, nodes)
		})
	})
}

func (g *resilientGraph) UpsertRelationships(ctx context.Context, rels []*graph.Relationship) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, g.retryFor("upsert_relationships"), func(ctx context.Context) error {
			return g.inner.UpsertRelationships(ctx, rels)
		})
	})
}

// Ping and Close pass through: health checks manage their own deadlines and
// must observe the real store even while the breaker is open.
func (g *resilientGraph) Ping(ctx context.Context) error { return g.inner.Ping(ctx) }

func (g *resilientGraph) Close(ctx context.Context) error { return g.inner.Close(ctx) }

func (g *resilientGraph) retryFor(op string) resilience.RetryConfig {
	cfg := g.retry
	cfg.OnRetry = resilience.RetryLogger(graphStoreName, op)
	return cfg
}
