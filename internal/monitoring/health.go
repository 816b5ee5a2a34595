package monitoring

import (
	"context"
	"time"

	"github.com/sells-group/registry-ingest/internal/graph"
	"github.com/sells-group/registry-ingest/internal/lineage"
	"github.com/sells-group/registry-ingest/internal/resilience"
	"github.com/sells-group/registry-ingest/internal/schema"
)

// ComponentHealth reports the outcome of a single dependency probe.
type ComponentHealth struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// SchemaHealth reports the state of the schema cache.
type SchemaHealth struct {
	Loaded   bool       `json:"loaded"`
	Variants int        `json:"variants"`
	Entities int        `json:"entities"`
	LoadedAt *time.Time `json:"loaded_at,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Health is the aggregate health report served by the HTTP server.
type Health struct {
	Status    string            `json:"status"`
	Graph     ComponentHealth   `json:"graph"`
	Lineage   ComponentHealth   `json:"lineage"`
	Schema    SchemaHealth      `json:"schema"`
	Breakers  map[string]string `json:"breakers,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Healthy reports whether every probed component is usable.
func (h *Health) Healthy() bool {
	return h.Graph.OK && h.Lineage.OK && h.Schema.Loaded
}

// CheckHealth probes both stores, inspects the schema cache and reads the
// circuit breaker states. It never fails outright; degraded components are
// reported in the result so the caller can choose a status code.
func CheckHealth(ctx context.Context, graphStore graph.Store, lineageStore lineage.Store, schemas *schema.Cache, breakers *resilience.ServiceBreakers) *Health {
	h := &Health{CheckedAt: time.Now().UTC()}

	if graphStore != nil {
		if err := graphStore.Ping(ctx); err != nil {
			h.Graph.Error = err.Error()
		} else {
			h.Graph.OK = true
		}
	}

	if lineageStore != nil {
		if err := lineageStore.Ping(ctx); err != nil {
			h.Lineage.Error = err.Error()
		} else {
			h.Lineage.OK = true
		}
	}

	if schemas != nil {
		snap, err := schemas.Current()
		if err != nil {
			h.Schema.Error = err.Error()
		} else {
			loadedAt := snap.LoadedAt()
			h.Schema.Loaded = true
			h.Schema.Variants = snap.VariantCount()
			h.Schema.Entities = snap.EntityCount()
			h.Schema.LoadedAt = &loadedAt
		}
	}

	if breakers != nil {
		states := breakers.States()
		if len(states) > 0 {
			h.Breakers = make(map[string]string, len(states))
			for name, state := range states {
				h.Breakers[name] = state.String()
			}
		}
	}

	if h.Healthy() {
		h.Status = "ok"
	} else {
		h.Status = "degraded"
	}
	return h
}
