//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-ingest/internal/config"
	"github.com/sells-group/registry-ingest/internal/dsl"
	"github.com/sells-group/registry-ingest/internal/graph"
	"github.com/sells-group/registry-ingest/internal/lineage"
	"github.com/sells-group/registry-ingest/internal/model"
	"github.com/sells-group/registry-ingest/internal/monitoring"
	"github.com/sells-group/registry-ingest/internal/pipeline"
	"github.com/sells-group/registry-ingest/internal/schema"
)

type staticSchemaStore struct {
	bundle *schema.Bundle
}

func (s *staticSchemaStore) Load(context.Context) (*schema.Bundle, error) { return s.bundle, nil }
func (s *staticSchemaStore) Close() error                                 { return nil }

// companyBundle maps a minimal company extract: one identity-keyed entity
// from a JSON response document.
func companyBundle() *schema.Bundle {
	return &schema.Bundle{
		Registries: []*schema.RegistryDefinition{{
			RegistryCode: "USR",
			ServiceCode:  "REQ_USR_COMPANY",
			Version:      1,
			Status:       schema.LifecycleActive,
			Variants: []schema.VariantDefinition{{
				VariantID: "usr_company_v1",
				Match:     dsl.PredicateDef{Exists: "$.resp.EDRPOU"},
				Entities:  []schema.EntityRef{{Ref: "company", Entity: "Company", RequireAny: []string{"edrpou"}}},
				Mappings: []schema.MappingDefinition{{Rules: []schema.MappingRule{
					{Source: "$.resp.EDRPOU", Targets: []schema.MappingTarget{{Ref: "company", Property: "edrpou"}}},
					{Source: "$.resp.Name", Targets: []schema.MappingTarget{{Ref: "company", Property: "name"}}},
				}}},
			}},
		}},
		Entities: []*schema.EntityDefinition{{
			Entity:       "Company",
			Status:       schema.LifecycleActive,
			IdentityKeys: []schema.IdentityRule{{Priority: 1, Keys: []string{"edrpou"}}},
		}},
	}
}

// newTestServeEnv builds a full environment on in-process stores and points
// the package config at test-friendly batch settings.
func newTestServeEnv(t *testing.T) *ingestEnv {
	t.Helper()

	cfg = &config.Config{
		Ingest: config.IngestConfig{
			Concurrency:      2,
			DispatchRate:     1000,
			DispatchBurst:    100,
			CounterFlushSecs: 1,
		},
		Monitoring: config.MonitoringConfig{LookbackWindowHours: 24},
	}

	ls, err := lineage.NewSQLite(filepath.Join(t.TempDir(), "lineage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ls.Close() }) //nolint:errcheck
	require.NoError(t, ls.Migrate(context.Background()))

	store := &staticSchemaStore{bundle: companyBundle()}
	cache := schema.NewCache(store, 0)
	require.NoError(t, cache.Refresh(context.Background()))

	gs := graph.NewMemory()

	return &ingestEnv{
		Schemas:     cache,
		Graph:       gs,
		Lineage:     ls,
		Pipeline:    pipeline.New(cache, gs, ls),
		schemaStore: store,
	}
}

func TestServeMux_Health(t *testing.T) {
	env := newTestServeEnv(t)
	mux := newServeMux(context.Background(), env)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var h monitoring.Health
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.True(t, h.Graph.OK)
	assert.True(t, h.Lineage.OK)
	assert.True(t, h.Schema.Loaded)
	assert.Equal(t, 1, h.Schema.Variants)
}

func TestServeMux_Metrics(t *testing.T) {
	env := newTestServeEnv(t)
	mux := newServeMux(context.Background(), env)

	ctx := context.Background()
	run, err := env.Lineage.CreateRun(ctx, model.TriggerManual, "seed")
	require.NoError(t, err)
	require.NoError(t, env.Lineage.UpdateRunCounters(ctx, run.ID, model.RunCounters{
		DocumentsTotal: 4, DocumentsProcessed: 4, NodesUpserted: 4,
	}))
	require.NoError(t, env.Lineage.FinishRun(ctx, run.ID, model.RunStatusSucceeded, ""))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsSucceeded)
	assert.Equal(t, int64(4), snap.NodesUpserted)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestServeMux_Metrics_BadHours(t *testing.T) {
	env := newTestServeEnv(t)
	mux := newServeMux(context.Background(), env)

	for _, q := range []string{"?hours=abc", "?hours=0", "?hours=-3"} {
		req := httptest.NewRequest(http.MethodGet, "/metrics"+q, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "positive integer")
	}
}

func TestServeMux_Ingest_Document(t *testing.T) {
	env := newTestServeEnv(t)
	mux := newServeMux(context.Background(), env)

	body := `{"resp": {"EDRPOU": "32855961", "Name": "Acme LLC"}}`
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	req.Header.Set("X-Source-Ref", "usr-32855961.json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Run     *model.IngestionRun `json:"run"`
		Outcome *pipeline.Outcome   `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Run)
	require.NotNil(t, resp.Outcome)

	assert.Equal(t, model.RunStatusSucceeded, resp.Run.Status)
	assert.False(t, resp.Outcome.Quarantined)
	assert.Equal(t, 1, resp.Outcome.Nodes)

	// The node landed in the graph under its deterministic identity.
	assert.Equal(t, 1, env.Graph.(*graph.MemoryStore).NodeCount())
}

func TestServeMux_Ingest_QuarantinesBadPayload(t *testing.T) {
	env := newTestServeEnv(t)
	mux := newServeMux(context.Background(), env)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("definitely not a document"))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Run     *model.IngestionRun `json:"run"`
		Outcome *pipeline.Outcome   `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, model.RunStatusWarning, resp.Run.Status)
	assert.True(t, resp.Outcome.Quarantined)
	assert.Equal(t, model.ReasonParseError, resp.Outcome.Reason)
}

func TestServeMux_Ingest_EmptyBody(t *testing.T) {
	env := newTestServeEnv(t)
	mux := newServeMux(context.Background(), env)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(nil))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "empty document body")
}

func TestServeMux_IngestBatch_Accepted(t *testing.T) {
	env := newTestServeEnv(t)
	mux := newServeMux(context.Background(), env)

	doc := func(ref, edrpou string) batchDoc {
		payload := `{"resp": {"EDRPOU": "` + edrpou + `"}}`
		return batchDoc{SourceRef: ref, Payload: base64.StdEncoding.EncodeToString([]byte(payload))}
	}
	body, err := json.Marshal(batchRequest{
		Source:    "partner-feed",
		Documents: []batchDoc{doc("a.json", "11111111"), doc("b.json", "22222222")},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ingest/batch", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "partner-feed", resp["source"])
	assert.Equal(t, float64(2), resp["documents"])

	// The batch runs asynchronously; wait for its terminal run record.
	require.Eventually(t, func() bool {
		runs, err := env.Lineage.ListRuns(context.Background(), lineage.RunFilter{Limit: 10})
		if err != nil || len(runs) == 0 {
			return false
		}
		return runs[0].Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	runs, err := env.Lineage.ListRuns(context.Background(), lineage.RunFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusSucceeded, runs[0].Status)
	assert.Equal(t, "partner-feed", runs[0].Source)
	assert.Equal(t, int64(2), runs[0].Counters.DocumentsProcessed)
	assert.Equal(t, 2, env.Graph.(*graph.MemoryStore).NodeCount())
}

func TestServeMux_IngestBatch_Validation(t *testing.T) {
	env := newTestServeEnv(t)
	mux := newServeMux(context.Background(), env)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "not json", "invalid request body"},
		{"no documents", `{"source": "x"}`, "documents is required"},
		{"missing source ref", `{"documents": [{"payload": "aGk="}]}`, "source_ref is required"},
		{"bad base64", `{"documents": [{"source_ref": "a", "payload": "!!!"}]}`, "not valid base64"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/ingest/batch", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.want)
		})
	}
}

func TestServeMux_Runs(t *testing.T) {
	env := newTestServeEnv(t)
	mux := newServeMux(context.Background(), env)

	ctx := context.Background()
	run, err := env.Lineage.CreateRun(ctx, model.TriggerScheduler, "nightly")
	require.NoError(t, err)
	require.NoError(t, env.Lineage.FinishRun(ctx, run.ID, model.RunStatusSucceeded, ""))

	req := httptest.NewRequest(http.MethodGet, "/runs?status=succeeded", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var runs []model.IngestionRun
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	// A status filter that matches nothing returns an empty list.
	req = httptest.NewRequest(http.MethodGet, "/runs?status=failed", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestServeMux_RunByID(t *testing.T) {
	env := newTestServeEnv(t)
	mux := newServeMux(context.Background(), env)

	ctx := context.Background()
	run, err := env.Lineage.CreateRun(ctx, model.TriggerManual, "test")
	require.NoError(t, err)
	require.NoError(t, env.Lineage.UpsertDocument(ctx, &model.DocumentRecord{
		DocumentID: "doc-1",
		RunID:      run.ID,
		SourceRef:  "a.json",
		State:      model.DocStateProcessed,
	}))

	req := httptest.NewRequest(http.MethodGet, "/runs/"+run.ID, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Run       *model.IngestionRun    `json:"run"`
		Documents []model.DocumentRecord `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, run.ID, resp.Run.ID)
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, "doc-1", resp.Documents[0].DocumentID)
}

func TestServeMux_RunByID_NotFound(t *testing.T) {
	env := newTestServeEnv(t)
	mux := newServeMux(context.Background(), env)

	req := httptest.NewRequest(http.MethodGet, "/runs/nonexistent", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "run not found")
}

func TestServeMux_Quarantine(t *testing.T) {
	env := newTestServeEnv(t)
	mux := newServeMux(context.Background(), env)

	ctx := context.Background()
	run, err := env.Lineage.CreateRun(ctx, model.TriggerManual, "test")
	require.NoError(t, err)
	_, err = env.Lineage.CreateQuarantine(ctx, &model.QuarantineRecord{
		RunID:      run.ID,
		DocumentID: "doc-bad",
		SourceRef:  "bad.xml",
		Reason:     model.ReasonParseError,
		Message:    "unexpected EOF",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/quarantine", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var recs []model.QuarantineRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, model.ReasonParseError, recs[0].Reason)
	assert.Equal(t, model.QuarantineOpen, recs[0].Status)

	// Default status filter hides non-open records.
	require.NoError(t, env.Lineage.ResolveQuarantine(ctx, recs[0].ID, "fixed upstream"))

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/quarantine", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	recs = nil
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	assert.Empty(t, recs)
}
