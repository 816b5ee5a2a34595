package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/registry-ingest/internal/lineage"
	"github.com/sells-group/registry-ingest/internal/model"
	"github.com/sells-group/registry-ingest/internal/monitoring"
	"github.com/sells-group/registry-ingest/internal/pipeline"
)

// maxIngestBody caps a single uploaded document at 32 MiB.
const maxIngestBody = 32 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP ingestion server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		// Keep the schema snapshot fresh while serving.
		go env.Schemas.RunRefreshLoop(ctx)
		if cfg.Schema.Source == "dir" && cfg.Schema.Watch {
			stopWatch, err := env.Schemas.WatchDir(cfg.Schema.Dir, time.Duration(cfg.Schema.WatchDebounceMs)*time.Millisecond)
			if err != nil {
				zap.L().Warn("schema watch disabled", zap.Error(err))
			} else {
				defer stopWatch() //nolint:errcheck
			}
		}

		// Periodic threshold checks against the lineage store.
		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Lineage),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		mux := newServeMux(ctx, env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			grace := time.Duration(cfg.Server.ShutdownGraceSecs) * time.Second
			shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newServeMux wires the HTTP routes. serveCtx outlives individual requests
// and carries asynchronous batch runs until shutdown.
func newServeMux(serveCtx context.Context, env *ingestEnv) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		h := monitoring.CheckHealth(r.Context(), env.Graph, env.Lineage, env.Schemas, env.Pipeline.Breakers())
		status := http.StatusOK
		if !h.Healthy() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	})

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		hours := cfg.Monitoring.LookbackWindowHours
		if v := r.URL.Query().Get("hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "hours must be a positive integer")
				return
			}
			hours = n
		}
		snap, err := monitoring.NewCollector(env.Lineage).Collect(r.Context(), hours)
		if err != nil {
			zap.L().Error("metrics collection failed", zap.Error(err))
			httpError(w, http.StatusInternalServerError, "metrics collection failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("POST /ingest", func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
		if err != nil {
			httpError(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		if len(payload) == 0 {
			httpError(w, http.StatusBadRequest, "empty document body")
			return
		}

		sourceRef := r.Header.Get("X-Source-Ref")
		if sourceRef == "" {
			sourceRef = uuid.NewString()
		}

		raw := model.RawDocument{
			SourceRef:  sourceRef,
			Payload:    payload,
			FormatHint: r.Header.Get("X-Format-Hint"),
			ReceivedAt: time.Now().UTC(),
		}

		run, out, err := env.Pipeline.RunOne(r.Context(), model.TriggerManual, raw)
		if err != nil {
			zap.L().Error("ingest request failed",
				zap.String("source_ref", sourceRef),
				zap.Error(err),
			)
			httpError(w, http.StatusInternalServerError, "ingest failed")
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Run     *model.IngestionRun `json:"run"`
			Outcome *pipeline.Outcome   `json:"outcome"`
		}{run, out})
	})

	mux.HandleFunc("POST /ingest/batch", func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Documents) == 0 {
			httpError(w, http.StatusBadRequest, "documents is required")
			return
		}

		docs, err := req.rawDocuments()
		if err != nil {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}

		source := req.Source
		if source == "" {
			source = "http"
		}

		// Process asynchronously on the server context so the batch
		// survives the request and stops with the server.
		go func() {
			run, err := env.Pipeline.RunBatch(serveCtx, model.TriggerManual, source, docs, batchConfig())
			if err != nil {
				zap.L().Error("batch ingest failed",
					zap.String("source", source),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("batch ingest complete",
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":    "accepted",
			"source":    source,
			"documents": len(docs),
		})
	})

	mux.HandleFunc("GET /runs", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 50
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		runs, err := env.Lineage.ListRuns(r.Context(), lineage.RunFilter{
			Status:  model.RunStatus(q.Get("status")),
			Trigger: model.TriggerKind(q.Get("trigger")),
			Limit:   limit,
		})
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			httpError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := env.Lineage.GetRun(r.Context(), r.PathValue("id"))
		if err != nil {
			httpError(w, http.StatusNotFound, "run not found")
			return
		}
		docs, err := env.Lineage.ListDocuments(r.Context(), run.ID)
		if err != nil {
			zap.L().Error("list run documents failed", zap.Error(err))
			httpError(w, http.StatusInternalServerError, "list run documents failed")
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Run       *model.IngestionRun    `json:"run"`
			Documents []model.DocumentRecord `json:"documents"`
		}{run, docs})
	})

	mux.HandleFunc("GET /quarantine", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		status := model.QuarantineStatus(q.Get("status"))
		if status == "" {
			status = model.QuarantineOpen
		}
		limit := 50
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		recs, err := env.Lineage.ListQuarantine(r.Context(), lineage.QuarantineFilter{
			Status: status,
			Reason: model.ReasonCode(q.Get("reason")),
			RunID:  q.Get("run_id"),
			Limit:  limit,
		})
		if err != nil {
			zap.L().Error("list quarantine failed", zap.Error(err))
			httpError(w, http.StatusInternalServerError, "list quarantine failed")
			return
		}
		writeJSON(w, http.StatusOK, recs)
	})

	return mux
}

// batchRequest is the POST /ingest/batch body. Payloads arrive base64
// encoded so XML and legacy code pages survive JSON transport.
type batchRequest struct {
	Source    string     `json:"source"`
	Documents []batchDoc `json:"documents"`
}

type batchDoc struct {
	SourceRef  string    `json:"source_ref"`
	Payload    string    `json:"payload"`
	FormatHint string    `json:"format_hint"`
	SourceTS   time.Time `json:"source_ts"`
	ReceivedAt time.Time `json:"received_at"`
}

func (r *batchRequest) rawDocuments() ([]model.RawDocument, error) {
	docs := make([]model.RawDocument, 0, len(r.Documents))
	for i, d := range r.Documents {
		if d.SourceRef == "" {
			return nil, eris.Errorf("documents[%d]: source_ref is required", i)
		}
		payload, err := base64.StdEncoding.DecodeString(d.Payload)
		if err != nil {
			return nil, eris.Errorf("documents[%d]: payload is not valid base64", i)
		}
		receivedAt := d.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = time.Now().UTC()
		}
		docs = append(docs, model.RawDocument{
			SourceRef:  d.SourceRef,
			Payload:    payload,
			FormatHint: d.FormatHint,
			SourceTS:   d.SourceTS,
			ReceivedAt: receivedAt,
		})
	}
	return docs, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
