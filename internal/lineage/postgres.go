package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-ingest/internal/db"
	"github.com/sells-group/registry-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"insert_run":          `INSERT INTO ingestion_runs (id, trigger_kind, status, source, counters, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_run_counters": `UPDATE ingestion_runs SET counters = $1 WHERE id = $2`,
	"finish_run":          `UPDATE ingestion_runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
	"get_run":             `SELECT id, trigger_kind, status, source, counters, error, started_at, completed_at FROM ingestion_runs WHERE id = $1`,
	"upsert_document":     `INSERT INTO run_documents (run_id, document_id, source_ref, content_hash, canonical_hash, state, reason, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (run_id, document_id) DO UPDATE SET content_hash = EXCLUDED.content_hash, canonical_hash = EXCLUDED.canonical_hash, state = EXCLUDED.state, reason = EXCLUDED.reason, updated_at = EXCLUDED.updated_at`,
	"insert_event":        `INSERT INTO lineage_events (run_id, document_id, step, stage, status, reason, details, next_action, severity, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"insert_quarantine":   `INSERT INTO quarantine (id, run_id, document_id, source_ref, content_hash, reason, message, evidence, next_action, severity, status, owner, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	trigger_kind TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	source       TEXT NOT NULL DEFAULT '',
	counters     JSONB NOT NULL DEFAULT '{}'::jsonb,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_documents (
	run_id         TEXT NOT NULL REFERENCES ingestion_runs(id),
	document_id    TEXT NOT NULL,
	source_ref     TEXT NOT NULL DEFAULT '',
	content_hash   TEXT NOT NULL DEFAULT '',
	canonical_hash TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT 'pending',
	reason         TEXT NOT NULL DEFAULT '',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, document_id)
);

CREATE TABLE IF NOT EXISTS lineage_events (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT NOT NULL,
	document_id TEXT NOT NULL,
	step        TEXT NOT NULL,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	details     JSONB,
	next_action TEXT NOT NULL DEFAULT '',
	severity    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS quarantine (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id       TEXT NOT NULL,
	document_id  TEXT NOT NULL,
	source_ref   TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	evidence     JSONB,
	next_action  TEXT NOT NULL DEFAULT '',
	severity     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'open',
	owner        TEXT NOT NULL DEFAULT '',
	resolution   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_status ON ingestion_runs(status);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started_at ON ingestion_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_documents_state ON run_documents(state);
CREATE INDEX IF NOT EXISTS idx_lineage_events_run_id ON lineage_events(run_id);
CREATE INDEX IF NOT EXISTS idx_lineage_events_document_id ON lineage_events(document_id);
CREATE INDEX IF NOT EXISTS idx_quarantine_status ON quarantine(status);
CREATE INDEX IF NOT EXISTS idx_quarantine_reason ON quarantine(reason);
CREATE INDEX IF NOT EXISTS idx_quarantine_run_id ON quarantine(run_id);
`

// Migrate applies the schema migration.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return eris.Wrap(err, "postgres: ping")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, trigger model.TriggerKind, source string) (*model.IngestionRun, error) {
	run := &model.IngestionRun{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    model.RunStatusRunning,
		Source:    source,
		StartedAt: time.Now().UTC(),
	}

	countersJSON, err := json.Marshal(run.Counters)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal counters")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ingestion_runs (id, trigger_kind, status, source, counters, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.Trigger), string(run.Status), run.Source, countersJSON, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) UpdateRunCounters(ctx context.Context, runID string, counters model.RunCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counters")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs SET counters = $1 WHERE id = $2`,
		countersJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run counters %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.IngestionRun, error) {
	var r model.IngestionRun
	var countersJSON []byte
	var completedAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, trigger_kind, status, source, counters, error, started_at, completed_at FROM ingestion_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Trigger, &r.Status, &r.Source, &countersJSON, &r.Error, &r.StartedAt, &completedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(countersJSON, &r.Counters); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal counters")
	}
	r.CompletedAt = completedAt
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error) {
	query := `SELECT id, trigger_kind, status, source, counters, error, started_at, completed_at FROM ingestion_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Trigger != "" {
		query += fmt.Sprintf(` AND trigger_kind = $%d`, argIdx)
		args = append(args, string(filter.Trigger))
		argIdx++
	}
	if !filter.StartedAfter.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.StartedAfter)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.IngestionRun
	for rows.Next() {
		var r model.IngestionRun
		var countersJSON []byte
		var completedAt *time.Time

		if err := rows.Scan(&r.ID, &r.Trigger, &r.Status, &r.Source, &countersJSON, &r.Error, &r.StartedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(countersJSON, &r.Counters); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal counters")
		}
		r.CompletedAt = completedAt
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpsertDocument(ctx context.Context, rec *model.DocumentRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_documents (run_id, document_id, source_ref, content_hash, canonical_hash, state, reason, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (run_id, document_id) DO UPDATE
		 SET content_hash = EXCLUDED.content_hash, canonical_hash = EXCLUDED.canonical_hash,
		     state = EXCLUDED.state, reason = EXCLUDED.reason, updated_at = EXCLUDED.updated_at`,
		rec.RunID, rec.DocumentID, rec.SourceRef, rec.ContentHash, rec.CanonicalHash,
		string(rec.State), string(rec.Reason), updatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert document %s", rec.DocumentID)
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, runID string) ([]model.DocumentRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, document_id, source_ref, content_hash, canonical_hash, state, reason, updated_at
		 FROM run_documents WHERE run_id = $1 ORDER BY document_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list documents for run %s", runID)
	}
	defer rows.Close()

	var recs []model.DocumentRecord
	for rows.Next() {
		var d model.DocumentRecord
		if err := rows.Scan(&d.RunID, &d.DocumentID, &d.SourceRef, &d.ContentHash, &d.CanonicalHash, &d.State, &d.Reason, &d.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		recs = append(recs, d)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *model.LineageEvent) error {
	details, err := marshalDetails(ev.Details)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal event details")
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO lineage_events (run_id, document_id, step, stage, status, reason, details, next_action, severity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.RunID, ev.DocumentID, string(ev.Step), string(ev.Stage), string(ev.Status),
		string(ev.Reason), details, string(ev.NextAction), string(ev.Severity), createdAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: append event for document %s", ev.DocumentID)
	}
	return nil
}

// lineageEventColumns is the column order used by the bulk COPY path; it must
// stay in sync with the rows built in AppendEvents.
var lineageEventColumns = []string{
	"run_id", "document_id", "step", "stage", "status",
	"reason", "details", "next_action", "severity", "created_at",
}

// AppendEvents bulk-inserts a batch of events via the COPY protocol. The
// pipeline flushes one batch per document, which keeps the trace write cost
// flat regardless of how many steps a document passed through.
func (s *PostgresStore) AppendEvents(ctx context.Context, events []model.LineageEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		details, err := marshalDetails(ev.Details)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal event details")
		}
		createdAt := ev.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		rows = append(rows, []any{
			ev.RunID, ev.DocumentID, string(ev.Step), string(ev.Stage), string(ev.Status),
			string(ev.Reason), details, string(ev.NextAction), string(ev.Severity), createdAt,
		})
	}

	if _, err := db.CopyFrom(ctx, s.pool, "lineage_events", lineageEventColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: copy lineage events")
	}
	return nil
}

func (s *PostgresStore) ListDocumentEvents(ctx context.Context, documentID string) ([]model.LineageEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, document_id, step, stage, status, reason, details, next_action, severity, created_at
		 FROM lineage_events WHERE document_id = $1 ORDER BY id`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list events for document %s", documentID)
	}
	defer rows.Close()

	var events []model.LineageEvent
	for rows.Next() {
		var ev model.LineageEvent
		var details []byte
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.DocumentID, &ev.Step, &ev.Stage, &ev.Status, &ev.Reason, &details, &ev.NextAction, &ev.Severity, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal event details")
			}
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func (s *PostgresStore) CreateQuarantine(ctx context.Context, rec *model.QuarantineRecord) (*model.QuarantineRecord, error) {
	q := *rec
	fillQuarantineDefaults(&q)

	evidence, err := marshalDetails(q.Evidence)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal evidence")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO quarantine (id, run_id, document_id, source_ref, content_hash, reason, message, evidence, next_action, severity, status, owner, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		q.ID, q.RunID, q.DocumentID, q.SourceRef, q.ContentHash, string(q.Reason), q.Message,
		evidence, string(q.NextAction), string(q.Severity), string(q.Status), q.Owner, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert quarantine for document %s", q.DocumentID)
	}
	return &q, nil
}

func (s *PostgresStore) GetQuarantine(ctx context.Context, id string) (*model.QuarantineRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, run_id, document_id, source_ref, content_hash, reason, message, evidence, next_action, severity, status, owner, resolution, created_at, updated_at
		 FROM quarantine WHERE id = $1`,
		id,
	)

	q, err := scanQuarantine(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get quarantine %s", id)
	}
	return q, nil
}

func (s *PostgresStore) ListQuarantine(ctx context.Context, filter QuarantineFilter) ([]model.QuarantineRecord, error) {
	query := `SELECT id, run_id, document_id, source_ref, content_hash, reason, message, evidence, next_action, severity, status, owner, resolution, created_at, updated_at FROM quarantine WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Reason != "" {
		query += fmt.Sprintf(` AND reason = $%d`, argIdx)
		args = append(args, string(filter.Reason))
		argIdx++
	}
	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quarantine")
	}
	defer rows.Close()

	var recs []model.QuarantineRecord
	for rows.Next() {
		q, err := scanQuarantine(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan quarantine")
		}
		recs = append(recs, *q)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list quarantine iterate")
}

func (s *PostgresStore) ResolveQuarantine(ctx context.Context, id, resolution string) error {
	return s.closeQuarantine(ctx, id, model.QuarantineResolved, resolution)
}

func (s *PostgresStore) IgnoreQuarantine(ctx context.Context, id, resolution string) error {
	return s.closeQuarantine(ctx, id, model.QuarantineIgnored, resolution)
}

// closeQuarantine transitions an open record to a terminal review status.
// Records already resolved or ignored are not reopened.
func (s *PostgresStore) closeQuarantine(ctx context.Context, id string, status model.QuarantineStatus, resolution string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quarantine SET status = $1, resolution = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
		string(status), resolution, time.Now().UTC(), id, string(model.QuarantineOpen),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: close quarantine %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("open quarantine record not found: %s", id)
	}
	return nil
}

// QuarantineDepth counts open quarantine records grouped by reason.
func (s *PostgresStore) QuarantineDepth(ctx context.Context) (map[model.ReasonCode]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT reason, count(*) FROM quarantine WHERE status = $1 GROUP BY reason`,
		string(model.QuarantineOpen),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: quarantine depth")
	}
	defer rows.Close()

	depth := map[model.ReasonCode]int{}
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quarantine depth")
		}
		depth[model.ReasonCode(reason)] = n
	}
	return depth, eris.Wrap(rows.Err(), "postgres: quarantine depth iterate")
}

// helpers

func marshalDetails(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// fillQuarantineDefaults assigns identifiers, review defaults, and the
// suggested follow-up derived from the reason code when the caller left them
// unset.
func fillQuarantineDefaults(q *model.QuarantineRecord) {
	now := time.Now().UTC()
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.Status == "" {
		q.Status = model.QuarantineOpen
	}
	if q.Owner == "" {
		q.Owner = model.DefaultQuarantineOwner
	}
	if q.NextAction == "" || q.Severity == "" {
		action, severity := model.SuggestedAction(q.Reason)
		if q.NextAction == "" {
			q.NextAction = action
		}
		if q.Severity == "" {
			q.Severity = severity
		}
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = now
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanQuarantine(row scannable) (*model.QuarantineRecord, error) {
	var q model.QuarantineRecord
	var evidence []byte

	err := row.Scan(&q.ID, &q.RunID, &q.DocumentID, &q.SourceRef, &q.ContentHash, &q.Reason, &q.Message,
		&evidence, &q.NextAction, &q.Severity, &q.Status, &q.Owner, &q.Resolution, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &q.Evidence); err != nil {
			return nil, eris.Wrap(err, "unmarshal evidence")
		}
	}
	return &q, nil
}
