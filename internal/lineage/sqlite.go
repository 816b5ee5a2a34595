package lineage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/registry-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and single-node deployments where running Postgres is not
// worth the operational weight.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id           TEXT PRIMARY KEY,
	trigger_kind TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	source       TEXT NOT NULL DEFAULT '',
	counters     TEXT NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_documents (
	run_id         TEXT NOT NULL REFERENCES ingestion_runs(id),
	document_id    TEXT NOT NULL,
	source_ref     TEXT NOT NULL DEFAULT '',
	content_hash   TEXT NOT NULL DEFAULT '',
	canonical_hash TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT 'pending',
	reason         TEXT NOT NULL DEFAULT '',
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, document_id)
);

CREATE TABLE IF NOT EXISTS lineage_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	document_id TEXT NOT NULL,
	step        TEXT NOT NULL,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	details     TEXT,
	next_action TEXT NOT NULL DEFAULT '',
	severity    TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS quarantine (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	document_id  TEXT NOT NULL,
	source_ref   TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	evidence     TEXT,
	next_action  TEXT NOT NULL DEFAULT '',
	severity     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'open',
	owner        TEXT NOT NULL DEFAULT '',
	resolution   TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, trigger model.TriggerKind, source string) (*model.IngestionRun, error) {
	run := &model.IngestionRun{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    model.RunStatusRunning,
		Source:    source,
		StartedAt: time.Now().UTC(),
	}

	countersJSON, err := json.Marshal(run.Counters)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal counters")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, trigger_kind, status, source, counters, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Trigger), string(run.Status), run.Source, string(countersJSON), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) UpdateRunCounters(ctx context.Context, runID string, counters model.RunCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counters")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET counters = ? WHERE id = ?`,
		string(countersJSON), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run counters %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.IngestionRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, trigger_kind, status, source, counters, error, started_at, completed_at FROM ingestion_runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error) {
	query := `SELECT id, trigger_kind, status, source, counters, error, started_at, completed_at FROM ingestion_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Trigger != "" {
		query += ` AND trigger_kind = ?`
		args = append(args, string(filter.Trigger))
	}
	if !filter.StartedAfter.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.StartedAfter)
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.IngestionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpsertDocument(ctx context.Context, rec *model.DocumentRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_documents (run_id, document_id, source_ref, content_hash, canonical_hash, state, reason, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, document_id) DO UPDATE
		 SET content_hash = excluded.content_hash, canonical_hash = excluded.canonical_hash,
		     state = excluded.state, reason = excluded.reason, updated_at = excluded.updated_at`,
		rec.RunID, rec.DocumentID, rec.SourceRef, rec.ContentHash, rec.CanonicalHash,
		string(rec.State), string(rec.Reason), updatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert document %s", rec.DocumentID)
	}
	return nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, runID string) ([]model.DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, document_id, source_ref, content_hash, canonical_hash, state, reason, updated_at
		 FROM run_documents WHERE run_id = ? ORDER BY document_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list documents for run %s", runID)
	}
	defer rows.Close()

	var recs []model.DocumentRecord
	for rows.Next() {
		var d model.DocumentRecord
		if err := rows.Scan(&d.RunID, &d.DocumentID, &d.SourceRef, &d.ContentHash, &d.CanonicalHash, &d.State, &d.Reason, &d.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		recs = append(recs, d)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *model.LineageEvent) error {
	return insertEvent(ctx, s.db.ExecContext, ev)
}

// AppendEvents writes a batch of events inside one transaction so a partial
// trace never becomes visible.
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []model.LineageEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin events tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range events {
		if err := insertEvent(ctx, tx.ExecContext, &events[i]); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit events")
}

type execFn func(ctx context.Context, query string, args ...any) (sql.Result, error)

func insertEvent(ctx context.Context, exec execFn, ev *model.LineageEvent) error {
	details, err := marshalDetails(ev.Details)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal event details")
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = exec(ctx,
		`INSERT INTO lineage_events (run_id, document_id, step, stage, status, reason, details, next_action, severity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.DocumentID, string(ev.Step), string(ev.Stage), string(ev.Status),
		string(ev.Reason), details, string(ev.NextAction), string(ev.Severity), createdAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: append event for document %s", ev.DocumentID)
	}
	return nil
}

func (s *SQLiteStore) ListDocumentEvents(ctx context.Context, documentID string) ([]model.LineageEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, document_id, step, stage, status, reason, details, next_action, severity, created_at
		 FROM lineage_events WHERE document_id = ? ORDER BY id`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list events for document %s", documentID)
	}
	defer rows.Close()

	var events []model.LineageEvent
	for rows.Next() {
		var ev model.LineageEvent
		var details []byte
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.DocumentID, &ev.Step, &ev.Stage, &ev.Status, &ev.Reason, &details, &ev.NextAction, &ev.Severity, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal event details")
			}
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func (s *SQLiteStore) CreateQuarantine(ctx context.Context, rec *model.QuarantineRecord) (*model.QuarantineRecord, error) {
	q := *rec
	fillQuarantineDefaults(&q)

	evidence, err := marshalDetails(q.Evidence)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal evidence")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quarantine (id, run_id, document_id, source_ref, content_hash, reason, message, evidence, next_action, severity, status, owner, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.RunID, q.DocumentID, q.SourceRef, q.ContentHash, string(q.Reason), q.Message,
		evidence, string(q.NextAction), string(q.Severity), string(q.Status), q.Owner, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert quarantine for document %s", q.DocumentID)
	}
	return &q, nil
}

func (s *SQLiteStore) GetQuarantine(ctx context.Context, id string) (*model.QuarantineRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, document_id, source_ref, content_hash, reason, message, evidence, next_action, severity, status, owner, resolution, created_at, updated_at
		 FROM quarantine WHERE id = ?`,
		id,
	)
	q, err := scanQuarantine(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get quarantine %s", id)
	}
	return q, nil
}

func (s *SQLiteStore) ListQuarantine(ctx context.Context, filter QuarantineFilter) ([]model.QuarantineRecord, error) {
	query := `SELECT id, run_id, document_id, source_ref, content_hash, reason, message, evidence, next_action, severity, status, owner, resolution, created_at, updated_at FROM quarantine WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Reason != "" {
		query += ` AND reason = ?`
		args = append(args, string(filter.Reason))
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quarantine")
	}
	defer rows.Close()

	var recs []model.QuarantineRecord
	for rows.Next() {
		q, err := scanQuarantine(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quarantine")
		}
		recs = append(recs, *q)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list quarantine iterate")
}

func (s *SQLiteStore) ResolveQuarantine(ctx context.Context, id, resolution string) error {
	return s.closeQuarantine(ctx, id, model.QuarantineResolved, resolution)
}

func (s *SQLiteStore) IgnoreQuarantine(ctx context.Context, id, resolution string) error {
	return s.closeQuarantine(ctx, id, model.QuarantineIgnored, resolution)
}

func (s *SQLiteStore) closeQuarantine(ctx context.Context, id string, status model.QuarantineStatus, resolution string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quarantine SET status = ?, resolution = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), resolution, time.Now().UTC(), id, string(model.QuarantineOpen),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: close quarantine %s", id)
	}
	return checkRowsAffected(res, "open quarantine record", id)
}

func (s *SQLiteStore) QuarantineDepth(ctx context.Context) (map[model.ReasonCode]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reason, count(*) FROM quarantine WHERE status = ? GROUP BY reason`,
		string(model.QuarantineOpen),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: quarantine depth")
	}
	defer rows.Close()

	depth := map[model.ReasonCode]int{}
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quarantine depth")
		}
		depth[model.ReasonCode(reason)] = n
	}
	return depth, eris.Wrap(rows.Err(), "sqlite: quarantine depth iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanRun(row scannable) (*model.IngestionRun, error) {
	var r model.IngestionRun
	var countersJSON string
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Trigger, &r.Status, &r.Source, &countersJSON, &r.Error, &r.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(countersJSON), &r.Counters); err != nil {
		return nil, eris.Wrap(err, "unmarshal counters")
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}
