// Package sqlite provides an embedded usage and audit store for
// single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/upb/llm-governance-gateway/models"
	"github.com/upb/llm-governance-gateway/repositories"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// timestamps are stored as fixed-width UTC text so that string comparison
// matches chronological order
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
    request_id        TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    project_id        TEXT,
    provider          TEXT NOT NULL,
    model             TEXT NOT NULL,
    prompt_tokens     INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    cost              REAL NOT NULL DEFAULT 0,
    duration_ms       INTEGER NOT NULL DEFAULT 0,
    status            TEXT NOT NULL,
    trace_id          TEXT NOT NULL DEFAULT '',
    created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_project_created ON usage_records(project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_records_user_created ON usage_records(user_id, created_at);

CREATE TABLE IF NOT EXISTS gateway_audit_events (
    id          TEXT PRIMARY KEY,
    request_id  TEXT NOT NULL,
    trace_id    TEXT NOT NULL DEFAULT '',
    user_id     TEXT NOT NULL DEFAULT '',
    project_id  TEXT,
    provider    TEXT NOT NULL DEFAULT '',
    model       TEXT NOT NULL DEFAULT '',
    stage       TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    reason_code TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    cost        REAL NOT NULL DEFAULT 0,
    payload     TEXT,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gateway_audit_events_request_id ON gateway_audit_events(request_id);
`

// Store is a SQLite-backed usage and audit store
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the database at path and runs the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; also keeps ":memory:" to a single shared database
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("sqlite store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Repositories exposes the store through the repository interfaces
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Usage: &UsageRepository{store: s},
		Audit: &AuditRepository{store: s},
	}
}

// DB returns the underlying pool
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// UsageRepository implements repositories.UsageRepository on SQLite
type UsageRepository struct {
	store *Store
}

// Insert stores a usage record. Duplicate request ids are ignored.
func (r *UsageRepository) Insert(ctx context.Context, rec *models.UsageRecord) (bool, error) {
	result, err := r.store.db.ExecContext(ctx, `
		INSERT INTO usage_records (
			request_id, user_id, project_id, provider, model,
			prompt_tokens, completion_tokens, cost, duration_ms, status, trace_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO NOTHING`,
		rec.RequestID, rec.UserID, rec.ProjectID, rec.Provider, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.Cost, rec.DurationMs, string(rec.Status), rec.TraceID,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert usage record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SumCostSince returns the project's total cost at or after since
func (r *UsageRepository) SumCostSince(ctx context.Context, projectID string, since time.Time) (float64, error) {
	var total float64
	err := r.store.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost), 0.0) FROM usage_records
		WHERE project_id = ? AND created_at >= ?`,
		projectID, formatTime(since),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage cost: %w", err)
	}
	return total, nil
}

// ListByProject returns a project's records at or after since
func (r *UsageRepository) ListByProject(ctx context.Context, projectID string, since time.Time) ([]*models.UsageRecord, error) {
	return r.query(ctx, `WHERE project_id = ? AND created_at >= ?`, projectID, formatTime(since))
}

// ListByUser returns a user's records at or after since
func (r *UsageRepository) ListByUser(ctx context.Context, userID string, since time.Time) ([]*models.UsageRecord, error) {
	return r.query(ctx, `WHERE user_id = ? AND created_at >= ?`, userID, formatTime(since))
}

// DeleteBefore removes records created before cutoff
func (r *UsageRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.store.db.ExecContext(ctx, `DELETE FROM usage_records WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete usage records: %w", err)
	}
	return result.RowsAffected()
}

// Ping checks the database
func (r *UsageRepository) Ping(ctx context.Context) error {
	return r.store.db.PingContext(ctx)
}

func (r *UsageRepository) query(ctx context.Context, where string, args ...interface{}) ([]*models.UsageRecord, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT request_id, user_id, project_id, provider, model,
		       prompt_tokens, completion_tokens, cost, duration_ms, status, trace_id, created_at
		FROM usage_records `+where+`
		ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []*models.UsageRecord
	for rows.Next() {
		rec := &models.UsageRecord{}
		var status, createdAt string
		if err := rows.Scan(
			&rec.RequestID, &rec.UserID, &rec.ProjectID, &rec.Provider, &rec.Model,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.Cost, &rec.DurationMs, &status, &rec.TraceID,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.Status = models.UsageStatus(status)
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AuditRepository implements repositories.AuditRepository on SQLite
type AuditRepository struct {
	store *Store
}

// Insert stores an audit event
func (r *AuditRepository) Insert(ctx context.Context, e *models.AuditEvent) error {
	var payload interface{}
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO gateway_audit_events (
			id, request_id, trace_id, user_id, project_id, provider, model,
			stage, outcome, reason_code, duration_ms, cost, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.RequestID, e.TraceID, e.UserID, e.ProjectID, e.Provider, e.Model,
		string(e.Stage), string(e.Outcome), e.ReasonCode, e.DurationMs, e.Cost, payload,
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// GetByRequestID returns the events recorded for a request
func (r *AuditRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditEvent, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, request_id, trace_id, user_id, project_id, provider, model,
		       stage, outcome, reason_code, duration_ms, cost, payload, created_at
		FROM gateway_audit_events
		WHERE request_id = ?
		ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		e := &models.AuditEvent{}
		var id, stage, outcome, createdAt string
		var payload sql.NullString
		if err := rows.Scan(
			&id, &e.RequestID, &e.TraceID, &e.UserID, &e.ProjectID, &e.Provider, &e.Model,
			&stage, &outcome, &e.ReasonCode, &e.DurationMs, &e.Cost, &payload, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := e.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("parse event id: %w", err)
		}
		e.Stage = models.Stage(stage)
		e.Outcome = models.Outcome(outcome)
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}
