package postgres

import (
	"context"
	"fmt"

	"github.com/upb/llm-governance-gateway/models"
	"github.com/upb/llm-governance-gateway/repositories"
	"go.uber.org/zap"
)

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit event
func (r *AuditRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO gateway_audit_events (
			id, request_id, trace_id, user_id, project_id, provider, model,
			stage, outcome, reason_code, duration_ms, cost, payload, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	var payload interface{}
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.RequestID,
		event.TraceID,
		event.UserID,
		event.ProjectID,
		event.Provider,
		event.Model,
		event.Stage,
		event.Outcome,
		event.ReasonCode,
		event.DurationMs,
		event.Cost,
		payload,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	r.logger.Debug("audit event inserted",
		zap.String("request_id", event.RequestID),
		zap.String("stage", string(event.Stage)),
		zap.String("outcome", string(event.Outcome)))
	return nil
}

// GetByRequestID retrieves the events recorded for a request
func (r *AuditRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, request_id, trace_id, user_id, project_id, provider, model,
		       stage, outcome, reason_code, duration_ms, cost, payload, created_at
		FROM gateway_audit_events
		WHERE request_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		e := &models.AuditEvent{}
		var traceID, userID, provider, model, reasonCode *string
		var payload []byte
		err := rows.Scan(
			&e.ID,
			&e.RequestID,
			&traceID,
			&userID,
			&e.ProjectID,
			&provider,
			&model,
			&e.Stage,
			&e.Outcome,
			&reasonCode,
			&e.DurationMs,
			&e.Cost,
			&payload,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.TraceID = deref(traceID)
		e.UserID = deref(userID)
		e.Provider = deref(provider)
		e.Model = deref(model)
		e.ReasonCode = deref(reasonCode)
		e.Payload = payload
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit event rows: %w", err)
	}

	return events, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
