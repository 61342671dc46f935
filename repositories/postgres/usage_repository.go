package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/llm-governance-gateway/models"
	"github.com/upb/llm-governance-gateway/repositories"
	"go.uber.org/zap"
)

// UsageRepository implements repositories.UsageRepository on PostgreSQL
type UsageRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB, logger *zap.Logger) repositories.UsageRepository {
	return &UsageRepository{
		db:     db,
		logger: logger,
	}
}

const usageColumns = `request_id, user_id, project_id, provider, model,
	       prompt_tokens, completion_tokens, cost, duration_ms, status, trace_id, created_at`

// Insert appends a usage record. Duplicate request ids are ignored.
func (r *UsageRepository) Insert(ctx context.Context, rec *models.UsageRecord) (bool, error) {
	query := `
		INSERT INTO usage_records (` + usageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (request_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.UserID,
		rec.ProjectID,
		rec.Provider,
		rec.Model,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.Cost,
		rec.DurationMs,
		rec.Status,
		rec.TraceID,
		rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert usage record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		r.logger.Debug("duplicate usage record ignored", zap.String("request_id", rec.RequestID))
		return false, nil
	}
	return true, nil
}

// SumCostSince returns the project's total cost at or after since
func (r *UsageRepository) SumCostSince(ctx context.Context, projectID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost), 0)
		FROM usage_records
		WHERE project_id = $1 AND created_at >= $2
	`

	var total float64
	if err := r.db.QueryRowContext(ctx, query, projectID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum usage cost: %w", err)
	}
	return total, nil
}

// ListByProject returns a project's records at or after since
func (r *UsageRepository) ListByProject(ctx context.Context, projectID string, since time.Time) ([]*models.UsageRecord, error) {
	query := `
		SELECT ` + usageColumns + `
		FROM usage_records
		WHERE project_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`
	return r.queryUsage(ctx, query, projectID, since)
}

// ListByUser returns a user's records at or after since
func (r *UsageRepository) ListByUser(ctx context.Context, userID string, since time.Time) ([]*models.UsageRecord, error) {
	query := `
		SELECT ` + usageColumns + `
		FROM usage_records
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`
	return r.queryUsage(ctx, query, userID, since)
}

// DeleteBefore removes records created before cutoff
func (r *UsageRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM usage_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete usage records: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// Ping checks the connection
func (r *UsageRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func (r *UsageRepository) queryUsage(ctx context.Context, query string, args ...interface{}) ([]*models.UsageRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*models.UsageRecord
	for rows.Next() {
		rec := &models.UsageRecord{}
		var traceID *string
		err := rows.Scan(
			&rec.RequestID,
			&rec.UserID,
			&rec.ProjectID,
			&rec.Provider,
			&rec.Model,
			&rec.PromptTokens,
			&rec.CompletionTokens,
			&rec.Cost,
			&rec.DurationMs,
			&rec.Status,
			&traceID,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		if traceID != nil {
			rec.TraceID = *traceID
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage rows: %w", err)
	}

	return records, nil
}
