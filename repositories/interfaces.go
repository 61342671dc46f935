package repositories

import (
	"context"
	"time"

	"github.com/upb/llm-governance-gateway/models"
)

// UsageRepository is the durable, append-only usage store
type UsageRepository interface {
	// Insert appends a record. It reports false when a record with the same
	// request id already exists; the existing row is left untouched.
	Insert(ctx context.Context, record *models.UsageRecord) (bool, error)

	// SumCostSince returns the total cost recorded for a project at or after since
	SumCostSince(ctx context.Context, projectID string, since time.Time) (float64, error)

	// ListByProject returns a project's records at or after since, oldest first
	ListByProject(ctx context.Context, projectID string, since time.Time) ([]*models.UsageRecord, error)

	// ListByUser returns a user's records at or after since, oldest first
	ListByUser(ctx context.Context, userID string, since time.Time) ([]*models.UsageRecord, error)

	// DeleteBefore removes records created before cutoff
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error
}

// AuditRepository handles audit event persistence
type AuditRepository interface {
	// Insert inserts a new audit event
	Insert(ctx context.Context, event *models.AuditEvent) error

	// GetByRequestID retrieves the events recorded for a request
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditEvent, error)
}

// Repositories aggregates the stores used by the gateway
type Repositories struct {
	Usage UsageRepository
	Audit AuditRepository
}
