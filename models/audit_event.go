package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Stage names the pipeline step a request reached
type Stage string

const (
	StagePolicy       Stage = "policy"
	StageInputSafety  Stage = "input_safety"
	StageBudget       Stage = "budget"
	StageCache        Stage = "cache"
	StageBreaker      Stage = "breaker"
	StageDispatch     Stage = "dispatch"
	StageOutputSafety Stage = "output_safety"
	StageComplete     Stage = "complete"
)

// Outcome is the terminal result of a request
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeCacheHit Outcome = "cache_hit"
	OutcomeRejected Outcome = "rejected"
	OutcomeError    Outcome = "error"
)

// AuditEvent is emitted once per request at its terminal stage
type AuditEvent struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	RequestID  string          `json:"request_id" db:"request_id"`
	TraceID    string          `json:"trace_id,omitempty" db:"trace_id"`
	UserID     string          `json:"user_id" db:"user_id"`
	ProjectID  *string         `json:"project_id,omitempty" db:"project_id"`
	Provider   string          `json:"provider" db:"provider"`
	Model      string          `json:"model" db:"model"`
	Stage      Stage           `json:"stage" db:"stage"`
	Outcome    Outcome         `json:"outcome" db:"outcome"`
	ReasonCode string          `json:"reason_code,omitempty" db:"reason_code"`
	DurationMs int64           `json:"duration_ms" db:"duration_ms"`
	Cost       float64         `json:"cost" db:"cost"`
	Payload    json.RawMessage `json:"payload,omitempty" db:"payload"` // request/response snapshot and violations
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AuditEvent model
func (AuditEvent) TableName() string {
	return "gateway_audit_events"
}

// NewAuditEvent creates a new AuditEvent instance
func NewAuditEvent(requestID string, stage Stage, outcome Outcome) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New(),
		RequestID: requestID,
		Stage:     stage,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}
}

// WithPayload marshals v into the event payload. Unmarshalable values are
// recorded as an error object rather than dropped.
func (e *AuditEvent) WithPayload(v any) *AuditEvent {
	raw, err := json.Marshal(v)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	e.Payload = raw
	return e
}
