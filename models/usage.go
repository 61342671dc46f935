package models

import (
	"time"
)

// UsageStatus represents the terminal status of a dispatched request
type UsageStatus string

const (
	UsageStatusCompleted UsageStatus = "completed"
	UsageStatusRedacted  UsageStatus = "redacted"
	// billed upstream but withheld from the caller by the output check
	UsageStatusBlocked UsageStatus = "blocked"
)

// UsageRecord is one billed upstream call. Records are append-only and
// unique by RequestID.
type UsageRecord struct {
	RequestID        string      `json:"request_id" db:"request_id"`
	UserID           string      `json:"user_id" db:"user_id"`
	ProjectID        *string     `json:"project_id,omitempty" db:"project_id"`
	Provider         string      `json:"provider" db:"provider"`
	Model            string      `json:"model" db:"model"`
	PromptTokens     int         `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens" db:"completion_tokens"`
	Cost             float64     `json:"cost" db:"cost"`
	DurationMs       int64       `json:"duration_ms" db:"duration_ms"`
	Status           UsageStatus `json:"status" db:"status"`
	TraceID          string      `json:"trace_id,omitempty" db:"trace_id"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the UsageRecord model
func (UsageRecord) TableName() string {
	return "usage_records"
}

// TotalTokens returns prompt plus completion tokens
func (r *UsageRecord) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// ProjectSpend summarizes a project's spend over a trailing window
type ProjectSpend struct {
	ProjectID     string             `json:"project_id"`
	PeriodDays    int                `json:"period_days"`
	TotalSpend    float64            `json:"total_spend"`
	TotalRequests int                `json:"total_requests"`
	DailySpend    map[string]float64 `json:"daily_spend"`
}

// UserSpend summarizes a user's spend over a trailing window
type UserSpend struct {
	UserID        string             `json:"user_id"`
	PeriodDays    int                `json:"period_days"`
	TotalSpend    float64            `json:"total_spend"`
	TotalRequests int                `json:"total_requests"`
	ProviderSpend map[string]float64 `json:"provider_spend"`
	ModelSpend    map[string]float64 `json:"model_spend"`
}
