package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/upb/llm-governance-gateway/internal/kvstore"
	"github.com/upb/llm-governance-gateway/models"
	"github.com/upb/llm-governance-gateway/services"
	"github.com/upb/llm-governance-gateway/services/audit"
	"github.com/upb/llm-governance-gateway/services/breaker"
	"github.com/upb/llm-governance-gateway/services/budget"
	"github.com/upb/llm-governance-gateway/services/cache"
	"github.com/upb/llm-governance-gateway/services/policy"
	"github.com/upb/llm-governance-gateway/services/providers"
	"github.com/upb/llm-governance-gateway/services/safety"
)

// Common holds the fields shared by both request variants
type Common struct {
	// Request tracking; generated when empty
	RequestID string `json:"request_id,omitempty"`

	// Requester context
	UserID    string  `json:"user_id" validate:"required"`
	ProjectID *string `json:"project_id,omitempty"`

	// Model and provider
	Provider string `json:"provider" validate:"required,oneof=openai anthropic google"`
	Model    string `json:"model" validate:"required"`

	// Generation parameters
	MaxTokens   int     `json:"max_tokens,omitempty" validate:"omitempty,min=1,max=100000"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`

	// Client-side cost estimate; estimated from tokens when zero
	EstimatedCost float64 `json:"estimated_cost,omitempty" validate:"gte=0"`
}

// ChatRequest is a governed chat completion request
type ChatRequest struct {
	Common
	Messages []providers.Message `json:"messages" validate:"required,min=1,dive"`
}

// CompletionRequest is a governed single-prompt completion request
type CompletionRequest struct {
	Common
	Prompt string `json:"prompt" validate:"required"`
}

// Result is the outcome of a request that passed every stage
type Result struct {
	RequestID string                  `json:"request_id"`
	TraceID   string                  `json:"trace_id,omitempty"`
	Response  *providers.ChatResponse `json:"response"`
	CacheHit  bool                    `json:"cache_hit"`
	Redacted  bool                    `json:"redacted"`
	Cost      float64                 `json:"cost"`
	Duration  time.Duration           `json:"duration"`

	Policy       *policy.Decision    `json:"policy"`
	InputSafety  *safety.Result      `json:"input_safety"`
	OutputSafety *safety.Result      `json:"output_safety,omitempty"`
	Budget       *budget.CheckResult `json:"budget"`
}

// ReasonCode is the stage-specific code attached to every rejection
type ReasonCode string

const (
	ReasonPolicyDenied        ReasonCode = "POLICY_DENIED"
	ReasonInputUnsafe         ReasonCode = "INPUT_UNSAFE"
	ReasonOutputUnsafe        ReasonCode = "OUTPUT_UNSAFE"
	ReasonBudgetExceeded      ReasonCode = "BUDGET_EXCEEDED"
	ReasonProviderUnavailable ReasonCode = "PROVIDER_UNAVAILABLE"
	ReasonProviderError       ReasonCode = "PROVIDER_ERROR"
	ReasonInternal            ReasonCode = "INTERNAL_ERROR"
)

// ErrorType maps a reason code onto the shared error taxonomy
func (r ReasonCode) ErrorType() services.ErrorType {
	switch r {
	case ReasonPolicyDenied:
		return services.ErrorTypePolicyViolation
	case ReasonInputUnsafe, ReasonOutputUnsafe:
		return services.ErrorTypeSafetyViolation
	case ReasonBudgetExceeded:
		return services.ErrorTypeBudget
	case ReasonProviderUnavailable:
		return services.ErrorTypeProviderUnavailable
	case ReasonProviderError:
		return services.ErrorTypeExternal
	case ReasonInternal:
		return services.ErrorTypeInternal
	default:
		return services.ErrorTypeInternal
	}
}

// Rejection is a terminal, non-success outcome. CorrelationID is the request
// id under which the audit event was emitted.
type Rejection struct {
	Stage         models.Stage   `json:"stage"`
	Reason        ReasonCode     `json:"reason_code"`
	CorrelationID string         `json:"correlation_id"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`

	cause error
}

// Error implements the error interface
func (r *Rejection) Error() string {
	return fmt.Sprintf("%s at %s stage: %s", r.Reason, r.Stage, r.Message)
}

// Unwrap returns the underlying fault, if any
func (r *Rejection) Unwrap() error {
	return r.cause
}

// DomainError wraps the rejection for the HTTP layer. Internal rejections
// carry only the correlation id.
func (r *Rejection) DomainError() *services.DomainError {
	derr := services.NewDomainError(r.Reason.ErrorType(), r.Message, r).
		WithDetail("reason_code", string(r.Reason)).
		WithDetail("stage", string(r.Stage)).
		WithDetail("correlation_id", r.CorrelationID)
	if r.Reason == ReasonInternal {
		return derr
	}
	for k, v := range r.Details {
		derr.WithDetail(k, v)
	}
	return derr
}

// withCorrelation returns a copy of r attributed to another request
func (r *Rejection) withCorrelation(id string) *Rejection {
	cp := *r
	cp.CorrelationID = id
	return &cp
}

// AsRejection extracts a Rejection from err
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Status summarises the runtime state of the pipeline
type Status struct {
	Providers []ProviderStatus  `json:"providers"`
	Cache     cache.Stats       `json:"cache"`
	Safety    safety.Statistics `json:"safety"`
	ABTesting bool              `json:"ab_testing"`
	// Audit is set when the sink reports queue statistics
	Audit *audit.Stats `json:"audit,omitempty"`
	// Store is set for the in-process key-value store
	Store *kvstore.MemoryStats `json:"store,omitempty"`
}

// ProviderStatus is a provider's breaker state and whether an adapter is
// configured for it
type ProviderStatus struct {
	breaker.Snapshot
	Configured bool `json:"configured"`
}
