package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/upb/llm-governance-gateway/internal/observability"
	"github.com/upb/llm-governance-gateway/middleware"
	"github.com/upb/llm-governance-gateway/services/gateway"
	"github.com/upb/llm-governance-gateway/services/providers"
	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
)

// Governance outcome headers set on every successful response
const (
	headerProcessingTime = "X-Processing-Time"
	headerCost           = "X-Cost"
	headerSafetyCheck    = "X-Safety-Check"
	headerPolicyCheck    = "X-Policy-Check"
	headerBudgetCheck    = "X-Budget-Check"
	headerCache          = "X-Cache"
)

const defaultTemperature = 0.7

// Gateway runs requests through the governance pipeline
type Gateway interface {
	Chat(ctx context.Context, req gateway.ChatRequest) (*gateway.Result, error)
	Complete(ctx context.Context, req gateway.CompletionRequest) (*gateway.Result, error)
}

// ChatCompletionRequest is the body of POST /v1/chat/completions
type ChatCompletionRequest struct {
	Provider      string              `json:"provider"`
	Model         string              `json:"model"`
	Messages      []providers.Message `json:"messages"`
	MaxTokens     int                 `json:"max_tokens,omitempty"`
	Temperature   *float64            `json:"temperature,omitempty"`
	ProjectID     *string             `json:"project_id,omitempty"`
	EstimatedCost float64             `json:"estimated_cost,omitempty"`
}

// CompletionRequest is the body of POST /v1/completions
type CompletionRequest struct {
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	ProjectID     *string  `json:"project_id,omitempty"`
	EstimatedCost float64  `json:"estimated_cost,omitempty"`
}

// CompletionResponse is returned for both request variants
type CompletionResponse struct {
	ID       string             `json:"id"`
	TraceID  string             `json:"trace_id,omitempty"`
	Provider string             `json:"provider"`
	Model    string             `json:"model"`
	Choices  []providers.Choice `json:"choices"`
	Usage    providers.Usage    `json:"usage"`
	Cost     float64            `json:"cost"`
	CacheHit bool               `json:"cache_hit"`
	Redacted bool               `json:"redacted"`
}

// GatewayHandler serves the governed completion endpoints
type GatewayHandler struct {
	gateway Gateway
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewGatewayHandler creates a new GatewayHandler. metrics may be nil.
func NewGatewayHandler(gw Gateway, metrics *observability.Metrics, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{
		gateway: gw,
		metrics: metrics,
		logger:  logger,
	}
}

// HandleChatCompletion handles POST /v1/chat/completions
func (h *GatewayHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body ChatCompletionRequest
	if !h.decode(w, r, &body) {
		return
	}

	req := gateway.ChatRequest{
		Common:   h.common(ctx, body.Provider, body.Model, body.MaxTokens, body.Temperature, body.ProjectID, body.EstimatedCost),
		Messages: body.Messages,
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.gateway.Chat(ctx, req)
	h.respond(w, r, &req.Common, result, err)
}

// HandleCompletion handles POST /v1/completions
func (h *GatewayHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body CompletionRequest
	if !h.decode(w, r, &body) {
		return
	}

	req := gateway.CompletionRequest{
		Common: h.common(ctx, body.Provider, body.Model, body.MaxTokens, body.Temperature, body.ProjectID, body.EstimatedCost),
		Prompt: body.Prompt,
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.gateway.Complete(ctx, req)
	h.respond(w, r, &req.Common, result, err)
}

func (h *GatewayHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return false
	}
	return true
}

// common builds the shared request fields. Identity comes from the
// forwarded headers; a project in the header wins over one in the body.
func (h *GatewayHandler) common(ctx context.Context, provider, model string, maxTokens int, temperature *float64, projectID *string, estimatedCost float64) gateway.Common {
	c := gateway.Common{
		RequestID:     middleware.GetRequestIDFromContext(ctx),
		Provider:      provider,
		Model:         model,
		MaxTokens:     maxTokens,
		Temperature:   defaultTemperature,
		ProjectID:     projectID,
		EstimatedCost: estimatedCost,
	}
	if temperature != nil {
		c.Temperature = *temperature
	}
	if requester := middleware.GetRequesterFromContext(ctx); requester != nil {
		c.UserID = requester.UserID
		if requester.ProjectID != nil {
			c.ProjectID = requester.ProjectID
		}
	}
	return c
}

func (h *GatewayHandler) respond(w http.ResponseWriter, r *http.Request, c *gateway.Common, result *gateway.Result, err error) {
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	resp := result.Response
	labels := observability.RequestLabels{Provider: c.Provider, Model: c.Model}
	if !result.CacheHit {
		h.metrics.RecordUsage(r.Context(), labels, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, result.Cost)
	}

	w.Header().Set(middleware.RequestIDHeader, result.RequestID)
	w.Header().Set(headerProcessingTime, strconv.FormatFloat(result.Duration.Seconds(), 'f', 3, 64))
	w.Header().Set(headerCost, strconv.FormatFloat(result.Cost, 'f', -1, 64))
	w.Header().Set(headerPolicyCheck, "passed")
	w.Header().Set(headerSafetyCheck, safetyHeader(result))
	w.Header().Set(headerBudgetCheck, budgetHeader(result))
	if result.CacheHit {
		w.Header().Set(headerCache, "hit")
	} else {
		w.Header().Set(headerCache, "miss")
	}

	h.logger.Debug("completion served",
		zap.String("request_id", result.RequestID),
		zap.String("provider", c.Provider),
		zap.String("model", c.Model),
		zap.Bool("cache_hit", result.CacheHit),
		zap.Float64("cost", result.Cost))

	if err := utils.WriteOK(w, CompletionResponse{
		ID:       result.RequestID,
		TraceID:  result.TraceID,
		Provider: resp.Provider,
		Model:    resp.Model,
		Choices:  resp.Choices,
		Usage:    resp.Usage,
		Cost:     result.Cost,
		CacheHit: result.CacheHit,
		Redacted: result.Redacted,
	}); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", result.RequestID),
			zap.Error(err))
	}
}

func safetyHeader(result *gateway.Result) string {
	if result.Redacted {
		return "redacted"
	}
	return "passed"
}

func budgetHeader(result *gateway.Result) string {
	if result.Budget != nil && result.Budget.FailOpen {
		return "unverified"
	}
	return "passed"
}
