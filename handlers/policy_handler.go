package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/upb/llm-governance-gateway/middleware"
	"github.com/upb/llm-governance-gateway/services"
	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
)

const maxPolicyModuleBytes = 1 << 20

// PolicyAdmin manages the modules loaded in the policy service
type PolicyAdmin interface {
	GetPolicyBundle(ctx context.Context) (map[string]any, error)
	UpdatePolicy(ctx context.Context, name, module string) error
	TestPolicy(ctx context.Context, path string, input any) (map[string]any, error)
}

// TestPolicyRequest is the body of POST /v1/policies/test
type TestPolicyRequest struct {
	Path  string         `json:"path" validate:"required"`
	Input map[string]any `json:"input" validate:"required"`
}

// PolicyHandler proxies policy administration to the policy service
type PolicyHandler struct {
	policies PolicyAdmin
	logger   *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(policies PolicyAdmin, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		policies: policies,
		logger:   logger,
	}
}

// HandleGetBundle handles GET /v1/policies
func (h *PolicyHandler) HandleGetBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.policies.GetPolicyBundle(r.Context())
	if err != nil {
		HandleServiceError(w, services.WrapExternal("policy service unavailable", err), h.logger)
		return
	}
	_ = utils.WriteOK(w, bundle)
}

// HandleUpdatePolicy handles PUT /v1/policies/{name}. The body is the raw
// Rego module.
func (h *PolicyHandler) HandleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	name := chi.URLParam(r, "name")

	module, err := io.ReadAll(io.LimitReader(r.Body, maxPolicyModuleBytes))
	if err != nil || strings.TrimSpace(string(module)) == "" {
		_ = utils.WriteBadRequest(w, "Policy module body is required", nil)
		return
	}

	if err := h.policies.UpdatePolicy(ctx, name, string(module)); err != nil {
		h.logger.Error("failed to update policy",
			zap.String("request_id", requestID),
			zap.String("policy", name),
			zap.Error(err))
		HandleServiceError(w, services.WrapExternal("failed to update policy", err), h.logger)
		return
	}

	h.logger.Info("policy updated",
		zap.String("request_id", requestID),
		zap.String("policy", name))

	_ = utils.WriteOK(w, map[string]string{"policy": name, "status": "updated"})
}

// HandleTestPolicy handles POST /v1/policies/test
func (h *PolicyHandler) HandleTestPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TestPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.policies.TestPolicy(ctx, req.Path, req.Input)
	if err != nil {
		HandleServiceError(w, services.WrapExternal("policy evaluation failed", err), h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}
