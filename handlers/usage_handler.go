package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/upb/llm-governance-gateway/models"
	"github.com/upb/llm-governance-gateway/services"
	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
)

const (
	defaultSpendDays = 30
	maxSpendDays     = 365
)

// SpendReporter summarizes recorded usage
type SpendReporter interface {
	GetProjectSpend(ctx context.Context, projectID string, days int) (*models.ProjectSpend, error)
	GetUserSpend(ctx context.Context, userID string, days int) (*models.UserSpend, error)
}

// AuditReader reads the audit trail of a request
type AuditReader interface {
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditEvent, error)
}

// UsageHandler serves spend reports and audit trails
type UsageHandler struct {
	spend  SpendReporter
	audit  AuditReader
	logger *zap.Logger
}

// NewUsageHandler creates a new UsageHandler. audit may be nil when events
// are only logged.
func NewUsageHandler(spend SpendReporter, audit AuditReader, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{spend: spend, audit: audit, logger: logger}
}

// HandleProjectSpend handles GET /v1/usage/projects/{id}
func (h *UsageHandler) HandleProjectSpend(w http.ResponseWriter, r *http.Request) {
	days, ok := parseDays(w, r)
	if !ok {
		return
	}

	summary, err := h.spend.GetProjectSpend(r.Context(), chi.URLParam(r, "id"), days)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to get project spend", err), h.logger)
		return
	}
	_ = utils.WriteOK(w, summary)
}

// HandleUserSpend handles GET /v1/usage/users/{id}
func (h *UsageHandler) HandleUserSpend(w http.ResponseWriter, r *http.Request) {
	days, ok := parseDays(w, r)
	if !ok {
		return
	}

	summary, err := h.spend.GetUserSpend(r.Context(), chi.URLParam(r, "id"), days)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to get user spend", err), h.logger)
		return
	}
	_ = utils.WriteOK(w, summary)
}

// HandleAuditTrail handles GET /v1/audit/{request_id}
func (h *UsageHandler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		_ = utils.WriteNotFound(w, "audit events are not persisted")
		return
	}

	requestID := chi.URLParam(r, "request_id")
	events, err := h.audit.GetByRequestID(r.Context(), requestID)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to read audit trail", err), h.logger)
		return
	}
	if len(events) == 0 {
		_ = utils.WriteNotFound(w, "no audit events for request '"+requestID+"'")
		return
	}
	_ = utils.WriteOK(w, events)
}

func parseDays(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return defaultSpendDays, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 || days > maxSpendDays {
		_ = utils.WriteBadRequest(w, "days must be between 1 and 365", map[string]interface{}{"days": raw})
		return 0, false
	}
	return days, true
}
