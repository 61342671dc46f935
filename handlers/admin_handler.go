package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/llm-governance-gateway/internal/observability"
	"github.com/upb/llm-governance-gateway/services"
	"github.com/upb/llm-governance-gateway/services/gateway"
	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
)

// Operator exposes the pipeline's runtime state
type Operator interface {
	Status() gateway.Status
	ProviderStatus() []gateway.ProviderStatus
	ClearCache(ctx context.Context) (responses, safetyResults int, err error)
}

// ProviderModels groups a provider's models
type ProviderModels struct {
	Provider string   `json:"provider"`
	Models   []string `json:"models"`
}

// CacheClearResponse reports how many cached entries were removed
type CacheClearResponse struct {
	Responses     int `json:"responses"`
	SafetyResults int `json:"safety_results"`
}

// AdminHandler serves operational endpoints
type AdminHandler struct {
	operator Operator
	metrics  MetricsSnapshotter
	logger   *zap.Logger
}

// NewAdminHandler creates a new AdminHandler. metrics may be nil.
func NewAdminHandler(operator Operator, metrics MetricsSnapshotter, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{operator: operator, metrics: metrics, logger: logger}
}

// HandleStatus handles GET /v1/status
func (h *AdminHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.operator.Status())
}

// HandleProviderStatus handles GET /v1/providers/status
func (h *AdminHandler) HandleProviderStatus(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.operator.ProviderStatus())
}

// HandleClearCache handles DELETE /v1/cache
func (h *AdminHandler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	responses, safetyResults, err := h.operator.ClearCache(r.Context())
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to clear cache", err), h.logger)
		return
	}

	h.logger.Info("cache cleared",
		zap.Int("responses", responses),
		zap.Int("safety_results", safetyResults))

	_ = utils.WriteOK(w, CacheClearResponse{Responses: responses, SafetyResults: safetyResults})
}

// ModelsHandler serves the model catalog
type ModelsHandler struct {
	providers ProviderLister
}

// ProviderLister is the subset of the provider registry the catalog reads
type ProviderLister interface {
	ListProviders() []string
	ModelsFor(provider string) ([]string, error)
	FindModels(pattern string) []string
}

// NewModelsHandler creates a new ModelsHandler
func NewModelsHandler(providers ProviderLister) *ModelsHandler {
	return &ModelsHandler{providers: providers}
}

// HandleListModels handles GET /v1/models. ?provider= restricts the listing
// to one provider; ?q= filters model ids by substring.
func (h *ModelsHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		matches := h.providers.FindModels(q)
		if matches == nil {
			matches = []string{}
		}
		_ = utils.WriteOK(w, matches)
		return
	}

	names := h.providers.ListProviders()
	if p := r.URL.Query().Get("provider"); p != "" {
		names = []string{p}
	}

	out := make([]ProviderModels, 0, len(names))
	for _, name := range names {
		models, err := h.providers.ModelsFor(name)
		if err != nil {
			_ = utils.WriteNotFound(w, "provider '"+name+"' not configured")
			return
		}
		out = append(out, ProviderModels{Provider: name, Models: models})
	}
	_ = utils.WriteOK(w, out)
}

// MetricsSnapshotter reads the current instrument values
type MetricsSnapshotter interface {
	Snapshot(ctx context.Context) ([]observability.MetricPoint, error)
}

// HandleMetrics handles GET /v1/metrics
func (h *AdminHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		_ = utils.WriteOK(w, []observability.MetricPoint{})
		return
	}
	points, err := h.metrics.Snapshot(r.Context())
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to collect metrics", err), h.logger)
		return
	}
	_ = utils.WriteOK(w, points)
}
