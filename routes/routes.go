package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/llm-governance-gateway/app"
	"github.com/upb/llm-governance-gateway/handlers"
	"github.com/upb/llm-governance-gateway/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(deps.Config.Server.WriteTimeout))
	r.Use(middleware.RequestMetrics(deps.Metrics))
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "llm-gateway")
	})

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			middleware.RequestIDHeader, middleware.UserIDHeader, middleware.ProjectIDHeader,
		},
		ExposedHeaders: []string{
			middleware.RequestIDHeader,
			middleware.RateLimitLimitHeader, middleware.RateLimitRemainingHeader, middleware.RateLimitResetHeader,
			"X-Processing-Time", "X-Cost", "X-Cache",
			"X-Policy-Check", "X-Safety-Check", "X-Budget-Check",
		},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"usage_store": deps.UsageStore(),
		"kv_store":    deps.KV,
	}, deps.Logger)
	gw := handlers.NewGatewayHandler(deps.Gateway, deps.Metrics, deps.Logger)
	admin := handlers.NewAdminHandler(deps.Gateway, deps.Meters, deps.Logger)
	models := handlers.NewModelsHandler(deps.Providers)
	usage := handlers.NewUsageHandler(deps.Budget, auditReader(deps), deps.Logger)
	policies := handlers.NewPolicyHandler(deps.Policy, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	r.Route("/v1", func(r chi.Router) {
		// Governed completions (requester identity required)
		r.Group(func(r chi.Router) {
			r.Use(deps.Requester.RequireUser)
			r.Use(middleware.RateLimit(rateLimiter(deps), deps.Logger))
			r.Post("/chat/completions", gw.HandleChatCompletion)
			r.Post("/completions", gw.HandleCompletion)
		})

		r.Get("/models", models.HandleListModels)

		// Operational endpoints
		r.Group(func(r chi.Router) {
			r.Use(deps.AdminAuth.RequireAdmin)

			r.Get("/status", admin.HandleStatus)
			r.Get("/providers/status", admin.HandleProviderStatus)
			r.Delete("/cache", admin.HandleClearCache)
			r.Get("/metrics", admin.HandleMetrics)

			r.Get("/usage/projects/{id}", usage.HandleProjectSpend)
			r.Get("/usage/users/{id}", usage.HandleUserSpend)
			r.Get("/audit/{request_id}", usage.HandleAuditTrail)

			r.Route("/policies", func(r chi.Router) {
				r.Get("/", policies.HandleGetBundle)
				r.Post("/test", policies.HandleTestPolicy)
				r.Put("/{name}", policies.HandleUpdatePolicy)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}

// auditReader avoids handing the handler a typed nil
func auditReader(deps *app.Dependencies) handlers.AuditReader {
	if deps.AuditTrail == nil {
		return nil
	}
	return deps.AuditTrail
}

func rateLimiter(deps *app.Dependencies) middleware.RateLimiter {
	if deps.RateLimiter == nil {
		return nil
	}
	return deps.RateLimiter
}
