package middleware

import (
	"net/http"
	"strings"

	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
)

// Identity headers set by the authenticating proxy in front of the gateway
const (
	UserIDHeader    = "X-User-ID"
	ProjectIDHeader = "X-Project-ID"
)

// RequesterMiddleware extracts the caller identity from forwarded headers
type RequesterMiddleware struct {
	logger *zap.Logger
}

// NewRequesterMiddleware creates a new RequesterMiddleware
func NewRequesterMiddleware(logger *zap.Logger) *RequesterMiddleware {
	return &RequesterMiddleware{logger: logger}
}

// RequireUser rejects requests without an X-User-ID header. X-Project-ID is
// optional; requests without it are accounted to no project.
func (m *RequesterMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			m.logger.Warn("missing user id header",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Missing "+UserIDHeader+" header")
			return
		}

		requester := &Requester{UserID: userID}
		if project := strings.TrimSpace(r.Header.Get(ProjectIDHeader)); project != "" {
			requester.ProjectID = &project
		}

		m.logger.Debug("requester identified",
			zap.String("request_id", requestID),
			zap.String("user_id", userID))

		next.ServeHTTP(w, r.WithContext(WithRequester(ctx, requester)))
	})
}
