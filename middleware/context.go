package middleware

import (
	"context"

	"github.com/upb/llm-governance-gateway/internal/observability"
)

// Context key type to avoid collisions
type contextKey string

// RequesterKey is the context key for the caller identity
const RequesterKey contextKey = "requester"

// Requester identifies who a request is made on behalf of. Authentication
// happens upstream; the gateway trusts the forwarded headers.
type Requester struct {
	UserID    string
	ProjectID *string
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	return observability.RequestIDFromContext(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return observability.WithRequestID(ctx, requestID)
}

// GetRequesterFromContext retrieves the caller identity from context
func GetRequesterFromContext(ctx context.Context) *Requester {
	if val := ctx.Value(RequesterKey); val != nil {
		if requester, ok := val.(*Requester); ok {
			return requester
		}
	}
	return nil
}

// WithRequester adds the caller identity to the context
func WithRequester(ctx context.Context, requester *Requester) context.Context {
	return context.WithValue(ctx, RequesterKey, requester)
}
