package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/llm-governance-gateway/services/ratelimit"
	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Rate limit headers
const (
	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
)

// RateLimiter decides whether a caller may send another request
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (*ratelimit.Result, error)
}

// RateLimit throttles callers by requester identity, or by client address
// for anonymous requests. Store failures let the request through.
func RateLimit(limiter RateLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		// one warning per interval while the store is down
		storeDown := &rate.Sometimes{Interval: 30 * time.Second}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			scope := rateLimitScope(r)

			result, err := limiter.Allow(ctx, scope)
			if err != nil {
				storeDown.Do(func() {
					logger.Warn("rate limit check failed, allowing request",
						zap.String("request_id", GetRequestIDFromContext(ctx)),
						zap.String("scope", scope),
						zap.Error(err))
				})
				next.ServeHTTP(w, r)
				return
			}

			if result.Limit > 0 {
				w.Header().Set(RateLimitLimitHeader, strconv.Itoa(result.Limit))
				w.Header().Set(RateLimitRemainingHeader, strconv.Itoa(result.Remaining))
				w.Header().Set(RateLimitResetHeader, strconv.FormatInt(result.ResetAt.Unix(), 10))
			}

			if !result.Allowed {
				retryAfter := int(math.Ceil(time.Until(result.ResetAt).Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				logger.Warn("rate limit exceeded",
					zap.String("request_id", GetRequestIDFromContext(ctx)),
					zap.String("scope", scope),
					zap.String("window", string(result.ViolatedWindow)))
				_ = utils.WriteTooManyRequests(w, "Rate limit exceeded. Please try again later.", map[string]interface{}{
					"window":   string(result.ViolatedWindow),
					"reason":   result.ViolationReason,
					"reset_at": result.ResetAt.UTC().Format(time.RFC3339),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitScope(r *http.Request) string {
	if requester := GetRequesterFromContext(r.Context()); requester != nil {
		return "user:" + requester.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
