// Package ratelimit caps how many requests a caller may send per time window.
// Counters live in the shared key-value store, so limits hold across gateway
// replicas when Redis backs the store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/llm-governance-gateway/internal/kvstore"
	"go.uber.org/zap"
)

const keyPrefix = "ratelimit:"

// Window is a fixed rate-limit window
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

func (w Window) duration() time.Duration {
	switch w {
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Limits are per-scope request caps. A zero limit disables that window.
type Limits struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
}

// Result is the outcome of a rate limit check
type Result struct {
	Allowed         bool
	Limit           int
	Remaining       int
	ResetAt         time.Time
	ViolatedWindow  Window
	ViolationReason string
}

// Service counts requests per scope in fixed windows
type Service struct {
	store  kvstore.Store
	limits Limits
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a new Service
func NewService(store kvstore.Store, limits Limits, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		limits: limits,
		now:    time.Now,
		logger: logger,
	}
}

// Enabled reports whether any window has a limit
func (s *Service) Enabled() bool {
	return s.limits.RequestsPerMinute > 0 || s.limits.RequestsPerHour > 0 || s.limits.RequestsPerDay > 0
}

// Allow counts one request for scope and reports whether it fits every
// configured window. Windows are checked shortest first; a request rejected
// by one window is not counted against the longer ones. The returned result
// describes the tightest window checked.
func (s *Service) Allow(ctx context.Context, scope string) (*Result, error) {
	now := s.now()
	result := &Result{Allowed: true}

	windows := []struct {
		window Window
		limit  int
	}{
		{WindowMinute, s.limits.RequestsPerMinute},
		{WindowHour, s.limits.RequestsPerHour},
		{WindowDay, s.limits.RequestsPerDay},
	}

	first := true
	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}

		start, resetAt := windowBounds(now, w.window)
		count, err := s.store.Incr(ctx, buildKey(scope, w.window, start), w.window.duration())
		if err != nil {
			return nil, fmt.Errorf("failed to count %s window: %w", w.window, err)
		}

		remaining := w.limit - int(count)
		if remaining < 0 {
			remaining = 0
		}

		if count > int64(w.limit) {
			s.logger.Debug("rate limit exceeded",
				zap.String("scope", scope),
				zap.String("window", string(w.window)),
				zap.Int64("count", count))
			return &Result{
				Allowed:         false,
				Limit:           w.limit,
				Remaining:       0,
				ResetAt:         resetAt,
				ViolatedWindow:  w.window,
				ViolationReason: fmt.Sprintf("exceeded %d requests per %s", w.limit, w.window),
			}, nil
		}

		if first || remaining < result.Remaining {
			result.Limit = w.limit
			result.Remaining = remaining
			result.ResetAt = resetAt
			first = false
		}
	}

	return result, nil
}

// windowBounds returns the start of the fixed window containing now and the
// time it resets
func windowBounds(now time.Time, window Window) (start, reset time.Time) {
	d := window.duration()
	start = now.UTC().Truncate(d)
	return start, start.Add(d)
}

func buildKey(scope string, window Window, start time.Time) string {
	return fmt.Sprintf("%s%s:%s:%d", keyPrefix, window, scope, start.Unix())
}
