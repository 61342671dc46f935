package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// RetryConfig bounds the retry loop around a provider call
type RetryConfig struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	// CallTimeout applies to each attempt independently of the caller's deadline
	CallTimeout time.Duration
}

// DefaultRetryConfig returns the default configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		MinBackoff:  1 * time.Second,
		MaxBackoff:  10 * time.Second,
		CallTimeout: 30 * time.Second,
	}
}

// Dispatcher runs provider calls with a per-attempt timeout and retries
// transient failures with exponential backoff.
type Dispatcher struct {
	cfg    RetryConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(cfg RetryConfig, logger *zap.Logger) *Dispatcher {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = def.MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	return &Dispatcher{cfg: cfg, logger: logger, sleep: sleepContext}
}

// Do invokes fn until it succeeds, fails with a non-transient error, the
// attempt cap is reached, or ctx is done.
func (d *Dispatcher) Do(ctx context.Context, provider string, fn func(ctx context.Context) (*ChatResponse, error)) (*ChatResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		resp, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s call aborted: %w", provider, errors.Join(ctx.Err(), err))
		}
		if !IsTransient(err) {
			return nil, err
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}

		wait := d.backoff(attempt)
		d.logger.Warn("provider call failed, retrying",
			zap.String("provider", provider),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))

		if err := d.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("%s call aborted: %w", provider, errors.Join(err, lastErr))
		}
	}

	return nil, fmt.Errorf("%s call failed after %d attempts: %w", provider, d.cfg.MaxAttempts, lastErr)
}

// backoff returns MinBackoff doubled per prior attempt, capped at MaxBackoff
func (d *Dispatcher) backoff(attempt int) time.Duration {
	wait := d.cfg.MinBackoff
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return wait
}

// IsTransient reports whether err is worth retrying: timeouts, 5xx and 429
// upstream responses, and dropped or refused connections. A ProviderError's
// own Retryable flag wins when present.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return transientCause(err)
}

func transientCause(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// TransportError wraps a failed HTTP exchange, marking it retryable only
// when the underlying cause is transient.
func TransportError(provider string, err error) *ProviderError {
	return NewProviderError(provider, "HTTP_ERROR", "HTTP request failed", 0, transientCause(err), err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
