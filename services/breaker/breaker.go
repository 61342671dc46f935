// Package breaker isolates failing upstream providers behind per-provider
// circuit breakers.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker position
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Config holds breaker tuning
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
	}
}

// Snapshot is a point-in-time copy of a breaker's state
type Snapshot struct {
	Provider         string        `json:"provider"`
	State            State         `json:"state"`
	FailureCount     int           `json:"failure_count"`
	LastFailureTime  *time.Time    `json:"last_failure_time,omitempty"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}

// Breaker is the state machine for a single provider. All methods are safe
// for concurrent use; transitions are serialized by the breaker's own mutex.
type Breaker struct {
	provider string
	cfg      Config
	now      func() time.Time

	mu           sync.Mutex
	state        State
	failureCount int
	lastFailure  time.Time
	// set while the single HALF_OPEN trial call is outstanding
	trialStarted time.Time
}

// New creates a closed breaker for provider
func New(provider string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return &Breaker{
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		state:    StateClosed,
	}
}

// CanExecute reports whether a call may proceed. An OPEN breaker whose
// recovery timeout has elapsed moves to HALF_OPEN and admits exactly one
// trial; further callers are refused until that trial reports its outcome.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.trialStarted = now
		return true
	case StateHalfOpen:
		// a trial that never reported back is abandoned after another
		// recovery period
		if !b.trialStarted.IsZero() && now.Sub(b.trialStarted) < b.cfg.RecoveryTimeout {
			return false
		}
		b.trialStarted = now
		return true
	default:
		return false
	}
}

// OnSuccess closes the breaker and clears the failure count
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.trialStarted = time.Time{}
}

// OnFailure records a failed call. A failed trial reopens the breaker
// immediately; otherwise it opens once the threshold is reached.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.now()
	b.trialStarted = time.Time{}

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	case StateOpen:
	}
}

// State returns the current state without triggering a transition
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker's state
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Provider:         b.provider,
		State:            b.state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.cfg.FailureThreshold,
		RecoveryTimeout:  b.cfg.RecoveryTimeout,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		snap.LastFailureTime = &t
	}
	return snap
}
