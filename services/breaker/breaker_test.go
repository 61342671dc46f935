package breaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker() (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	b := New("openai", DefaultConfig())
	b.now = clock.Now
	return b, clock
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		require.True(t, b.CanExecute())
		b.OnFailure()
	}
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanExecute())

	b.OnFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())
}

func TestBreaker_HalfOpenAdmitsExactlyOneTrial(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < DefaultFailureThreshold; i++ {
		b.OnFailure()
	}

	clock.Advance(DefaultRecoveryTimeout - time.Second)
	assert.False(t, b.CanExecute())

	clock.Advance(time.Second)
	assert.True(t, b.CanExecute())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.CanExecute())
	assert.False(t, b.CanExecute())

	// failure count is untouched until the trial reports back
	assert.Equal(t, DefaultFailureThreshold, b.Snapshot().FailureCount)
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < DefaultFailureThreshold; i++ {
		b.OnFailure()
	}
	clock.Advance(DefaultRecoveryTimeout)
	require.True(t, b.CanExecute())

	b.OnSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Snapshot().FailureCount)
	assert.True(t, b.CanExecute())
	assert.True(t, b.CanExecute())
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < DefaultFailureThreshold; i++ {
		b.OnFailure()
	}
	clock.Advance(DefaultRecoveryTimeout)
	require.True(t, b.CanExecute())

	b.OnFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())

	// recovery is measured from the failed trial
	clock.Advance(DefaultRecoveryTimeout)
	assert.True(t, b.CanExecute())
}

func TestBreaker_AbandonedTrial(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < DefaultFailureThreshold; i++ {
		b.OnFailure()
	}
	clock.Advance(DefaultRecoveryTimeout)
	require.True(t, b.CanExecute())

	clock.Advance(DefaultRecoveryTimeout)
	assert.True(t, b.CanExecute())
	assert.False(t, b.CanExecute())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker()
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.OnFailure()
	}
	b.OnSuccess()
	b.OnFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Snapshot().FailureCount)
}

func TestBreaker_ConcurrentHalfOpen(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < DefaultFailureThreshold; i++ {
		b.OnFailure()
	}
	clock.Advance(DefaultRecoveryTimeout)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.CanExecute() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}

func TestBreaker_Snapshot(t *testing.T) {
	b, _ := newTestBreaker()
	snap := b.Snapshot()
	assert.Equal(t, "openai", snap.Provider)
	assert.Equal(t, StateClosed, snap.State)
	assert.Nil(t, snap.LastFailureTime)
	assert.Equal(t, DefaultFailureThreshold, snap.FailureThreshold)

	b.OnFailure()
	require.NotNil(t, b.Snapshot().LastFailureTime)
}

func TestNew_AppliesDefaults(t *testing.T) {
	b := New("x", Config{})
	assert.Equal(t, DefaultFailureThreshold, b.cfg.FailureThreshold)
	assert.Equal(t, DefaultRecoveryTimeout, b.cfg.RecoveryTimeout)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(DefaultConfig(), "openai", "anthropic")

	assert.Same(t, r.Get("openai"), r.Get("openai"))
	assert.NotSame(t, r.Get("openai"), r.Get("anthropic"))

	r.Get("openai").OnFailure()
	r.Get("google")

	status := r.Status()
	require.Len(t, status, 3)
	assert.Equal(t, "anthropic", status[0].Provider)
	assert.Equal(t, "google", status[1].Provider)
	assert.Equal(t, "openai", status[2].Provider)
	assert.Equal(t, 1, status[2].FailureCount)
}

func TestRegistry_ProvidersAreIndependent(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	r.Get("openai").OnFailure()
	assert.False(t, r.Get("openai").CanExecute())
	assert.True(t, r.Get("anthropic").CanExecute())
}
