package resilience

import (
	"context"
	"errors"
	"sync"
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("ai", BreakerConfig{FailureThreshold: threshold, ResetTimeout: reset})
	b.nowFunc = clock.Now
	return b, clock
}

var errUpstream = NewTransientError(errors.New("503"), 503)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(errUpstream)
	}

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.Record(errors.New("invalid request"))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.Record(errUpstream)
	b.Record(errUpstream)
	b.Record(nil)
	b.Record(errUpstream)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	require.NoError(t, b.Allow())
	b.Record(errUpstream)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "only one probe at a time")

	b.Record(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	b.Record(errUpstream)
	clock.Advance(2 * time.Minute)

	require.NoError(t, b.Allow())
	b.Record(errUpstream)

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}

func TestCall_RetriesThenTrips(t *testing.T) {
	g := NewGuard(GuardConfig{
		Retry:   fastRetry(2),
		Breaker: BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
	})

	calls := 0
	_, err := Call(context.Background(), g, "web", func(context.Context) (string, error) {
		calls++
		return "", errUpstream
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateOpen, g.States()["web"])

	_, err = Call(context.Background(), g, "web", func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestCall_ServicesAreIsolated(t *testing.T) {
	g := NewGuard(GuardConfig{Retry: fastRetry(1), Breaker: BreakerConfig{FailureThreshold: 1}})

	_, _ = Call(context.Background(), g, "ai", func(context.Context) (int, error) { return 0, errUpstream })
	v, err := Call(context.Background(), g, "web", func(context.Context) (int, error) { return 7, nil })

	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Same(t, g.Breaker("ai"), g.Breaker("ai"))
}

func TestCall_NilGuard(t *testing.T) {
	v, err := Call(context.Background(), nil, "ai", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestSettings_GuardConfig(t *testing.T) {
	cfg := Settings{MaxAttempts: 5, InitialBackoffMs: 10, FailureThreshold: 7, ResetTimeoutSecs: 3}.GuardConfig()
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, DefaultRetryConfig().MaxBackoff, cfg.Retry.MaxBackoff)
	assert.Equal(t, 7, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 3*time.Second, cfg.Breaker.ResetTimeout)

	def := Settings{}.GuardConfig()
	assert.Equal(t, DefaultBreakerConfig(), def.Breaker)
}
