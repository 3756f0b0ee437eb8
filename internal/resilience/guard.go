package resilience

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// Guard combines a breaker per service with a shared retry policy. The zero
// value is not usable; create one with NewGuard.
type Guard struct {
	retry   RetryConfig
	breaker BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGuard creates a guard with the given policies.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{
		retry:    cfg.Retry,
		breaker:  cfg.Breaker,
		breakers: make(map[string]*Breaker),
	}
}

// Breaker returns the breaker for service, creating it on first use.
func (g *Guard) Breaker(service string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[service]
	if !ok {
		b = NewBreaker(service, g.breaker)
		g.breakers[service] = b
	}
	return b
}

// States returns the state of every breaker created so far.
func (g *Guard) States() map[string]BreakerState {
	g.mu.Lock()
	names := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		names = append(names, b)
	}
	g.mu.Unlock()

	out := make(map[string]BreakerState, len(names))
	for _, b := range names {
		out[b.Name()] = b.State()
	}
	return out
}

// Call runs fn for service under the service's breaker and the guard's retry
// policy. A nil guard runs fn once.
func Call[T any](ctx context.Context, g *Guard, service string, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}

	b := g.Breaker(service)
	retry := g.retry
	retry.OnRetry = RetryLogger(service)

	return DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		var zero T
		if err := b.Allow(); err != nil {
			return zero, eris.Wrapf(err, "resilience: %s", service)
		}
		val, err := fn(ctx)
		b.Record(err)
		return val, err
	})
}
