package cost

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// ErrBudgetExhausted is returned when a job has no external-call budget left.
var ErrBudgetExhausted = eris.New("cost: external call budget exhausted")

// Budget caps the external spend of one batch job. A zero limit means
// unlimited. Safe for concurrent use.
type Budget struct {
	maxUSD   float64
	maxCalls int

	mu    sync.Mutex
	spent float64
	calls int
}

// NewBudget creates a budget. Non-positive limits are unlimited.
func NewBudget(maxUSD float64, maxCalls int) *Budget {
	return &Budget{maxUSD: maxUSD, maxCalls: maxCalls}
}

// Reserve claims one external call. It fails once either limit is reached.
func (b *Budget) Reserve() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxCalls > 0 && b.calls >= b.maxCalls {
		return ErrBudgetExhausted
	}
	if b.maxUSD > 0 && b.spent >= b.maxUSD {
		return ErrBudgetExhausted
	}
	b.calls++
	return nil
}

// Charge records the actual cost of a reserved call.
func (b *Budget) Charge(usd float64) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.spent += usd
	b.mu.Unlock()
}

// Spent returns the total charged so far and the number of reserved calls.
func (b *Budget) Spent() (usd float64, calls int) {
	if b == nil {
		return 0, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent, b.calls
}

type budgetKey struct{}

// WithBudget attaches b to ctx so escalation stages deeper in the call chain
// can charge against it.
func WithBudget(ctx context.Context, b *Budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

// BudgetFrom returns the budget attached to ctx, or nil (unlimited).
func BudgetFrom(ctx context.Context) *Budget {
	b, _ := ctx.Value(budgetKey{}).(*Budget)
	return b
}
