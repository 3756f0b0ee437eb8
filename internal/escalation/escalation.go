// Package escalation implements the costly external resolution stages: an
// AI matcher over Anthropic and a web research stage over Perplexity.
package escalation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crossref-cli/internal/cost"
)

// ErrStageUnavailable marks an external stage that is not configured or
// cannot be reached. The resolver skips such stages.
var ErrStageUnavailable = eris.New("escalation: stage unavailable")

// UnavailableError wraps the transport, auth or breaker failure that made a
// stage unavailable. errors.Is(err, ErrStageUnavailable) holds for it.
type UnavailableError struct {
	Service string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("escalation: %s unavailable: %v", e.Service, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrStageUnavailable }

// unavailable classifies a failed external call. Context errors pass through
// so callers can tell cancellation apart from an outage.
func unavailable(ctx context.Context, service string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return eris.Wrapf(ctxErr, "escalation: %s", service)
	}
	return &UnavailableError{Service: service, Err: err}
}

// reserve claims one call from the job budget attached to ctx, if any.
func reserve(ctx context.Context) (*cost.Budget, error) {
	b := cost.BudgetFrom(ctx)
	if err := b.Reserve(); err != nil {
		return nil, err
	}
	return b, nil
}

// cleanJSON strips markdown fences and surrounding prose from a model reply,
// leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
