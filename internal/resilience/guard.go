package resilience

import (
	"context"
	"time"
)

// Guard bundles the per-call policy applied to every external call: a
// timeout on each attempt, a bounded retry budget and an optional breaker.
type Guard struct {
	Timeout time.Duration
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// Call runs fn under g. Each attempt gets its own timeout; the breaker sees
// the outcome of the whole retry sequence.
func Call[T any](ctx context.Context, g Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := func(ctx context.Context) (T, error) {
		if g.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.Timeout)
			defer cancel()
		}
		return fn(ctx)
	}
	retried := func(ctx context.Context) (T, error) {
		return DoVal(ctx, g.Retry, attempt)
	}
	if g.Breaker == nil {
		return retried(ctx)
	}
	return ExecuteVal(ctx, g.Breaker, retried)
}
