package httpapi

import (
	"context"
	"time"

	"saldo/backend/internal/ledger"
)

const maxRetryDelay = 2 * time.Second

type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
}

func newRetryPolicy(attempts int, baseDelay time.Duration) retryPolicy {
	if attempts < 1 {
		attempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 50 * time.Millisecond
	}
	return retryPolicy{attempts: attempts, baseDelay: baseDelay}
}

// withRetry reruns a whole unit while it fails with a transient store error,
// doubling the delay between attempts.
func withRetry[T any](ctx context.Context, p retryPolicy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	delay := p.baseDelay
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil || !ledger.IsRetryable(err) || attempt >= p.attempts {
			if err != nil && ledger.IsRetryable(err) {
				retriesExhaustedTotal.WithLabelValues(operation).Inc()
			}
			return result, err
		}

		retriesTotal.WithLabelValues(operation).Inc()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, maxRetryDelay)
	}
}
