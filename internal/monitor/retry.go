package monitor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// WithRetry runs op up to attempts times with exponential backoff between
// failures (1s, 2s, 4s, ...). The last error is returned when every attempt
// fails; context cancellation aborts the wait immediately.
func WithRetry[T any](ctx context.Context, attempts int, op func() (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(attempts)),
	)
}
