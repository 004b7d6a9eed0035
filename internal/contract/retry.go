package contract

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a transient failure is retried.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns an exponential policy with the given attempt budget.
func DefaultRetryPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, InitialInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second}
}

// Retry calls op until it succeeds, returns a non-transient error, runs out
// of attempts or ctx is done. It reports how many attempts were made.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) (int, error) {
	eb := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithMaxElapsedTime(0),
	)
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(p.Attempts, 1)-1)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	return attempts, err
}
