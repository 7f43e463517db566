// ABOUTME: Timeout retry policy for store writes
// ABOUTME: Only store timeouts are retried; every other error is permanent

package history

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nainya/lexstore/pkg/store"
)

// RetryPolicy retries an operation a bounded number of times with a fixed wait
type RetryPolicy struct {
	Attempts int
	Wait     time.Duration
}

// DefaultRetry: three attempts, thirty seconds apart
var DefaultRetry = RetryPolicy{Attempts: 3, Wait: 30 * time.Second}

// Do runs op until it succeeds, fails permanently or attempts run out
func (r RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.Wait), uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !store.IsTimeout(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
