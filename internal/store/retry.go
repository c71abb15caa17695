package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// conflictBackOff is the wait between re-runs of a conflicting transaction.
// Conflicts clear as soon as the competing commit lands, so the intervals
// stay in the low milliseconds.
func conflictBackOff(ctx context.Context, maxAttempts int) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Millisecond
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.5
	policy.MaxInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxAttempts-1)), ctx)
}

// RetryOnConflict runs attempt until it succeeds, fails with something other
// than ErrConflict, or maxAttempts is reached. Exhaustion and cancellation
// are reported as ErrTransient.
func RetryOnConflict(ctx context.Context, maxAttempts int, attempt func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := attempt(ctx)
		if err == nil || errors.Is(err, ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, conflictBackOff(ctx, maxAttempts))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict):
		return fmt.Errorf("%w: gave up after %d attempts: %v", ErrTransient, attempts, err)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return fmt.Errorf("%w: %v", ErrTransient, err)
	default:
		return err
	}
}
