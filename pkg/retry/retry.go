package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// Policy bounds one delivery attempt sequence.
type Policy struct {
	// MaxAttempts is the total number of tries including the first one.
	MaxAttempts uint64

	// InitialDelay is the wait before the second attempt. Subsequent waits
	// grow exponentially.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth of the wait.
	MaxDelay time.Duration
}

// DefaultPolicy returns the delivery retry defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
	}
}

// Do runs op until it succeeds, returns a permanent error, the context is
// cancelled, or the attempt budget is exhausted. The wait between attempts
// starts at InitialDelay and grows exponentially up to MaxDelay.
//
// When the budget runs out, the returned error carries the
// PermanentFailureError marker and wraps the last attempt's error. A context
// cancellation surfaces as the last attempt's error; callers that need to
// distinguish shutdown from delivery failure should inspect ctx.Err().
func Do(ctx context.Context, policy Policy, log *zap.SugaredLogger, op func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	base := backoff.NewExponentialBackOff()
	base.InitialInterval = policy.InitialDelay
	base.MaxInterval = policy.MaxDelay
	// Bounded by attempts, not wall time
	base.MaxElapsedTime = 0

	bounded := backoff.WithContext(backoff.WithMaxRetries(base, policy.MaxAttempts-1), ctx)

	attempt := uint64(0)
	err := backoff.RetryNotify(
		func() error {
			attempt++
			return op(ctx)
		},
		bounded,
		func(err error, next time.Duration) {
			log.Debugf("Attempt %d failed, retrying in %s: %s", attempt, next, err)
		},
	)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return err
	}

	if attempt >= policy.MaxAttempts {
		log.Errorf("Giving up after %d attempts: %s", attempt, err)
		return fmt.Errorf("%s (%d attempts): %w", PermanentFailureError, attempt, err)
	}

	return err
}

// Permanent marks err as not retryable. Do returns the original error
// immediately when op reports a permanent error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
