package jwks

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how a fetch operation is retried. Implementations
// decide both the number of attempts and the delay between them; the
// operation reports whether its failure is worth retrying via the
// retryable interface below.
type RetryPolicy interface {
	// Do runs op, retrying transient failures until the policy gives up.
	// The error of the final attempt is returned.
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

// retryable is implemented by errors that know whether trying again can
// succeed (FetchError, DiscoveryError).
type retryable interface {
	Retryable() bool
}

// NoRetry performs a single attempt.
type NoRetry struct{}

func (NoRetry) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return op(ctx)
}

// ExponentialBackoff retries transient failures with exponential backoff
// and jitter.
type ExponentialBackoff struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts uint

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between consecutive attempts.
	MaxDelay time.Duration

	// MaxElapsed bounds the total time budget across all attempts.
	// Zero means no bound beyond MaxAttempts.
	MaxElapsed time.Duration

	// Notify, if set, is called before each sleep with the attempt's
	// error and the upcoming delay.
	Notify func(err error, next time.Duration)
}

// DefaultRetryPolicy mirrors the retry posture used for key fetches unless
// the caller configures otherwise: three attempts with modest backoff.
func DefaultRetryPolicy() ExponentialBackoff {
	return ExponentialBackoff{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

func (p ExponentialBackoff) Do(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}

	operation := func() (struct{}, error) {
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		var r retryable
		if errors.As(err, &r) && !r.Retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(max(p.MaxAttempts, 1)),
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(p.Notify)))
	}

	_, err := backoff.Retry(ctx, operation, opts...)
	return err
}
