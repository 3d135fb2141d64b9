package client

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether and how a failed part upload is reattempted.
// It is an explicit, injectable object so the behavior is testable and the
// choice of "no retry at all" is visible in the orchestrator's construction
// rather than implied by absent code.
type RetryPolicy interface {
	// Do runs op, possibly multiple times, and returns the final error.
	Do(ctx context.Context, op func() error) error
}

// NoRetry runs the operation exactly once. This is the default: the first
// failed part surfaces as a terminal error for the file.
type NoRetry struct{}

func (NoRetry) Do(ctx context.Context, op func() error) error {
	return op()
}

// ExponentialRetry reattempts failed operations with exponential backoff,
// bounded by MaxRetries. Validation rejections (HTTP 4xx) are never
// retried; only transport and server-side failures are.
type ExponentialRetry struct {
	InitialInterval time.Duration
	MaxRetries      uint64
}

func (p ExponentialRetry) Do(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx))
}

// isRetryable reports whether an error is worth reattempting. Client-side
// rejections carry an *APIError with a 4xx status; retrying those can never
// succeed.
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return true
}
