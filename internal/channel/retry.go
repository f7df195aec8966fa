package channel

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BaseDeliverer gives a Channel implementation a shared, bounded retry
// policy for outbound delivery attempts, so every transport in this
// package backs off the same way rather than each hand-rolling its
// own loop. Mirrors the shape of internal/store.RetryWithBackoff,
// reused here for network delivery instead of SQLite contention.
type BaseDeliverer struct {
	MaxElapsed time.Duration
}

// NewBaseDeliverer returns a BaseDeliverer with the package default
// bound (30s) unless overridden.
func NewBaseDeliverer(maxElapsed time.Duration) BaseDeliverer {
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return BaseDeliverer{MaxElapsed: maxElapsed}
}

// Do retries send until it succeeds, ctx is cancelled, or MaxElapsed
// passes. Every error is treated as transient: permanent failures
// (e.g. "identity not registered") should be returned as a
// backoff.Permanent-wrapped error by the caller's send function so
// this loop gives up immediately instead of burning the whole budget.
func (b BaseDeliverer) Do(ctx context.Context, send func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = b.MaxElapsed
	return backoff.Retry(send, backoff.WithContext(bo, ctx))
}
