// Package reconnect retries connect/reset attempts with exponential
// backoff, grounded on the teacher's websocket reconnect loops
// (internal/adapters/binance/websocket_manager.go,
// internal/infra/adapters/okx/ws_manager.go) but built on the v5
// generic backoff.Retry API rather than the manual NextBackOff loop
// those predate.
package reconnect

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy configures the backoff applied between reconnect attempts.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultPolicy starts at 500ms, caps each interval at 30s and gives up
// after 5m in total, the same values config.Default uses.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
	}
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Attempt is a single (re)connect attempt, returning the established
// value (a *engine.Engine in practice) or an error to retry on.
type Attempt[T any] func(ctx context.Context) (T, error)

// Run retries attempt under policy until it succeeds, ctx is
// cancelled, or the policy's MaxElapsedTime is exceeded.
func Run[T any](ctx context.Context, policy Policy, attempt Attempt[T]) (T, error) {
	opts := []backoff.RetryOption{backoff.WithBackOff(policy.newBackOff())}
	if policy.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(policy.MaxElapsedTime))
	}
	return backoff.Retry(ctx, func() (T, error) {
		return attempt(ctx)
	}, opts...)
}
