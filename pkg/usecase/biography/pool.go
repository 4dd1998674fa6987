package biography

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/utils/logging"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Pool bounds concurrent use of the model and search collaborators across
// sessions and retries transient failures with exponential backoff.
type Pool struct {
	sem             *semaphore.Weighted
	limiter         *rate.Limiter
	retries         int
	initialInterval time.Duration
	maxInterval     time.Duration
}

type PoolOption func(*Pool)

// WithRetries sets the number of retries after the first attempt
func WithRetries(n int) PoolOption {
	return func(p *Pool) {
		p.retries = n
	}
}

// WithRate limits calls to perSecond across the pool. Zero or less disables it.
func WithRate(perSecond float64, burst int) PoolOption {
	return func(p *Pool) {
		if perSecond <= 0 {
			p.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithBackoff sets the retry interval bounds
func WithBackoff(initial, maxInterval time.Duration) PoolOption {
	return func(p *Pool) {
		p.initialInterval = initial
		p.maxInterval = maxInterval
	}
}

// NewPool creates a pool admitting at most workers concurrent calls
func NewPool(workers int, opts ...PoolOption) *Pool {
	p := &Pool{
		sem:             semaphore.NewWeighted(int64(max(workers, 1))),
		limiter:         rate.NewLimiter(rate.Inf, 1),
		retries:         3,
		initialInterval: time.Second,
		maxInterval:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialInterval
	b.MaxInterval = p.maxInterval
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.retries, 0))), ctx)
}

// Call runs fn as one scoped collaborator call: acquire a slot, attempt
// with bounded retries on transient errors, release. Fatal errors and
// cancellation are returned without retry.
func Call[T any](ctx context.Context, p *Pool, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, goerr.Wrap(err, "failed to acquire call slot", goerr.V("call", name))
	}
	defer p.sem.Release(1)

	attempts := 0
	op := func() (T, error) {
		attempts++
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return zero, backoff.Permanent(goerr.Wrap(ctx.Err(), "rate limiter wait interrupted"))
			}
			return zero, backoff.Permanent(goerr.Wrap(err, "rate limiter rejected call"))
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if model.IsTransient(err) {
			return zero, err
		}
		return zero, backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		logging.From(ctx).Warn("retrying collaborator call",
			"call", name,
			"attempt", attempts,
			"wait", wait,
			"error", err)
	}

	v, err := backoff.RetryNotifyWithData(op, p.newBackOff(ctx), notify)
	if err != nil {
		return zero, goerr.Wrap(err, "collaborator call failed",
			goerr.V("call", name),
			goerr.V("attempts", attempts))
	}
	return v, nil
}
