// Package worker runs an independent lookup per input across a bounded pool of
// goroutines, with a shared request budget and retries for transient failures.
//
// The collection path never uses it: hydrate and search stay strictly sequential. It
// serves side lookups such as geocoding, where inputs are independent.
package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
)

type FailurePolicy int

const (
	FailurePolicyPartialOutput FailurePolicy = iota
	FailurePolicyFailFast
)

type Options struct {
	Workers    int
	MaxRetries int
	// Timeout bounds one attempt.
	Timeout time.Duration

	// RequestsPerSecond is shared by all workers. Set to <=0 to disable.
	RequestsPerSecond float64

	FailurePolicy FailurePolicy

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// BackoffJitter applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitter float64
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 10 * time.Second
	}
	if o.BackoffJitter < 0 {
		o.BackoffJitter = 0
	}
	return o
}

// Result is the outcome for one input.
type Result[In any, Out any] struct {
	Index    int
	Input    In
	Output   Out
	Attempts int
	Err      error
}

// Run calls fn for every item and returns the results in input order. onResult, when
// set, sees each result as it completes (completion order) and may stop the run by
// returning an error.
//
// With FailurePolicyFailFast the first item error cancels the remaining work and is
// returned. With FailurePolicyPartialOutput item errors stay in their Result.
func Run[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()
	if len(items) == 0 {
		return nil, ctx.Err()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	// Only the collecting loop below calls stop.
	var firstErr error
	stop := func(err error) {
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	indexes := make(chan int)
	results := make(chan Result[In, Out], opts.Workers)

	var wg sync.WaitGroup
	for range min(opts.Workers, len(items)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				out, attempts, err := attempt(runCtx, items[i], fn, limiter, opts)
				if runCtx.Err() != nil && err != nil {
					return
				}
				results <- Result[In, Out]{Index: i, Input: items[i], Output: out, Attempts: attempts, Err: err}
			}
		}()
	}

	go func() {
		defer close(indexes)
		for i := range items {
			select {
			case indexes <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]Result[In, Out], len(items))
	for res := range results {
		if firstErr != nil {
			continue
		}
		out[res.Index] = res
		if res.Err != nil && opts.FailurePolicy == FailurePolicyFailFast {
			stop(res.Err)
		}
		if onResult != nil {
			if err := onResult(res); err != nil {
				stop(err)
			}
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func attempt[In any, Out any](
	ctx context.Context,
	item In,
	fn func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) (Out, int, error) {
	var zero Out
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return zero, n, err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return zero, n, err
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		out, err := fn(reqCtx, item)
		cancel()
		if err == nil {
			return out, n + 1, nil
		}
		if ctx.Err() != nil {
			return zero, n + 1, ctx.Err()
		}
		if !retryable(err) || n >= retryBudget(opts.MaxRetries, err) {
			return zero, n + 1, err
		}

		if err := sleep(ctx, retryDelay(err, opts, n)); err != nil {
			return zero, n + 1, err
		}
	}
}

type retryCap interface {
	MaxExtraRetries() int
}

func retryBudget(limit int, err error) int {
	var capErr retryCap
	if errors.As(err, &capErr) {
		if n := capErr.MaxExtraRetries(); n < limit {
			return max(n, 0)
		}
	}
	return limit
}

func retryable(err error) bool {
	var rl *core.RateLimitedError
	var te *core.TransientError
	var lte *core.LimitedTransientError
	switch {
	case errors.As(err, &rl), errors.As(err, &te), errors.As(err, &lte):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// retryDelay honours a provider reset time when one is given, capped at BackoffMax;
// otherwise it backs off exponentially from BackoffInitial.
func retryDelay(err error, opts Options, n int) time.Duration {
	var rl *core.RateLimitedError
	if errors.As(err, &rl) && !rl.Reset.IsZero() {
		if d := time.Until(rl.Reset); d > 0 {
			return min(d, opts.BackoffMax)
		}
	}
	d := opts.BackoffInitial
	for i := 0; i < n && d < opts.BackoffMax; i++ {
		d *= 2
	}
	d = min(d, opts.BackoffMax)
	if opts.BackoffJitter > 0 {
		d = time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*opts.BackoffJitter))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
