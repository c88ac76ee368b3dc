// Package fetch pulls tweets from the API in bounded, strictly sequential requests.
//
// Rate limiting is absorbed here: when the provider reports a closed window the
// fetcher blocks until the advertised reset and retries the same request. Every other
// failure is reported per batch, and batches already delivered are never rolled back.
package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/redact"
)

const (
	// MaxBatchSize is the statuses/lookup limit.
	MaxBatchSize = 100
	// DefaultSearchLimit caps a search run when the query sets no limit.
	DefaultSearchLimit = 10000
	// DefaultPageSize is the search/tweets maximum count.
	DefaultPageSize = 100
	// DefaultRateLimitWindow is used when the provider does not say when to come back.
	DefaultRateLimitWindow = 15 * time.Minute

	rateLimitPad = time.Second
)

// FailurePolicy decides what a failed batch does to the rest of the run.
type FailurePolicy int

const (
	// FailurePolicyPartialOutput reports a failed batch and moves on.
	FailurePolicyPartialOutput FailurePolicy = iota
	// FailurePolicyFailFast stops at the first failed batch.
	FailurePolicyFailFast
)

// Options configures a Fetcher.
type Options struct {
	BatchSize int

	// RequestsPerSecond paces requests ahead of the provider's limit. Set to <=0 to disable.
	RequestsPerSecond float64

	FailurePolicy FailurePolicy

	Logger *slog.Logger

	// Now and Sleep default to the wall clock; tests replace them.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 || o.BatchSize > MaxBatchSize {
		o.BatchSize = MaxBatchSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	return o
}

// Batch is one delivered request: the identifiers asked for (empty for search pages)
// and the records the provider returned.
type Batch struct {
	Index   int
	IDs     []string
	Records []core.RawRecord
}

// Report counts what a fetch did. Rate-limit waits are absorbed and only counted.
type Report struct {
	Requests       int
	Requested      int
	Fetched        int
	Unresolved     int
	RateLimitWaits int
	Failed         []*core.TransportError
}

// Fetcher drives paced, rate-limit-aware requests against a tweet provider.
type Fetcher struct {
	opts    Options
	limiter *rate.Limiter
}

// New returns a Fetcher with defaults filled in for unset options.
func New(opts Options) *Fetcher {
	opts = opts.withDefaults()
	f := &Fetcher{opts: opts}
	if opts.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return f
}

// Batches splits ids into consecutive chunks of at most size, preserving order.
func Batches(ids []string, size int) [][]string {
	if size <= 0 {
		size = MaxBatchSize
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end:end])
	}
	return out
}

// Hydrate looks up ids batch by batch and hands each result to onBatch as soon as it
// arrives. An error returned by onBatch stops the fetch.
//
// With FailurePolicyFailFast the first *core.TransportError is returned; the report
// still covers every batch delivered before it.
func (f *Fetcher) Hydrate(ctx context.Context, h core.Hydrator, ids []string, onBatch func(Batch) error) (Report, error) {
	var rep Report
	batches := Batches(ids, f.opts.BatchSize)
	rep.Requested = len(ids)

	for i, batch := range batches {
		var records []core.RawRecord
		err := f.call(ctx, &rep, "lookup", i, func(reqCtx context.Context) error {
			var err error
			records, err = h.Lookup(reqCtx, batch)
			return err
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rep, ctxErr
			}
			te := &core.TransportError{Batch: i, IDs: batch, Err: err}
			rep.Failed = append(rep.Failed, te)
			rep.Unresolved += len(batch)
			f.opts.Logger.Warn("lookup batch failed",
				"batch", i,
				"size", len(batch),
				"error", redact.Secrets(err.Error()),
			)
			if f.opts.FailurePolicy == FailurePolicyFailFast {
				return rep, te
			}
			continue
		}

		rep.Fetched += len(records)
		if missing := len(batch) - len(records); missing > 0 {
			rep.Unresolved += missing
		}
		f.opts.Logger.Debug("lookup batch done",
			"batch", i,
			"of", len(batches),
			"requested", len(batch),
			"returned", len(records),
		)
		if onBatch != nil {
			if err := onBatch(Batch{Index: i, IDs: batch, Records: records}); err != nil {
				return rep, err
			}
		}
	}
	return rep, nil
}

// Search pages through q until q.Limit records were collected or the provider has no
// more pages. A failed page ends the search; with FailurePolicyFailFast its error is
// returned, otherwise it is only reported.
func (f *Fetcher) Search(ctx context.Context, s core.Searcher, q core.SearchQuery, onPage func(Batch) error) (Report, error) {
	var rep Report
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	pageSize := q.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	rep.Requested = limit

	cursor := ""
	for page := 0; rep.Fetched < limit; page++ {
		req := q
		req.Limit = limit
		req.PageSize = min(pageSize, limit-rep.Fetched)

		var res core.SearchPage
		err := f.call(ctx, &rep, "search", page, func(reqCtx context.Context) error {
			var err error
			res, err = s.Search(reqCtx, req, cursor)
			return err
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rep, ctxErr
			}
			te := &core.TransportError{Batch: page, Err: err}
			rep.Failed = append(rep.Failed, te)
			f.opts.Logger.Warn("search page failed",
				"page", page,
				"collected", rep.Fetched,
				"error", redact.Secrets(err.Error()),
			)
			if f.opts.FailurePolicy == FailurePolicyFailFast {
				return rep, te
			}
			break
		}

		records := res.Records
		if remaining := limit - rep.Fetched; len(records) > remaining {
			records = records[:remaining]
		}
		rep.Fetched += len(records)
		f.opts.Logger.Debug("search page done", "page", page, "returned", len(records), "collected", rep.Fetched)
		if onPage != nil && len(records) > 0 {
			if err := onPage(Batch{Index: page, Records: records}); err != nil {
				return rep, err
			}
		}

		if len(res.Records) == 0 || res.Next == "" || res.Next == cursor {
			break
		}
		cursor = res.Next
	}
	return rep, nil
}

// call issues one request, waiting out rate-limit windows and retrying the same request
// until it succeeds or fails for another reason.
func (f *Fetcher) call(ctx context.Context, rep *Report, op string, index int, fn func(context.Context) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		rep.Requests++
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var rl *core.RateLimitedError
		if !errors.As(err, &rl) {
			return err
		}

		wait := DefaultRateLimitWindow
		if !rl.Reset.IsZero() {
			wait = rl.Reset.Sub(f.opts.Now())
		}
		if wait < 0 {
			wait = 0
		}
		wait += rateLimitPad
		rep.RateLimitWaits++
		f.opts.Logger.Info("rate limited; waiting for window reset",
			"op", op,
			"index", index,
			"wait", wait.Round(time.Second),
		)
		if err := f.opts.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
