// Package app wires the pipeline packages into the harvest commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/dataset"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/fetch"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/io/local"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/materialize"
)

// CollectOptions configure a hydrate or search run.
type CollectOptions struct {
	DatasetPath string
	Policy      dataset.MergePolicy

	// RawOutput, when set, receives the fetched tweets as a JSON array.
	RawOutput string

	Fetch fetch.Options
}

func (o CollectOptions) validate() error {
	if strings.TrimSpace(o.DatasetPath) == "" {
		return &core.ConfigurationError{Stage: "collect", Missing: []string{"dataset"}}
	}
	if o.Policy.Kind == dataset.PolicyWriteTo && strings.TrimSpace(o.Policy.Path) == "" {
		return &core.ConfigurationError{Stage: "merge policy", Err: errors.New("write-to requires a path")}
	}
	return nil
}

// NewRunID returns a short random identifier attached to every log line of a run.
func NewRunID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// RunHydrate looks up ids in batches and merges the result into opts.DatasetPath.
//
// Recoverable conditions (rate limits, unresolved ids, malformed tweets, failed batches
// under partial output) only change the summary counts. A failed batch under fail-fast
// still merges the batches fetched before it, then returns the fetch error.
func RunHydrate(ctx context.Context, logger *slog.Logger, h core.Hydrator, ids []string, opts CollectOptions) (Summary, error) {
	c, err := newCollector(logger, "hydrate", opts)
	if err != nil {
		return Summary{}, err
	}
	c.logger.Info("hydrate start",
		"ids", len(ids),
		"batch_size", opts.Fetch.BatchSize,
		"dataset", opts.DatasetPath,
		"on_existing", opts.Policy.String(),
	)
	rep, fetchErr := fetch.New(c.fetchOpts()).Hydrate(ctx, h, ids, c.onBatch)
	return c.finish(ctx, rep, fetchErr)
}

// RunSearch pages through a search query and merges the result into opts.DatasetPath.
func RunSearch(ctx context.Context, logger *slog.Logger, s core.Searcher, q core.SearchQuery, opts CollectOptions) (Summary, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Summary{}, &core.ConfigurationError{Stage: "search", Missing: []string{"query"}}
	}
	c, err := newCollector(logger, "search", opts)
	if err != nil {
		return Summary{}, err
	}
	c.logger.Info("search start",
		"query", q.Text,
		"lang", q.Lang,
		"since", q.Since,
		"limit", q.Limit,
		"dataset", opts.DatasetPath,
		"on_existing", opts.Policy.String(),
	)
	rep, fetchErr := fetch.New(c.fetchOpts()).Search(ctx, s, q, c.onBatch)
	return c.finish(ctx, rep, fetchErr)
}

type collector struct {
	opts    CollectOptions
	logger  *slog.Logger
	summary Summary
	start   time.Time

	raw   []core.RawRecord
	fresh []dataset.FlatRecord
}

func newCollector(logger *slog.Logger, mode string, opts CollectOptions) (*collector, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	runID := NewRunID()
	return &collector{
		opts:    opts,
		logger:  logger.With("run", runID),
		summary: Summary{RunID: runID, Mode: mode},
		start:   time.Now(),
	}, nil
}

func (c *collector) fetchOpts() fetch.Options {
	fo := c.opts.Fetch
	fo.Logger = c.logger
	return fo
}

func (c *collector) onBatch(b fetch.Batch) error {
	if c.opts.RawOutput != "" {
		c.raw = append(c.raw, b.Records...)
	}
	res := materialize.All(b.Records)
	for _, s := range res.Skipped {
		c.logger.Warn("skipping malformed tweet", "batch", b.Index, "id", s.ID, "reason", s.Err.Error())
	}
	c.summary.Skipped += len(res.Skipped)
	c.fresh = append(c.fresh, res.Records...)
	return nil
}

func (c *collector) finish(ctx context.Context, rep fetch.Report, fetchErr error) (Summary, error) {
	s := &c.summary
	s.Requested = rep.Requested
	s.Requests = rep.Requests
	s.Fetched = rep.Fetched
	s.Unresolved = rep.Unresolved
	s.RateLimitWaits = rep.RateLimitWaits
	s.FailedBatches = len(rep.Failed)
	s.Materialized = len(c.fresh)

	// Cancellation and callback failures leave nothing on disk.
	var te *core.TransportError
	if fetchErr != nil && !errors.As(fetchErr, &te) {
		s.Duration = time.Since(c.start)
		return *s, fmt.Errorf("fetch: %w", fetchErr)
	}

	c.logger.Info("fetch complete",
		"requests", rep.Requests,
		"fetched", rep.Fetched,
		"materialized", len(c.fresh),
		"skipped", s.Skipped,
		"unresolved", rep.Unresolved,
		"failed_batches", len(rep.Failed),
		"rate_limit_waits", rep.RateLimitWaits,
	)

	res, err := dataset.Merger{Logger: c.logger}.Apply(ctx, c.opts.DatasetPath, c.fresh, c.opts.Policy)
	s.Merge = res
	if err != nil {
		s.Duration = time.Since(c.start)
		if errors.Is(err, core.ErrUserAbort) {
			return *s, err
		}
		return *s, fmt.Errorf("merge: %w", err)
	}

	// The raw dump follows the merge decision so abort and load failures leave no files.
	if c.opts.RawOutput != "" {
		if err := local.WriteJSON(c.opts.RawOutput, c.raw); err != nil {
			s.Duration = time.Since(c.start)
			return *s, fmt.Errorf("raw output: %w", &core.PersistenceError{Path: c.opts.RawOutput, Op: "write", Err: err})
		}
		c.logger.Info("raw tweets written", "path", c.opts.RawOutput, "count", len(c.raw))
	}
	s.Duration = time.Since(c.start)
	if fetchErr != nil {
		return *s, fmt.Errorf("fetch: %w", fetchErr)
	}
	return *s, nil
}
