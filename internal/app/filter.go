package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shpitdev/climate-tweet-harvest/pkg/filter"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/io/local"
)

type FilterOptions struct {
	InputPath string
	OutputDir string
	Rules     filter.Rules
}

// FilterSummary reports a filter run.
type FilterSummary struct {
	Stats filter.Stats
	Paths []string
}

// RunFilter splits a raw tweet dump into one JSON file per rule label.
func RunFilter(ctx context.Context, logger *slog.Logger, opts FilterOptions) (FilterSummary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var missing []string
	if strings.TrimSpace(opts.InputPath) == "" {
		missing = append(missing, "input")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		missing = append(missing, "output-dir")
	}
	if len(missing) > 0 {
		return FilterSummary{}, &core.ConfigurationError{Stage: "filter", Missing: missing}
	}
	if err := opts.Rules.Validate(); err != nil {
		return FilterSummary{}, err
	}
	logger = logger.With("run", NewRunID())

	tweets, err := local.ReadJSONArray(opts.InputPath)
	if err != nil {
		return FilterSummary{}, fmt.Errorf("read input: %w", &core.PersistenceError{Path: opts.InputPath, Op: "read", Err: err})
	}
	logger.Info("filter start", "input", opts.InputPath, "tweets", len(tweets), "labels", strings.Join(opts.Rules.Names(), ","))

	groups, stats := filter.Split(tweets, opts.Rules)
	if err := ctx.Err(); err != nil {
		return FilterSummary{Stats: stats}, err
	}
	paths, err := filter.WriteGroups(opts.OutputDir, groups)
	if err != nil {
		return FilterSummary{Stats: stats, Paths: paths}, fmt.Errorf("write output: %w", err)
	}
	for _, label := range opts.Rules.Names() {
		logger.Info("label written", "label", label, "tweets", stats.PerLabel[label])
	}
	logger.Info("filter complete", "matched", stats.Matched, "unmatched", stats.Unmatched, "skipped", stats.Skipped)
	return FilterSummary{Stats: stats, Paths: paths}, nil
}
