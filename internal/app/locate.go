package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/shpitdev/climate-tweet-harvest/pkg/geo"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/dataset"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/io/local"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/worker"
)

// CountryColumn is appended to the dataset by RunLocate.
const CountryColumn = "user_country_code"

type LocateOptions struct {
	DatasetPath string
	OutputPath  string
	Workers     worker.Options
}

type LocateSummary struct {
	Records  int
	Stats    geo.Stats
	Duration time.Duration
}

// RunLocate resolves each record's user location to a country code and writes the
// dataset plus a user_country_code column to opts.OutputPath. The source dataset is
// never modified.
func RunLocate(ctx context.Context, logger *slog.Logger, r geo.Resolver, opts LocateOptions) (LocateSummary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var missing []string
	if strings.TrimSpace(opts.DatasetPath) == "" {
		missing = append(missing, "dataset")
	}
	if strings.TrimSpace(opts.OutputPath) == "" {
		missing = append(missing, "output")
	}
	if len(missing) > 0 {
		return LocateSummary{}, &core.ConfigurationError{Stage: "locate", Missing: missing}
	}
	if filepath.Clean(opts.DatasetPath) == filepath.Clean(opts.OutputPath) {
		return LocateSummary{}, &core.ConfigurationError{Stage: "locate", Err: fmt.Errorf("output must differ from the dataset path")}
	}

	start := time.Now()
	logger = logger.With("run", NewRunID())

	records, exists, err := dataset.Load(opts.DatasetPath)
	if err != nil {
		return LocateSummary{}, fmt.Errorf("load dataset: %w", err)
	}
	if !exists {
		return LocateSummary{}, &core.ConfigurationError{Stage: "locate", Err: fmt.Errorf("dataset %s does not exist", opts.DatasetPath)}
	}

	locations := make([]string, len(records))
	for i, rec := range records {
		locations[i] = rec.Location
	}
	logger.Info("locate start", "dataset", opts.DatasetPath, "records", len(records), "workers", opts.Workers.Workers)

	codes, stats, err := geo.ResolveAll(ctx, r, locations, opts.Workers, logger)
	if err != nil {
		return LocateSummary{Records: len(records), Stats: stats}, fmt.Errorf("resolve locations: %w", err)
	}

	err = local.WriteFileAtomic(opts.OutputPath, 0o644, func(w io.Writer) error {
		return dataset.WriteCSVWithColumn(w, records, CountryColumn, func(rec dataset.FlatRecord) string {
			return geo.Lookup(codes, rec.Location)
		})
	})
	if err != nil {
		return LocateSummary{Records: len(records), Stats: stats}, fmt.Errorf("write output: %w", &core.PersistenceError{Path: opts.OutputPath, Op: "write", Err: err})
	}

	sum := LocateSummary{Records: len(records), Stats: stats, Duration: time.Since(start)}
	logger.Info("locate complete",
		"output", opts.OutputPath,
		"distinct_locations", stats.Distinct,
		"resolved", stats.Resolved,
		"unresolved", stats.Unresolved,
		"duration", sum.Duration.Round(time.Millisecond),
	)
	return sum, nil
}
