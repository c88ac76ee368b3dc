package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/shpitdev/climate-tweet-harvest/pkg/clean"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/dataset"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/io/local"
)

// CleanColumn is appended to the dataset by RunClean.
const CleanColumn = "clean_text"

type CleanOptions struct {
	DatasetPath string
	OutputPath  string
	// Top limits the reported hashtags and mentions; <= 0 reports them all.
	Top int
}

type CleanSummary struct {
	Records     int
	TopHashtags []clean.Count
	TopMentions []clean.Count
	Duration    time.Duration
}

// RunClean writes the dataset plus a clean_text column (links stripped, then
// normalized for topic modelling) to opts.OutputPath, and counts the hashtags and
// mentions found in the tweet text. The source dataset is never modified.
func RunClean(ctx context.Context, logger *slog.Logger, opts CleanOptions) (CleanSummary, error) {
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
		return CleanSummary{}, &core.ConfigurationError{Stage: "clean", Missing: missing}
	}
	if filepath.Clean(opts.DatasetPath) == filepath.Clean(opts.OutputPath) {
		return CleanSummary{}, &core.ConfigurationError{Stage: "clean", Err: fmt.Errorf("output must differ from the dataset path")}
	}

	start := time.Now()
	logger = logger.With("run", NewRunID())

	records, exists, err := dataset.Load(opts.DatasetPath)
	if err != nil {
		return CleanSummary{}, fmt.Errorf("load dataset: %w", err)
	}
	if !exists {
		return CleanSummary{}, &core.ConfigurationError{Stage: "clean", Err: fmt.Errorf("dataset %s does not exist", opts.DatasetPath)}
	}
	logger.Info("clean start", "dataset", opts.DatasetPath, "records", len(records))

	cleaned := make(map[string]string, len(records))
	tags := make([][]string, 0, len(records))
	mentions := make([][]string, 0, len(records))
	for _, rec := range records {
		cleaned[rec.TweetID] = clean.Text(clean.StripURLs(rec.Text))
		tags = append(tags, clean.Hashtags(rec.Text))
		mentions = append(mentions, clean.Mentions(rec.Text))
	}
	if err := ctx.Err(); err != nil {
		return CleanSummary{Records: len(records)}, err
	}

	err = local.WriteFileAtomic(opts.OutputPath, 0o644, func(w io.Writer) error {
		return dataset.WriteCSVWithColumn(w, records, CleanColumn, func(rec dataset.FlatRecord) string {
			return cleaned[rec.TweetID]
		})
	})
	if err != nil {
		return CleanSummary{Records: len(records)}, fmt.Errorf("write output: %w", &core.PersistenceError{Path: opts.OutputPath, Op: "write", Err: err})
	}

	sum := CleanSummary{
		Records:     len(records),
		TopHashtags: clean.Top(clean.Entities(tags), opts.Top),
		TopMentions: clean.Top(clean.Entities(mentions), opts.Top),
		Duration:    time.Since(start),
	}
	logger.Info("clean complete",
		"output", opts.OutputPath,
		"hashtags", len(sum.TopHashtags),
		"mentions", len(sum.TopMentions),
		"duration", sum.Duration.Round(time.Millisecond),
	)
	return sum, nil
}
