package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shpitdev/climate-tweet-harvest/internal/app"
	"github.com/shpitdev/climate-tweet-harvest/pkg/clean"
	"github.com/shpitdev/climate-tweet-harvest/pkg/filter"
	"github.com/shpitdev/climate-tweet-harvest/pkg/geo"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/redact"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/worker"
)

func runFilter(ctx context.Context, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("filter", flag.ContinueOnError)
	fs.SetOutput(stderr)
	input := fs.String("input", "", "JSON array of raw tweets (as written by --raw-output)")
	outputDir := fs.String("output-dir", "", "Directory for the per-label JSON files")
	rulesPath := fs.String("rules", envString("FILTER_RULES", ""), "YAML rules file; defaults to the built-in topics (env: FILTER_RULES)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	rules, err := filter.LoadRules(*rulesPath)
	if err != nil {
		return exitCode(stderr, "filter", err)
	}
	sum, err := app.RunFilter(ctx, logger, app.FilterOptions{
		InputPath: *input,
		OutputDir: *outputDir,
		Rules:     rules,
	})
	if err != nil {
		return exitCode(stderr, "filter", err)
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "input:\t%d\n", sum.Stats.Input)
	_, _ = fmt.Fprintf(tw, "matched:\t%d\n", sum.Stats.Matched)
	_, _ = fmt.Fprintf(tw, "unmatched:\t%d\n", sum.Stats.Unmatched)
	_, _ = fmt.Fprintf(tw, "skipped:\t%d\n", sum.Stats.Skipped)
	for _, label := range rules.Names() {
		_, _ = fmt.Fprintf(tw, "%s:\t%d\n", label, sum.Stats.PerLabel[label])
	}
	_ = tw.Flush()
	return exitOK
}

func runClean(ctx context.Context, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datasetPath := fs.String("dataset", "", "Dataset CSV to read")
	outputPath := fs.String("output", "", "CSV to write, with a clean_text column")
	top := fs.Int("top", 10, "Hashtags and mentions to report, 0 for all")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	sum, err := app.RunClean(ctx, logger, app.CleanOptions{
		DatasetPath: *datasetPath,
		OutputPath:  *outputPath,
		Top:         *top,
	})
	if err != nil {
		return exitCode(stderr, "clean", err)
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "records:\t%d\n", sum.Records)
	_, _ = fmt.Fprintf(tw, "top hashtags:\t%s\n", formatCounts(sum.TopHashtags, "#"))
	_, _ = fmt.Fprintf(tw, "top mentions:\t%s\n", formatCounts(sum.TopMentions, "@"))
	_, _ = fmt.Fprintf(tw, "written to:\t%s\n", *outputPath)
	_, _ = fmt.Fprintf(tw, "duration:\t%s\n", sum.Duration.Round(time.Millisecond))
	_ = tw.Flush()
	return exitOK
}

func formatCounts(counts []clean.Count, prefix string) string {
	if len(counts) == 0 {
		return "-"
	}
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = fmt.Sprintf("%s%s (%d)", prefix, c.Value, c.N)
	}
	return strings.Join(parts, ", ")
}

func runLocate(ctx context.Context, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	env, err := loadLocateEnv()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return exitConfig
	}

	fs := flag.NewFlagSet("locate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datasetPath := fs.String("dataset", "", "Dataset CSV to read")
	outputPath := fs.String("output", "", "CSV to write, with a user_country_code column")
	backend := fs.String("backend", env.Backend, "Resolver: nominatim or gemini (env: GEO_BACKEND)")
	nominatimURL := fs.String("nominatim-url", geo.DefaultNominatimURL, "Nominatim base URL")
	workers := fs.Int("workers", env.Workers, "Concurrent lookups (env: WORKERS)")
	maxRetries := fs.Int("max-retries", env.MaxRetries, "Retries per location for transient failures (env: MAX_RETRIES)")
	rateLimitRPS := fs.Float64("rate-limit-rps", env.RateLimitRPS, "Lookup pacing, 0 disables (env: GEO_RATE_LIMIT_RPS)")
	geminiModel := fs.String("gemini-model", env.GeminiModel, "Gemini model name (env: GEMINI_MODEL)")
	geminiBaseURL := fs.String("gemini-base-url", env.GeminiBaseURL, "Gemini API base URL override (env: GEMINI_BASE_URL)")
	valkeyAddr := fs.String("valkey-addr", env.ValkeyAddr, "Valkey address for a persistent cache, empty for in-memory (env: VALKEY_ADDR)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	var resolver geo.Resolver
	switch strings.ToLower(strings.TrimSpace(*backend)) {
	case "nominatim":
		resolver = geo.NewNominatim(*nominatimURL)
	case "gemini":
		g, err := geo.NewGemini(ctx, geo.GeminiConfig{APIKey: env.GeminiAPIKey, Model: *geminiModel, BaseURL: *geminiBaseURL})
		if err != nil {
			return exitCode(stderr, "locate", err)
		}
		resolver = g
	default:
		return exitCode(stderr, "locate", &core.ConfigurationError{Stage: "flags", Err: fmt.Errorf("unknown --backend %q (want nominatim or gemini)", *backend)})
	}

	var cache geo.Cache = geo.NewMemoryCache()
	if addr := strings.TrimSpace(*valkeyAddr); addr != "" {
		vc, err := geo.NewValkeyCache(ctx, geo.ValkeyConfig{Addr: addr, Password: env.ValkeyPass, TTL: env.ValkeyTTL})
		if err != nil {
			return exitCode(stderr, "locate", &core.ConfigurationError{Stage: "valkey", Err: err})
		}
		defer vc.Close()
		cache = vc
		logger.Info("using valkey location cache", "addr", addr)
	}

	sum, err := app.RunLocate(ctx, logger, geo.Cached{Resolver: resolver, Cache: cache}, app.LocateOptions{
		DatasetPath: *datasetPath,
		OutputPath:  *outputPath,
		Workers: worker.Options{
			Workers:           *workers,
			MaxRetries:        *maxRetries,
			RequestsPerSecond: *rateLimitRPS,
			BackoffJitter:     0.2,
		},
	})
	if err != nil {
		return exitCode(stderr, "locate", err)
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "records:\t%d\n", sum.Records)
	_, _ = fmt.Fprintf(tw, "distinct locations:\t%d\n", sum.Stats.Distinct)
	_, _ = fmt.Fprintf(tw, "resolved:\t%d\n", sum.Stats.Resolved)
	_, _ = fmt.Fprintf(tw, "unresolved:\t%d\n", sum.Stats.Unresolved)
	_, _ = fmt.Fprintf(tw, "written to:\t%s\n", *outputPath)
	_, _ = fmt.Fprintf(tw, "duration:\t%s\n", sum.Duration.Round(time.Millisecond))
	_ = tw.Flush()
	return exitOK
}
