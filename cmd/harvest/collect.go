package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shpitdev/climate-tweet-harvest/internal/app"
	"github.com/shpitdev/climate-tweet-harvest/pkg/credentials"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/dataset"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/fetch"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/io/local"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/redact"
	"github.com/shpitdev/climate-tweet-harvest/pkg/twitter"
)

// collectFlags are shared by hydrate and search.
type collectFlags struct {
	dataset      string
	credentials  string
	auth         string
	batchSize    int
	onExisting   string
	rawOutput    string
	failFast     bool
	rateLimitRPS float64
}

func addCollectFlags(fs *flag.FlagSet, env collectEnv) *collectFlags {
	f := &collectFlags{}
	fs.StringVar(&f.dataset, "dataset", "", "Dataset CSV to create or merge into")
	fs.StringVar(&f.credentials, "credentials", env.Credentials, "Credentials file, JSON or YAML (env: TWITTER_CREDENTIALS; falls back to TWITTER_* vars)")
	fs.StringVar(&f.auth, "auth", env.AuthMode, "Auth mode: user or app (env: TWITTER_AUTH_MODE)")
	fs.IntVar(&f.batchSize, "batch-size", env.BatchSize, "IDs per lookup request, at most 100 (env: BATCH_SIZE)")
	fs.StringVar(&f.onExisting, "on-existing", env.OnExisting, "When the dataset exists: overwrite, abort, or write-to:<path> (env: ON_EXISTING)")
	fs.StringVar(&f.rawOutput, "raw-output", "", "Also write the fetched tweets as a JSON array to this file")
	fs.BoolVar(&f.failFast, "fail-fast", env.FailFast, "Stop at the first failed batch (env: FAIL_FAST)")
	fs.Float64Var(&f.rateLimitRPS, "rate-limit-rps", env.RateLimitRPS, "Request pacing, 0 disables (env: RATE_LIMIT_RPS)")
	return f
}

func (f *collectFlags) options() (app.CollectOptions, error) {
	if strings.TrimSpace(f.dataset) == "" {
		return app.CollectOptions{}, &core.ConfigurationError{Stage: "flags", Missing: []string{"--dataset"}}
	}
	if f.batchSize < 1 || f.batchSize > fetch.MaxBatchSize {
		return app.CollectOptions{}, &core.ConfigurationError{Stage: "flags", Err: fmt.Errorf("--batch-size must be between 1 and %d, got %d", fetch.MaxBatchSize, f.batchSize)}
	}
	policy, err := dataset.ParsePolicy(f.onExisting)
	if err != nil {
		return app.CollectOptions{}, err
	}
	failure := fetch.FailurePolicyPartialOutput
	if f.failFast {
		failure = fetch.FailurePolicyFailFast
	}
	return app.CollectOptions{
		DatasetPath: f.dataset,
		Policy:      policy,
		RawOutput:   f.rawOutput,
		Fetch: fetch.Options{
			BatchSize:         f.batchSize,
			RequestsPerSecond: f.rateLimitRPS,
			FailurePolicy:     failure,
		},
	}, nil
}

// client loads credentials and builds the API client. A credentials file wins over the
// environment; app auth only needs the consumer pair.
func (f *collectFlags) client(ctx context.Context) (*twitter.Client, error) {
	mode, err := twitter.ParseAuthMode(f.auth)
	if err != nil {
		return nil, err
	}
	var creds credentials.Credentials
	switch {
	case strings.TrimSpace(f.credentials) != "":
		creds, err = credentials.Load(f.credentials)
	case mode == twitter.AuthApp:
		creds = credentials.Credentials{
			ConsumerKey:    strings.TrimSpace(os.Getenv(credentials.EnvConsumerKey)),
			ConsumerSecret: strings.TrimSpace(os.Getenv(credentials.EnvConsumerSecret)),
		}
	default:
		creds, err = credentials.FromEnv()
	}
	if err != nil {
		return nil, err
	}
	return twitter.New(ctx, creds, twitter.Options{AuthMode: mode})
}

func runHydrate(ctx context.Context, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	env, err := loadCollectEnv()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return exitConfig
	}

	fs := flag.NewFlagSet("hydrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	idsPath := fs.String("ids", "", "File with one tweet ID per line")
	rangeStart := fs.Int("range-start", 0, "First ID index to hydrate (inclusive)")
	rangeEnd := fs.Int("range-end", 0, "Last ID index to hydrate (exclusive), 0 means the end of the file")
	cf := addCollectFlags(fs, env)
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if strings.TrimSpace(*idsPath) == "" {
		return exitCode(stderr, "hydrate", &core.ConfigurationError{Stage: "flags", Missing: []string{"--ids"}})
	}
	if *rangeStart < 0 || *rangeEnd < 0 || (*rangeEnd > 0 && *rangeEnd <= *rangeStart) {
		return exitCode(stderr, "hydrate", &core.ConfigurationError{Stage: "flags", Err: fmt.Errorf("invalid id range [%d, %d)", *rangeStart, *rangeEnd)})
	}
	opts, err := cf.options()
	if err != nil {
		return exitCode(stderr, "hydrate", err)
	}

	ids, err := readIdentifiers(*idsPath)
	if err != nil {
		return exitCode(stderr, "hydrate", err)
	}
	ids = local.Window(ids, *rangeStart, *rangeEnd)
	if len(ids) == 0 {
		logger.Warn("no ids in range", "ids", *idsPath, "range_start", *rangeStart, "range_end", *rangeEnd)
	}

	client, err := cf.client(ctx)
	if err != nil {
		return exitCode(stderr, "hydrate", err)
	}

	sum, err := app.RunHydrate(ctx, logger, client, ids, opts)
	if sum.RunID != "" {
		_ = sum.Print(stdout)
	}
	return exitCode(stderr, "hydrate", err)
}

func runSearch(ctx context.Context, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	env, err := loadCollectEnv()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return exitConfig
	}

	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(stderr)
	query := fs.String("query", "", "Search query, e.g. \"climate change\"")
	lang := fs.String("lang", "en", "Restrict results to a language, empty for any")
	since := fs.String("since", "", "Only tweets on or after this date (YYYY-MM-DD)")
	limit := fs.Int("limit", fetch.DefaultSearchLimit, "Maximum number of tweets to collect")
	cf := addCollectFlags(fs, env)
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if strings.TrimSpace(*query) == "" {
		return exitCode(stderr, "search", &core.ConfigurationError{Stage: "flags", Missing: []string{"--query"}})
	}
	if s := strings.TrimSpace(*since); s != "" {
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return exitCode(stderr, "search", &core.ConfigurationError{Stage: "flags", Err: fmt.Errorf("--since must be YYYY-MM-DD, got %q", s)})
		}
	}
	opts, err := cf.options()
	if err != nil {
		return exitCode(stderr, "search", err)
	}

	client, err := cf.client(ctx)
	if err != nil {
		return exitCode(stderr, "search", err)
	}

	sum, err := app.RunSearch(ctx, logger, client, core.SearchQuery{
		Text:  *query,
		Lang:  strings.TrimSpace(*lang),
		Since: strings.TrimSpace(*since),
		Limit: *limit,
	}, opts)
	if sum.RunID != "" {
		_ = sum.Print(stdout)
	}
	return exitCode(stderr, "search", err)
}

func readIdentifiers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &core.ConfigurationError{Stage: "ids", Err: err}
	}
	defer func() {
		_ = f.Close()
	}()
	ids, err := local.ReadIdentifiers(f)
	if err != nil {
		return nil, &core.PersistenceError{Path: path, Op: "read", Err: err}
	}
	return ids, nil
}
