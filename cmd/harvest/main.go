package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"

	"github.com/shpitdev/climate-tweet-harvest/internal/logging"
	"github.com/shpitdev/climate-tweet-harvest/internal/version"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/redact"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
	exitAbort  = 3
)

func main() {
	loadDotEnv(".env")
	logger := logging.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, logger, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := gotenv.Load(path); err != nil {
		slog.Warn("could not load env file; using process environment", "path", path, "error", err.Error())
	}
}

func run(ctx context.Context, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return exitConfig
	}

	switch args[0] {
	case "help", "-h", "--help":
		usage(stdout)
		return exitOK
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "harvest %s\n", version.Current)
		return exitOK
	case "hydrate":
		return runHydrate(ctx, logger, args[1:], stdout, stderr)
	case "search":
		return runSearch(ctx, logger, args[1:], stdout, stderr)
	case "filter":
		return runFilter(ctx, logger, args[1:], stdout, stderr)
	case "locate":
		return runLocate(ctx, logger, args[1:], stdout, stderr)
	case "clean":
		return runClean(ctx, logger, args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
		usage(stderr)
		return exitConfig
	}
}

// exitCode prints err and maps it to the process exit status.
func exitCode(stderr io.Writer, cmd string, err error) int {
	if err == nil {
		return exitOK
	}
	msg := redact.Secrets(err.Error())

	var cfg *core.ConfigurationError
	switch {
	case errors.Is(err, core.ErrUserAbort):
		_, _ = fmt.Fprintf(stderr, "%s: %s\n", cmd, msg)
		return exitAbort
	case errors.As(err, &cfg):
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", msg)
		return exitConfig
	default:
		_, _ = fmt.Fprintf(stderr, "%s run failed: %s\n", cmd, msg)
		return exitFailed
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `harvest: incremental tweet collection for the climate-discourse study

Usage:
  harvest <command> [flags]

Commands:
  hydrate  Look up tweet IDs from a file and merge them into a dataset CSV
  search   Page through a search query and merge the results into a dataset CSV
  filter   Split a raw tweet dump into one JSON file per keyword rule
  locate   Add a user_country_code column to a dataset CSV
  clean    Add a clean_text column to a dataset CSV and report top hashtags and mentions
  version  Print the version

Examples:
  harvest hydrate --ids ids/climate_id.txt --range-start 0 --range-end 40000 --dataset climate.csv
  harvest search --query "green new deal" --since 2020-09-20 --dataset gnd.csv --on-existing write-to:gnd-new.csv
  harvest filter --input raw.json --output-dir topics
  harvest locate --dataset climate.csv --output climate-geo.csv --valkey-addr localhost:6379
  harvest clean --dataset climate.csv --output climate-clean.csv --top 20

Exit status:
  0 success, 1 run failure, 2 configuration error, 3 aborted by --on-existing abort

Environment (Twitter):
  TWITTER_CREDENTIALS          Credentials file (JSON or YAML) used when --credentials is not set
  TWITTER_CONSUMER_KEY         Consumer key when no credentials file is given
  TWITTER_CONSUMER_SECRET      Consumer secret
  TWITTER_ACCESS_TOKEN         Access token (user auth only)
  TWITTER_ACCESS_TOKEN_SECRET  Access token secret (user auth only)
  TWITTER_AUTH_MODE            user (default) or app

Environment (collection):
  BATCH_SIZE      IDs per lookup request, at most 100
  RATE_LIMIT_RPS  Request pacing for hydrate/search, 0 disables
  FAIL_FAST       If true/1, stop at the first failed batch
  ON_EXISTING     overwrite (default), abort, or write-to:<path>

Environment (locate):
  GEO_BACKEND         nominatim (default) or gemini
  GEO_RATE_LIMIT_RPS  Lookup pacing, defaults to 1
  WORKERS             Concurrent lookups
  MAX_RETRIES         Retries per location for transient failures
  GEMINI_API_KEY      Gemini API key (gemini backend)
  GEMINI_MODEL        Gemini model name (gemini backend)
  GEMINI_BASE_URL     Optional base URL override
  VALKEY_ADDR         Valkey address for a persistent location cache
  VALKEY_PASSWORD     Valkey password
  VALKEY_TTL          Cache expiry, e.g. 720h; empty keeps entries

Environment (logging):
  LOG_LEVEL   debug, info (default), warn, error
  LOG_FORMAT  json for JSON lines, otherwise human-readable

A .env file in the working directory is loaded when present.

`)
}
