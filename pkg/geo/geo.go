// Package geo maps free-text user locations ("Toronto, ON", "somewhere in the EU") to
// ISO 3166-1 alpha-2 country codes.
//
// Resolvers return errors so the worker pool can retry transient failures; ResolveAll
// turns every final failure into Unresolved.
package geo

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/redact"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/worker"
)

// Unresolved is written for a location that could not be mapped to a country.
const Unresolved = "unresolved"

// ErrNotFound means the backend answered but knows no country for the location.
var ErrNotFound = errors.New("geo: no country for location")

// Resolver maps a location string to a lower-case country code.
type Resolver interface {
	Resolve(ctx context.Context, location string) (string, error)
}

// Normalize is the cache key for a location: trimmed, lower-cased, inner whitespace
// collapsed.
func Normalize(location string) string {
	return strings.ToLower(strings.Join(strings.Fields(location), " "))
}

// Stats counts what ResolveAll did.
type Stats struct {
	Distinct   int
	Resolved   int
	Unresolved int
}

// ResolveAll resolves every distinct non-empty location once and returns a map keyed by
// Normalize(location). Locations that fail for any reason map to Unresolved; only
// context cancellation is returned as an error.
func ResolveAll(ctx context.Context, r Resolver, locations []string, opts worker.Options, logger *slog.Logger) (map[string]string, Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[string]struct{}, len(locations))
	var distinct []string
	for _, loc := range locations {
		key := Normalize(loc)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		distinct = append(distinct, key)
	}

	stats := Stats{Distinct: len(distinct)}
	codes := make(map[string]string, len(distinct))
	opts.FailurePolicy = worker.FailurePolicyPartialOutput
	_, err := worker.Run(ctx, distinct, r.Resolve, func(res worker.Result[string, string]) error {
		code := strings.ToLower(strings.TrimSpace(res.Output))
		if res.Err != nil || code == "" {
			code = Unresolved
			if res.Err != nil && !errors.Is(res.Err, ErrNotFound) {
				logger.Debug("location lookup failed",
					"location", res.Input,
					"attempts", res.Attempts,
					"error", redact.Secrets(res.Err.Error()),
				)
			}
		}
		if code == Unresolved {
			stats.Unresolved++
		} else {
			stats.Resolved++
		}
		codes[res.Input] = code
		return nil
	}, opts)
	if err != nil {
		return nil, stats, err
	}
	return codes, stats, nil
}

// Lookup returns the code for location from a ResolveAll map. Empty locations are
// Unresolved.
func Lookup(codes map[string]string, location string) string {
	if code, ok := codes[Normalize(location)]; ok {
		return code
	}
	return Unresolved
}
