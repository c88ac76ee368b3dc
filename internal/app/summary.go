package app

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/dataset"
)

// Summary is the operator-facing result of a hydrate or search run.
type Summary struct {
	RunID string
	Mode  string

	Requested      int
	Requests       int
	Fetched        int
	Materialized   int
	Skipped        int
	Unresolved     int
	FailedBatches  int
	RateLimitWaits int

	Merge    dataset.MergeResult
	Duration time.Duration
}

// Print writes the summary as aligned key/value lines.
func (s Summary) Print(w io.Writer) error {
	type kv struct {
		k string
		v any
	}
	if h := headline(s.Merge.Outcome); h != "" {
		if _, err := fmt.Fprintln(w, h); err != nil {
			return err
		}
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	lines := []kv{
		{"run", s.RunID},
		{"mode", s.Mode},
		{"fetched", s.Fetched},
		{"skipped (malformed)", s.Skipped},
		{"unresolved", s.Unresolved},
		{"failed batches", s.FailedBatches},
		{"rate-limit waits", s.RateLimitWaits},
		{"existing records", s.Merge.Existing},
		{"new records", s.Merge.Added},
		{"duplicates", s.Merge.Duplicates},
		{"total records", s.Merge.Total},
		{"outcome", outcomeOrDash(s.Merge.Outcome)},
	}
	if s.Merge.Path != "" {
		lines = append(lines, kv{"written to", s.Merge.Path})
	}
	lines = append(lines, kv{"duration", s.Duration.Round(time.Millisecond)})

	for _, l := range lines {
		if _, err := fmt.Fprintf(tw, "%s:\t%v\n", l.k, l.v); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func headline(o dataset.Outcome) string {
	switch o {
	case dataset.OutcomeCreated:
		return "created new dataset"
	case dataset.OutcomeOverwritten:
		return "merged into existing dataset"
	case dataset.OutcomeWrittenTo:
		return "merged dataset written to a new file"
	case dataset.OutcomeUnchanged:
		return "no new records; dataset unchanged"
	case dataset.OutcomeAborted:
		return "aborted; nothing written"
	default:
		return ""
	}
}

func outcomeOrDash(o dataset.Outcome) string {
	if o == "" {
		return "-"
	}
	return string(o)
}
