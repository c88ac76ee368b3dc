package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/io/local"
)

// PolicyKind selects what happens when the target dataset already exists.
type PolicyKind int

const (
	PolicyOverwrite PolicyKind = iota
	PolicyWriteTo
	PolicyAbort
)

// MergePolicy is decided by the caller before merging; the merger never prompts.
type MergePolicy struct {
	Kind PolicyKind
	// Path is the alternate location for PolicyWriteTo.
	Path string
}

func Overwrite() MergePolicy { return MergePolicy{Kind: PolicyOverwrite} }

func WriteTo(path string) MergePolicy { return MergePolicy{Kind: PolicyWriteTo, Path: path} }

func Abort() MergePolicy { return MergePolicy{Kind: PolicyAbort} }

func (p MergePolicy) String() string {
	switch p.Kind {
	case PolicyOverwrite:
		return "overwrite"
	case PolicyWriteTo:
		return "write-to:" + p.Path
	case PolicyAbort:
		return "abort"
	default:
		return fmt.Sprintf("policy(%d)", int(p.Kind))
	}
}

// ParsePolicy parses "overwrite", "abort", or "write-to:<path>".
func ParsePolicy(raw string) (MergePolicy, error) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "overwrite":
		return Overwrite(), nil
	case "abort", "quit", "q":
		return Abort(), nil
	}
	if prefix := "write-to:"; strings.HasPrefix(strings.ToLower(s), prefix) {
		path := strings.TrimSpace(s[len(prefix):])
		if path == "" {
			return MergePolicy{}, &core.ConfigurationError{Stage: "merge policy", Err: errors.New("write-to requires a path")}
		}
		return WriteTo(path), nil
	}
	return MergePolicy{}, &core.ConfigurationError{Stage: "merge policy", Err: fmt.Errorf("unknown policy %q (want overwrite, abort, or write-to:<path>)", raw)}
}

// Outcome is what a merge did with the dataset file.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeOverwritten Outcome = "overwritten"
	OutcomeWrittenTo   Outcome = "written-to"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeAborted     Outcome = "aborted"
)

// MergeResult summarizes one merge.
type MergeResult struct {
	Outcome Outcome
	// Path is where the dataset was written. Empty for unchanged/aborted.
	Path    string
	Records []FlatRecord

	Existing   int
	Fresh      int
	Added      int
	Duplicates int
	Total      int
}

// Load reads the dataset at path. A missing file is not an error: exists is false.
// Every other failure is a *core.PersistenceError.
func Load(path string) (records []FlatRecord, exists bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, true, &core.PersistenceError{Path: path, Op: "open", Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	records, err = ReadCSV(f)
	if err != nil {
		return nil, true, &core.PersistenceError{Path: path, Op: "parse", Err: err}
	}
	return records, true, nil
}

// Merge concatenates existing and fresh and drops repeated tweet IDs, keeping the first
// occurrence. Existing records therefore win over re-fetched copies, and the relative
// order of each input is preserved.
func Merge(existing, fresh []FlatRecord) []FlatRecord {
	seen := make(map[string]struct{}, len(existing)+len(fresh))
	out := make([]FlatRecord, 0, len(existing)+len(fresh))
	for _, batch := range [][]FlatRecord{existing, fresh} {
		for _, r := range batch {
			key := strings.TrimSpace(r.TweetID)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// Merger combines freshly materialized records with the dataset on disk.
type Merger struct {
	Logger *slog.Logger
}

// Apply merges fresh into the dataset at target and writes according to policy.
//
// No existing file: the deduplicated fresh records are written to target and the policy
// is not consulted. Existing file with no fresh records: nothing is written. A load
// failure other than "does not exist" aborts before any write. When the policy is
// Abort, Apply returns the computed result together with core.ErrUserAbort.
func (m Merger) Apply(ctx context.Context, target string, fresh []FlatRecord, policy MergePolicy) (MergeResult, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	existing, exists, err := Load(target)
	if err != nil {
		return MergeResult{}, err
	}

	merged := Merge(existing, fresh)
	res := MergeResult{
		Records:    merged,
		Existing:   len(existing),
		Fresh:      len(fresh),
		Total:      len(merged),
		Duplicates: len(existing) + len(fresh) - len(merged),
	}
	res.Added = countAdded(existing, merged)

	if !exists {
		if err := ctx.Err(); err != nil {
			return MergeResult{}, err
		}
		if err := writeDataset(target, merged); err != nil {
			return MergeResult{}, err
		}
		res.Outcome = OutcomeCreated
		res.Path = target
		logger.Info("created new dataset", "path", target, "total", res.Total)
		return res, nil
	}

	logger.Info("existing dataset found",
		"path", target,
		"existing", res.Existing,
		"fresh", res.Fresh,
		"duplicates", res.Duplicates,
		"total", res.Total,
	)

	if len(fresh) == 0 {
		res.Outcome = OutcomeUnchanged
		res.Records = existing
		res.Total = len(existing)
		res.Duplicates = 0
		logger.Info("no new records; dataset left unchanged", "path", target)
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return MergeResult{}, err
	}

	switch policy.Kind {
	case PolicyAbort:
		res.Outcome = OutcomeAborted
		logger.Info("merge aborted by policy; nothing written", "path", target)
		return res, core.ErrUserAbort
	case PolicyWriteTo:
		dest := strings.TrimSpace(policy.Path)
		if dest == "" {
			return MergeResult{}, &core.ConfigurationError{Stage: "merge policy", Err: errors.New("write-to requires a path")}
		}
		if err := writeDataset(dest, merged); err != nil {
			return MergeResult{}, err
		}
		res.Outcome = OutcomeWrittenTo
		res.Path = dest
	case PolicyOverwrite:
		if err := writeDataset(target, merged); err != nil {
			return MergeResult{}, err
		}
		res.Outcome = OutcomeOverwritten
		res.Path = target
	default:
		return MergeResult{}, &core.ConfigurationError{Stage: "merge policy", Err: fmt.Errorf("unknown policy %s", policy)}
	}
	logger.Info("dataset written", "outcome", string(res.Outcome), "path", res.Path, "total", res.Total)
	return res, nil
}

func countAdded(existing, merged []FlatRecord) int {
	// Merge keeps a prefix of existing (after its own dedup), so everything beyond the
	// unique existing rows came from fresh.
	unique := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		unique[strings.TrimSpace(r.TweetID)] = struct{}{}
	}
	return len(merged) - len(unique)
}

func writeDataset(path string, records []FlatRecord) error {
	err := local.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return WriteCSV(w, records)
	})
	if err != nil {
		return &core.PersistenceError{Path: path, Op: "write", Err: err}
	}
	return nil
}
