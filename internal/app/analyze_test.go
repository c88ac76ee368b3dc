package app_test

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/shpitdev/climate-tweet-harvest/internal/app"
	"github.com/shpitdev/climate-tweet-harvest/pkg/filter"
	"github.com/shpitdev/climate-tweet-harvest/pkg/geo"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/io/local"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/worker"
)

func TestRunFilter(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "raw.json")
	raw := `[
		{"id_str":"1","full_text":"The Paris Agreement turns five"},
		{"id_str":"2","full_text":"Climate change is real"},
		{"id_str":"3","text":"lunch"},
		"not a tweet"
	]`
	if err := os.WriteFile(input, []byte(raw), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	out := filepath.Join(dir, "groups")

	sum, err := app.RunFilter(context.Background(), quietLogger(), app.FilterOptions{
		InputPath: input,
		OutputDir: out,
		Rules:     filter.DefaultRules(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Stats.Input != 4 || sum.Stats.Matched != 2 || sum.Stats.Unmatched != 1 || sum.Stats.Skipped != 1 {
		t.Fatalf("unexpected stats: %#v", sum.Stats)
	}
	if len(sum.Paths) != len(filter.DefaultRules().Labels) {
		t.Fatalf("expected one file per label, got %v", sum.Paths)
	}
	paris, err := local.ReadJSONArray(filepath.Join(out, "paris_agreement.json"))
	if err != nil || len(paris) != 1 {
		t.Fatalf("expected one paris_agreement tweet, got %d (%v)", len(paris), err)
	}
}

func TestRunFilter_RequiresPaths(t *testing.T) {
	_, err := app.RunFilter(context.Background(), quietLogger(), app.FilterOptions{Rules: filter.DefaultRules()})
	var cfg *core.ConfigurationError
	if !errors.As(err, &cfg) || len(cfg.Missing) != 2 {
		t.Fatalf("expected configuration error listing both paths, got %v", err)
	}
}

type mapResolver struct {
	mu    sync.Mutex
	codes map[string]string
	seen  []string
}

func (m *mapResolver) Resolve(_ context.Context, location string) (string, error) {
	m.mu.Lock()
	m.seen = append(m.seen, location)
	m.mu.Unlock()
	if code, ok := m.codes[location]; ok {
		return code, nil
	}
	return "", geo.ErrNotFound
}

func TestRunLocate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tweets.csv")
	api := &fakeAPI{text: "x"}
	if _, err := app.RunHydrate(context.Background(), quietLogger(), api, makeIDs(1, 3), opts(path)); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	before, _ := os.ReadFile(path)

	r := &mapResolver{codes: map[string]string{"toronto": "CA"}}
	out := filepath.Join(dir, "tweets-geo.csv")
	sum, err := app.RunLocate(context.Background(), quietLogger(), r, app.LocateOptions{
		DatasetPath: path,
		OutputPath:  out,
		Workers:     worker.Options{Workers: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Records != 3 || sum.Stats.Distinct != 1 || sum.Stats.Resolved != 1 {
		t.Fatalf("unexpected summary: %#v", sum)
	}
	sort.Strings(r.seen)
	if strings.Join(r.seen, ",") != "toronto" {
		t.Fatalf("expected one lookup per distinct location, got %v", r.seen)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	header := rows[0]
	if header[len(header)-1] != app.CountryColumn {
		t.Fatalf("missing country column: %v", header)
	}
	for _, row := range rows[1:] {
		if row[len(row)-1] != "ca" {
			t.Fatalf("unexpected code: %v", row)
		}
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatalf("source dataset was modified")
	}
}

func TestRunLocate_RejectsSameOutput(t *testing.T) {
	_, err := app.RunLocate(context.Background(), quietLogger(), &mapResolver{}, app.LocateOptions{
		DatasetPath: "tweets.csv",
		OutputPath:  "./tweets.csv",
	})
	var cfg *core.ConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunLocate_MissingDataset(t *testing.T) {
	dir := t.TempDir()
	_, err := app.RunLocate(context.Background(), quietLogger(), &mapResolver{}, app.LocateOptions{
		DatasetPath: filepath.Join(dir, "missing.csv"),
		OutputPath:  filepath.Join(dir, "out.csv"),
	})
	var cfg *core.ConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunClean(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tweets.csv")
	api := &fakeAPI{text: "#ClimateStrike 2020 @greta https://t.co/x NOW!"}
	if _, err := app.RunHydrate(context.Background(), quietLogger(), api, makeIDs(1, 3), opts(path)); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	before, _ := os.ReadFile(path)

	out := filepath.Join(dir, "tweets-clean.csv")
	sum, err := app.RunClean(context.Background(), quietLogger(), app.CleanOptions{DatasetPath: path, OutputPath: out, Top: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Records != 3 {
		t.Fatalf("unexpected summary: %#v", sum)
	}
	if len(sum.TopHashtags) != 1 || sum.TopHashtags[0].Value != "climatestrike" || sum.TopHashtags[0].N != 3 {
		t.Fatalf("unexpected hashtags: %v", sum.TopHashtags)
	}
	if len(sum.TopMentions) != 1 || sum.TopMentions[0].Value != "greta" {
		t.Fatalf("unexpected mentions: %v", sum.TopMentions)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if header := rows[0]; header[len(header)-1] != app.CleanColumn {
		t.Fatalf("missing clean column: %v", header)
	}
	for _, row := range rows[1:] {
		if got := row[len(row)-1]; got != "climatestrike  greta  now" {
			t.Fatalf("unexpected clean text: %q", got)
		}
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatalf("source dataset was modified")
	}
}

func TestRunClean_Validation(t *testing.T) {
	dir := t.TempDir()
	cases := []app.CleanOptions{
		{},
		{DatasetPath: "tweets.csv", OutputPath: "./tweets.csv"},
		{DatasetPath: filepath.Join(dir, "missing.csv"), OutputPath: filepath.Join(dir, "out.csv")},
	}
	for _, o := range cases {
		_, err := app.RunClean(context.Background(), quietLogger(), o)
		var cfg *core.ConfigurationError
		if !errors.As(err, &cfg) {
			t.Fatalf("RunClean(%+v): expected configuration error, got %v", o, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "out.csv")); !os.IsNotExist(err) {
		t.Fatalf("no output expected on validation errors")
	}
}
