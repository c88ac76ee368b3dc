package filter_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shpitdev/climate-tweet-harvest/pkg/filter"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/io/local"
)

func TestDefaultRulesMatch(t *testing.T) {
	rules := filter.DefaultRules()
	tests := []struct {
		text string
		want string
	}{
		{text: "Rejoining the Paris Agreement on day one", want: "paris_agreement"},
		{text: "paris accord talks resume", want: "paris_agreement"},
		{text: "Paris in spring", want: ""},
		{text: "The Green New Deal and climate change", want: "climate_change,green_new_deal"},
		{text: "a new green deal", want: "green_new_deal"},
		{text: "climate of fear", want: ""},
	}
	for _, tt := range tests {
		if got := strings.Join(rules.Match(tt.text), ","); got != tt.want {
			t.Fatalf("Match(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestCaseSensitiveRules(t *testing.T) {
	rules := filter.DefaultRules()
	rules.CaseSensitive = true
	if got := rules.Match("Climate Change is real"); len(got) != 0 {
		t.Fatalf("expected no match in case-sensitive mode, got %v", got)
	}
	if got := rules.Match("climate change is real"); len(got) != 1 {
		t.Fatalf("expected a match, got %v", got)
	}
}

func TestText(t *testing.T) {
	tests := map[string]string{
		`{"full_text":"full","text":"short"}`:                  "full",
		`{"text":"short","extended_tweet":{"full_text":"ext"}}`: "ext",
		`{"text":"short"}`:                                       "short",
	}
	for in, want := range tests {
		got, err := filter.Text(json.RawMessage(in))
		if err != nil || got != want {
			t.Fatalf("Text(%s) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestSplitAndWriteGroups(t *testing.T) {
	tweets := []json.RawMessage{
		json.RawMessage(`{"id_str":"1","full_text":"Paris agreement and climate change"}`),
		json.RawMessage(`{"id_str":"2","full_text":"green new deal now"}`),
		json.RawMessage(`{"id_str":"3","full_text":"nothing relevant"}`),
		json.RawMessage(`"not an object"`),
	}
	groups, stats := filter.Split(tweets, filter.DefaultRules())
	if stats.Input != 4 || stats.Matched != 2 || stats.Unmatched != 1 || stats.Skipped != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
	if len(groups["paris_agreement"]) != 1 || len(groups["climate_change"]) != 1 || len(groups["green_new_deal"]) != 1 {
		t.Fatalf("unexpected groups: %v", groups)
	}

	dir := filepath.Join(t.TempDir(), "filtered")
	paths, err := filter.WriteGroups(dir, groups)
	if err != nil {
		t.Fatalf("write groups: %v", err)
	}
	if len(paths) != 3 || filepath.Base(paths[0]) != "climate_change.json" {
		t.Fatalf("unexpected paths: %v", paths)
	}
	got, err := local.ReadJSONArray(filepath.Join(dir, "paris_agreement.json"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var tw struct {
		ID string `json:"id_str"`
	}
	if len(got) != 1 || json.Unmarshal(got[0], &tw) != nil || tw.ID != "1" {
		t.Fatalf("unexpected file content: %s", got)
	}
}

func TestSplitWritesEmptyGroups(t *testing.T) {
	groups, _ := filter.Split(nil, filter.DefaultRules())
	dir := t.TempDir()
	if _, err := filter.WriteGroups(dir, groups); err != nil {
		t.Fatalf("write groups: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "green_new_deal.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.TrimSpace(string(b)) != "[]" {
		t.Fatalf("expected empty array, got %q", b)
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `
case_sensitive: false
rules:
  cop26:
    all: [cop26]
  net_zero:
    all: ["net zero"]
    any: [pledge, target]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rules, err := filter.LoadRules(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(rules.Names(), ",") != "cop26,net_zero" {
		t.Fatalf("unexpected labels: %v", rules.Names())
	}
	if got := strings.Join(rules.Match("Net Zero target at COP26"), ","); got != "cop26,net_zero" {
		t.Fatalf("unexpected match: %q", got)
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("rules: {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var cfg *core.ConfigurationError
	if _, err := filter.LoadRules(empty); !errors.As(err, &cfg) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	def, err := filter.LoadRules("")
	if err != nil || len(def.Labels) != 3 {
		t.Fatalf("expected default rules, got %v %v", def, err)
	}
}
