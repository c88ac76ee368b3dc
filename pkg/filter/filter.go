// Package filter labels raw tweets by keyword rules and splits them into one group per
// label.
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/io/local"
)

// Rule matches text containing every term in All and, when Any is non-empty, at least
// one term in Any. Terms are substrings, not words.
type Rule struct {
	All []string `yaml:"all"`
	Any []string `yaml:"any"`
}

// Rules is a set of labelled rules.
type Rules struct {
	CaseSensitive bool            `yaml:"case_sensitive"`
	Labels        map[string]Rule `yaml:"rules"`
}

// DefaultRules are the three topics of the climate-discourse study.
func DefaultRules() Rules {
	return Rules{
		Labels: map[string]Rule{
			"paris_agreement": {All: []string{"paris"}, Any: []string{"agreement", "accord"}},
			"green_new_deal":  {All: []string{"green", "new", "deal"}},
			"climate_change":  {All: []string{"climate", "change"}},
		},
	}
}

// LoadRules reads a YAML rules file. An empty path returns DefaultRules.
func LoadRules(path string) (Rules, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, &core.ConfigurationError{Stage: "filter rules", Err: err}
	}
	var r Rules
	if err := yaml.Unmarshal(b, &r); err != nil {
		return Rules{}, &core.ConfigurationError{Stage: "filter rules", Err: fmt.Errorf("parse %s: %w", path, err)}
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

func (r Rules) Validate() error {
	if len(r.Labels) == 0 {
		return &core.ConfigurationError{Stage: "filter rules", Err: errors.New("no rules defined")}
	}
	for label, rule := range r.Labels {
		if strings.TrimSpace(label) == "" || strings.ContainsAny(label, `/\`) {
			return &core.ConfigurationError{Stage: "filter rules", Err: fmt.Errorf("invalid label %q", label)}
		}
		if len(rule.All) == 0 && len(rule.Any) == 0 {
			return &core.ConfigurationError{Stage: "filter rules", Err: fmt.Errorf("rule %q has no terms", label)}
		}
	}
	return nil
}

// Names returns the labels in sorted order.
func (r Rules) Names() []string {
	names := make([]string, 0, len(r.Labels))
	for label := range r.Labels {
		names = append(names, label)
	}
	slices.Sort(names)
	return names
}

// Match returns every label whose rule matches text, sorted.
func (r Rules) Match(text string) []string {
	if !r.CaseSensitive {
		text = strings.ToLower(text)
	}
	var out []string
	for _, label := range r.Names() {
		if r.matches(r.Labels[label], text) {
			out = append(out, label)
		}
	}
	return out
}

func (r Rules) matches(rule Rule, text string) bool {
	contains := func(term string) bool {
		if !r.CaseSensitive {
			term = strings.ToLower(term)
		}
		return strings.Contains(text, term)
	}
	for _, term := range rule.All {
		if !contains(term) {
			return false
		}
	}
	if len(rule.Any) == 0 {
		return true
	}
	return slices.ContainsFunc(rule.Any, contains)
}

type tweetText struct {
	FullText      string `json:"full_text"`
	Text          string `json:"text"`
	ExtendedTweet *struct {
		FullText string `json:"full_text"`
	} `json:"extended_tweet"`
}

// Text extracts the longest available text from a raw tweet object.
func Text(raw json.RawMessage) (string, error) {
	var t tweetText
	if err := json.Unmarshal(raw, &t); err != nil {
		return "", err
	}
	switch {
	case t.FullText != "":
		return t.FullText, nil
	case t.ExtendedTweet != nil && t.ExtendedTweet.FullText != "":
		return t.ExtendedTweet.FullText, nil
	default:
		return t.Text, nil
	}
}

// Stats counts a Split.
type Stats struct {
	Input     int
	Matched   int
	Unmatched int
	Skipped   int
	PerLabel  map[string]int
}

// Split groups raw tweets by label. Every label in rules gets an entry, possibly empty.
// A tweet may appear under several labels. Elements that are not tweet objects are
// skipped and counted.
func Split(tweets []json.RawMessage, rules Rules) (map[string][]json.RawMessage, Stats) {
	groups := make(map[string][]json.RawMessage, len(rules.Labels))
	for label := range rules.Labels {
		groups[label] = []json.RawMessage{}
	}
	stats := Stats{Input: len(tweets), PerLabel: make(map[string]int, len(rules.Labels))}

	for _, raw := range tweets {
		text, err := Text(raw)
		if err != nil {
			stats.Skipped++
			continue
		}
		labels := rules.Match(text)
		if len(labels) == 0 {
			stats.Unmatched++
			continue
		}
		stats.Matched++
		for _, label := range labels {
			groups[label] = append(groups[label], raw)
			stats.PerLabel[label]++
		}
	}
	return groups, stats
}

// WriteGroups writes each group to dir/<label>.json and returns the paths in label order.
func WriteGroups(dir string, groups map[string][]json.RawMessage) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &core.PersistenceError{Path: dir, Op: "mkdir", Err: err}
	}
	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	paths := make([]string, 0, len(labels))
	for _, label := range labels {
		path := filepath.Join(dir, label+".json")
		if err := local.WriteJSON(path, groups[label]); err != nil {
			return paths, &core.PersistenceError{Path: path, Op: "write", Err: err}
		}
		paths = append(paths, path)
	}
	return paths, nil
}
