// Package clean normalizes tweet text for topic modelling and extracts hashtags and
// mentions from it.
package clean

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// word matches what a Unicode-aware \w would: letters, marks, digits and underscore.
const word = `[\p{L}\p{M}\p{N}_]`

var (
	urlRe       = regexp.MustCompile(`http\S+`)
	punctRe     = regexp.MustCompile(`[[:punct:]]`)
	digitWordRe = regexp.MustCompile(word + `*\p{Nd}` + word + `*`)
	quoteRe     = regexp.MustCompile(`[‘’“”…]`)
	hashtagRe   = regexp.MustCompile(`#(` + word + `+)`)
	mentionRe   = regexp.MustCompile(`@(` + word + `+)`)
)

// Text lowercases s and removes ASCII punctuation, words containing digits, curly
// quotes, ellipses and line breaks. Whitespace is otherwise left alone.
func Text(s string) string {
	s = strings.ToLower(s)
	s = punctRe.ReplaceAllString(s, "")
	s = digitWordRe.ReplaceAllString(s, "")
	s = quoteRe.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "\n", "")
}

// StripURLs removes every http(s) link from s.
func StripURLs(s string) string {
	return urlRe.ReplaceAllString(s, "")
}

// Hashtags returns the tags in s without the leading '#', in order of appearance.
func Hashtags(s string) []string {
	return submatches(hashtagRe, s)
}

// Mentions returns the screen names mentioned in s without the leading '@'.
func Mentions(s string) []string {
	return submatches(mentionRe, s)
}

func submatches(re *regexp.Regexp, s string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	return out
}

// Entities flattens per-record entity lists into one list, keeping repeats.
func Entities(lists [][]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

type Count struct {
	Value string
	N     int
}

// Top counts values case-insensitively and returns the n most frequent, ties broken
// alphabetically. n <= 0 returns every value.
func Top(values []string, n int) []Count {
	counts := make(map[string]int)
	for _, v := range values {
		if v = strings.ToLower(v); v != "" {
			counts[v]++
		}
	}
	out := make([]Count, 0, len(counts))
	for v, c := range counts {
		out = append(out, Count{Value: v, N: c})
	}
	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.N, a.N); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
