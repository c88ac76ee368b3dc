// Package dataset owns the persisted tweet table: its column contract, the CSV codec,
// and the merge that keeps tweet IDs unique across runs.
package dataset

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DatetimeLayout is the UTC timestamp format of the datetime column.
const DatetimeLayout = "2006-01-02 15:04:05"

// FlatRecord is the stable, one-row-per-tweet projection persisted to the dataset.
type FlatRecord struct {
	TweetID            string
	Text               string
	Retweets           int
	Likes              int
	UserID             string
	UserName           string
	UserFollowersCount int
	Location           string
	Datetime           string
	Hashtags           []string
	URLs               []string
	Mentions           []string
	MentionIDs         []string
}

// Header returns the stable CSV header for FlatRecord.
func Header() []string {
	return []string{
		"tweet_id",
		"tweet",
		"retweets",
		"likes",
		"user_id",
		"user_name",
		"user_followers_count",
		"location",
		"datetime",
		"hashtags",
		"urls",
		"mentions",
		"mentions_ids",
	}
}

// Fields returns the row values in Header() order.
func (r FlatRecord) Fields() []string {
	return []string{
		r.TweetID,
		r.Text,
		strconv.Itoa(r.Retweets),
		strconv.Itoa(r.Likes),
		r.UserID,
		r.UserName,
		strconv.Itoa(r.UserFollowersCount),
		r.Location,
		r.Datetime,
		encodeList(r.Hashtags),
		encodeList(r.URLs),
		encodeList(r.Mentions),
		encodeList(r.MentionIDs),
	}
}

func encodeList(vals []string) string {
	if len(vals) == 0 {
		return "[]"
	}
	b, err := json.Marshal(vals)
	if err != nil {
		// Should not happen for []string, but keep output stable.
		return "[]"
	}
	return string(b)
}

// decodeList accepts JSON arrays and the Python list literals found in legacy
// datasets (e.g. ['climate', 'GreenNewDeal']).
func decodeList(raw string) ([]string, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out, nil
	}
	return parsePythonList(s)
}

func parsePythonList(s string) ([]string, error) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("not a list: %q", s)
	}
	body := s[1 : len(s)-1]
	var out []string
	i := 0
	for i < len(body) {
		c := body[i]
		if c == ' ' || c == ',' || c == '\t' {
			i++
			continue
		}
		if c != '\'' && c != '"' {
			// Unquoted element (numbers in mentions_ids written as ints).
			j := strings.IndexByte(body[i:], ',')
			if j < 0 {
				j = len(body) - i
			}
			out = append(out, strings.TrimSpace(body[i:i+j]))
			i += j
			continue
		}
		quote := c
		i++
		var sb strings.Builder
		closed := false
		for i < len(body) {
			ch := body[i]
			if ch == '\\' && i+1 < len(body) {
				sb.WriteByte(body[i+1])
				i += 2
				continue
			}
			if ch == quote {
				closed = true
				i++
				break
			}
			sb.WriteByte(ch)
			i++
		}
		if !closed {
			return nil, fmt.Errorf("unterminated string in list %q", s)
		}
		out = append(out, sb.String())
	}
	return out, nil
}

func parseCount(col, raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	// pandas writes integer columns holding NaN as floats ("12.0").
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("column %q: invalid count %q", col, raw)
	}
	return int(f), nil
}
