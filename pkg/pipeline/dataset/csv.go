package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// WriteCSV writes records as a CSV with the stable Header() ordering.
func WriteCSV(w io.Writer, records []FlatRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(r.Fields()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVWithColumn writes records plus one derived trailing column.
func WriteCSVWithColumn(w io.Writer, records []FlatRecord, column string, value func(FlatRecord) string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(Header(), column)); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(append(r.Fields(), value(r))); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads records using the stable Header() contract.
//
// Extra columns (and pandas' unnamed index column) are ignored. Every Header() column
// must exist, and count columns must hold integers.
func ReadCSV(r io.Reader) ([]FlatRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file: missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		index[name] = i
	}
	for _, name := range Header() {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	var records []FlatRecord
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		line++

		get := func(col string) string {
			i := index[col]
			if i < 0 || i >= len(rec) {
				return ""
			}
			return rec[i]
		}

		r, err := parseRow(get)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, r)
	}
}

func parseRow(get func(string) string) (FlatRecord, error) {
	out := FlatRecord{
		TweetID:  strings.TrimSpace(get("tweet_id")),
		Text:     get("tweet"),
		UserID:   strings.TrimSpace(get("user_id")),
		UserName: get("user_name"),
		Location: get("location"),
		Datetime: get("datetime"),
	}
	if out.TweetID == "" {
		return FlatRecord{}, fmt.Errorf("empty tweet_id")
	}

	var err error
	if out.Retweets, err = parseCount("retweets", get("retweets")); err != nil {
		return FlatRecord{}, err
	}
	if out.Likes, err = parseCount("likes", get("likes")); err != nil {
		return FlatRecord{}, err
	}
	if out.UserFollowersCount, err = parseCount("user_followers_count", get("user_followers_count")); err != nil {
		return FlatRecord{}, err
	}

	lists := []struct {
		col string
		dst *[]string
	}{
		{"hashtags", &out.Hashtags},
		{"urls", &out.URLs},
		{"mentions", &out.Mentions},
		{"mentions_ids", &out.MentionIDs},
	}
	for _, l := range lists {
		vals, err := decodeList(get(l.col))
		if err != nil {
			return FlatRecord{}, fmt.Errorf("column %q: %w", l.col, err)
		}
		*l.dst = vals
	}
	return out, nil
}
