// Package materialize flattens raw API tweets into dataset rows.
package materialize

import (
	"strings"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/dataset"
)

// Skipped is a record that could not be flattened, with the reason.
type Skipped struct {
	ID  string
	Err error
}

// Result is the flattened output of a set of raw records.
type Result struct {
	Records []dataset.FlatRecord
	Skipped []Skipped
}

// All flattens every record, in order. Malformed records are reported in Skipped
// rather than failing the batch.
func All(raw []core.RawRecord) Result {
	out := Result{Records: make([]dataset.FlatRecord, 0, len(raw))}
	for _, r := range raw {
		flat, err := Record(r)
		if err != nil {
			out.Skipped = append(out.Skipped, Skipped{ID: strings.TrimSpace(r.IDStr), Err: err})
			continue
		}
		out.Records = append(out.Records, flat)
	}
	return out
}

// Record flattens one tweet. It fails with *core.MalformedRecordError when the tweet
// lacks an ID, an author ID, or a parseable creation time.
func Record(t core.RawRecord) (dataset.FlatRecord, error) {
	id := strings.TrimSpace(t.IDStr)
	if id == "" {
		return dataset.FlatRecord{}, &core.MalformedRecordError{Field: "id_str", Reason: "is empty"}
	}
	if t.User == nil || strings.TrimSpace(t.User.IDStr) == "" {
		return dataset.FlatRecord{}, &core.MalformedRecordError{ID: id, Field: "user.id_str", Reason: "is missing"}
	}
	created, err := t.CreatedAtTime()
	if err != nil {
		return dataset.FlatRecord{}, &core.MalformedRecordError{ID: id, Field: "created_at", Reason: "is not a valid timestamp: " + strings.TrimSpace(t.CreatedAt)}
	}

	out := dataset.FlatRecord{
		TweetID:            id,
		Text:               text(t),
		Retweets:           t.RetweetCount,
		Likes:              t.FavoriteCount,
		UserID:             strings.TrimSpace(t.User.IDStr),
		UserName:           t.User.ScreenName,
		UserFollowersCount: t.User.FollowersCount,
		Location:           t.User.Location,
		Datetime:           created.UTC().Format(dataset.DatetimeLayout),
	}
	if e := t.Entities; e != nil {
		for _, h := range e.Hashtags {
			out.Hashtags = append(out.Hashtags, h.Text)
		}
		for _, u := range e.Urls {
			out.URLs = append(out.URLs, u.ExpandedURL)
		}
		for _, m := range e.UserMentions {
			out.Mentions = append(out.Mentions, m.ScreenName)
			out.MentionIDs = append(out.MentionIDs, m.IDStr)
		}
	}
	return out, nil
}

func text(t core.RawRecord) string {
	if t.FullText != "" {
		return t.FullText
	}
	if t.ExtendedTweet != nil && t.ExtendedTweet.FullText != "" {
		return t.ExtendedTweet.FullText
	}
	return t.Text
}
