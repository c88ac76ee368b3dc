package core

import (
	"context"

	"github.com/dghubble/go-twitter/twitter"
)

// RawRecord is one tweet exactly as the API returned it.
type RawRecord = twitter.Tweet

// Hydrator resolves tweet IDs into full records.
//
// IDs the provider cannot resolve (deleted, protected, malformed) are absent from the
// result; that is not an error.
type Hydrator interface {
	Lookup(ctx context.Context, ids []string) ([]RawRecord, error)
}

// SearchQuery is a query-based collection request.
type SearchQuery struct {
	Text string
	Lang string
	// Since is a YYYY-MM-DD lower bound. Empty disables it.
	Since string
	// Limit caps the total number of records collected. <=0 uses the fetcher default.
	Limit int
	// PageSize is the per-request count. <=0 uses the fetcher default.
	PageSize int
}

// SearchPage is one page of search results. Next is the continuation cursor; empty
// means the provider has no more results.
type SearchPage struct {
	Records []RawRecord
	Next    string
}

// Searcher pages through query results.
type Searcher interface {
	Search(ctx context.Context, q SearchQuery, cursor string) (SearchPage, error)
}
