package fetch_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/fetch"
)

type fakeHydrator struct {
	calls [][]string
	// fail maps a call number (0-based) to the error returned for it.
	fail map[int]error
	// drop is skipped in every response, as the API does for deleted tweets.
	drop map[string]bool
}

func (f *fakeHydrator) Lookup(_ context.Context, ids []string) ([]core.RawRecord, error) {
	n := len(f.calls)
	f.calls = append(f.calls, append([]string(nil), ids...))
	if err := f.fail[n]; err != nil {
		return nil, err
	}
	out := make([]core.RawRecord, 0, len(ids))
	for _, id := range ids {
		if f.drop[id] {
			continue
		}
		out = append(out, core.RawRecord{IDStr: id})
	}
	return out, nil
}

type fakeSleeper struct {
	waits []time.Duration
	err   error
}

func (s *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return s.err
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(1000 + i)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBatches(t *testing.T) {
	got := fetch.Batches(ids(250), 100)
	if len(got) != 3 || len(got[0]) != 100 || len(got[1]) != 100 || len(got[2]) != 50 {
		t.Fatalf("unexpected batch sizes: %d", len(got))
	}
	if got[1][0] != "1100" || got[2][49] != "1249" {
		t.Fatalf("batches out of order: %s %s", got[1][0], got[2][49])
	}
	if len(fetch.Batches(nil, 100)) != 0 {
		t.Fatalf("expected no batches for empty input")
	}
	if n := len(fetch.Batches(ids(5), 0)); n != 1 {
		t.Fatalf("expected default batch size, got %d batches", n)
	}
}

func TestHydrateBatchesSequentially(t *testing.T) {
	h := &fakeHydrator{}
	f := fetch.New(fetch.Options{BatchSize: 100, Logger: quietLogger()})

	var seen []int
	rep, err := f.Hydrate(context.Background(), h, ids(250), func(b fetch.Batch) error {
		seen = append(seen, len(b.Records))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.calls) != 3 || len(h.calls[0]) != 100 || len(h.calls[1]) != 100 || len(h.calls[2]) != 50 {
		t.Fatalf("unexpected calls: %d", len(h.calls))
	}
	if fmt.Sprint(seen) != "[100 100 50]" {
		t.Fatalf("unexpected delivered batches: %v", seen)
	}
	if rep.Requests != 3 || rep.Fetched != 250 || rep.Unresolved != 0 {
		t.Fatalf("unexpected report: %#v", rep)
	}
}

func TestHydrateBatchSizeCappedAtProviderLimit(t *testing.T) {
	h := &fakeHydrator{}
	f := fetch.New(fetch.Options{BatchSize: 500, Logger: quietLogger()})
	if _, err := f.Hydrate(context.Background(), h, ids(150), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.calls) != 2 || len(h.calls[0]) != fetch.MaxBatchSize {
		t.Fatalf("expected batches of %d, got %d calls", fetch.MaxBatchSize, len(h.calls))
	}
}

func TestHydrateCountsUnresolved(t *testing.T) {
	h := &fakeHydrator{drop: map[string]bool{"1001": true, "1003": true}}
	f := fetch.New(fetch.Options{Logger: quietLogger()})
	rep, err := f.Hydrate(context.Background(), h, ids(5), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Fetched != 3 || rep.Unresolved != 2 {
		t.Fatalf("unexpected report: %#v", rep)
	}
}

func TestHydrateWaitsOutRateLimitAndRetriesSameBatch(t *testing.T) {
	now := time.Date(2020, 9, 20, 14, 0, 0, 0, time.UTC)
	h := &fakeHydrator{fail: map[int]error{
		1: &core.RateLimitedError{Reset: now.Add(30 * time.Second)},
	}}
	sleeper := &fakeSleeper{}
	f := fetch.New(fetch.Options{
		BatchSize: 100,
		Logger:    quietLogger(),
		Now:       func() time.Time { return now },
		Sleep:     sleeper.Sleep,
	})

	delivered := map[string]int{}
	rep, err := f.Hydrate(context.Background(), h, ids(250), func(b fetch.Batch) error {
		for _, r := range b.Records {
			delivered[r.IDStr]++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sleeper.waits) != 1 || sleeper.waits[0] != 31*time.Second {
		t.Fatalf("expected one wait of reset+1s, got %v", sleeper.waits)
	}
	if len(h.calls) != 4 {
		t.Fatalf("expected 4 lookup calls, got %d", len(h.calls))
	}
	if h.calls[1][0] != h.calls[2][0] || len(h.calls[1]) != len(h.calls[2]) {
		t.Fatalf("rate-limited batch was not retried as-is")
	}
	if len(delivered) != 250 {
		t.Fatalf("expected 250 distinct records, got %d", len(delivered))
	}
	for id, n := range delivered {
		if n != 1 {
			t.Fatalf("record %s delivered %d times", id, n)
		}
	}
	if rep.RateLimitWaits != 1 || rep.Requests != 4 || len(rep.Failed) != 0 {
		t.Fatalf("unexpected report: %#v", rep)
	}
}

func TestHydrateRateLimitWithoutResetUsesDefaultWindow(t *testing.T) {
	h := &fakeHydrator{fail: map[int]error{0: &core.RateLimitedError{}}}
	sleeper := &fakeSleeper{}
	f := fetch.New(fetch.Options{Logger: quietLogger(), Sleep: sleeper.Sleep})
	if _, err := f.Hydrate(context.Background(), h, ids(3), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sleeper.waits) != 1 || sleeper.waits[0] != fetch.DefaultRateLimitWindow+time.Second {
		t.Fatalf("unexpected waits: %v", sleeper.waits)
	}
}

func TestHydrateCancelledDuringRateLimitWait(t *testing.T) {
	h := &fakeHydrator{fail: map[int]error{0: &core.RateLimitedError{}}}
	sleeper := &fakeSleeper{err: context.Canceled}
	ctx, cancel := context.WithCancel(context.Background())
	f := fetch.New(fetch.Options{Logger: quietLogger(), Sleep: func(c context.Context, d time.Duration) error {
		cancel()
		return sleeper.Sleep(c, d)
	}})
	_, err := f.Hydrate(ctx, h, ids(3), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(h.calls) != 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", len(h.calls))
	}
}

func TestHydrateTransportErrorPartialOutput(t *testing.T) {
	h := &fakeHydrator{fail: map[int]error{1: errors.New("connection reset")}}
	f := fetch.New(fetch.Options{BatchSize: 100, Logger: quietLogger()})

	var delivered []int
	rep, err := f.Hydrate(context.Background(), h, ids(250), func(b fetch.Batch) error {
		delivered = append(delivered, b.Index)
		return nil
	})
	if err != nil {
		t.Fatalf("partial output should not fail: %v", err)
	}
	if fmt.Sprint(delivered) != "[0 2]" {
		t.Fatalf("unexpected delivered batches: %v", delivered)
	}
	if len(rep.Failed) != 1 || rep.Failed[0].Batch != 1 || len(rep.Failed[0].IDs) != 100 {
		t.Fatalf("unexpected failures: %#v", rep.Failed)
	}
	if rep.Fetched != 150 || rep.Unresolved != 100 {
		t.Fatalf("unexpected report: %#v", rep)
	}
}

func TestHydrateTransportErrorFailFast(t *testing.T) {
	h := &fakeHydrator{fail: map[int]error{1: errors.New("connection reset")}}
	f := fetch.New(fetch.Options{BatchSize: 100, FailurePolicy: fetch.FailurePolicyFailFast, Logger: quietLogger()})

	var delivered int
	rep, err := f.Hydrate(context.Background(), h, ids(250), func(b fetch.Batch) error {
		delivered += len(b.Records)
		return nil
	})
	var te *core.TransportError
	if !errors.As(err, &te) || te.Batch != 1 {
		t.Fatalf("expected transport error for batch 1, got %v", err)
	}
	if len(h.calls) != 2 {
		t.Fatalf("expected fetch to stop after failed batch, got %d calls", len(h.calls))
	}
	if delivered != 100 || rep.Fetched != 100 {
		t.Fatalf("earlier batch should be kept: delivered=%d report=%#v", delivered, rep)
	}
}

func TestHydrateCallbackErrorStops(t *testing.T) {
	h := &fakeHydrator{}
	f := fetch.New(fetch.Options{BatchSize: 10, Logger: quietLogger()})
	sentinel := errors.New("disk full")
	_, err := f.Hydrate(context.Background(), h, ids(30), func(fetch.Batch) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if len(h.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(h.calls))
	}
}

type fakeSearcher struct {
	pages   []core.SearchPage
	cursors []string
	sizes   []int
	fail    map[int]error
}

func (s *fakeSearcher) Search(_ context.Context, q core.SearchQuery, cursor string) (core.SearchPage, error) {
	n := len(s.cursors)
	s.cursors = append(s.cursors, cursor)
	s.sizes = append(s.sizes, q.PageSize)
	if err := s.fail[n]; err != nil {
		return core.SearchPage{}, err
	}
	if n >= len(s.pages) {
		return core.SearchPage{}, nil
	}
	return s.pages[n], nil
}

func page(from, n int, next string) core.SearchPage {
	p := core.SearchPage{Next: next}
	for i := 0; i < n; i++ {
		p.Records = append(p.Records, core.RawRecord{IDStr: strconv.Itoa(from + i)})
	}
	return p
}

func TestSearchFollowsCursorUntilExhausted(t *testing.T) {
	s := &fakeSearcher{pages: []core.SearchPage{
		page(0, 100, "c1"),
		page(100, 100, "c2"),
		page(200, 40, ""),
	}}
	f := fetch.New(fetch.Options{Logger: quietLogger()})

	var total int
	rep, err := f.Search(context.Background(), s, core.SearchQuery{Text: "climate change"}, func(b fetch.Batch) error {
		total += len(b.Records)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(s.cursors) != "[ c1 c2]" {
		t.Fatalf("unexpected cursors: %q", s.cursors)
	}
	if total != 240 || rep.Fetched != 240 || rep.Requests != 3 {
		t.Fatalf("unexpected totals: delivered=%d report=%#v", total, rep)
	}
}

func TestSearchStopsAtLimit(t *testing.T) {
	s := &fakeSearcher{pages: []core.SearchPage{
		page(0, 100, "c1"),
		page(100, 100, "c2"),
		page(200, 100, "c3"),
	}}
	f := fetch.New(fetch.Options{Logger: quietLogger()})
	rep, err := f.Search(context.Background(), s, core.SearchQuery{Text: "paris accord", Limit: 150}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Fetched != 150 || len(s.cursors) != 2 {
		t.Fatalf("unexpected report: %#v calls=%d", rep, len(s.cursors))
	}
	if s.sizes[0] != 100 || s.sizes[1] != 50 {
		t.Fatalf("expected the last page to ask only for the remainder, got %v", s.sizes)
	}
}

func TestSearchStopsOnRepeatedCursor(t *testing.T) {
	s := &fakeSearcher{pages: []core.SearchPage{
		page(0, 10, "same"),
		page(10, 10, "same"),
		page(20, 10, "same"),
	}}
	f := fetch.New(fetch.Options{Logger: quietLogger()})
	if _, err := f.Search(context.Background(), s, core.SearchQuery{Text: "q"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.cursors) != 2 {
		t.Fatalf("expected search to stop on a non-advancing cursor, got %d calls", len(s.cursors))
	}
}

func TestSearchFailurePolicies(t *testing.T) {
	newSearcher := func() *fakeSearcher {
		return &fakeSearcher{
			pages: []core.SearchPage{page(0, 100, "c1"), page(100, 100, "c2")},
			fail:  map[int]error{1: errors.New("502 bad gateway")},
		}
	}

	f := fetch.New(fetch.Options{Logger: quietLogger()})
	rep, err := f.Search(context.Background(), newSearcher(), core.SearchQuery{Text: "q"}, nil)
	if err != nil {
		t.Fatalf("partial output should not fail: %v", err)
	}
	if rep.Fetched != 100 || len(rep.Failed) != 1 {
		t.Fatalf("unexpected report: %#v", rep)
	}

	f = fetch.New(fetch.Options{Logger: quietLogger(), FailurePolicy: fetch.FailurePolicyFailFast})
	_, err = f.Search(context.Background(), newSearcher(), core.SearchQuery{Text: "q"}, nil)
	var te *core.TransportError
	if !errors.As(err, &te) || te.Batch != 1 {
		t.Fatalf("expected transport error for page 1, got %v", err)
	}
}

func TestSearchRetriesRateLimitedPage(t *testing.T) {
	s := &fakeSearcher{
		pages: []core.SearchPage{page(0, 100, "c1"), {}, page(100, 20, "")},
		fail:  map[int]error{1: &core.RateLimitedError{}},
	}
	sleeper := &fakeSleeper{}
	f := fetch.New(fetch.Options{Logger: quietLogger(), Sleep: sleeper.Sleep})
	rep, err := f.Search(context.Background(), s, core.SearchQuery{Text: "q"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(s.cursors) != "[ c1 c1]" {
		t.Fatalf("expected the rate-limited page to be retried with the same cursor, got %q", s.cursors)
	}
	if rep.Fetched != 120 || rep.RateLimitWaits != 1 {
		t.Fatalf("unexpected report: %#v", rep)
	}
}
