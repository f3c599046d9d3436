package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"mailmint/internal/model"
)

func rateLimitErr() error {
	return &googleapi.Error{
		Code:    http.StatusTooManyRequests,
		Message: "Too many concurrent requests for user",
		Errors:  []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}},
	}
}

// fakeGetter answers each id with the outcome returned by respond, and counts
// how often every id was requested.
type fakeGetter struct {
	calls   map[string]int
	batches [][]string
	respond func(id string, attempt int) error
	failAll func(batch []string) error
}

func newFakeGetter(respond func(id string, attempt int) error) *fakeGetter {
	return &fakeGetter{calls: map[string]int{}, respond: respond}
}

func (f *fakeGetter) BatchGet(_ context.Context, ids []string) ([]Outcome, error) {
	f.batches = append(f.batches, append([]string(nil), ids...))
	if f.failAll != nil {
		if err := f.failAll(ids); err != nil {
			return nil, err
		}
	}
	out := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		f.calls[id]++
		if err := f.respond(id, f.calls[id]); err != nil {
			out = append(out, Outcome{ID: id, Err: err})
			continue
		}
		out = append(out, Outcome{ID: id, Message: &model.RawMessage{ID: id}})
	}
	return out, nil
}

func testFetcher(g BatchGetter, sleeps *[]time.Duration) *Fetcher {
	f := NewFetcher(g)
	f.Jitter = func() time.Duration { return 500 * time.Millisecond }
	f.Sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return f
}

func msgIDs(msgs []model.RawMessage) string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return strings.Join(ids, ",")
}

func TestFetch_RetryCap(t *testing.T) {
	g := newFakeGetter(func(string, int) error { return rateLimitErr() })
	var sleeps []time.Duration
	f := testFetcher(g, &sleeps)

	msgs, stats := f.Fetch(context.Background(), []string{"a", "b", "c"})
	if len(msgs) != 0 {
		t.Fatalf("expected nothing fetched, got %v", msgIDs(msgs))
	}
	for _, id := range []string{"a", "b", "c"} {
		if g.calls[id] != DefaultMaxRetries+1 {
			t.Fatalf("id %s attempted %d times; want %d", id, g.calls[id], DefaultMaxRetries+1)
		}
	}
	if stats.RateLimited != 3 || stats.Attempts != DefaultMaxRetries+1 {
		t.Fatalf("stats = %+v", stats)
	}
	want := []time.Duration{1500 * time.Millisecond, 2500 * time.Millisecond, 4500 * time.Millisecond, 8500 * time.Millisecond, 16500 * time.Millisecond}
	if fmt.Sprint(sleeps) != fmt.Sprint(want) {
		t.Fatalf("sleeps = %v; want %v", sleeps, want)
	}
}

func TestFetch_RetriesOnlyRateLimited(t *testing.T) {
	g := newFakeGetter(func(id string, attempt int) error {
		switch {
		case id == "b" && attempt == 1:
			return rateLimitErr()
		case id == "c":
			return &googleapi.Error{Code: http.StatusNotFound, Message: "Requested entity was not found."}
		}
		return nil
	})
	var sleeps []time.Duration
	f := testFetcher(g, &sleeps)

	msgs, stats := f.Fetch(context.Background(), []string{"a", "b", "c", "d"})
	if got := msgIDs(msgs); got != "a,b,d" {
		t.Fatalf("fetched = %s; want a,b,d", got)
	}
	if g.calls["a"] != 1 || g.calls["b"] != 2 || g.calls["c"] != 1 {
		t.Fatalf("calls = %v", g.calls)
	}
	if len(g.batches) != 2 || strings.Join(g.batches[1], ",") != "b" {
		t.Fatalf("retry batch should hold only b, got %v", g.batches)
	}
	if stats.Failed != 1 || stats.Fetched != 3 || stats.RateLimited != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(sleeps) != 1 {
		t.Fatalf("expected one backoff, got %v", sleeps)
	}
}

func TestFetch_Partitions(t *testing.T) {
	g := newFakeGetter(func(string, int) error { return nil })
	var sleeps []time.Duration
	f := testFetcher(g, &sleeps)
	f.BatchSize = 3

	ids := []string{"1", "2", "3", "4", "5", "6", "7"}
	msgs, _ := f.Fetch(context.Background(), ids)
	if len(msgs) != 7 {
		t.Fatalf("fetched %d; want 7", len(msgs))
	}
	sizes := []int{}
	for _, b := range g.batches {
		sizes = append(sizes, len(b))
	}
	if fmt.Sprint(sizes) != "[3 3 1]" {
		t.Fatalf("batch sizes = %v", sizes)
	}
}

func TestFetch_FailedBatchDoesNotAbortOthers(t *testing.T) {
	g := newFakeGetter(func(string, int) error { return nil })
	g.failAll = func(batch []string) error {
		if batch[0] == "1" {
			return errors.New("connection reset")
		}
		return nil
	}
	var sleeps []time.Duration
	f := testFetcher(g, &sleeps)
	f.BatchSize = 2

	msgs, stats := f.Fetch(context.Background(), []string{"1", "2", "3", "4"})
	if got := msgIDs(msgs); got != "3,4" {
		t.Fatalf("fetched = %s; want 3,4", got)
	}
	if stats.Failed != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestFetch_RateLimitedBatchIsRetried(t *testing.T) {
	g := newFakeGetter(func(string, int) error { return nil })
	calls := 0
	g.failAll = func([]string) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("batch request: %w", rateLimitErr())
		}
		return nil
	}
	var sleeps []time.Duration
	f := testFetcher(g, &sleeps)

	msgs, stats := f.Fetch(context.Background(), []string{"a", "b"})
	if got := msgIDs(msgs); got != "a,b" {
		t.Fatalf("fetched = %s; want a,b", got)
	}
	if len(sleeps) != 1 || sleeps[0] != 1500*time.Millisecond {
		t.Fatalf("sleeps = %v", sleeps)
	}
	if stats.Failed != 0 || stats.RateLimited != 0 || stats.Attempts != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestFetch_NoRetriesConfigured(t *testing.T) {
	g := newFakeGetter(func(string, int) error { return rateLimitErr() })
	var sleeps []time.Duration
	f := testFetcher(g, &sleeps)
	f.MaxRetries = 0

	_, stats := f.Fetch(context.Background(), []string{"a"})
	if g.calls["a"] != 1 || len(sleeps) != 0 || stats.RateLimited != 1 {
		t.Fatalf("calls=%v sleeps=%v stats=%+v", g.calls, sleeps, stats)
	}
}

func TestFetch_SleepInterrupted(t *testing.T) {
	g := newFakeGetter(func(id string, _ int) error {
		if id == "b" {
			return rateLimitErr()
		}
		return nil
	})
	f := NewFetcher(g)
	f.Sleep = func(context.Context, time.Duration) error { return context.Canceled }

	msgs, stats := f.Fetch(context.Background(), []string{"a", "b"})
	if got := msgIDs(msgs); got != "a" {
		t.Fatalf("fetched = %s; want a", got)
	}
	if stats.RateLimited != 1 || g.calls["b"] != 1 {
		t.Fatalf("stats=%+v calls=%v", stats, g.calls)
	}
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429 with reason", rateLimitErr(), true},
		{"403 user rate limit", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, true},
		{"403 message only", &googleapi.Error{Code: 403, Message: "User Rate Limit Exceeded"}, true},
		{"403 forbidden", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "forbidden"}}, Message: "Insufficient Permission"}, false},
		{"500 with reason", &googleapi.Error{Code: 500, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, false},
		{"wrapped", fmt.Errorf("get: %w", rateLimitErr()), true},
		{"plain error", errors.New("rate limit"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := IsRateLimited(tt.err); got != tt.want {
			t.Errorf("%s: IsRateLimited = %v; want %v", tt.name, got, tt.want)
		}
	}
}
