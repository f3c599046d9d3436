package gmail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type page struct {
	ids  []string
	next string
}

type fakePager struct {
	pages   map[string]page // keyed by page token; "" is the first page
	queries []string
	err     error
}

func (f *fakePager) ListPage(_ context.Context, query, token string) ([]string, string, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, "", f.err
	}
	p := f.pages[token]
	return p.ids, p.next, nil
}

func TestListMessages_UnionOfPages(t *testing.T) {
	fp := &fakePager{pages: map[string]page{
		"":   {ids: []string{"a", "b"}, next: "p2"},
		"p2": {ids: []string{"c", "b"}, next: "p3"},
		"p3": {ids: nil, next: "p4"}, // empty page with a token must not stop the walk
		"p4": {ids: []string{"d"}},
	}}
	after := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	ids, err := ListMessages(context.Background(), fp, "from:alerts@hdfcbank.net", after)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	want := []string{"a", "b", "c", "d"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Fatalf("ids = %v; want %v", ids, want)
	}
	if len(fp.queries) != 4 {
		t.Fatalf("expected 4 page calls, got %d", len(fp.queries))
	}
	if q := fp.queries[0]; q != "from:alerts@hdfcbank.net after:2024/01/15 in:anywhere" {
		t.Fatalf("query = %q", q)
	}
}

func TestListMessages_Empty(t *testing.T) {
	fp := &fakePager{pages: map[string]page{}}
	ids, err := ListMessages(context.Background(), fp, "q", time.Now())
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no ids, got %v", ids)
	}
}

func TestListMessages_Error(t *testing.T) {
	boom := errors.New("boom")
	fp := &fakePager{err: boom}
	_, err := ListMessages(context.Background(), fp, "q", time.Now())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if len(fp.queries) != 1 {
		t.Fatalf("listing errors must not be retried, got %d calls", len(fp.queries))
	}
}
