package gmail

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path"
	"testing"
	"time"
)

const rateLimitBody = `{"error":{"code":429,"message":"Too many concurrent requests for user","errors":[{"message":"Too many concurrent requests for user","domain":"global","reason":"rateLimitExceeded"}],"status":"RESOURCE_EXHAUSTED"}}`
const notFoundBody = `{"error":{"code":404,"message":"Requested entity was not found.","errors":[{"message":"Requested entity was not found.","domain":"global","reason":"notFound"}],"status":"NOT_FOUND"}}`

// batchServer mimics the Gmail batch endpoint. It records the sub-request
// paths and answers per ID: "ok-*" succeed, "slow" is rate limited, "gone" is
// not found and "lost" gets no response part at all.
func batchServer(t *testing.T, seen *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("request content type: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
		w.WriteHeader(http.StatusOK)

		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("next part: %v", err)
				return
			}
			sub, err := http.ReadRequest(bufio.NewReader(part))
			if err != nil {
				t.Errorf("read sub-request: %v", err)
				return
			}
			*seen = append(*seen, sub.URL.RequestURI())
			id := path.Base(sub.URL.Path)

			var status int
			var body string
			switch id {
			case "slow":
				status, body = http.StatusTooManyRequests, rateLimitBody
			case "gone":
				status, body = http.StatusNotFound, notFoundBody
			case "lost":
				continue
			default:
				data := base64.URLEncoding.EncodeToString([]byte("<p>Rs. 10.00 debited</p>"))
				status = http.StatusOK
				body = fmt.Sprintf(`{"id":%q,"threadId":"t-%s","internalDate":"1705276800000","payload":{"headers":[{"name":"Subject","value":"Alert"}],"body":{"data":%q}}}`, id, id, data)
			}
			h := textproto.MIMEHeader{}
			h.Set("Content-Type", "application/http")
			h.Set("Content-ID", "<response-"+id+">")
			pw, _ := mw.CreatePart(h)
			fmt.Fprintf(pw, "HTTP/1.1 %d %s\r\nContent-Type: application/json; charset=UTF-8\r\nContent-Length: %d\r\n\r\n%s",
				status, http.StatusText(status), len(body), body)
		}
		mw.Close()
	}))
}

func TestHTTPBatchGetter(t *testing.T) {
	var seen []string
	srv := batchServer(t, &seen)
	defer srv.Close()

	g := NewHTTPBatchGetter(srv.Client())
	g.Endpoint = srv.URL
	outcomes, err := g.BatchGet(context.Background(), []string{"ok-1", "slow", "gone", "lost"})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(outcomes))
	}
	byID := map[string]Outcome{}
	for _, o := range outcomes {
		byID[o.ID] = o
	}

	ok := byID["ok-1"]
	if ok.Err != nil || ok.Message == nil {
		t.Fatalf("ok-1: %+v", ok)
	}
	if ok.Message.ThreadID != "t-ok-1" || ok.Message.InternalDateMillis != 1705276800000 {
		t.Fatalf("ok-1 decoded wrong: %+v", ok.Message)
	}
	if body := ExtractHTML(ok.Message.Payload); body != "<p>Rs. 10.00 debited</p>" {
		t.Fatalf("ok-1 body = %q", body)
	}
	if !IsRateLimited(byID["slow"].Err) {
		t.Fatalf("slow should be rate limited: %v", byID["slow"].Err)
	}
	if e := byID["gone"].Err; e == nil || IsRateLimited(e) {
		t.Fatalf("gone should be a plain failure: %v", e)
	}
	if byID["lost"].Err == nil {
		t.Fatal("lost should be reported missing")
	}

	if len(seen) != 4 {
		t.Fatalf("server saw %d sub-requests", len(seen))
	}
	want := "/gmail/v1/users/me/messages/ok-1?fields="
	if len(seen[0]) < len(want) || seen[0][:len(want)] != want {
		t.Fatalf("sub-request = %q", seen[0])
	}
}

func TestHTTPBatchGetter_WithFetcher(t *testing.T) {
	var seen []string
	srv := batchServer(t, &seen)
	defer srv.Close()

	g := NewHTTPBatchGetter(srv.Client())
	g.Endpoint = srv.URL
	f := NewFetcher(g)
	f.MaxRetries = 1
	f.Sleep = func(context.Context, time.Duration) error { return nil }

	mb := NewMailboxFrom(&fakePager{}, f)
	msgs, stats := mb.Fetch(context.Background(), []string{"ok-1", "slow", "ok-2", "gone"})
	if got := msgIDs(msgs); got != "ok-1,ok-2" {
		t.Fatalf("fetched = %s", got)
	}
	if msgs[0].Link != "https://mail.google.com/mail/u/0/#all/t-ok-1" {
		t.Fatalf("link = %q", msgs[0].Link)
	}
	if stats.RateLimited != 1 || stats.Failed != 1 || stats.Attempts != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestHTTPBatchGetter_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewHTTPBatchGetter(srv.Client())
	g.Endpoint = srv.URL
	if _, err := g.BatchGet(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error for failed batch call")
	}
}
