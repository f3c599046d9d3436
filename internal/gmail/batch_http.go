package gmail

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"mailmint/internal/model"
)

// BatchEndpoint is Gmail's multipart/mixed batch URL.
const BatchEndpoint = "https://gmail.googleapis.com/batch/gmail/v1"

// MessageFields trims each Users.Messages.Get response to what extraction and
// link building need.
const MessageFields = "id,threadId,internalDate,payload(headers(name,value),body/data,parts(mimeType,headers(name,value),body/data,parts(mimeType,body/data)))"

var errMissingFromBatch = errors.New("no response part for message")

// HTTPBatchGetter issues Users.Messages.Get sub-requests through the batch
// endpoint; the generated client has no batch support.
type HTTPBatchGetter struct {
	Client   *http.Client
	Endpoint string
	User     string
	Format   string
	Fields   string
}

// NewHTTPBatchGetter returns a getter for format=full messages of "me".
func NewHTTPBatchGetter(hc *http.Client) *HTTPBatchGetter {
	return &HTTPBatchGetter{
		Client:   hc,
		Endpoint: BatchEndpoint,
		User:     "me",
		Format:   "full",
		Fields:   MessageFields,
	}
}

func (g *HTTPBatchGetter) BatchGet(ctx context.Context, ids []string) ([]Outcome, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body, contentType, err := g.encode(ids)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build batch request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch request: %w", err)
	}
	defer resp.Body.Close()
	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("batch request: %w", err)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("batch response: unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	outcomes := make([]Outcome, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	mr := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep whatever parts were already decoded; the rest are reported missing.
			break
		}
		id := responseContentID(part.Header.Get("Content-ID"))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		outcomes = append(outcomes, decodePart(id, part))
	}
	for _, id := range ids {
		if !seen[id] {
			outcomes = append(outcomes, Outcome{ID: id, Err: errMissingFromBatch})
		}
	}
	return outcomes, nil
}

func (g *HTTPBatchGetter) encode(ids []string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	q := url.Values{}
	if g.Format != "" {
		q.Set("format", g.Format)
	}
	if g.Fields != "" {
		q.Set("fields", g.Fields)
	}
	for _, id := range ids {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "application/http")
		h.Set("Content-ID", "<"+id+">")
		pw, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("encode batch part: %w", err)
		}
		path := fmt.Sprintf("/gmail/v1/users/%s/messages/%s", url.PathEscape(g.User), url.PathEscape(id))
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		fmt.Fprintf(pw, "GET %s HTTP/1.1\r\nAccept: application/json\r\n\r\n", path)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("encode batch: %w", err)
	}
	return &buf, "multipart/mixed; boundary=" + mw.Boundary(), nil
}

// responseContentID maps "<response-ID>" back to ID.
func responseContentID(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "<")
	v = strings.TrimSuffix(v, ">")
	return strings.TrimPrefix(v, "response-")
}

func decodePart(id string, part io.Reader) Outcome {
	resp, err := http.ReadResponse(bufio.NewReader(part), nil)
	if err != nil {
		return Outcome{ID: id, Err: fmt.Errorf("read batch part: %w", err)}
	}
	defer resp.Body.Close()
	if err := googleapi.CheckResponse(resp); err != nil {
		return Outcome{ID: id, Err: err}
	}
	var msg gmailv1.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return Outcome{ID: id, Err: fmt.Errorf("decode message: %w", err)}
	}
	raw := messageFromAPI(&msg)
	if raw.ID == "" {
		raw.ID = id
	}
	return Outcome{ID: id, Message: &raw}
}

func messageFromAPI(m *gmailv1.Message) model.RawMessage {
	return model.RawMessage{
		ID:                 m.Id,
		ThreadID:           m.ThreadId,
		InternalDateMillis: m.InternalDate,
		Payload:            partFromAPI(m.Payload),
	}
}

func partFromAPI(p *gmailv1.MessagePart) model.Part {
	if p == nil {
		return model.Part{}
	}
	out := model.Part{MimeType: p.MimeType}
	if p.Body != nil {
		out.Data = p.Body.Data
	}
	for _, h := range p.Headers {
		if h == nil {
			continue
		}
		out.Headers = append(out.Headers, model.Header{Name: h.Name, Value: h.Value})
	}
	for _, sub := range p.Parts {
		out.Parts = append(out.Parts, partFromAPI(sub))
	}
	return out
}
