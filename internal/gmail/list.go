package gmail

import (
	"context"
	"fmt"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"
)

// pageSize is the per-page listing size; Gmail caps it at 500.
const pageSize = 500

// PageLister returns one page of message IDs matching query. An empty next
// token means there are no further pages.
type PageLister interface {
	ListPage(ctx context.Context, query, pageToken string) (ids []string, next string, err error)
}

// BuildQuery scopes an issuer query to messages received after the given day,
// across all labels.
func BuildQuery(query string, after time.Time) string {
	return fmt.Sprintf("%s after:%s in:anywhere", query, after.Format("2006/01/02"))
}

// ListMessages walks every page for query and returns the message IDs in
// listing order with duplicates removed. A listing error is returned as-is;
// retrying is left to the caller.
func ListMessages(ctx context.Context, pl PageLister, query string, after time.Time) ([]string, error) {
	q := BuildQuery(query, after)
	seen := make(map[string]struct{})
	var ids []string

	pageToken := ""
	for {
		select {
		case <-ctx.Done():
			return ids, ctx.Err()
		default:
		}
		page, next, err := pl.ListPage(ctx, q, pageToken)
		if err != nil {
			return ids, fmt.Errorf("list messages: %w", err)
		}
		for _, id := range page {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if next == "" {
			break
		}
		pageToken = next
	}
	return ids, nil
}

// serviceLister lists through Users.Messages.List.
type serviceLister struct {
	svc  *gmailv1.Service
	user string
}

func (l serviceLister) ListPage(ctx context.Context, query, pageToken string) ([]string, string, error) {
	call := l.svc.Users.Messages.List(l.user).
		Q(query).
		MaxResults(pageSize) // Gmail will page; this is page size, not a cap overall.
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, "", err
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, resp.NextPageToken, nil
}
