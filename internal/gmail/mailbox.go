package gmail

import (
	"context"
	"net/http"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"

	"mailmint/internal/model"
)

// Scopes are the OAuth scopes the mailbox needs.
var Scopes = []string{gmailv1.GmailReadonlyScope}

// Mailbox lists and fetches issuer emails for the authenticated user.
type Mailbox struct {
	lister  PageLister
	fetcher *Fetcher
}

// NewMailbox wires listing through svc and batch fetches through hc, which
// must carry the same OAuth credentials.
func NewMailbox(svc *gmailv1.Service, hc *http.Client, fetcher *Fetcher) *Mailbox {
	if fetcher == nil {
		fetcher = NewFetcher(nil)
	}
	if fetcher.Getter == nil {
		fetcher.Getter = NewHTTPBatchGetter(hc)
	}
	return &Mailbox{
		lister:  serviceLister{svc: svc, user: "me"},
		fetcher: fetcher,
	}
}

// NewMailboxFrom assembles a Mailbox from explicit collaborators.
func NewMailboxFrom(lister PageLister, fetcher *Fetcher) *Mailbox {
	return &Mailbox{lister: lister, fetcher: fetcher}
}

func (m *Mailbox) List(ctx context.Context, query string, after time.Time) ([]string, error) {
	return ListMessages(ctx, m.lister, query, after)
}

// Fetch retrieves message bodies and attaches a web link to each where one
// can be built.
func (m *Mailbox) Fetch(ctx context.Context, ids []string) ([]model.RawMessage, FetchStats) {
	msgs, stats := m.fetcher.Fetch(ctx, ids)
	for i := range msgs {
		if link, ok := MessageLink(msgs[i]); ok {
			msgs[i].Link = link
		}
	}
	return msgs, stats
}
