package gmail

import (
	"net/url"
	"strings"

	"mailmint/internal/model"
)

const webBase = "https://mail.google.com/mail/u/0/"

// MessageLink builds a Gmail web link for msg from data already on hand. It
// prefers an rfc822msgid search on the Message-ID header, then the thread
// view, then the message ID. The boolean is false when none is available.
func MessageLink(msg model.RawMessage) (string, bool) {
	if mid, ok := msg.Header("Message-ID"); ok && mid != "" {
		q := url.QueryEscape("rfc822msgid:" + mid)
		q = strings.ReplaceAll(q, "+", "%20")
		return webBase + "#search/" + q, true
	}
	if msg.ThreadID != "" {
		return webBase + "#all/" + msg.ThreadID, true
	}
	if msg.ID != "" {
		return webBase + "#all/" + msg.ID, true
	}
	return "", false
}
