package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Header is a single message header, kept in the order the server returned it.
type Header struct {
	Name  string
	Value string
}

// Part is one node of a message's body/part tree. Data holds the still-encoded
// (base64url) body as delivered by the API.
type Part struct {
	MimeType string
	Headers  []Header
	Data     string
	Parts    []Part
}

// RawMessage is a fetched mailbox message. Link is filled in after fetch and
// may be empty.
type RawMessage struct {
	ID                 string
	ThreadID           string
	InternalDateMillis int64
	Payload            Part
	Link               string
}

// Headers returns the top-level headers, or the first non-empty header set
// found on a direct child part.
func (m RawMessage) Headers() []Header {
	if len(m.Payload.Headers) > 0 {
		return m.Payload.Headers
	}
	for _, p := range m.Payload.Parts {
		if len(p.Headers) > 0 {
			return p.Headers
		}
	}
	return nil
}

// Header returns the first header value with the given name (case-insensitive).
func (m RawMessage) Header(name string) (string, bool) {
	for _, h := range m.Headers() {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// ParsedTransaction is what an issuer parser extracts from one body. The zero
// value means "no match"; parsers never return a partially filled one.
type ParsedTransaction struct {
	Amount   decimal.Decimal
	Merchant string
	Account  string
}

// Transaction is a ParsedTransaction placed in time. Date comes from the
// message's internal date, never from the email content.
type Transaction struct {
	Date      time.Time
	Account   string
	Merchant  string
	Amount    decimal.Decimal
	Category  string
	Issuer    string
	MessageID string
	Link      string
}

// Month returns the YYYY-MM bucket key of the transaction.
func (t Transaction) Month() string { return t.Date.Format("2006-01") }

// MonthlyBucket holds one calendar month of transactions sorted by date.
type MonthlyBucket struct {
	Month string
	Rows  []Transaction
}

// ParseMiss is a message whose body matched none of its issuer's patterns.
type ParseMiss struct {
	MessageID  string
	Issuer     string
	Body       string
	Link       string
	RecordedAt time.Time
}
