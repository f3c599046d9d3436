package issuer

import (
	"regexp"
	"strings"

	"mailmint/internal/model"
	"mailmint/internal/util"
)

var (
	// "Rs. 1,234.56 has been debited from account XX1234 ..." and the
	// "Rs.INR 500.00 ... to **5678" variant of UPI alerts.
	hdfcLinePattern = `Rs\.\s*(INR\s*)?(?P<rs>[0-9,]+)(?P<ps>\.\d{1,2})?.*(?P<dir>[Ff]rom|to) .*(XX|\*\*)(?P<acc>\d{4})(<br>)?`

	hdfcLine      = regexp.MustCompile(hdfcLinePattern)
	hdfcMultiline = regexp.MustCompile(`(?s)` + hdfcLinePattern)

	hdfcSentenceEnd = regexp.MustCompile(`\. |<`)
	hdfcDateMarker  = regexp.MustCompile(` on \d{2}-`)

	// Applied once each, in order.
	hdfcDropPhrases = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(from|by) `),
		regexp.MustCompile(`(?i)^(for|to|on account of)( a)? `),
	}
)

// HDFCParser handles HDFC Bank alerts, whose amount, direction and account
// suffix sit on one line followed by free-form merchant text.
type HDFCParser struct {
	name string
}

func NewHDFCParser(name string) *HDFCParser {
	return &HDFCParser{name: name}
}

func (p *HDFCParser) Name() string { return p.name }

func (p *HDFCParser) Parse(body string) (model.ParsedTransaction, bool) {
	text, m := matchLines(body)
	if m == nil {
		text = body
		m = hdfcMultiline.FindStringSubmatchIndex(body)
	}
	if m == nil {
		return model.ParsedTransaction{}, false
	}
	re := hdfcLine
	group := func(name string) string {
		i := re.SubexpIndex(name)
		if m[2*i] < 0 {
			return ""
		}
		return text[m[2*i]:m[2*i+1]]
	}

	amount, err := util.ParseAmount(group("rs") + group("ps"))
	if err != nil {
		return model.ParsedTransaction{}, false
	}
	if strings.EqualFold(group("dir"), "from") {
		amount = amount.Neg()
	}

	return model.ParsedTransaction{
		Amount:   amount,
		Merchant: merchantAfter(text[m[1]:]),
		Account:  accountLabel(p.name, group("acc")),
	}, true
}

// matchLines searches each trimmed line on its own so the pattern cannot
// capture across line breaks. It returns the matching line and match indices.
func matchLines(body string) (string, []int) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if m := hdfcLine.FindStringSubmatchIndex(line); m != nil {
			return line, m
		}
	}
	return "", nil
}

// merchantAfter derives merchant text from whatever follows the match.
func merchantAfter(rest string) string {
	meta := strings.TrimSpace(rest)
	if loc := hdfcSentenceEnd.FindStringIndex(meta); loc != nil {
		meta = meta[:loc[0]]
	}
	meta = strings.TrimSpace(meta)
	if loc := hdfcDateMarker.FindStringIndex(meta); loc != nil {
		meta = meta[:loc[0]]
	}
	meta = strings.TrimSpace(meta)
	for _, dp := range hdfcDropPhrases {
		meta = strings.TrimSpace(dp.ReplaceAllString(meta, ""))
	}
	return meta
}
