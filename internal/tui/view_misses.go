package tui

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/bubbles/list"

	"mailmint/internal/model"
)

// missItem wraps a ParseMiss for the list display.
type missItem struct {
	model.ParseMiss
}

func (m missItem) FilterValue() string { return m.Issuer + " " + m.MessageID }
func (m missItem) Title() string       { return fmt.Sprintf("%s  %s", m.Issuer, m.MessageID) }
func (m missItem) Description() string {
	text := strings.Join(strings.Fields(missText(m.Body)), " ")
	if r := []rune(text); len(r) > 80 {
		text = string(r[:80]) + "…"
	}
	return fmt.Sprintf("%s  %s", m.RecordedAt.Format("Jan 2 15:04"), text)
}

func missesFooter() string {
	return footerStyle.Render("enter: view text  o: open in gmail  esc: back  q: quit")
}

func missesToItems(misses []model.ParseMiss) []list.Item {
	items := make([]list.Item, len(misses))
	for i, m := range misses {
		items[i] = missItem{m}
	}
	return items
}

// missText renders an HTML body as readable plain text: line breaks and
// block elements become newlines and runs of blank lines collapse.
func missText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, tr, li, h1, h2, h3, table").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	blank := false
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(lines) > 0 {
				lines = append(lines, "")
			}
			blank = true
			continue
		}
		blank = false
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
