package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"mailmint/internal/model"
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("39")).
	PaddingBottom(1)

var labelStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("241")).
	Width(10)

func detailContent(t model.Transaction) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s  %s", t.Amount.StringFixed(2), t.Merchant)))
	b.WriteString("\n")
	for _, row := range [][2]string{
		{"Date", t.Date.Format("Mon Jan 2, 2006 15:04")},
		{"Account", t.Account},
		{"Issuer", t.Issuer},
		{"Category", t.Category},
		{"Message", t.MessageID},
		{"Link", t.Link},
	} {
		b.WriteString(labelStyle.Render(row[0]))
		b.WriteString(row[1])
		b.WriteString("\n")
	}
	return b.String()
}

func detailFooter() string {
	return footerStyle.Render("b: saved body  o: open in gmail  esc: back  q: quit")
}

func textFooter() string {
	return footerStyle.Render("o: open in gmail  esc: back  q: quit")
}
