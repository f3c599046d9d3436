package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"mailmint/internal/model"
)

// monthItem wraps a MonthlyBucket for the months list.
type monthItem struct {
	model.MonthlyBucket
}

func (m monthItem) FilterValue() string { return m.Month }
func (m monthItem) Title() string {
	return fmt.Sprintf("%s (%d)", m.Month, len(m.Rows))
}
func (m monthItem) Description() string {
	net := decimal.Zero
	accounts := make(map[string]struct{})
	for _, t := range m.Rows {
		net = net.Add(t.Amount)
		accounts[t.Account] = struct{}{}
	}
	return fmt.Sprintf("net %s across %d accounts", net.StringFixed(2), len(accounts))
}

var footerStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("241")).
	PaddingTop(1)

func monthsFooter() string {
	return footerStyle.Render("enter: open  m: parse misses  r: reload  q: quit")
}

// monthsToItems lists the newest month first.
func monthsToItems(buckets []model.MonthlyBucket) []list.Item {
	items := make([]list.Item, len(buckets))
	for i, b := range buckets {
		items[len(buckets)-1-i] = monthItem{b}
	}
	return items
}
