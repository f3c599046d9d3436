package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"mailmint/internal/model"
)

// txnItem wraps a Transaction for the list display.
type txnItem struct {
	model.Transaction
}

func (t txnItem) FilterValue() string { return t.Merchant + " " + t.Account }
func (t txnItem) Title() string {
	merchant := t.Merchant
	if merchant == "" {
		merchant = "(no merchant)"
	}
	return fmt.Sprintf("%s  %12s  %s", t.Date.Format("Jan 02"), t.Amount.StringFixed(2), merchant)
}
func (t txnItem) Description() string {
	return fmt.Sprintf("%s  %s", t.Account, t.Category)
}

func transactionsFooter() string {
	return footerStyle.Render("enter: details  o: open in gmail  esc: back  q: quit")
}

func transactionsToItems(rows []model.Transaction) []list.Item {
	items := make([]list.Item, len(rows))
	for i, t := range rows {
		items[i] = txnItem{t}
	}
	return items
}
