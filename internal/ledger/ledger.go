// Package ledger groups transactions for reporting and nets account balances.
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"mailmint/internal/model"
	"mailmint/internal/util"
)

// GroupByMonth buckets txns by YYYY-MM. Buckets come back in increasing month
// order; rows within a bucket are sorted by date, ties keeping input order.
func GroupByMonth(txns []model.Transaction) []model.MonthlyBucket {
	index := make(map[string]int)
	var buckets []model.MonthlyBucket
	for _, t := range txns {
		key := t.Month()
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, model.MonthlyBucket{Month: key})
		}
		buckets[i].Rows = append(buckets[i].Rows, t)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Month < buckets[j].Month })
	for i := range buckets {
		rows := buckets[i].Rows
		sort.SliceStable(rows, func(a, b int) bool { return rows[a].Date.Before(rows[b].Date) })
	}
	return buckets
}

// LastCompletedMonth returns the YYYY-MM key of the calendar month before now.
func LastCompletedMonth(now time.Time) string {
	return time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, now.Location()).Format("2006-01")
}

// Balance is the amount owed or spent per account over one month.
type Balance struct {
	Month    string
	Accounts map[string]decimal.Decimal
	Total    decimal.Decimal
}

// Balances nets the last completed month's transactions per account. Rows
// whose merchant contains any of exclude (case-insensitive) are skipped. The
// sign is flipped so spending shows up positive.
func Balances(txns []model.Transaction, exclude []string, now time.Time) Balance {
	b := Balance{
		Month:    LastCompletedMonth(now),
		Accounts: make(map[string]decimal.Decimal),
		Total:    decimal.Zero,
	}
	for _, t := range txns {
		if t.Date.In(now.Location()).Format("2006-01") != b.Month {
			continue
		}
		if util.ContainsAnyFold(t.Merchant, exclude) {
			continue
		}
		b.Accounts[t.Account] = b.Accounts[t.Account].Sub(t.Amount)
		b.Total = b.Total.Sub(t.Amount)
	}
	return b
}
