package pipeline

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"mailmint/internal/ledger"
)

// LogNotifier reports balances through the logger.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, issuer string, b ledger.Balance) error {
	accounts := make([]string, 0, len(b.Accounts))
	for acc := range b.Accounts {
		accounts = append(accounts, acc)
	}
	sort.Strings(accounts)

	dict := zerolog.Dict()
	for _, acc := range accounts {
		dict = dict.Str(acc, b.Accounts[acc].StringFixed(2))
	}
	n.Log.Info().
		Str("issuer", issuer).
		Str("month", b.Month).
		Dict("accounts", dict).
		Str("total", b.Total.StringFixed(2)).
		Msg("balance")
	return nil
}
