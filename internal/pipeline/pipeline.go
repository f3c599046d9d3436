// Package pipeline runs one ingestion pass: list and fetch each issuer's
// mail, extract transactions, then hand month buckets and balances to the
// configured sinks.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"mailmint/internal/config"
	"mailmint/internal/gmail"
	"mailmint/internal/issuer"
	"mailmint/internal/ledger"
	"mailmint/internal/logger"
	"mailmint/internal/model"
	"mailmint/internal/store"
)

// Mailbox is the mail source. *gmail.Mailbox implements it.
type Mailbox interface {
	List(ctx context.Context, query string, after time.Time) ([]string, error)
	Fetch(ctx context.Context, ids []string) ([]model.RawMessage, gmail.FetchStats)
}

// Store persists results between runs. *store.SQLiteStore implements it.
type Store interface {
	RecordMiss(ctx context.Context, miss model.ParseMiss) error
	SaveBody(ctx context.Context, messageID, issuer, body string) error
	UpsertTransactions(ctx context.Context, runID string, txns []model.Transaction) error
	StartRun(ctx context.Context, startedAt time.Time) (string, error)
	FinishRun(ctx context.Context, id string, finishedAt time.Time, sum store.RunSummary) error
}

// ReportSink receives one calendar month of rows at a time.
type ReportSink interface {
	WriteMonth(ctx context.Context, bucket model.MonthlyBucket) error
}

// Notifier delivers an issuer's last-month balances.
type Notifier interface {
	Notify(ctx context.Context, issuer string, balance ledger.Balance) error
}

// Deps are the collaborators of Run. Store, Sink and Notifier are optional.
type Deps struct {
	Mailbox  Mailbox
	Parsers  map[string]issuer.Parser
	Store    Store
	Sink     ReportSink
	Notifier Notifier
	Now      func() time.Time
}

// IssuerReport counts what happened to one issuer's messages.
type IssuerReport struct {
	Issuer      string
	Listed      int
	Fetched     int
	Failed      int
	RateLimited int
	Skipped     int // no required keyword in the body
	Misses      int // no pattern matched
	Extracted   int
}

// Report summarizes a Run.
type Report struct {
	RunID    string
	Issuers  []IssuerReport
	Months   []model.MonthlyBucket
	Balances map[string]ledger.Balance
}

// Totals sums the per-issuer counts.
func (r *Report) Totals() store.RunSummary {
	var sum store.RunSummary
	for _, ir := range r.Issuers {
		sum.Listed += ir.Listed
		sum.Fetched += ir.Fetched
		sum.Extracted += ir.Extracted
		sum.Misses += ir.Misses
	}
	return sum
}

// BuildParsers constructs every issuer's parser, failing on the first bad one.
func BuildParsers(cfg *config.Config) (map[string]issuer.Parser, error) {
	parsers := make(map[string]issuer.Parser, len(cfg.Issuers))
	for _, iss := range cfg.Issuers {
		p, err := issuer.New(iss)
		if err != nil {
			return nil, err
		}
		parsers[iss.Name] = p
	}
	return parsers, nil
}

// Run processes every configured issuer in order. Only configuration, listing
// and sink failures are returned; per-message problems end up in the Report.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (*Report, error) {
	log := logger.FromContext(ctx)

	parsers := deps.Parsers
	if parsers == nil {
		var err error
		if parsers, err = BuildParsers(cfg); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	if deps.Now != nil {
		now = deps.Now()
	}
	now = now.In(cfg.Location())
	after := now.AddDate(0, 0, -cfg.LookbackDays)

	report := &Report{Balances: make(map[string]ledger.Balance)}
	if deps.Store != nil {
		id, err := deps.Store.StartRun(ctx, now)
		if err != nil {
			return nil, err
		}
		report.RunID = id
		log = log.With().Str("run", id).Logger()
		ctx = logger.WithContext(ctx, log)
	}

	var all []model.Transaction
	for _, iss := range cfg.Issuers {
		ilog := log.With().Str("issuer", iss.Name).Logger()
		ictx := logger.WithContext(ctx, ilog)

		ids, err := deps.Mailbox.List(ictx, iss.EmailQuery, after)
		if err != nil {
			return report, fmt.Errorf("issuer %s: %w", iss.Name, err)
		}
		msgs, stats := deps.Mailbox.Fetch(ictx, ids)

		txns, ir := ExtractTransactions(ictx, cfg, iss.Name, parsers[iss.Name], msgs, deps.Store)
		ir.Listed = len(ids)
		ir.Failed = stats.Failed
		ir.RateLimited = stats.RateLimited
		report.Issuers = append(report.Issuers, ir)
		all = append(all, txns...)

		ilog.Info().
			Int("listed", ir.Listed).
			Int("fetched", ir.Fetched).
			Int("failed", ir.Failed).
			Int("rate_limited", ir.RateLimited).
			Int("skipped", ir.Skipped).
			Int("misses", ir.Misses).
			Int("extracted", ir.Extracted).
			Msg("issuer processed")

		if iss.NotifyBalance {
			report.Balances[iss.Name] = ledger.Balances(txns, iss.NotifyExcludeMerchants, now)
		}
	}

	report.Months = ledger.GroupByMonth(all)

	if deps.Store != nil {
		if err := deps.Store.UpsertTransactions(ctx, report.RunID, all); err != nil {
			return report, fmt.Errorf("save transactions: %w", err)
		}
	}
	if deps.Sink != nil {
		for _, bucket := range report.Months {
			if err := deps.Sink.WriteMonth(ctx, bucket); err != nil {
				return report, fmt.Errorf("write month %s: %w", bucket.Month, err)
			}
			log.Debug().Str("month", bucket.Month).Int("rows", len(bucket.Rows)).Msg("month written")
		}
	}
	if deps.Notifier != nil {
		for _, iss := range cfg.Issuers {
			bal, ok := report.Balances[iss.Name]
			if !ok {
				continue
			}
			if err := deps.Notifier.Notify(ctx, iss.Name, bal); err != nil {
				log.Warn().Err(err).Str("issuer", iss.Name).Msg("balance notification failed")
			}
		}
	}
	if deps.Store != nil {
		if err := deps.Store.FinishRun(ctx, report.RunID, time.Now(), report.Totals()); err != nil {
			log.Warn().Err(err).Msg("could not record run summary")
		}
	}
	return report, nil
}
