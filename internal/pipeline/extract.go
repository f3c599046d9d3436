package pipeline

import (
	"context"
	"time"

	"mailmint/internal/config"
	"mailmint/internal/gmail"
	"mailmint/internal/issuer"
	"mailmint/internal/logger"
	"mailmint/internal/model"
	"mailmint/internal/util"
)

// ExtractTransactions parses one issuer's fetched messages. Bodies that
// mention none of the required keywords are skipped; bodies the parser does
// not recognize are recorded as misses when st is non-nil.
func ExtractTransactions(ctx context.Context, cfg *config.Config, issuerName string, p issuer.Parser, msgs []model.RawMessage, st Store) ([]model.Transaction, IssuerReport) {
	log := logger.FromContext(ctx)
	ir := IssuerReport{Issuer: issuerName, Fetched: len(msgs)}
	loc := cfg.Location()

	var txns []model.Transaction
	for _, msg := range msgs {
		body := gmail.ExtractHTML(msg.Payload)
		if cfg.Debug && st != nil {
			if err := st.SaveBody(ctx, msg.ID, issuerName, body); err != nil {
				log.Warn().Err(err).Str("id", msg.ID).Msg("could not dump body")
			}
		}
		if len(cfg.RequiredKeywords) > 0 && !util.ContainsAnyFold(body, cfg.RequiredKeywords) {
			ir.Skipped++
			continue
		}

		parsed, ok := p.Parse(body)
		if !ok {
			ir.Misses++
			log.Warn().Str("id", msg.ID).Str("link", msg.Link).Msg("no pattern matched")
			if st != nil {
				miss := model.ParseMiss{
					MessageID:  msg.ID,
					Issuer:     issuerName,
					Body:       body,
					Link:       msg.Link,
					RecordedAt: time.Now(),
				}
				if err := st.RecordMiss(ctx, miss); err != nil {
					log.Warn().Err(err).Str("id", msg.ID).Msg("could not record parse miss")
				}
			}
			continue
		}

		txns = append(txns, model.Transaction{
			Date:      time.UnixMilli(msg.InternalDateMillis).In(loc),
			Account:   parsed.Account,
			Merchant:  parsed.Merchant,
			Amount:    parsed.Amount,
			Category:  config.DefaultCategory,
			Issuer:    issuerName,
			MessageID: msg.ID,
			Link:      msg.Link,
		})
	}
	ir.Extracted = len(txns)
	return txns, ir
}
