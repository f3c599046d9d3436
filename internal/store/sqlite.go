package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mailmint/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore caches extracted transactions, parse misses and run history in
// a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// RunSummary holds the counters recorded when a run finishes.
type RunSummary struct {
	Listed    int
	Fetched   int
	Extracted int
	Misses    int
}

// Run is one recorded pipeline run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	RunSummary
}

// NewSQLiteStore opens (or creates) the database at the given path and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	message_id TEXT PRIMARY KEY,
	issuer     TEXT NOT NULL,
	date       TEXT NOT NULL,
	account    TEXT NOT NULL DEFAULT '',
	merchant   TEXT NOT NULL DEFAULT '',
	amount     TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	link       TEXT NOT NULL DEFAULT '',
	run_id     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS transactions_date ON transactions (date);

CREATE TABLE IF NOT EXISTS parse_misses (
	message_id  TEXT PRIMARY KEY,
	issuer      TEXT NOT NULL,
	body        TEXT NOT NULL DEFAULT '',
	link        TEXT NOT NULL DEFAULT '',
	recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bodies (
	message_id TEXT PRIMARY KEY,
	issuer     TEXT NOT NULL,
	body       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT '',
	listed      INTEGER NOT NULL DEFAULT 0,
	fetched     INTEGER NOT NULL DEFAULT 0,
	extracted   INTEGER NOT NULL DEFAULT 0,
	misses      INTEGER NOT NULL DEFAULT 0
);
`
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertTransactions stores txns keyed by message ID, replacing earlier
// extractions of the same message. Parse misses recorded for those messages
// are removed.
func (s *SQLiteStore) UpsertTransactions(ctx context.Context, runID string, txns []model.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (message_id, issuer, date, account, merchant, amount, category, link, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			issuer   = excluded.issuer,
			date     = excluded.date,
			account  = excluded.account,
			merchant = excluded.merchant,
			amount   = excluded.amount,
			category = excluded.category,
			link     = excluded.link,
			run_id   = excluded.run_id
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	clearMiss, err := tx.PrepareContext(ctx, "DELETE FROM parse_misses WHERE message_id = ?")
	if err != nil {
		return err
	}
	defer clearMiss.Close()

	for _, t := range txns {
		_, err := stmt.ExecContext(ctx, t.MessageID, t.Issuer, t.Date.Format(time.RFC3339),
			t.Account, t.Merchant, t.Amount.String(), t.Category, t.Link, runID)
		if err != nil {
			return fmt.Errorf("upsert transaction %s: %w", t.MessageID, err)
		}
		if _, err := clearMiss.ExecContext(ctx, t.MessageID); err != nil {
			return fmt.Errorf("clear parse miss %s: %w", t.MessageID, err)
		}
	}
	return tx.Commit()
}

// LoadTransactions returns every cached transaction ordered by date.
func (s *SQLiteStore) LoadTransactions(ctx context.Context) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT message_id, issuer, date, account, merchant, amount, category, link FROM transactions ORDER BY date, message_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var date, amount string
		if err := rows.Scan(&t.MessageID, &t.Issuer, &date, &t.Account, &t.Merchant, &amount, &t.Category, &t.Link); err != nil {
			return nil, err
		}
		if t.Date, err = time.Parse(time.RFC3339, date); err != nil {
			return nil, fmt.Errorf("transaction %s: bad date %q: %w", t.MessageID, date, err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount %q: %w", t.MessageID, amount, err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *SQLiteStore) CountTransactions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count)
	return count, err
}

// RecordMiss keeps the body of a message no pattern matched, for later inspection.
func (s *SQLiteStore) RecordMiss(ctx context.Context, miss model.ParseMiss) error {
	if miss.RecordedAt.IsZero() {
		miss.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parse_misses (message_id, issuer, body, link, recorded_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			issuer      = excluded.issuer,
			body        = excluded.body,
			link        = excluded.link,
			recorded_at = excluded.recorded_at
	`, miss.MessageID, miss.Issuer, miss.Body, miss.Link, miss.RecordedAt.Format(time.RFC3339))
	return err
}

// LoadMisses returns recorded parse misses, newest first.
func (s *SQLiteStore) LoadMisses(ctx context.Context) ([]model.ParseMiss, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT message_id, issuer, body, link, recorded_at FROM parse_misses ORDER BY recorded_at DESC, message_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var misses []model.ParseMiss
	for rows.Next() {
		var m model.ParseMiss
		var at string
		if err := rows.Scan(&m.MessageID, &m.Issuer, &m.Body, &m.Link, &at); err != nil {
			return nil, err
		}
		if m.RecordedAt, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("parse miss %s: bad timestamp %q: %w", m.MessageID, at, err)
		}
		misses = append(misses, m)
	}
	return misses, rows.Err()
}

// SaveBody dumps a fetched body for debugging extraction patterns.
func (s *SQLiteStore) SaveBody(ctx context.Context, messageID, issuer, body string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bodies (message_id, issuer, body) VALUES (?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET issuer = excluded.issuer, body = excluded.body
	`, messageID, issuer, body)
	return err
}

// Body returns a dumped body, or "" if none was saved.
func (s *SQLiteStore) Body(ctx context.Context, messageID string) (string, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM bodies WHERE message_id = ?", messageID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return body, err
}

// StartRun records the start of a pipeline run and returns its ID.
func (s *SQLiteStore) StartRun(ctx context.Context, startedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, "INSERT INTO runs (id, started_at) VALUES (?, ?)",
		id, startedAt.Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, finishedAt time.Time, sum RunSummary) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, listed = ?, fetched = ?, extracted = ?, misses = ?
		WHERE id = ?
	`, finishedAt.Format(time.RFC3339), sum.Listed, sum.Fetched, sum.Extracted, sum.Misses, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: unknown run %q", id)
	}
	return nil
}

// LastRun returns the most recently started run. ok is false if none exist.
func (s *SQLiteStore) LastRun(ctx context.Context) (run Run, ok bool, err error) {
	var started, finished string
	err = s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, listed, fetched, extracted, misses
		FROM runs ORDER BY started_at DESC LIMIT 1
	`).Scan(&run.ID, &started, &finished, &run.Listed, &run.Fetched, &run.Extracted, &run.Misses)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	if run.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
		return Run{}, false, fmt.Errorf("run %s: bad start time %q: %w", run.ID, started, err)
	}
	if finished != "" {
		if run.FinishedAt, err = time.Parse(time.RFC3339, finished); err != nil {
			return Run{}, false, fmt.Errorf("run %s: bad finish time %q: %w", run.ID, finished, err)
		}
	}
	return run, true, nil
}
