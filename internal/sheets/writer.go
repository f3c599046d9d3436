// Package sheets writes monthly transaction buckets to a Google Sheets
// spreadsheet, one sheet per month.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sheetsv4 "google.golang.org/api/sheets/v4"

	"mailmint/internal/logger"
	"mailmint/internal/model"
)

// Scopes are the OAuth scopes the writer needs.
var Scopes = []string{sheetsv4.SpreadsheetsScope}

const (
	// clearRange is the data area wiped before each month is rewritten; row 1
	// holds the template's headers.
	clearRange = "A2:E1000"
	startCell  = "A2"
)

var ErrNoTemplate = errors.New("template sheet not found")

// Writer is a pipeline report sink backed by a spreadsheet.
type Writer struct {
	svc           *sheetsv4.Service
	spreadsheetID string
	template      string

	sheetIDs map[string]int64 // title -> sheet id, loaded lazily
}

func NewWriter(svc *sheetsv4.Service, spreadsheetID, template string) *Writer {
	return &Writer{svc: svc, spreadsheetID: spreadsheetID, template: template}
}

// WriteMonth replaces the rows of the bucket's sheet, creating the sheet from
// the template first if needed.
func (w *Writer) WriteMonth(ctx context.Context, bucket model.MonthlyBucket) error {
	if err := w.ensureSheet(ctx, bucket.Month); err != nil {
		return err
	}

	_, err := w.svc.Spreadsheets.Values.
		Clear(w.spreadsheetID, sheetRange(bucket.Month, clearRange), &sheetsv4.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear sheet %s: %w", bucket.Month, err)
	}
	if len(bucket.Rows) == 0 {
		return nil
	}

	vr := &sheetsv4.ValueRange{Values: Rows(bucket)}
	_, err = w.svc.Spreadsheets.Values.
		Update(w.spreadsheetID, sheetRange(bucket.Month, startCell), vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write sheet %s: %w", bucket.Month, err)
	}
	log := logger.FromContext(ctx)
	log.Debug().Str("sheet", bucket.Month).Int("rows", len(bucket.Rows)).Msg("sheet updated")
	return nil
}

func (w *Writer) ensureSheet(ctx context.Context, title string) error {
	if w.sheetIDs == nil {
		if err := w.loadSheets(ctx); err != nil {
			return err
		}
	}
	if _, ok := w.sheetIDs[title]; ok {
		return nil
	}
	templateID, ok := w.sheetIDs[w.template]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoTemplate, w.template)
	}

	req := &sheetsv4.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsv4.Request{{
			DuplicateSheet: &sheetsv4.DuplicateSheetRequest{
				SourceSheetId: templateID,
				NewSheetName:  title,
			},
		}},
	}
	resp, err := w.svc.Spreadsheets.BatchUpdate(w.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("duplicate template as %s: %w", title, err)
	}
	var newID int64
	if len(resp.Replies) > 0 && resp.Replies[0].DuplicateSheet != nil && resp.Replies[0].DuplicateSheet.Properties != nil {
		newID = resp.Replies[0].DuplicateSheet.Properties.SheetId
	}
	w.sheetIDs[title] = newID
	log := logger.FromContext(ctx)
	log.Info().Str("sheet", title).Msg("created sheet from template")
	return nil
}

func (w *Writer) loadSheets(ctx context.Context) error {
	ss, err := w.svc.Spreadsheets.Get(w.spreadsheetID).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	w.sheetIDs = make(map[string]int64, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties == nil {
			continue
		}
		w.sheetIDs[s.Properties.Title] = s.Properties.SheetId
	}
	return nil
}

// Rows renders a bucket as [date, amount, merchant, account, category] rows.
func Rows(bucket model.MonthlyBucket) [][]interface{} {
	rows := make([][]interface{}, 0, len(bucket.Rows))
	for _, t := range bucket.Rows {
		rows = append(rows, []interface{}{
			t.Date.Format("2006-01-02"),
			t.Amount.InexactFloat64(),
			t.Merchant,
			t.Account,
			t.Category,
		})
	}
	return rows
}

// sheetRange builds an A1 range on the named sheet.
func sheetRange(title, cells string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + cells
}
