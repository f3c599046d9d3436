package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"

	"mailmint/internal/model"
)

// fakeSpreadsheet serves the handful of Sheets endpoints the writer uses.
type fakeSpreadsheet struct {
	mu      sync.Mutex
	sheets  map[string]int64
	calls   []string
	updates map[string][][]interface{}
	input   []string
}

func (f *fakeSpreadsheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet:
		f.calls = append(f.calls, "get")
		var out sheetsv4.Spreadsheet
		for title, id := range f.sheets {
			out.Sheets = append(out.Sheets, &sheetsv4.Sheet{Properties: &sheetsv4.SheetProperties{Title: title, SheetId: id}})
		}
		json.NewEncoder(w).Encode(&out)

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req sheetsv4.BatchUpdateSpreadsheetRequest
		json.NewDecoder(r.Body).Decode(&req)
		dup := req.Requests[0].DuplicateSheet
		f.calls = append(f.calls, fmt.Sprintf("duplicate %d as %s", dup.SourceSheetId, dup.NewSheetName))
		id := int64(100 + len(f.sheets))
		f.sheets[dup.NewSheetName] = id
		json.NewEncoder(w).Encode(&sheetsv4.BatchUpdateSpreadsheetResponse{
			Replies: []*sheetsv4.Response{{DuplicateSheet: &sheetsv4.DuplicateSheetResponse{
				Properties: &sheetsv4.SheetProperties{SheetId: id, Title: dup.NewSheetName},
			}}},
		})

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		rng := strings.TrimSuffix(path[strings.Index(path, "/values/")+len("/values/"):], ":clear")
		f.calls = append(f.calls, "clear "+rng)
		fmt.Fprint(w, `{}`)

	case r.Method == http.MethodPut:
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		f.calls = append(f.calls, "update "+rng)
		var vr sheetsv4.ValueRange
		json.NewDecoder(r.Body).Decode(&vr)
		f.updates[rng] = vr.Values
		f.input = append(f.input, r.URL.Query().Get("valueInputOption"))
		fmt.Fprint(w, `{}`)

	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func newTestWriter(t *testing.T, f *fakeSpreadsheet) *Writer {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	svc, err := sheetsv4.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return NewWriter(svc, "sheet-id", "Template")
}

func bucket(month string, rows ...model.Transaction) model.MonthlyBucket {
	return model.MonthlyBucket{Month: month, Rows: rows}
}

func txn(date string, amount, merchant string) model.Transaction {
	d, _ := time.Parse("2006-01-02", date)
	return model.Transaction{
		Date:     d,
		Amount:   decimal.RequireFromString(amount),
		Merchant: merchant,
		Account:  "HDFC xx1234",
		Category: "Uncategorized",
	}
}

func TestWriteMonth_CreatesSheetFromTemplate(t *testing.T) {
	f := &fakeSpreadsheet{
		sheets:  map[string]int64{"Template": 7, "2023-12": 8},
		updates: make(map[string][][]interface{}),
	}
	w := newTestWriter(t, f)
	ctx := context.Background()

	require.NoError(t, w.WriteMonth(ctx, bucket("2023-12", txn("2023-12-05", "-450", "Bookstore"))))
	require.NoError(t, w.WriteMonth(ctx, bucket("2024-01",
		txn("2024-01-02", "5000", "ACME Payroll"),
		txn("2024-01-15", "-1234.56", "Coffee Shop"),
	)))

	assert.Equal(t, []string{
		"get",
		"clear '2023-12'!A2:E1000",
		"update '2023-12'!A2",
		"duplicate 7 as 2024-01",
		"clear '2024-01'!A2:E1000",
		"update '2024-01'!A2",
	}, f.calls)
	assert.Equal(t, []string{"RAW", "RAW"}, f.input)
	assert.Equal(t, [][]interface{}{
		{"2024-01-02", float64(5000), "ACME Payroll", "HDFC xx1234", "Uncategorized"},
		{"2024-01-15", -1234.56, "Coffee Shop", "HDFC xx1234", "Uncategorized"},
	}, f.updates["'2024-01'!A2"])
}

func TestWriteMonth_EmptyBucketOnlyClears(t *testing.T) {
	f := &fakeSpreadsheet{
		sheets:  map[string]int64{"Template": 7, "2024-02": 9},
		updates: make(map[string][][]interface{}),
	}
	w := newTestWriter(t, f)

	require.NoError(t, w.WriteMonth(context.Background(), bucket("2024-02")))
	assert.Equal(t, []string{"get", "clear '2024-02'!A2:E1000"}, f.calls)
}

func TestWriteMonth_MissingTemplate(t *testing.T) {
	f := &fakeSpreadsheet{
		sheets:  map[string]int64{"Sheet1": 0},
		updates: make(map[string][][]interface{}),
	}
	w := newTestWriter(t, f)

	err := w.WriteMonth(context.Background(), bucket("2024-01", txn("2024-01-02", "1", "x")))
	require.ErrorIs(t, err, ErrNoTemplate)
	assert.Equal(t, []string{"get"}, f.calls)
}

func TestRows(t *testing.T) {
	rows := Rows(bucket("2024-01", txn("2024-01-15", "-1234.56", "Coffee Shop")))
	require.Len(t, rows, 1)
	assert.Equal(t, []interface{}{"2024-01-15", -1234.56, "Coffee Shop", "HDFC xx1234", "Uncategorized"}, rows[0])
}

func TestSheetRange(t *testing.T) {
	assert.Equal(t, "'2024-01'!A2:E1000", sheetRange("2024-01", clearRange))
	assert.Equal(t, "'Bob''s'!A2", sheetRange("Bob's", startCell))
}
