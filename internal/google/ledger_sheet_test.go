package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"therapycore/internal/models"

	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(ctx context.Context) (*http.ServeMux, *httptest.Server, *LedgerSheet) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	srv, _ := sheets.NewService(ctx, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	return mux, server, newLedgerSheet(srv, "ledger_tid", "Ledger")
}

func testEntry(id int64) *models.LedgerEntry {
	appt := int64(7)
	return &models.LedgerEntry{
		ID:            id,
		ProviderID:    3,
		AppointmentID: &appt,
		Amount:        decimal.NewFromInt(150),
		Type:          models.TxEarning,
		Status:        models.EntryPending,
		CreatedAt:     time.Date(2030, 1, 7, 10, 30, 0, 0, time.UTC),
	}
}

func TestLedgerSheet_TestConnection(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	if err := s.TestConnection(ctx); err != nil {
		t.Errorf("TestConnection failed: %v", err)
	}
}

func TestLedgerSheet_WarmUpCache(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{
			Values: [][]interface{}{{"ID"}, {"123"}, {}, {"456"}},
		})
	})
	if err := s.WarmUpCache(ctx); err != nil {
		t.Fatalf("WarmUpCache failed: %v", err)
	}
	if row, ok := s.getCachedRow(123); !ok || row != 2 {
		t.Errorf("Expected row 2 for ID 123, got %d", row)
	}
	if row, ok := s.getCachedRow(456); !ok || row != 4 {
		t.Errorf("Expected row 4 for ID 456, got %d", row)
	}
}

func TestLedgerSheet_AppendEntry(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()

	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	var appended [][]interface{}
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		var body sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&body)
		appended = body.Values
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Ledger!A10:H10"},
		})
	})

	if err := s.AppendEntry(ctx, testEntry(789)); err != nil {
		t.Fatalf("AppendEntry failed: %v", err)
	}
	if row, _ := s.getCachedRow(789); row != 10 {
		t.Errorf("Expected cached row 10, got %d", row)
	}
	if len(appended) != 1 || len(appended[0]) != 8 {
		t.Fatalf("unexpected appended values: %v", appended)
	}
	if appended[0][5] != "150.00" || appended[0][3] != models.TxEarning {
		t.Errorf("unexpected row: %v", appended[0])
	}
}

func TestLedgerSheet_AppendEntryExistingRowIsOverwritten(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()
	s.setCachedRow(123, 2)

	var calls atomic.Int32
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!A2:H2", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})
	if err := s.AppendEntry(ctx, testEntry(123)); err != nil {
		t.Fatalf("AppendEntry failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected the existing row to be rewritten")
	}
}

func TestLedgerSheet_UpdateEntryStatus(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()
	s.setCachedRow(123, 2)

	var statusCalls, processedCalls atomic.Int32
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!E2:E2", func(w http.ResponseWriter, r *http.Request) {
		statusCalls.Add(1)
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!H2:H2", func(w http.ResponseWriter, r *http.Request) {
		processedCalls.Add(1)
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})

	entry := testEntry(123)
	processed := time.Now()
	entry.Status = models.EntryCompleted
	entry.ProcessedAt = &processed

	if err := s.UpdateEntryStatus(ctx, entry); err != nil {
		t.Fatalf("UpdateEntryStatus failed: %v", err)
	}
	if statusCalls.Load() != 1 || processedCalls.Load() != 1 {
		t.Errorf("expected status and processed columns to be written")
	}
}

func TestLedgerSheet_ServerError(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!A:A", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if err := s.AppendEntry(ctx, testEntry(1)); err == nil {
		t.Error("expected error from failing server")
	}
	if err := s.AppendEntry(ctx, &models.LedgerEntry{}); err == nil {
		t.Error("expected error for entry without id")
	}
}

func TestFirstRow(t *testing.T) {
	if row, ok := firstRow("Ledger!A10:H10"); !ok || row != 10 {
		t.Errorf("expected 10, got %d", row)
	}
	if _, ok := firstRow("garbage"); ok {
		t.Error("expected no row")
	}
}
