package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"therapycore/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const timeLayout = "2006-01-02 15:04:05"

var errRowNotFound = errors.New("ledger row not found")

// LedgerSheet mirrors ledger entries into one sheet, a row per entry:
// ID, Provider, Appointment, Type, Status, Amount, Created At, Processed At.
type LedgerSheet struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	rowCache      map[int64]int
	cacheMu       sync.RWMutex
}

func NewLedgerSheet(ctx context.Context, credentialsFile, spreadsheetID, sheetName string) (*LedgerSheet, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %v", err)
	}

	return newLedgerSheet(srv, spreadsheetID, sheetName), nil
}

func newLedgerSheet(srv *sheets.Service, spreadsheetID, sheetName string) *LedgerSheet {
	if sheetName == "" {
		sheetName = "Ledger"
	}
	return &LedgerSheet{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		rowCache:      make(map[int64]int),
	}
}

// TestConnection проверяет подключение к таблице
func (s *LedgerSheet) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %v", err)
	}
	return nil
}

// WarmUpCache populates the row index cache by reading the entire ID column.
func (s *LedgerSheet) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[int64]int)
	for i, row := range resp.Values {
		if id, ok := cellID(row); ok {
			s.rowCache[id] = i + 1
		}
	}
	return nil
}

// AppendEntry adds the entry's row. A row already present for the entry is
// overwritten, so a retried task never duplicates it.
func (s *LedgerSheet) AppendEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry == nil || entry.ID == 0 {
		return fmt.Errorf("ledger entry id is required")
	}

	rowIdx, err := s.FindEntryRow(ctx, entry.ID)
	switch {
	case err == nil:
		return s.writeRow(ctx, rowIdx, entry)
	case !errors.Is(err, errRowNotFound):
		return err
	}

	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{entryRowValues(entry)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}
	if resp.Updates != nil {
		if row, ok := firstRow(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(entry.ID, row)
		}
	}
	return nil
}

// UpdateEntryStatus rewrites status and processed time of the entry's row,
// appending the full row when it is missing.
func (s *LedgerSheet) UpdateEntryStatus(ctx context.Context, entry *models.LedgerEntry) error {
	if entry == nil || entry.ID == 0 {
		return fmt.Errorf("ledger entry id is required")
	}

	rowIdx, err := s.FindEntryRow(ctx, entry.ID)
	if errors.Is(err, errRowNotFound) {
		return s.AppendEntry(ctx, entry)
	}
	if err != nil {
		return err
	}

	statusRange := fmt.Sprintf("%s!E%d:E%d", s.sheetName, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, statusRange, &sheets.ValueRange{
		Values: [][]interface{}{{entry.Status}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return err
	}

	processedRange := fmt.Sprintf("%s!H%d:H%d", s.sheetName, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, processedRange, &sheets.ValueRange{
		Values: [][]interface{}{{formatTime(entry.ProcessedAt)}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *LedgerSheet) writeRow(ctx context.Context, rowIdx int, entry *models.LedgerEntry) error {
	rangeData := fmt.Sprintf("%s!A%d:H%d", s.sheetName, rowIdx, rowIdx)
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{entryRowValues(entry)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// FindEntryRow locates row index (1-based) for entry id in column A with cache.
func (s *LedgerSheet) FindEntryRow(ctx context.Context, entryID int64) (int, error) {
	if row, ok := s.getCachedRow(entryID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if id, ok := cellID(row); ok && id == entryID {
			rowIdx := i + 1 // Values are zero-based; sheet rows are 1-based
			s.setCachedRow(entryID, rowIdx)
			return rowIdx, nil
		}
	}
	return 0, errRowNotFound
}

func (s *LedgerSheet) getCachedRow(id int64) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *LedgerSheet) setCachedRow(id int64, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func cellID(row []interface{}) (int64, bool) {
	if len(row) == 0 {
		return 0, false
	}
	switch v := row[0].(type) {
	case float64:
		return int64(v), v > 0
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil && id > 0
	}
	return 0, false
}

var rangeRowRe = regexp.MustCompile(`![A-Z]+(\d+)`)

// firstRow extracts the first row number from an A1 range like "Ledger!A10:H10".
func firstRow(a1 string) (int, bool) {
	m := rangeRowRe.FindStringSubmatch(a1)
	if len(m) != 2 {
		return 0, false
	}
	row, err := strconv.Atoi(m[1])
	return row, err == nil
}

func entryRowValues(entry *models.LedgerEntry) []interface{} {
	var appointment interface{} = ""
	if entry.AppointmentID != nil {
		appointment = *entry.AppointmentID
	}
	return []interface{}{
		entry.ID,
		entry.ProviderID,
		appointment,
		entry.Type,
		entry.Status,
		entry.Amount.StringFixed(2),
		entry.CreatedAt.UTC().Format(timeLayout),
		formatTime(entry.ProcessedAt),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
