package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"therapycore/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Выписка"

// StatementExporter writes ledger statements as xlsx files under dir.
type StatementExporter struct {
	dir    string
	logger *zerolog.Logger
}

func NewStatementExporter(dir string, logger *zerolog.Logger) *StatementExporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &StatementExporter{dir: dir, logger: logger}
}

// Export создает Excel файл с движением по счету провайдера за период
func (e *StatementExporter) Export(provider *models.Provider, entries []models.LedgerEntry, balance models.Balance, from, to time.Time) (string, error) {
	if provider == nil {
		return "", fmt.Errorf("provider is required")
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	loc := provider.Location()
	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("%s: %s - %s",
		provider.DisplayName, from.In(loc).Format("02.01.2006"), to.In(loc).Format("02.01.2006")))
	_ = f.MergeCell(sheetName, "A1", "F1")

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	e.writeHeaders(f)
	row := e.writeEntries(f, entries, loc)
	e.writeTotals(f, row+2, balance)

	_ = f.SetColWidth(sheetName, "A", "A", 10)
	_ = f.SetColWidth(sheetName, "B", "F", 20)

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("statement_%d_%s_to_%s.xlsx",
		provider.ID, from.In(loc).Format("2006-01-02"), to.In(loc).Format("2006-01-02"))
	filePath := filepath.Join(e.dir, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int64("provider_id", provider.ID).Int("entries", len(entries)).Msg("Statement file created")
	return filePath, nil
}

func (e *StatementExporter) writeHeaders(f *excelize.File) {
	headers := []string{"ID", "Дата", "Тип", "Статус", "Сумма", "Сессия"}
	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
}

// writeEntries returns the last written row.
func (e *StatementExporter) writeEntries(f *excelize.File, entries []models.LedgerEntry, loc *time.Location) int {
	row := 2
	for i := range entries {
		entry := &entries[i]
		row++
		amount, _ := entry.Amount.Round(2).Float64()
		values := []interface{}{
			entry.ID,
			entry.CreatedAt.In(loc).Format("02.01.2006 15:04"),
			entryTypeLabel(entry.Type),
			entryStatusLabel(entry.Status),
			amount,
			"",
		}
		if entry.AppointmentID != nil {
			values[5] = *entry.AppointmentID
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}

		if entry.Status == models.EntryCancelled {
			style, _ := f.NewStyle(&excelize.Style{
				Font: &excelize.Font{Color: "#999999", Strike: true},
			})
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(values), row)
			_ = f.SetCellStyle(sheetName, first, last, style)
		}
	}
	return row
}

func (e *StatementExporter) writeTotals(f *excelize.File, row int, b models.Balance) {
	totals := []struct {
		label string
		value string
	}{
		{"Всего заработано", b.TotalEarnings.StringFixed(2)},
		{"Ожидает расчета", b.PendingEarnings.StringFixed(2)},
		{"Рассчитано", b.CompletedEarnings.StringFixed(2)},
		{"Выведено", b.TotalWithdrawals.StringFixed(2)},
		{"Доступно", b.Available.StringFixed(2)},
	}
	bold, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	for i, t := range totals {
		labelCell, _ := excelize.CoordinatesToCellName(4, row+i)
		valueCell, _ := excelize.CoordinatesToCellName(5, row+i)
		_ = f.SetCellValue(sheetName, labelCell, t.label)
		_ = f.SetCellValue(sheetName, valueCell, t.value)
		_ = f.SetCellStyle(sheetName, labelCell, labelCell, bold)
	}
}

func entryTypeLabel(t string) string {
	switch t {
	case models.TxEarning:
		return "Начисление"
	case models.TxWithdrawal:
		return "Вывод"
	default:
		return t
	}
}

func entryStatusLabel(s string) string {
	switch s {
	case models.EntryPending:
		return "Ожидает"
	case models.EntryCompleted:
		return "Проведено"
	case models.EntryCancelled:
		return "Отменено"
	default:
		return s
	}
}
