package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"sana/internal/config"
	"sana/internal/domain"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// StatementWriter renders the payout statement a practitioner receives after
// a completed batch: one row per earnings transaction plus the batch totals.
type StatementWriter struct {
	repo   domain.Repository
	path   string
	logger zerolog.Logger
}

func NewStatementWriter(repo domain.Repository, cfg config.ExportConfig, logger *zerolog.Logger) *StatementWriter {
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "export").Logger()
	}
	return &StatementWriter{
		repo:   repo,
		path:   cfg.Path,
		logger: log,
	}
}

// WriteStatement создает Excel файл с расшифровкой выплаты
func (w *StatementWriter) WriteStatement(ctx context.Context, payoutID int64) (string, error) {
	if err := os.MkdirAll(w.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	payout, err := w.repo.GetPayout(ctx, payoutID)
	if err != nil {
		return "", fmt.Errorf("error getting payout: %v", err)
	}
	transactions, err := w.repo.GetEarningsByPayout(ctx, payoutID)
	if err != nil {
		return "", fmt.Errorf("error getting transactions: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Выплата"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Выплата %s от %s",
		payout.BatchID, payout.CreatedAt.Format("02.01.2006")))
	_ = f.MergeCell(sheetName, "A1", "F1")

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headers := []string{"Бронирование", "Сумма", "Ставка, %", "Комиссия", "Сборы", "К выплате"}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	row := 3
	for _, tx := range transactions {
		values := []any{
			tx.BookingID,
			cents(tx.GrossCents),
			tx.CommissionRate,
			cents(tx.CommissionCents),
			cents(tx.FeeCents),
			cents(tx.NetCents),
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		row++
	}

	totalCell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetCellValue(sheetName, totalCell, "Итого")
	sumCell, _ := excelize.CoordinatesToCellName(6, row)
	_ = f.SetCellValue(sheetName, sumCell, cents(payout.TotalCents))
	totalStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	_ = f.SetCellStyle(sheetName, totalCell, sumCell, totalStyle)

	_ = f.SetColWidth(sheetName, "A", "F", 16)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("statement_%s.xlsx", payout.BatchID)
	filePath := filepath.Join(w.path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	w.logger.Info().Str("file_path", filePath).Int64("payout_id", payoutID).Msg("statement created")
	return filePath, nil
}

func cents(v int64) float64 {
	return float64(v) / 100
}
