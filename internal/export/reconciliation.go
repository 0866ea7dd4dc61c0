package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"salesync/internal/events"
	"salesync/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Sin conciliar"

var headers = []string{
	"id_global", "tenant", "created_at", "synced_at", "total_usd", "total_bs",
	"payment_method", "customer", "attempts", "last_error",
}

type UnreconciledLister interface {
	ListUnreconciled(ctx context.Context) ([]models.StoredSale, error)
}

// Exporter writes sales the authoritative server never acknowledged into a
// workbook for manual reconciliation.
type Exporter struct {
	store  UnreconciledLister
	dir    string
	logger *zerolog.Logger
	now    func() time.Time
}

func NewExporter(store UnreconciledLister, dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{
		store:  store,
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

// ExportUnreconciled returns the file path and the number of rows written.
func (e *Exporter) ExportUnreconciled(ctx context.Context) (string, int, error) {
	sales, err := e.store.ListUnreconciled(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("list unreconciled: %w", err)
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", 0, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i := range sales {
		if err := writeRow(f, i+2, &sales[i]); err != nil {
			return "", 0, err
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 28)
	_ = f.SetColWidth(sheetName, "B", "J", 16)

	fileName := fmt.Sprintf("unreconciled_%s.xlsx", e.now().Format("20060102_150405"))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", 0, fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("rows", len(sales)).Msg("Reconciliation export created")
	return filePath, len(sales), nil
}

func writeRow(f *excelize.File, row int, sale *models.StoredSale) error {
	rec := sale.Record
	totalBs, totalUSD := events.ComputeTotals(rec.Items, rec.ExchangeRate)

	syncedAt := ""
	if sale.SyncedAt != nil {
		syncedAt = sale.SyncedAt.UTC().Format(time.RFC3339)
	}
	lastErr := ""
	if sale.LastError != nil {
		lastErr = *sale.LastError
	}

	values := []interface{}{
		rec.IDGlobal,
		rec.TenantID,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		syncedAt,
		totalUSD,
		totalBs,
		rec.PaymentMethod,
		rec.CustomerName,
		sale.Attempts,
		lastErr,
	}
	cell, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}
