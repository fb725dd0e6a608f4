// Package export produces XLSX workbooks for a user's credit-transaction
// history.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/doctorfy/doctorfy/internal/repository"
)

// Service is a tiny façade over the ledger that produces XLSX bytes.
type Service struct {
	ledger repository.LedgerRepository
	logger *slog.Logger
}

func NewService(ledger repository.LedgerRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledger, logger: logger}
}

// ExportTransactionsXLSX returns an XLSX workbook (as bytes) with the user's
// full ledger history, newest first.
func (s *Service) ExportTransactionsXLSX(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	start := time.Now()

	txs, err := s.ledger.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Transactions"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{"Date", "Delta", "Reason", "Reference", "Transaction ID"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, t := range txs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, t.CreatedAt.Format("2006-01-02 15:04:05"))
		write(2, t.Delta.String())
		write(3, string(t.Reason))
		write(4, t.Reference)
		write(5, t.ID.String())
		row++
	}

	// Widen a few columns
	_ = f.SetColWidth(sheet, "A", "A", 20)
	_ = f.SetColWidth(sheet, "B", "B", 12)
	_ = f.SetColWidth(sheet, "C", "C", 24)
	_ = f.SetColWidth(sheet, "D", "E", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.transactions.ok",
		"user_id", userID, "rows", len(txs),
		"bytes", buf.Len(), "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}
