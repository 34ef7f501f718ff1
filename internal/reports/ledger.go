// Package reports exports the payment ledger for finance.
package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/coursemart/backend/internal/models"
)

const ledgerSheet = "Payments"

var ledgerHeader = []interface{}{
	"Created At", "Record ID", "Receipt", "User ID", "Course ID", "Amount", "Currency",
	"Status", "Order ID", "Payment ID", "Method", "Description", "Updated At",
}

// Lister loads payments by creation time. *payments.Repository implements it.
type Lister interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*models.Payment, error)
}

// Summary totals a ledger.
type Summary struct {
	Records       int
	Credited      int
	CreditedMinor int64
}

// Summarize counts records and credited revenue.
func Summarize(list []*models.Payment) Summary {
	s := Summary{Records: len(list)}
	for _, p := range list {
		if p.Status == models.StatusSuccess {
			s.Credited++
			s.CreditedMinor += p.AmountMinor
		}
	}
	return s
}

// BuildLedger writes payments to an XLSX workbook with a totals row.
func BuildLedger(list []*models.Payment) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ledgerSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(ledgerSheet, "A1", &ledgerHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetRowStyle(ledgerSheet, 1, 1, bold)
	}

	for i, p := range list {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []interface{}{
			p.CreatedAt.UTC().Format(time.RFC3339),
			p.ID.String(),
			p.ReceiptID,
			p.UserID,
			p.CourseID,
			float64(p.AmountMinor) / 100,
			p.Currency,
			p.Status.String(),
			p.GatewayOrderID,
			p.GatewayPaymentID,
			p.Method,
			p.Description,
			p.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow(ledgerSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	sum := Summarize(list)
	cell, err := excelize.CoordinatesToCellName(1, len(list)+3)
	if err != nil {
		return nil, err
	}
	totals := []interface{}{"Credited", sum.Credited, "", "", "", float64(sum.CreditedMinor) / 100}
	if err := f.SetSheetRow(ledgerSheet, cell, &totals); err != nil {
		return nil, fmt.Errorf("write totals: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
