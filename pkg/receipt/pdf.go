// Package receipt renders purchase receipts.
package receipt

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Data is everything printed on a receipt.
type Data struct {
	ReceiptID        string
	PaymentID        string
	GatewayOrderID   string
	GatewayPaymentID string
	CourseID         string
	UserID           string
	AmountMinor      int64
	Currency         string
	Method           string
	PaidAt           time.Time
	Merchant         string
}

// FormatAmount renders minor units as "INR 499.00".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, minor/100, minor%100)
}

// RenderPDF returns a one-page A4 receipt.
func RenderPDF(d Data) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Receipt "+d.ReceiptID, false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, d.Merchant+" - Payment Receipt")
	pdf.Ln(14)

	pdf.SetFont("Arial", "", 11)
	rows := [][2]string{
		{"Receipt", d.ReceiptID},
		{"Date", d.PaidAt.UTC().Format("02 Jan 2006 15:04 MST")},
		{"Course", d.CourseID},
		{"Customer", d.UserID},
		{"Amount", FormatAmount(d.AmountMinor, d.Currency)},
		{"Method", d.Method},
		{"Order ID", d.GatewayOrderID},
		{"Payment ID", d.GatewayPaymentID},
		{"Reference", d.PaymentID},
	}
	for _, r := range rows {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(40, 8, r[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 8, r[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(8)
	pdf.SetFont("Arial", "I", 9)
	pdf.Cell(40, 8, "This is a system generated receipt.")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}
