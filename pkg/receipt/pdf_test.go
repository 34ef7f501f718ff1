package receipt

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "INR 499.00", FormatAmount(49900, "INR"))
	assert.Equal(t, "INR 0.05", FormatAmount(5, "INR"))
	assert.Equal(t, "INR 1234.56", FormatAmount(123456, "INR"))
}

func TestRenderPDF(t *testing.T) {
	b, err := RenderPDF(Data{
		ReceiptID:        "rcpt_12345678_abcdef",
		PaymentID:        "3f1c",
		GatewayOrderID:   "order_abc",
		GatewayPaymentID: "pay_1",
		CourseID:         "go-basics",
		UserID:           "user_1",
		AmountMinor:      49900,
		Currency:         "INR",
		Method:           "card",
		PaidAt:           time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		Merchant:         "Course Market",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, []byte("%PDF-")))
}
