package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CurrencyINR is the only settlement currency.
const CurrencyINR = "INR"

// DefaultPaymentMethod is stored when the gateway reports no method.
const DefaultPaymentMethod = "unknown"

// PaymentStatus is the lifecycle state of a payment record. The zero value is invalid;
// use StatusPending, StatusSuccess, StatusFailed or GatewayMirror.
type PaymentStatus struct {
	code string
}

var (
	StatusPending = PaymentStatus{code: "PENDING"}
	StatusSuccess = PaymentStatus{code: "SUCCESS"}
	StatusFailed  = PaymentStatus{code: "FAILED"}
)

// GatewayMirror records a non-captured gateway status verbatim (upper-cased).
// Gateway statuses that coincide with a local state map onto that state, so a
// raw "success" yields StatusSuccess; callers must not store it without a capture.
func GatewayMirror(raw string) PaymentStatus {
	return ParseStatus(raw)
}

// ParseStatus converts stored text back into a status.
func ParseStatus(s string) PaymentStatus {
	code := strings.ToUpper(strings.TrimSpace(s))
	switch code {
	case StatusPending.code:
		return StatusPending
	case StatusSuccess.code:
		return StatusSuccess
	case StatusFailed.code:
		return StatusFailed
	}
	return PaymentStatus{code: code}
}

func (s PaymentStatus) String() string { return s.code }

// IsTerminal reports whether no further transition is allowed.
func (s PaymentStatus) IsTerminal() bool { return s == StatusSuccess }

// IsMirror reports whether s carries a gateway status rather than a local state.
func (s PaymentStatus) IsMirror() bool {
	return s.code != "" && s != StatusPending && s != StatusSuccess && s != StatusFailed
}

// MarshalText lets the status appear as a plain string in JSON.
func (s PaymentStatus) MarshalText() ([]byte, error) { return []byte(s.code), nil }

// UnmarshalText parses a status from JSON.
func (s *PaymentStatus) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}

// Payment is one checkout attempt for a course. A SUCCESS row is the enrollment.
type Payment struct {
	ID               uuid.UUID     `json:"id"`
	UserID           string        `json:"user_id"`
	CourseID         string        `json:"course_id"`
	Amount           float64       `json:"amount"`
	AmountMinor      int64         `json:"amount_minor"`
	Currency         string        `json:"currency"`
	ReceiptID        string        `json:"receipt_id"`
	GatewayOrderID   string        `json:"gateway_order_id"`
	GatewayPaymentID string        `json:"gateway_payment_id,omitempty"`
	Status           PaymentStatus `json:"status"`
	Method           string        `json:"method,omitempty"`
	Description      string        `json:"description,omitempty"`
	ReceiptKey       string        `json:"-"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}
