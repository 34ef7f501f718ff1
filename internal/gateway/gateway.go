// Package gateway talks to the external payment provider.
package gateway

import (
	"context"
	"errors"
)

// StatusCaptured is the provider status meaning funds were collected.
const StatusCaptured = "captured"

var (
	// ErrNetwork marks transport failures and timeouts. Safe to retry.
	ErrNetwork = errors.New("payment gateway unreachable")
	// ErrGateway marks a response the provider returned but we cannot use.
	ErrGateway = errors.New("payment gateway error")
)

// OrderRequest is what the provider needs to open a checkout order.
type OrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// Order is the provider-side order.
type Order struct {
	ID          string
	AmountMinor int64
	Currency    string
	Status      string
}

// PaymentDetails is the provider's authoritative view of a payment.
type PaymentDetails struct {
	ID          string
	OrderID     string
	Status      string
	Method      string
	AmountMinor int64
}

// Captured reports whether the provider collected the funds.
func (p *PaymentDetails) Captured() bool {
	return p != nil && p.Status == StatusCaptured
}

// Client is the provider surface used by the payment core.
type Client interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*PaymentDetails, error)
}
