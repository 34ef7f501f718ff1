package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"go.uber.org/zap"
)

type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Razorpay implements Client on top of razorpay-go.
type Razorpay struct {
	orders   orderAPI
	payments paymentAPI
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRazorpay creates a Razorpay client. timeout bounds every call.
func NewRazorpay(keyID, keySecret string, timeout time.Duration, logger *zap.Logger) *Razorpay {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := razorpay.NewClient(keyID, keySecret)
	return &Razorpay{orders: client.Order, payments: client.Payment, timeout: timeout, logger: logger}
}

// CreateOrder creates an auto-capture order for the given minor amount.
func (r *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	notes := make(map[string]interface{}, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}
	data := map[string]interface{}{
		"amount":          req.AmountMinor,
		"currency":        req.Currency,
		"receipt":         req.Receipt,
		"payment_capture": 1,
		"notes":           notes,
	}
	body, err := r.do(ctx, func() (map[string]interface{}, error) {
		return r.orders.Create(data, nil)
	})
	if err != nil {
		r.logger.Warn("razorpay order create failed", zap.String("receipt", req.Receipt), zap.Error(err))
		return nil, err
	}
	order := &Order{
		ID:          stringField(body, "id"),
		AmountMinor: int64Field(body, "amount"),
		Currency:    stringField(body, "currency"),
		Status:      stringField(body, "status"),
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: order id not returned", ErrGateway)
	}
	return order, nil
}

// FetchPayment returns the live status of a payment.
func (r *Razorpay) FetchPayment(ctx context.Context, paymentID string) (*PaymentDetails, error) {
	body, err := r.do(ctx, func() (map[string]interface{}, error) {
		return r.payments.Fetch(paymentID, nil, nil)
	})
	if err != nil {
		r.logger.Warn("razorpay payment fetch failed", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, err
	}
	p := &PaymentDetails{
		ID:          stringField(body, "id"),
		OrderID:     stringField(body, "order_id"),
		Status:      stringField(body, "status"),
		Method:      stringField(body, "method"),
		AmountMinor: int64Field(body, "amount"),
	}
	if p.Status == "" {
		return nil, fmt.Errorf("%w: payment status not returned", ErrGateway)
	}
	return p, nil
}

type result struct {
	body map[string]interface{}
	err  error
}

// do runs a blocking SDK call under the context deadline. The SDK takes no
// context, so an abandoned call finishes on its own HTTP timeout.
func (r *Razorpay) do(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	ch := make(chan result, 1)
	go func() {
		body, err := fn()
		ch <- result{body: body, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, classify(ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, classify(res.err)
		}
		return res.body, nil
	}
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return fmt.Errorf("%w: %v", ErrGateway, err)
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// int64Field reads a JSON number, which decodes as float64.
func int64Field(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return 0
}
