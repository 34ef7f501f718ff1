// Package payments implements checkout order creation and verification of
// gateway callbacks into exactly-once course enrollments.
package payments

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursemart/backend/internal/gateway"
	"github.com/coursemart/backend/internal/models"
)

// Notifier receives payment lifecycle events. Implementations must not block for long;
// errors are logged and never change the outcome of a payment operation.
type Notifier interface {
	PaymentInitiated(ctx context.Context, p *models.Payment) error
	PaymentSucceeded(ctx context.Context, p *models.Payment) error
}

// Observer records operation outcomes (see internal/metrics).
type Observer interface {
	ObserveInitiate(outcome string)
	ObserveReconcile(outcome string, elapsed time.Duration)
}

// Service owns the payment record lifecycle.
type Service struct {
	store    Store
	gateway  gateway.Client
	notifier Notifier
	observer Observer
	secret   string
	keyID    string
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a payment service. secret keys callback signatures and is never
// returned to clients; keyID is the public key id handed to checkout.
func NewService(store Store, gw gateway.Client, notifier Notifier, secret, keyID string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		gateway:  gw,
		notifier: notifier,
		secret:   secret,
		keyID:    keyID,
		logger:   logger,
		now:      time.Now,
	}
}

// SetObserver attaches metrics. Optional.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// InitiateRequest is the input to InitiateOrder. Amount is in major units (rupees).
type InitiateRequest struct {
	Amount   float64
	UserID   string
	CourseID string
}

// InitiateResult is what checkout needs to open the gateway UI.
type InitiateResult struct {
	OrderID         string  `json:"orderId"`
	Amount          float64 `json:"amount"`
	AmountMinor     int64   `json:"amountMinor"`
	Currency        string  `json:"currency"`
	PaymentRecordID string  `json:"paymentRecordId"`
	Receipt         string  `json:"receipt"`
	KeyID           string  `json:"keyId"`
}

// InitiateOrder opens a gateway order and persists a PENDING record for it.
func (s *Service) InitiateOrder(ctx context.Context, req InitiateRequest) (res *InitiateResult, err error) {
	defer func() { s.observeInitiate(err) }()

	userID := strings.TrimSpace(req.UserID)
	courseID := strings.TrimSpace(req.CourseID)
	if userID == "" || courseID == "" {
		return nil, ValidationError("user_id and course_id are required")
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return nil, ValidationError("amount must be a positive number")
	}
	minor := int64(math.Round(req.Amount * 100))
	if minor <= 0 {
		return nil, ValidationError("amount is below the smallest currency unit")
	}

	receipt := receiptID(s.now(), userID)
	description := "Subscription payment for " + courseID
	order, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		AmountMinor: minor,
		Currency:    models.CurrencyINR,
		Receipt:     receipt,
		Notes: map[string]string{
			"description":     description,
			"course_id":       courseID,
			"user_id":         userID,
			"original_amount": strconv.FormatFloat(req.Amount, 'f', 2, 64),
		},
	})
	if err != nil {
		return nil, classifyGatewayErr(err)
	}
	if order == nil || order.ID == "" {
		return nil, GatewayError(errors.New("order id missing"))
	}

	p := &models.Payment{
		UserID:         userID,
		CourseID:       courseID,
		Amount:         float64(minor) / 100,
		AmountMinor:    minor,
		Currency:       models.CurrencyINR,
		ReceiptID:      receipt,
		GatewayOrderID: order.ID,
		Status:         models.StatusPending,
		Description:    description,
	}
	if err := s.store.Create(ctx, p); err != nil {
		// the gateway order exists without a local record
		s.logger.Error("persist payment after gateway order failed",
			zap.String("orphan_order_id", order.ID),
			zap.String("user_id", userID),
			zap.String("course_id", courseID),
			zap.Error(err))
		return nil, PersistenceError(err)
	}

	s.logger.Info("payment order created",
		zap.String("order_id", order.ID),
		zap.String("payment_id", p.ID.String()),
		zap.Int64("amount_minor", minor))

	if s.notifier != nil {
		if err := s.notifier.PaymentInitiated(ctx, p); err != nil {
			s.logger.Warn("payment initiated notification failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	return &InitiateResult{
		OrderID:         order.ID,
		Amount:          p.Amount,
		AmountMinor:     minor,
		Currency:        models.CurrencyINR,
		PaymentRecordID: p.ID.String(),
		Receipt:         receipt,
		KeyID:           s.keyID,
	}, nil
}

// HasEnrollment reports whether a SUCCESS record exists for (userID, courseID).
func (s *Service) HasEnrollment(ctx context.Context, userID, courseID string) (bool, error) {
	if userID == "" || courseID == "" {
		return false, ValidationError("user_id and course_id are required")
	}
	ok, err := s.store.HasSuccessfulEnrollment(ctx, userID, courseID)
	if err != nil {
		return false, PersistenceError(err)
	}
	return ok, nil
}

// EnrolledCourses lists course ids the user has paid for.
func (s *Service) EnrolledCourses(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ValidationError("user_id is required")
	}
	ids, err := s.store.ListEnrolledCourseIDs(ctx, userID)
	if err != nil {
		return nil, PersistenceError(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// receiptID builds rcpt_<last 8 digits of unix ms>_<last 6 chars of user id>.
func receiptID(now time.Time, userID string) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 8 {
		ms = ms[len(ms)-8:]
	}
	u := userID
	if len(u) > 6 {
		u = u[len(u)-6:]
	}
	return "rcpt_" + ms + "_" + u
}

func classifyGatewayErr(err error) error {
	if errors.Is(err, gateway.ErrNetwork) {
		return NetworkError(err)
	}
	return GatewayError(err)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ReplaceAll(KindOf(err).String(), " ", "_")
}

func (s *Service) observeInitiate(err error) {
	if s.observer != nil {
		s.observer.ObserveInitiate(outcomeOf(err))
	}
}

// GetPayment returns a payment record by id.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, PersistenceError(err)
	}
	if p == nil {
		return nil, NotFoundError("payment record not found")
	}
	return p, nil
}

// ReceiptKey returns the archived receipt object key of a payment owned by userID.
func (s *Service) ReceiptKey(ctx context.Context, userID string, id uuid.UUID) (string, error) {
	p, err := s.GetPayment(ctx, id)
	if err != nil {
		return "", err
	}
	if p.UserID != userID {
		return "", ForbiddenError("payment belongs to another user")
	}
	if p.ReceiptKey == "" {
		return "", NotFoundError("receipt not archived yet")
	}
	return p.ReceiptKey, nil
}
