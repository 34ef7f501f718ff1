package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coursemart/backend/internal/models"
)

// Audit descriptions written on status transitions.
const (
	descInvalidSignature = "invalid signature"
	descDuplicatePayment = "duplicate payment id detected"
)

// VerifyRequest is a checkout callback as received from the client.
type VerifyRequest struct {
	OrderID   string
	PaymentID string
	Signature string
	UserID    string
	CourseID  string
}

// VerifyResult describes a successful verification.
type VerifyResult struct {
	Payment *models.Payment
	// Credited is true only for the call that performed the SUCCESS transition.
	Credited bool
}

// Reconcile authenticates a callback, confirms capture with the gateway and credits
// the payment record at most once. Concurrent calls for the same captured payment all
// succeed; only one of them reports Credited and triggers notification.
func (s *Service) Reconcile(ctx context.Context, req VerifyRequest) (res *VerifyResult, err error) {
	start := time.Now()
	defer func() { s.observeReconcile(res, err, time.Since(start)) }()

	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" || req.UserID == "" || req.CourseID == "" {
		return nil, ValidationError("order id, payment id, signature, user id and course id are required")
	}
	log := s.logger.With(
		zap.String("order_id", req.OrderID),
		zap.String("gateway_payment_id", req.PaymentID),
		zap.String("user_id", req.UserID))

	if !VerifySignature(s.secret, req.OrderID, req.PaymentID, req.Signature) {
		return nil, s.rejectSignature(ctx, req, log)
	}

	rec, err := s.store.GetByOrderAndUser(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, PersistenceError(err)
	}
	if rec == nil {
		return nil, NotFoundError("payment record not found")
	}
	if rec.CourseID != req.CourseID {
		log.Warn("callback course mismatch", zap.String("record_course_id", rec.CourseID), zap.String("course_id", req.CourseID))
		return nil, ValidationError("course does not match payment record")
	}
	if rec.Status == models.StatusSuccess {
		if rec.GatewayPaymentID == req.PaymentID {
			return &VerifyResult{Payment: rec}, nil
		}
		log.Warn("callback for credited record carries another payment id", zap.String("record_id", rec.ID.String()))
		return nil, DuplicateError("payment already completed with a different payment id")
	}

	if dupErr := s.checkDuplicates(ctx, rec, req, log); dupErr != nil {
		return nil, dupErr
	}

	details, err := s.gateway.FetchPayment(ctx, req.PaymentID)
	if err != nil {
		// the record stays as it is so a retry can resolve it
		log.Warn("gateway payment fetch failed", zap.Error(err))
		return nil, classifyGatewayErr(err)
	}
	if details.OrderID != "" && details.OrderID != req.OrderID {
		log.Warn("gateway payment belongs to another order", zap.String("gateway_order_id", details.OrderID))
		if err := s.store.MarkFailed(ctx, rec.ID, "", descDuplicatePayment); err != nil {
			return nil, PersistenceError(err)
		}
		return nil, DuplicateError("payment id does not belong to this order")
	}

	if !details.Captured() {
		status := models.GatewayMirror(details.Status)
		if status == models.StatusSuccess {
			// only a captured payment may credit the record
			log.Warn("uncaptured payment reports a success status", zap.String("gateway_status", details.Status))
			return nil, GatewayError(fmt.Errorf("unexpected gateway status %q", details.Status))
		}
		if err := s.store.MirrorStatus(ctx, rec.ID, status, req.PaymentID, "gateway status: "+details.Status); err != nil {
			return nil, PersistenceError(err)
		}
		log.Info("payment not captured", zap.String("gateway_status", details.Status))
		return nil, GatewayStatusError(details.Status)
	}

	method := strings.TrimSpace(details.Method)
	if method == "" {
		method = models.DefaultPaymentMethod
	}
	credited, err := s.store.MarkSuccess(ctx, rec.ID, req.PaymentID, method, "payment captured for course "+rec.CourseID)
	if err != nil && !errors.Is(err, ErrUniqueViolation) {
		return nil, PersistenceError(err)
	}
	if !credited {
		return s.resolveLostRace(ctx, rec, req, log)
	}

	rec.Status = models.StatusSuccess
	rec.GatewayPaymentID = req.PaymentID
	rec.Method = method
	log.Info("payment credited", zap.String("record_id", rec.ID.String()), zap.String("method", method))

	if s.notifier != nil {
		if err := s.notifier.PaymentSucceeded(ctx, rec); err != nil {
			log.Warn("payment success notification failed", zap.Error(err))
		}
	}
	return &VerifyResult{Payment: rec, Credited: true}, nil
}

// rejectSignature fails the caller's record, if any, without storing the unauthenticated payment id.
func (s *Service) rejectSignature(ctx context.Context, req VerifyRequest, log *zap.Logger) error {
	log.Warn("invalid payment signature")
	rec, err := s.store.GetByOrderAndUser(ctx, req.OrderID, req.UserID)
	if err != nil {
		log.Error("lookup after invalid signature failed", zap.Error(err))
		return AuthenticationError("invalid payment signature")
	}
	if rec != nil {
		if err := s.store.MarkFailed(ctx, rec.ID, "", descInvalidSignature); err != nil {
			log.Error("mark failed after invalid signature", zap.Error(err))
		}
	}
	return AuthenticationError("invalid payment signature")
}

// checkDuplicates rejects a callback against a record that is not the first one created
// for its order id, or whose payment id already credited another record.
func (s *Service) checkDuplicates(ctx context.Context, rec *models.Payment, req VerifyRequest, log *zap.Logger) error {
	other, err := s.store.FirstByOrderID(ctx, req.OrderID)
	if err != nil {
		return PersistenceError(err)
	}
	if other != nil && other.ID == rec.ID {
		other = nil
	}
	if other == nil {
		other, err = s.store.FindSuccessByPaymentID(ctx, req.PaymentID)
		if err != nil {
			return PersistenceError(err)
		}
		if other != nil && other.ID == rec.ID {
			other = nil
		}
	}
	if other == nil {
		return nil
	}
	log.Warn("duplicate payment detected",
		zap.String("record_id", rec.ID.String()),
		zap.String("other_record_id", other.ID.String()))
	if err := s.store.MarkFailed(ctx, rec.ID, req.PaymentID, descDuplicatePayment); err != nil {
		return PersistenceError(err)
	}
	return DuplicateError("duplicate payment id detected")
}

// resolveLostRace handles a MarkSuccess that changed nothing: either a concurrent call
// credited the same payment, or the order or payment id is already credited elsewhere.
func (s *Service) resolveLostRace(ctx context.Context, rec *models.Payment, req VerifyRequest, log *zap.Logger) (*VerifyResult, error) {
	cur, err := s.store.GetByID(ctx, rec.ID)
	if err != nil {
		return nil, PersistenceError(err)
	}
	if cur != nil && cur.Status == models.StatusSuccess && cur.GatewayPaymentID == req.PaymentID {
		log.Info("payment already credited by a concurrent request", zap.String("record_id", rec.ID.String()))
		return &VerifyResult{Payment: cur}, nil
	}
	log.Warn("credit rejected, order or payment id already credited", zap.String("record_id", rec.ID.String()))
	if cur != nil && cur.Status != models.StatusSuccess {
		if err := s.store.MarkFailed(ctx, rec.ID, req.PaymentID, descDuplicatePayment); err != nil {
			return nil, PersistenceError(err)
		}
	}
	return nil, DuplicateError("payment already credited")
}

func (s *Service) observeReconcile(res *VerifyResult, err error, elapsed time.Duration) {
	if s.observer == nil {
		return
	}
	outcome := outcomeOf(err)
	if err == nil {
		outcome = "already_credited"
		if res != nil && res.Credited {
			outcome = "credited"
		}
	}
	s.observer.ObserveReconcile(outcome, elapsed)
}
