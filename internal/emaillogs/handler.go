package emaillogs

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursemart/backend/internal/models"
	"github.com/coursemart/backend/internal/payments"
	"github.com/coursemart/backend/pkg/queue"
	"github.com/coursemart/backend/pkg/response"
)

// LogLister lists delivery logs. *Repository implements it.
type LogLister interface {
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*models.EmailLog, error)
}

// PaymentGetter loads a payment. *payments.Service implements it.
type PaymentGetter interface {
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
}

// EmailEnqueuer queues a confirmation email. *queue.Queue implements it.
type EmailEnqueuer interface {
	EnqueuePurchaseEmail(ctx context.Context, payload queue.PurchaseEmailPayload) error
}

// Handler handles email log HTTP endpoints.
type Handler struct {
	logs     LogLister
	payments PaymentGetter
	jobs     EmailEnqueuer
	logger   *zap.Logger
}

// NewHandler creates an email logs handler. jobs may be nil; Resend then reports 503.
func NewHandler(logs LogLister, payments PaymentGetter, jobs EmailEnqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logs: logs, payments: payments, jobs: jobs, logger: logger}
}

// ListByPayment handles GET /admin/payments/:id/emails.
func (h *Handler) ListByPayment(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	logs, err := h.logs.ListByPayment(c.Request.Context(), paymentID)
	if err != nil {
		h.logger.Error("list email logs failed", zap.String("payment_id", paymentID.String()), zap.Error(err))
		response.Internal(c, "failed to load email logs")
		return
	}
	if logs == nil {
		logs = []*models.EmailLog{}
	}
	response.OK(c, logs)
}

// Resend handles POST /admin/payments/:id/emails/resend. Only credited payments get a confirmation.
func (h *Handler) Resend(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	if h.jobs == nil {
		response.ServiceUnavailable(c, "email queue not configured")
		return
	}
	p, err := h.payments.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		var pe *payments.Error
		if errors.As(err, &pe) && pe.Kind == payments.KindNotFound {
			response.NotFound(c, "payment not found")
			return
		}
		response.Internal(c, "failed to load payment")
		return
	}
	if p.Status != models.StatusSuccess {
		response.BadRequest(c, "payment is not completed")
		return
	}
	if err := h.jobs.EnqueuePurchaseEmail(c.Request.Context(), queue.PurchaseEmailPayload{
		PaymentID:   p.ID,
		UserID:      p.UserID,
		CourseID:    p.CourseID,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		Resend:      true,
	}); err != nil {
		h.logger.Error("enqueue resend failed", zap.String("payment_id", paymentID.String()), zap.Error(err))
		response.Internal(c, "failed to queue email")
		return
	}
	response.OK(c, gin.H{"message": "resend queued"})
}
