package payments

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursemart/backend/internal/middleware"
	"github.com/coursemart/backend/pkg/response"
)

// Presigner issues time-limited download URLs for archived receipts.
type Presigner interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// CreateOrderRequest is the body for POST /payments/orders.
type CreateOrderRequest struct {
	Amount   float64 `json:"amount" binding:"required"`
	UserID   string  `json:"userId" binding:"required"`
	CourseID string  `json:"courseId" binding:"required"`
}

// VerifyPaymentRequest is the body for POST /api/payment/verify, as posted by checkout.js.
type VerifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id" binding:"required"`
	PaymentID string `json:"razorpay_payment_id" binding:"required"`
	Signature string `json:"razorpay_signature" binding:"required"`
	UserID    string `json:"userId" binding:"required"`
	CourseID  string `json:"courseId" binding:"required"`
}

// Handler serves the payment endpoints.
type Handler struct {
	svc       *Service
	presigner Presigner
	logger    *zap.Logger
}

// NewHandler creates a payments handler. presigner may be nil when receipts are not archived.
func NewHandler(svc *Service, presigner Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, presigner: presigner, logger: logger}
}

// CreateOrder handles POST /payments/orders.
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.UserID != middleware.UserID(c) {
		response.Forbidden(c, "cannot create an order for another user")
		return
	}
	res, err := h.svc.InitiateOrder(c.Request.Context(), InitiateRequest{
		Amount:   req.Amount,
		UserID:   req.UserID,
		CourseID: req.CourseID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, res)
}

// Verify handles POST /api/payment/verify. It is public; the signature authenticates the caller.
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "missing required fields")
		return
	}
	_, err := h.svc.Reconcile(c.Request.Context(), VerifyRequest{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
		UserID:    req.UserID,
		CourseID:  req.CourseID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c)
}

// Enrollment handles GET /courses/:courseId/enrollment for the authenticated user.
func (h *Handler) Enrollment(c *gin.Context) {
	ok, err := h.svc.HasEnrollment(c.Request.Context(), middleware.UserID(c), c.Param("courseId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"enrolled": ok})
}

// MyEnrollments handles GET /me/enrollments.
func (h *Handler) MyEnrollments(c *gin.Context) {
	ids, err := h.svc.EnrolledCourses(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"course_ids": ids})
}

// ReceiptURL handles GET /payments/:id/receipt-url. Only the payer may download.
func (h *Handler) ReceiptURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	if h.presigner == nil {
		response.ServiceUnavailable(c, "receipt storage not configured")
		return
	}
	key, err := h.svc.ReceiptKey(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) && pe.Kind == KindNotFound {
			response.NotFound(c, pe.Message)
			return
		}
		h.writeError(c, err)
		return
	}
	url, err := h.presigner.PresignDownload(c.Request.Context(), key)
	if err != nil {
		h.logger.Error("presign receipt failed", zap.String("payment_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"url": url})
}

// GetPayment handles GET /admin/payments/:id.
func (h *Handler) GetPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	p, err := h.svc.GetPayment(c.Request.Context(), id)
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) && pe.Kind == KindNotFound {
			response.NotFound(c, pe.Message)
			return
		}
		h.writeError(c, err)
		return
	}
	response.OK(c, p)
}

// writeError maps a payment error onto the response envelope.
func (h *Handler) writeError(c *gin.Context, err error) {
	var pe *Error
	if !errors.As(err, &pe) {
		h.logger.Error("unexpected payment error", zap.String("path", c.FullPath()), zap.Error(err))
		response.Internal(c, "internal server error")
		return
	}
	switch pe.Kind {
	case KindValidation, KindAuthentication, KindNotFound, KindDuplicate, KindGatewayStatus:
		response.BadRequest(c, pe.Message)
	case KindForbidden:
		response.Forbidden(c, pe.Message)
	case KindNetwork:
		response.ServiceUnavailable(c, pe.Message)
	case KindGateway:
		response.BadGateway(c, pe.Message)
	default:
		h.logger.Error("payment request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.Internal(c, "internal server error")
	}
}
