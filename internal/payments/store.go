package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/coursemart/backend/internal/models"
)

// Store persists payment records. Lookups return (nil, nil) when no row matches.
// Every mutating method is a single-row conditional update that never touches
// a SUCCESS row.
type Store interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByOrderAndUser(ctx context.Context, orderID, userID string) (*models.Payment, error)
	// FirstByOrderID returns the earliest record created for orderID, regardless of user.
	FirstByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	// FindSuccessByPaymentID returns the SUCCESS record carrying paymentID, if any.
	FindSuccessByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error)

	// MarkFailed moves a non-SUCCESS record to FAILED. An empty paymentID keeps the stored one.
	MarkFailed(ctx context.Context, id uuid.UUID, paymentID, description string) error
	// MirrorStatus records a non-captured gateway status.
	MirrorStatus(ctx context.Context, id uuid.UUID, status models.PaymentStatus, paymentID, description string) error
	// MarkSuccess credits the record. credited is false when another writer got there
	// first or the order already has a SUCCESS record.
	MarkSuccess(ctx context.Context, id uuid.UUID, paymentID, method, description string) (credited bool, err error)

	HasSuccessfulEnrollment(ctx context.Context, userID, courseID string) (bool, error)
	ListEnrolledCourseIDs(ctx context.Context, userID string) ([]string, error)
	SetReceiptKey(ctx context.Context, id uuid.UUID, key string) error
}
