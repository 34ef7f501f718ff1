// Package worker runs the post-payment jobs: confirmation emails and receipt archival.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursemart/backend/internal/models"
	"github.com/coursemart/backend/pkg/mailer"
	"github.com/coursemart/backend/pkg/queue"
	"github.com/coursemart/backend/pkg/receipt"
	"github.com/coursemart/backend/pkg/storage"
)

// RetryBackoff is the pause after a failed job or dequeue error.
const RetryBackoff = 2 * time.Second

// Job results reported to the Observer.
const (
	ResultOK      = "ok"
	ResultRetry   = "retry"
	ResultDead    = "dead"
	ResultDropped = "dropped"
)

// JobSource is the queue the processor drains. *queue.Queue implements it.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) (dead bool, err error)
}

// PaymentStore is the slice of the payment store the jobs need.
type PaymentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	SetReceiptKey(ctx context.Context, id uuid.UUID, key string) error
}

// ContactReader resolves a user's email. *users.Repository implements it.
type ContactReader interface {
	GetContact(ctx context.Context, userID string) (*models.UserContact, error)
}

// EmailLogStore records deliveries. *emaillogs.Repository implements it.
type EmailLogStore interface {
	Create(ctx context.Context, el *models.EmailLog) error
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	HasSent(ctx context.Context, paymentID uuid.UUID, emailType string) (bool, error)
}

// Mailer sends one message. *mailer.SMTP implements it.
type Mailer interface {
	Send(msg mailer.Message) error
}

// ReceiptStore archives rendered receipts. *storage.S3 implements it.
type ReceiptStore interface {
	UploadReceipt(ctx context.Context, key string, body []byte) error
}

// Observer records job outcomes. *metrics.PaymentMetrics implements it.
type Observer interface {
	ObserveJob(jobType, result string)
}

// Deps groups the processor's collaborators. Receipts may be nil when no bucket is configured.
type Deps struct {
	Jobs     JobSource
	Payments PaymentStore
	Contacts ContactReader
	Logs     EmailLogStore
	Mailer   Mailer
	Receipts ReceiptStore
	Observer Observer
	Merchant string
}

// Processor executes payment jobs.
type Processor struct {
	Deps
	backoff time.Duration
	logger  *zap.Logger
}

// NewProcessor creates a job processor.
func NewProcessor(deps Deps, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Merchant == "" {
		deps.Merchant = "Course Market"
	}
	return &Processor{Deps: deps, backoff: RetryBackoff, logger: logger}
}

// permanentError marks a job that cannot succeed on retry.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(format string, args ...interface{}) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err should skip the retry queue.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypePurchaseEmail:
		var payload queue.PurchaseEmailPayload
		if err := job.Decode(&payload); err != nil {
			return &permanentError{err: err}
		}
		return p.sendPurchaseEmail(ctx, payload)
	case queue.JobTypeReceiptArchive:
		var payload queue.ReceiptArchivePayload
		if err := job.Decode(&payload); err != nil {
			return &permanentError{err: err}
		}
		return p.archiveReceipt(ctx, payload)
	}
	return permanent("unknown job type: %s", job.Type)
}

// Run drains the queue until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("payments worker stopping")
			return
		default:
		}

		job, err := p.Jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, job)
	}
}

func (p *Processor) handle(ctx context.Context, job *queue.Job) {
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
	log.Debug("processing job")

	err := p.Process(ctx, job)
	switch {
	case err == nil:
		p.observe(job.Type, ResultOK)
		return
	case IsPermanent(err):
		log.Error("job dropped", zap.Error(err))
		p.observe(job.Type, ResultDropped)
		return
	}

	log.Warn("job failed", zap.Error(err))
	dead, reErr := p.Jobs.Retry(context.WithoutCancel(ctx), job, err)
	if reErr != nil {
		log.Error("retry enqueue failed", zap.Error(reErr))
	}
	if dead {
		p.observe(job.Type, ResultDead)
	} else {
		p.observe(job.Type, ResultRetry)
	}
	p.sleep(ctx)
}

func (p *Processor) observe(typ queue.JobType, result string) {
	if p.Observer != nil {
		p.Observer.ObserveJob(string(typ), result)
	}
}

func (p *Processor) sleep(ctx context.Context) {
	if p.backoff <= 0 {
		return
	}
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// creditedPayment loads a payment and requires it to be SUCCESS.
func (p *Processor) creditedPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	pay, err := p.Payments.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", id, err)
	}
	if pay == nil {
		return nil, permanent("payment not found: %s", id)
	}
	if pay.Status != models.StatusSuccess {
		return nil, permanent("payment %s is %s", id, pay.Status)
	}
	return pay, nil
}

func (p *Processor) receiptData(pay *models.Payment) receipt.Data {
	method := pay.Method
	if method == "" {
		method = models.DefaultPaymentMethod
	}
	return receipt.Data{
		ReceiptID:        pay.ReceiptID,
		PaymentID:        pay.ID.String(),
		GatewayOrderID:   pay.GatewayOrderID,
		GatewayPaymentID: pay.GatewayPaymentID,
		CourseID:         pay.CourseID,
		UserID:           pay.UserID,
		AmountMinor:      pay.AmountMinor,
		Currency:         pay.Currency,
		Method:           method,
		PaidAt:           pay.UpdatedAt,
		Merchant:         p.Merchant,
	}
}

func (p *Processor) archiveReceipt(ctx context.Context, payload queue.ReceiptArchivePayload) error {
	if p.Receipts == nil {
		return permanent("receipt storage not configured")
	}
	pay, err := p.creditedPayment(ctx, payload.PaymentID)
	if err != nil {
		return err
	}
	if pay.ReceiptKey != "" {
		p.logger.Info("receipt already archived", zap.String("payment_id", pay.ID.String()))
		return nil
	}

	body, err := receipt.RenderPDF(p.receiptData(pay))
	if err != nil {
		return &permanentError{err: err}
	}
	key := storage.ReceiptKey(pay.UserID, pay.ID.String())
	if err := p.Receipts.UploadReceipt(ctx, key, body); err != nil {
		return err
	}
	if err := p.Payments.SetReceiptKey(ctx, pay.ID, key); err != nil {
		return fmt.Errorf("save receipt key: %w", err)
	}
	p.logger.Info("receipt archived", zap.String("payment_id", pay.ID.String()), zap.String("key", key))
	return nil
}
