// Package notify fans payment lifecycle changes out to Kafka and the job queue.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coursemart/backend/internal/models"
	"github.com/coursemart/backend/pkg/events"
	"github.com/coursemart/backend/pkg/queue"
)

// EventPublisher publishes payment events. *events.Producer implements it.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.PaymentEvent) error
}

// JobQueue accepts post-payment jobs. *queue.Queue implements it.
type JobQueue interface {
	EnqueuePurchaseEmail(ctx context.Context, payload queue.PurchaseEmailPayload) error
	EnqueueReceiptArchive(ctx context.Context, payload queue.ReceiptArchivePayload) error
}

// Notifier enqueues follow-up jobs synchronously and publishes events in the
// background so a slow broker never delays the HTTP response.
type Notifier struct {
	events EventPublisher
	jobs   JobQueue
	logger *zap.Logger
	wg     sync.WaitGroup
	now    func() time.Time
}

// New creates a notifier. Either dependency may be nil to disable it.
func New(publisher EventPublisher, jobs JobQueue, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{events: publisher, jobs: jobs, logger: logger, now: time.Now}
}

// PaymentInitiated publishes payment.initiated.
func (n *Notifier) PaymentInitiated(ctx context.Context, p *models.Payment) error {
	n.publish(ctx, n.event(events.TypePaymentInitiated, p))
	return nil
}

// PaymentSucceeded queues the confirmation email and receipt archive, then publishes payment.verified.
func (n *Notifier) PaymentSucceeded(ctx context.Context, p *models.Payment) error {
	var errs []error
	if n.jobs != nil {
		// the credit is committed; the jobs must not die with the request
		jobCtx := context.WithoutCancel(ctx)
		if err := n.jobs.EnqueuePurchaseEmail(jobCtx, queue.PurchaseEmailPayload{
			PaymentID:   p.ID,
			UserID:      p.UserID,
			CourseID:    p.CourseID,
			AmountMinor: p.AmountMinor,
			Currency:    p.Currency,
		}); err != nil {
			errs = append(errs, err)
		}
		if err := n.jobs.EnqueueReceiptArchive(jobCtx, queue.ReceiptArchivePayload{PaymentID: p.ID}); err != nil {
			errs = append(errs, err)
		}
	}
	n.publish(ctx, n.event(events.TypePaymentVerified, p))
	return errors.Join(errs...)
}

// Wait blocks until in-flight publishes finish. Call on shutdown.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) publish(ctx context.Context, ev events.PaymentEvent) {
	if n.events == nil {
		return
	}
	// the request context ends with the response
	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.events.Publish(ctx, ev); err != nil {
			n.logger.Warn("payment event dropped",
				zap.String("type", ev.Type),
				zap.String("order_id", ev.GatewayOrderID),
				zap.Error(err))
		}
	}()
}

func (n *Notifier) event(typ string, p *models.Payment) events.PaymentEvent {
	return events.PaymentEvent{
		Type:             typ,
		PaymentID:        p.ID.String(),
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		UserID:           p.UserID,
		CourseID:         p.CourseID,
		AmountMinor:      p.AmountMinor,
		Currency:         p.Currency,
		Status:           p.Status.String(),
		Method:           p.Method,
		OccurredAt:       n.now().UTC(),
	}
}
