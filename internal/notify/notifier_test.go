package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursemart/backend/internal/models"
	"github.com/coursemart/backend/pkg/events"
	"github.com/coursemart/backend/pkg/queue"
)

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	events []events.PaymentEvent
}

func (f *fakePublisher) Publish(_ context.Context, ev events.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

type fakeJobs struct {
	ctxErrs  []error
	emailErr error
	emails   []queue.PurchaseEmailPayload
	archives []queue.ReceiptArchivePayload
}

func (f *fakeJobs) EnqueuePurchaseEmail(ctx context.Context, p queue.PurchaseEmailPayload) error {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.emails = append(f.emails, p)
	return f.emailErr
}

func (f *fakeJobs) EnqueueReceiptArchive(ctx context.Context, p queue.ReceiptArchivePayload) error {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.archives = append(f.archives, p)
	return nil
}

func successPayment() *models.Payment {
	return &models.Payment{
		ID:               uuid.New(),
		UserID:           "u1",
		CourseID:         "c1",
		AmountMinor:      49900,
		Currency:         models.CurrencyINR,
		GatewayOrderID:   "order_abc",
		GatewayPaymentID: "pay_1",
		Status:           models.StatusSuccess,
		Method:           "card",
	}
}

func TestPaymentSucceeded(t *testing.T) {
	pub := &fakePublisher{}
	jobs := &fakeJobs{}
	n := New(pub, jobs, nil)
	p := successPayment()

	require.NoError(t, n.PaymentSucceeded(context.Background(), p))
	n.Wait()

	require.Len(t, jobs.emails, 1)
	assert.Equal(t, p.ID, jobs.emails[0].PaymentID)
	assert.Equal(t, int64(49900), jobs.emails[0].AmountMinor)
	require.Len(t, jobs.archives, 1)
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.TypePaymentVerified, pub.events[0].Type)
	assert.Equal(t, "SUCCESS", pub.events[0].Status)
	assert.Equal(t, "pay_1", pub.events[0].GatewayPaymentID)
}

func TestPaymentSucceededReportsQueueErrors(t *testing.T) {
	jobs := &fakeJobs{emailErr: errors.New("redis down")}
	pub := &fakePublisher{}
	n := New(pub, jobs, nil)

	err := n.PaymentSucceeded(context.Background(), successPayment())
	n.Wait()
	assert.ErrorContains(t, err, "redis down")
	// the archive job and the event still go out
	assert.Len(t, jobs.archives, 1)
	assert.Len(t, pub.events, 1)
}

func TestPaymentInitiatedIgnoresBrokerFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no brokers")}
	n := New(pub, nil, nil)

	p := successPayment()
	p.Status = models.StatusPending
	assert.NoError(t, n.PaymentInitiated(context.Background(), p))
	n.Wait()
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.TypePaymentInitiated, pub.events[0].Type)
}

func TestPublishOutlivesRequestContext(t *testing.T) {
	pub := &fakePublisher{}
	n := New(pub, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, n.PaymentInitiated(ctx, successPayment()))
	n.Wait()
	assert.Len(t, pub.events, 1)
}

func TestEnqueueOutlivesRequestContext(t *testing.T) {
	jobs := &fakeJobs{}
	n := New(nil, jobs, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, n.PaymentSucceeded(ctx, successPayment()))
	n.Wait()
	assert.Len(t, jobs.emails, 1)
	assert.Len(t, jobs.archives, 1)
	assert.Equal(t, []error{nil, nil}, jobs.ctxErrs)
}

func TestNilDependencies(t *testing.T) {
	n := New(nil, nil, nil)
	assert.NoError(t, n.PaymentSucceeded(context.Background(), successPayment()))
	n.Wait()
}
