package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursemart/backend/internal/gateway"
	"github.com/coursemart/backend/internal/models"
)

func pendingRecord(store *memStore, orderID, userID, courseID string) *models.Payment {
	return store.insert(models.Payment{
		UserID:         userID,
		CourseID:       courseID,
		Amount:         499,
		AmountMinor:    49900,
		Currency:       models.CurrencyINR,
		GatewayOrderID: orderID,
	})
}

func validRequest(orderID, paymentID, userID, courseID string) VerifyRequest {
	return VerifyRequest{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: Sign(testSecret, orderID, paymentID),
		UserID:    userID,
		CourseID:  courseID,
	}
}

func TestReconcileInitiateThenCapture(t *testing.T) {
	store := newMemStore()
	gw := capturedGateway("order_abc", "card")
	notifier := &fakeNotifier{}
	svc := newTestService(store, gw, notifier)
	ctx := context.Background()

	order, err := svc.InitiateOrder(ctx, InitiateRequest{Amount: 499.00, UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)

	res, err := svc.Reconcile(ctx, validRequest(order.OrderID, "pay_1", "u1", "c1"))
	require.NoError(t, err)
	assert.True(t, res.Credited)

	rec, _ := store.GetByOrderAndUser(ctx, "order_abc", "u1")
	assert.Equal(t, models.StatusSuccess, rec.Status)
	assert.Equal(t, "card", rec.Method)
	assert.Equal(t, "pay_1", rec.GatewayPaymentID)
	assert.Equal(t, int64(49900), rec.AmountMinor)
	assert.Equal(t, 1, notifier.successes())

	ok, err := svc.HasEnrollment(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReconcileMissingMethodDefaultsToUnknown(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord(store, "order_m", "u1", "c1")
	svc := newTestService(store, capturedGateway("order_m", ""), nil)

	_, err := svc.Reconcile(context.Background(), validRequest("order_m", "pay_m", "u1", "c1"))
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPaymentMethod, store.get(rec.ID).Method)
}

func TestReconcileHashInsteadOfHMACIsRejected(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord(store, "order_abc", "u1", "c1")
	gw := capturedGateway("order_abc", "card")
	svc := newTestService(store, gw, nil)

	sum := sha256.Sum256([]byte("order_abc|pay_1"))
	req := validRequest("order_abc", "pay_1", "u1", "c1")
	req.Signature = hex.EncodeToString(sum[:])

	_, err := svc.Reconcile(context.Background(), req)
	assert.Equal(t, KindAuthentication, KindOf(err))

	got := store.get(rec.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, descInvalidSignature, got.Description)
	assert.Empty(t, got.GatewayPaymentID)
	assert.Zero(t, gw.fetches())
}

func TestReconcileInvalidSignatureWithoutRecord(t *testing.T) {
	gw := capturedGateway("order_none", "card")
	svc := newTestService(newMemStore(), gw, nil)

	req := validRequest("order_none", "pay_1", "u1", "c1")
	req.Signature = "deadbeef"
	_, err := svc.Reconcile(context.Background(), req)
	assert.Equal(t, KindAuthentication, KindOf(err))
	assert.Zero(t, gw.fetches())
}

func TestReconcileNeverFetchesOnBadSignature(t *testing.T) {
	store := newMemStore()
	pendingRecord(store, "order_abc", "u1", "c1")
	gw := capturedGateway("order_abc", "card")
	svc := newTestService(store, gw, nil)

	good := Sign(testSecret, "order_abc", "pay_1")
	for i := range good {
		flipped := []byte(good)
		if flipped[i] == '0' {
			flipped[i] = '1'
		} else {
			flipped[i] = '0'
		}
		req := validRequest("order_abc", "pay_1", "u1", "c1")
		req.Signature = string(flipped)
		_, err := svc.Reconcile(context.Background(), req)
		require.Equal(t, KindAuthentication, KindOf(err), "position %d", i)
	}
	assert.Zero(t, gw.fetches())
}

func TestReconcileNotCapturedMirrorsStatus(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord(store, "order_abc", "u1", "c1")
	status := "authorized"
	gw := capturedGateway("order_abc", "card")
	gw.FetchPaymentFunc = func(id string) (*gateway.PaymentDetails, error) {
		return &gateway.PaymentDetails{ID: id, OrderID: "order_abc", Status: status, Method: "card"}, nil
	}
	notifier := &fakeNotifier{}
	svc := newTestService(store, gw, notifier)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, validRequest("order_abc", "pay_1", "u1", "c1"))
	require.Error(t, err)
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindGatewayStatus, pe.Kind)
	assert.Contains(t, pe.Message, "authorized")
	assert.True(t, pe.Retryable())

	got := store.get(rec.ID)
	assert.Equal(t, "AUTHORIZED", got.Status.String())
	assert.True(t, got.Status.IsMirror())
	assert.Equal(t, "pay_1", got.GatewayPaymentID)
	assert.Equal(t, "gateway status: authorized", got.Description)
	assert.Empty(t, got.Method)

	// the gateway captures later; the same callback now succeeds
	status = gateway.StatusCaptured
	res, err := svc.Reconcile(ctx, validRequest("order_abc", "pay_1", "u1", "c1"))
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Equal(t, models.StatusSuccess, store.get(rec.ID).Status)
	assert.Equal(t, 1, notifier.successes())
}

func TestReconcileUncapturedSuccessStatusIsGatewayError(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord(store, "order_abc", "u1", "c1")
	gw := capturedGateway("order_abc", "card")
	gw.FetchPaymentFunc = func(id string) (*gateway.PaymentDetails, error) {
		return &gateway.PaymentDetails{ID: id, OrderID: "order_abc", Status: "success", Method: "card"}, nil
	}
	notifier := &fakeNotifier{}
	svc := newTestService(store, gw, notifier)

	_, err := svc.Reconcile(context.Background(), validRequest("order_abc", "pay_1", "u1", "c1"))
	require.Error(t, err)
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindGateway, pe.Kind)

	got := store.get(rec.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, got.GatewayPaymentID)
	assert.Zero(t, notifier.successes())
}

func TestReconcileConcurrentCallbacksCreditOnce(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord(store, "order_abc", "u1", "c1")
	notifier := &fakeNotifier{}
	svc := newTestService(store, capturedGateway("order_abc", "card"), notifier)

	const n = 25
	var wg sync.WaitGroup
	errs := make([]error, n)
	credited := make([]bool, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := svc.Reconcile(context.Background(), validRequest("order_abc", "pay_1", "u1", "c1"))
			errs[i] = err
			if res != nil {
				credited[i] = res.Credited
			}
		}(i)
	}
	close(start)
	wg.Wait()

	creditedCount := 0
	for i := 0; i < n; i++ {
		assert.NoError(t, errs[i])
		if credited[i] {
			creditedCount++
		}
	}
	assert.Equal(t, 1, creditedCount)
	assert.Equal(t, 1, store.credits)
	assert.Equal(t, 1, notifier.successes())
	assert.Equal(t, models.StatusSuccess, store.get(rec.ID).Status)
}

func TestReconcileLostRaceReturnsSuccess(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord(store, "order_abc", "u1", "c1")
	notifier := &fakeNotifier{}
	svc := newTestService(store, capturedGateway("order_abc", "card"), notifier)

	// another request credits the record between our checks and our write
	store.beforeMarkSuccess = func() {
		store.beforeMarkSuccess = nil
		_, _ = store.MarkSuccess(context.Background(), rec.ID, "pay_1", "card", "concurrent")
	}

	res, err := svc.Reconcile(context.Background(), validRequest("order_abc", "pay_1", "u1", "c1"))
	require.NoError(t, err)
	assert.False(t, res.Credited)
	assert.Zero(t, notifier.successes())
	assert.Equal(t, 1, store.credits)
}

func TestReconcileSuccessIsMonotonic(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord(store, "order_abc", "u1", "c1")
	gw := capturedGateway("order_abc", "card")
	notifier := &fakeNotifier{}
	svc := newTestService(store, gw, notifier)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, validRequest("order_abc", "pay_1", "u1", "c1"))
	require.NoError(t, err)
	before := store.get(rec.ID)
	fetches := gw.fetches()

	bad := validRequest("order_abc", "pay_1", "u1", "c1")
	bad.Signature = Sign("wrong", "order_abc", "pay_1")
	_, err = svc.Reconcile(ctx, bad)
	assert.Equal(t, KindAuthentication, KindOf(err))

	_, err = svc.Reconcile(ctx, validRequest("order_abc", "pay_2", "u1", "c1"))
	assert.Equal(t, KindDuplicate, KindOf(err))

	res, err := svc.Reconcile(ctx, validRequest("order_abc", "pay_1", "u1", "c1"))
	require.NoError(t, err)
	assert.False(t, res.Credited)

	after := store.get(rec.ID)
	assert.Equal(t, models.StatusSuccess, after.Status)
	assert.Equal(t, before.GatewayPaymentID, after.GatewayPaymentID)
	assert.Equal(t, before.Method, after.Method)
	assert.Equal(t, fetches, gw.fetches())
	assert.Equal(t, 1, notifier.successes())
}

func TestReconcileSharedOrderIDRejectsLaterRecord(t *testing.T) {
	store := newMemStore()
	first := pendingRecord(store, "order_dup", "u1", "c1")
	second := pendingRecord(store, "order_dup", "u2", "c1")
	gw := capturedGateway("order_dup", "card")
	svc := newTestService(store, gw, nil)

	_, err := svc.Reconcile(context.Background(), validRequest("order_dup", "pay_9", "u2", "c1"))
	assert.Equal(t, KindDuplicate, KindOf(err))

	got := store.get(second.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, descDuplicatePayment, got.Description)
	assert.Zero(t, gw.fetches())

	res, err := svc.Reconcile(context.Background(), validRequest("order_dup", "pay_9", "u1", "c1"))
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Equal(t, models.StatusSuccess, store.get(first.ID).Status)
	assert.Equal(t, models.StatusFailed, store.get(second.ID).Status)
}

func TestReconcileFirstRecordOnSharedOrderCredits(t *testing.T) {
	store := newMemStore()
	first := pendingRecord(store, "order_dup", "u1", "c1")
	pendingRecord(store, "order_dup", "u2", "c1")
	svc := newTestService(store, capturedGateway("order_dup", "upi"), nil)

	res, err := svc.Reconcile(context.Background(), validRequest("order_dup", "pay_1", "u1", "c1"))
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Equal(t, models.StatusSuccess, store.get(first.ID).Status)
}

func TestReconcilePaymentIDCreditedOnAnotherOrder(t *testing.T) {
	store := newMemStore()
	store.insert(models.Payment{UserID: "u1", CourseID: "c1", GatewayOrderID: "order_a",
		GatewayPaymentID: "pay_1", Status: models.StatusSuccess, Method: "card"})
	replay := pendingRecord(store, "order_b", "u1", "c2")
	gw := capturedGateway("order_b", "card")
	notifier := &fakeNotifier{}
	svc := newTestService(store, gw, notifier)

	_, err := svc.Reconcile(context.Background(), validRequest("order_b", "pay_1", "u1", "c2"))
	assert.Equal(t, KindDuplicate, KindOf(err))
	assert.Equal(t, models.StatusFailed, store.get(replay.ID).Status)
	assert.Zero(t, gw.fetches())
	assert.Zero(t, notifier.successes())
}

func TestReconcileUniqueViolationIsDuplicate(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord(store, "order_b", "u1", "c2")
	svc := newTestService(store, capturedGateway("order_b", "card"), nil)

	// the payment id gets credited elsewhere after the duplicate checks ran
	store.beforeMarkSuccess = func() {
		store.insert(models.Payment{UserID: "u9", CourseID: "c9", GatewayOrderID: "order_z",
			GatewayPaymentID: "pay_1", Status: models.StatusSuccess})
	}

	_, err := svc.Reconcile(context.Background(), validRequest("order_b", "pay_1", "u1", "c2"))
	assert.Equal(t, KindDuplicate, KindOf(err))
	assert.Equal(t, models.StatusFailed, store.get(rec.ID).Status)
}

func TestReconcileGatewayFailuresLeaveRecordPending(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"timeout", gateway.ErrNetwork, KindNetwork},
		{"bad response", gateway.ErrGateway, KindGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			rec := pendingRecord(store, "order_abc", "u1", "c1")
			gw := capturedGateway("order_abc", "card")
			gw.FetchPaymentFunc = func(string) (*gateway.PaymentDetails, error) { return nil, tt.err }
			svc := newTestService(store, gw, nil)

			_, err := svc.Reconcile(context.Background(), validRequest("order_abc", "pay_1", "u1", "c1"))
			assert.Equal(t, tt.kind, KindOf(err))

			got := store.get(rec.ID)
			assert.Equal(t, models.StatusPending, got.Status)
			assert.Empty(t, got.GatewayPaymentID)
		})
	}
}

func TestReconcileValidation(t *testing.T) {
	store := newMemStore()
	gw := capturedGateway("order_abc", "card")
	svc := newTestService(store, gw, nil)
	full := validRequest("order_abc", "pay_1", "u1", "c1")

	clear := []func(*VerifyRequest){
		func(r *VerifyRequest) { r.OrderID = "" },
		func(r *VerifyRequest) { r.PaymentID = "" },
		func(r *VerifyRequest) { r.Signature = "" },
		func(r *VerifyRequest) { r.UserID = "" },
		func(r *VerifyRequest) { r.CourseID = "" },
	}
	for _, f := range clear {
		req := full
		f(&req)
		_, err := svc.Reconcile(context.Background(), req)
		assert.Equal(t, KindValidation, KindOf(err))
	}
	assert.Zero(t, gw.fetches())
}

func TestReconcileUnknownRecord(t *testing.T) {
	gw := capturedGateway("order_abc", "card")
	svc := newTestService(newMemStore(), gw, nil)

	_, err := svc.Reconcile(context.Background(), validRequest("order_abc", "pay_1", "u1", "c1"))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Zero(t, gw.fetches())
}

func TestReconcileOtherUsersRecordIsNotFound(t *testing.T) {
	store := newMemStore()
	pendingRecord(store, "order_abc", "owner", "c1")
	svc := newTestService(store, capturedGateway("order_abc", "card"), nil)

	_, err := svc.Reconcile(context.Background(), validRequest("order_abc", "pay_1", "intruder", "c1"))
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestReconcileCourseMismatch(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord(store, "order_abc", "u1", "c1")
	gw := capturedGateway("order_abc", "card")
	svc := newTestService(store, gw, nil)

	_, err := svc.Reconcile(context.Background(), validRequest("order_abc", "pay_1", "u1", "other_course"))
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, models.StatusPending, store.get(rec.ID).Status)
	assert.Zero(t, gw.fetches())
}

func TestReconcilePersistenceErrors(t *testing.T) {
	store := newMemStore()
	pendingRecord(store, "order_abc", "u1", "c1")
	store.GetErr = errors.New("pool closed")
	svc := newTestService(store, capturedGateway("order_abc", "card"), nil)

	_, err := svc.Reconcile(context.Background(), validRequest("order_abc", "pay_1", "u1", "c1"))
	assert.Equal(t, KindPersistence, KindOf(err))
}

func TestReconcileNotifierFailureStillSucceeds(t *testing.T) {
	store := newMemStore()
	pendingRecord(store, "order_abc", "u1", "c1")
	svc := newTestService(store, capturedGateway("order_abc", "card"), &fakeNotifier{Err: errors.New("redis down")})

	res, err := svc.Reconcile(context.Background(), validRequest("order_abc", "pay_1", "u1", "c1"))
	require.NoError(t, err)
	assert.True(t, res.Credited)
}

func TestReconcileObserved(t *testing.T) {
	store := newMemStore()
	pendingRecord(store, "order_abc", "u1", "c1")
	obs := &fakeObserver{}
	svc := newTestService(store, capturedGateway("order_abc", "card"), nil)
	svc.SetObserver(obs)
	ctx := context.Background()

	_, _ = svc.Reconcile(ctx, validRequest("order_abc", "pay_1", "u1", "c1"))
	_, _ = svc.Reconcile(ctx, validRequest("order_abc", "pay_1", "u1", "c1"))
	_, _ = svc.Reconcile(ctx, VerifyRequest{})
	assert.Equal(t, []string{"credited", "already_credited", "validation"}, obs.reconcile)
}
