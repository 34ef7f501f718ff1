package payments

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursemart/backend/internal/gateway"
	"github.com/coursemart/backend/internal/models"
)

// memStore mirrors the conditional-update semantics of Repository.
type memStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Payment
	seq  int

	CreateErr error
	GetErr    error
	// beforeMarkSuccess runs under no lock right before the compare-and-swap.
	beforeMarkSuccess func()

	createCalls  int
	successCalls int
	credits      int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uuid.UUID]*models.Payment)}
}

func (m *memStore) insert(p models.Payment) *models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == (models.PaymentStatus{}) {
		p.Status = models.StatusPending
	}
	// strictly increasing so "earliest record" is deterministic
	m.seq++
	p.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Millisecond)
	m.rows[p.ID] = &p
	cp := p
	return &cp
}

func (m *memStore) get(id uuid.UUID) models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *memStore) Create(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	p.Status = models.StatusPending
	created := m.insert(*p)
	p.ID = created.ID
	p.CreatedAt = created.CreatedAt
	return nil
}

func (m *memStore) find(match func(*models.Payment) bool) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var found *models.Payment
	for _, p := range m.rows {
		if match(p) && (found == nil || p.CreatedAt.Before(found.CreatedAt)) {
			found = p
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	return m.find(func(p *models.Payment) bool { return p.ID == id })
}

func (m *memStore) GetByOrderAndUser(_ context.Context, orderID, userID string) (*models.Payment, error) {
	return m.find(func(p *models.Payment) bool { return p.GatewayOrderID == orderID && p.UserID == userID })
}

func (m *memStore) FirstByOrderID(_ context.Context, orderID string) (*models.Payment, error) {
	return m.find(func(p *models.Payment) bool { return p.GatewayOrderID == orderID })
}

func (m *memStore) FindSuccessByPaymentID(_ context.Context, paymentID string) (*models.Payment, error) {
	return m.find(func(p *models.Payment) bool {
		return p.GatewayPaymentID == paymentID && p.Status == models.StatusSuccess
	})
}

func (m *memStore) MarkFailed(_ context.Context, id uuid.UUID, paymentID, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.Status == models.StatusSuccess {
		return nil
	}
	p.Status = models.StatusFailed
	if paymentID != "" {
		p.GatewayPaymentID = paymentID
	}
	p.Description = description
	p.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) MirrorStatus(_ context.Context, id uuid.UUID, status models.PaymentStatus, paymentID, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.Status == models.StatusSuccess {
		return nil
	}
	p.Status = status
	p.GatewayPaymentID = paymentID
	p.Description = description
	p.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) MarkSuccess(_ context.Context, id uuid.UUID, paymentID, method, description string) (bool, error) {
	if m.beforeMarkSuccess != nil {
		m.beforeMarkSuccess()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successCalls++
	p, ok := m.rows[id]
	if !ok || p.Status == models.StatusSuccess {
		return false, nil
	}
	for _, o := range m.rows {
		if o.ID == id || o.Status != models.StatusSuccess {
			continue
		}
		if o.GatewayOrderID == p.GatewayOrderID {
			return false, nil
		}
		if o.GatewayPaymentID == paymentID {
			return false, ErrUniqueViolation
		}
	}
	p.Status = models.StatusSuccess
	p.GatewayPaymentID = paymentID
	p.Method = method
	p.Description = description
	p.UpdatedAt = time.Now()
	m.credits++
	return true, nil
}

func (m *memStore) HasSuccessfulEnrollment(_ context.Context, userID, courseID string) (bool, error) {
	p, err := m.find(func(p *models.Payment) bool {
		return p.UserID == userID && p.CourseID == courseID && p.Status == models.StatusSuccess
	})
	return p != nil, err
}

func (m *memStore) ListEnrolledCourseIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var ids []string
	for _, p := range m.rows {
		if p.UserID == userID && p.Status == models.StatusSuccess && !seen[p.CourseID] {
			seen[p.CourseID] = true
			ids = append(ids, p.CourseID)
		}
	}
	return ids, nil
}

func (m *memStore) SetReceiptKey(_ context.Context, id uuid.UUID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[id]; ok {
		p.ReceiptKey = key
	}
	return nil
}

type fakeGateway struct {
	mu sync.Mutex

	CreateOrderFunc  func(req gateway.OrderRequest) (*gateway.Order, error)
	FetchPaymentFunc func(paymentID string) (*gateway.PaymentDetails, error)

	createCalls int
	fetchCalls  int
	lastOrder   gateway.OrderRequest
}

func (f *fakeGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	f.mu.Lock()
	f.createCalls++
	f.lastOrder = req
	f.mu.Unlock()
	return f.CreateOrderFunc(req)
}

func (f *fakeGateway) FetchPayment(_ context.Context, paymentID string) (*gateway.PaymentDetails, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()
	return f.FetchPaymentFunc(paymentID)
}

func (f *fakeGateway) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func capturedGateway(orderID, method string) *fakeGateway {
	return &fakeGateway{
		CreateOrderFunc: func(req gateway.OrderRequest) (*gateway.Order, error) {
			return &gateway.Order{ID: orderID, AmountMinor: req.AmountMinor, Currency: req.Currency, Status: "created"}, nil
		},
		FetchPaymentFunc: func(paymentID string) (*gateway.PaymentDetails, error) {
			return &gateway.PaymentDetails{ID: paymentID, OrderID: orderID, Status: gateway.StatusCaptured, Method: method}, nil
		},
	}
}

type fakeNotifier struct {
	mu        sync.Mutex
	Err       error
	initiated int
	succeeded []uuid.UUID
}

func (n *fakeNotifier) PaymentInitiated(context.Context, *models.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initiated++
	return n.Err
}

func (n *fakeNotifier) PaymentSucceeded(_ context.Context, p *models.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.succeeded = append(n.succeeded, p.ID)
	return n.Err
}

func (n *fakeNotifier) successes() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.succeeded)
}

type fakeObserver struct {
	mu        sync.Mutex
	initiate  []string
	reconcile []string
}

func (o *fakeObserver) ObserveInitiate(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.initiate = append(o.initiate, outcome)
}

func (o *fakeObserver) ObserveReconcile(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconcile = append(o.reconcile, outcome)
}
