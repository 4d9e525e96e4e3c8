package services_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"order-service/cart"
	"order-service/gateways"
	"order-service/models"
	"order-service/repository"
	"order-service/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const codSecret = "cod-test-secret"

// ---- mock cart ----

type fakeCart struct {
	mu       sync.Mutex
	items    map[string][]cart.Item
	getErr   error
	clearErr error
	cleared  []string
}

func (f *fakeCart) GetItems(_ context.Context, userID string) ([]cart.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[userID], f.getErr
}

func (f *fakeCart) Clear(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, userID)
	if f.clearErr == nil {
		delete(f.items, userID)
	}
	return f.clearErr
}

// ---- mock notifier ----

type fakeNotifier struct {
	mu        sync.Mutex
	err       error
	confirmed []uint
	changes   []string
}

func (f *fakeNotifier) OrderConfirmed(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, order.ID)
	return f.err
}

func (f *fakeNotifier) StatusChanged(_ context.Context, order *models.Order, previous string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, previous+"->"+order.Status)
	return f.err
}

func (f *fakeNotifier) changeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changes)
}

// ---- mock gateway ----

// fakeAdapter decodes callbacks as a JSON-encoded gateways.CallbackResult.
type fakeAdapter struct {
	mu        sync.Mutex
	resp      *gateways.PaymentResponse
	createErr error
	verifyErr error
	onCreate  func()
	requests  []gateways.PaymentRequest
}

func (f *fakeAdapter) Name() string { return "fakepay" }

func (f *fakeAdapter) CreatePaymentRequest(_ context.Context, req gateways.PaymentRequest) (*gateways.PaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.onCreate != nil {
		f.onCreate()
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &gateways.PaymentResponse{RedirectURL: "https://pay.example/" + req.TransactionID}, nil
}

func (f *fakeAdapter) VerifyCallback(raw []byte) (*gateways.CallbackResult, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	var res gateways.CallbackResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, gateways.ErrMalformedCallback
	}
	return &res, nil
}

func (f *fakeAdapter) Acknowledge(ok bool) (int, interface{}) {
	if ok {
		return 200, "ok"
	}
	return 500, "retry"
}

// fakeQueryAdapter also answers status queries.
type fakeQueryAdapter struct {
	*fakeAdapter
	result *gateways.QueryResult
	err    error
}

func (f *fakeQueryAdapter) Name() string { return "querypay" }

func (f *fakeQueryAdapter) Query(_ context.Context, _ string) (*gateways.QueryResult, error) {
	return f.result, f.err
}

// ---- context-aware payment store ----

// ctxPayments fails writes on a done context, like a database driver would.
type ctxPayments struct {
	repository.PaymentRepository
}

func (p ctxPayments) Resolve(ctx context.Context, id uuid.UUID, res models.PaymentResolution) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.PaymentRepository.Resolve(ctx, id, res)
}

// ---- environment ----

type testEnv struct {
	orders     *repository.MemoryOrderRepository
	payments   *repository.MemoryPaymentRepository
	cart       *fakeCart
	notifier   *fakeNotifier
	adapter    *fakeAdapter
	querier    *fakeQueryAdapter
	machine    *services.StatusStateMachine
	orderSvc   services.OrderService
	reconciler *services.PaymentReconciler
}

func newTestEnv(t *testing.T, policy services.SignaturePolicy) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	env := &testEnv{
		orders:   repository.NewMemoryOrderRepository(),
		payments: repository.NewMemoryPaymentRepository(),
		cart:     &fakeCart{items: map[string][]cart.Item{}},
		notifier: &fakeNotifier{},
		adapter:  &fakeAdapter{},
	}
	env.querier = &fakeQueryAdapter{fakeAdapter: &fakeAdapter{}}
	env.machine = services.NewStatusStateMachine(env.orders, env.notifier, logger)
	env.orderSvc = services.NewOrderService(env.orders, env.payments, env.cart, env.machine, env.notifier, nil, logger)

	registry := gateways.NewRegistry(env.adapter, env.querier, gateways.NewCODAdapter(codSecret))
	env.reconciler = services.NewPaymentReconciler(env.orders, env.payments, env.machine, registry,
		services.ReconcilerConfig{Policy: policy}, nil, logger)
	return env
}

func (e *testEnv) seedOrder(t *testing.T, userID string, total int64) *models.Order {
	t.Helper()
	order := &models.Order{
		UserID:      userID,
		Status:      models.OrderStatusPending,
		TotalAmount: total,
		Items:       []models.OrderItem{{ProductID: "p-1", Quantity: 1, UnitPrice: total, LineTotal: total}},
	}
	require.NoError(t, e.orders.Create(context.Background(), order, models.OrderStatusHistory{
		Status: models.OrderStatusPending,
		Actor:  userID,
	}))
	return order
}

func (e *testEnv) history(t *testing.T, orderID uint) []models.OrderStatusHistory {
	t.Helper()
	rows, err := e.orders.History(context.Background(), orderID)
	require.NoError(t, err)
	return rows
}

func (e *testEnv) latestStatus(t *testing.T, orderID uint) string {
	t.Helper()
	status, err := e.orders.LatestStatus(context.Background(), orderID)
	require.NoError(t, err)
	return status
}

func (e *testEnv) payment(t *testing.T, transactionID string) *models.Payment {
	t.Helper()
	p, err := e.payments.FindByTransactionID(context.Background(), transactionID)
	require.NoError(t, err)
	return p
}

func callback(t *testing.T, transactionID string, status gateways.ProviderStatus, signatureValid bool) []byte {
	t.Helper()
	b, err := json.Marshal(gateways.CallbackResult{
		TransactionID:  transactionID,
		Status:         status,
		SignatureValid: signatureValid,
		ProviderRef:    "ref-" + transactionID,
		Message:        string(status),
	})
	require.NoError(t, err)
	return b
}

func countStatus(rows []models.OrderStatusHistory, status string) int {
	n := 0
	for _, r := range rows {
		if r.Status == status {
			n++
		}
	}
	return n
}

var (
	owner = services.Caller{UserID: "user-1"}
	other = services.Caller{UserID: "user-2"}
	admin = services.Caller{UserID: "admin-1", Role: services.RoleAdmin}
)
