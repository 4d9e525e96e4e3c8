package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"order-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MemoryOrderRepository is an in-process OrderRepository used by tests and
// by STORE_DRIVER=memory for local runs without Postgres.
type MemoryOrderRepository struct {
	mu      sync.Mutex
	nextID  uint
	orders  map[uint]*models.Order
	history map[uint][]models.OrderStatusHistory
	nextHID uint
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders:  make(map[uint]*models.Order),
		history: make(map[uint][]models.OrderStatusHistory),
	}
}

func (r *MemoryOrderRepository) Create(_ context.Context, order *models.Order, initial models.OrderStatusHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	now := time.Now()
	order.ID = r.nextID
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	for i := range order.Items {
		order.Items[i].ID = uint(i + 1)
		order.Items[i].OrderID = order.ID
	}

	initial.OrderID = order.ID
	if initial.CreatedAt.IsZero() {
		initial.CreatedAt = now
	}
	r.nextHID++
	initial.ID = r.nextHID

	stored := copyOrder(order)
	stored.History = nil
	r.orders[order.ID] = stored
	r.history[order.ID] = []models.OrderStatusHistory{initial}
	order.History = []models.OrderStatusHistory{initial}
	return nil
}

func (r *MemoryOrderRepository) FindByID(_ context.Context, id uint) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return copyOrder(order), nil
}

func (r *MemoryOrderRepository) FindByIDAndUserID(ctx context.Context, id uint, userID string) (*models.Order, error) {
	order, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return order, nil
}

func (r *MemoryOrderRepository) FindByUserID(_ context.Context, userID string, page, limit int) ([]models.Order, int64, error) {
	return r.filter(func(o *models.Order) bool { return o.UserID == userID }, page, limit), r.count(func(o *models.Order) bool { return o.UserID == userID }), nil
}

func (r *MemoryOrderRepository) FindByStatus(_ context.Context, status string, page, limit int) ([]models.Order, int64, error) {
	return r.filter(func(o *models.Order) bool { return o.Status == status }, page, limit), r.count(func(o *models.Order) bool { return o.Status == status }), nil
}

func (r *MemoryOrderRepository) filter(match func(*models.Order) bool, page, limit int) []models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]models.Order, 0)
	for _, o := range r.orders {
		if match(o) {
			matched = append(matched, *copyOrder(o))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	offset := (page - 1) * limit
	if offset >= len(matched) {
		return []models.Order{}
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end]
}

func (r *MemoryOrderRepository) count(match func(*models.Order) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, o := range r.orders {
		if match(o) {
			n++
		}
	}
	return n
}

func (r *MemoryOrderRepository) CountByStatus(_ context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]int64)
	for _, o := range r.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (r *MemoryOrderRepository) LatestStatus(_ context.Context, orderID uint) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.history[orderID]
	if len(rows) == 0 {
		return "", nil
	}
	return rows[len(rows)-1].Status, nil
}

func (r *MemoryOrderRepository) History(_ context.Context, orderID uint) ([]models.OrderStatusHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.history[orderID]
	out := make([]models.OrderStatusHistory, len(rows))
	copy(out, rows)
	return out, nil
}

func (r *MemoryOrderRepository) Transition(_ context.Context, orderID uint, entry models.OrderStatusHistory, guard TransitionGuard) (*models.Order, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return nil, "", gorm.ErrRecordNotFound
	}

	current := order.Status
	var newest time.Time
	if rows := r.history[orderID]; len(rows) > 0 {
		current = rows[len(rows)-1].Status
		newest = rows[len(rows)-1].CreatedAt
	}
	if guard != nil {
		if err := guard(current); err != nil {
			return nil, "", err
		}
	}

	entry.CreatedAt = stampAfter(entry.CreatedAt, newest)
	r.nextHID++
	entry.ID = r.nextHID
	entry.OrderID = orderID

	order.Status = entry.Status
	order.UpdatedAt = entry.CreatedAt
	r.history[orderID] = append(r.history[orderID], entry)
	return copyOrder(order), current, nil
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	c.History = append([]models.OrderStatusHistory(nil), o.History...)
	return &c
}

// MemoryPaymentRepository is the in-process PaymentRepository counterpart.
type MemoryPaymentRepository struct {
	mu       sync.Mutex
	payments []*models.Payment
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{}
}

func (r *MemoryPaymentRepository) Create(_ context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.payments {
		if p.Gateway == payment.Gateway && p.TransactionID == payment.TransactionID {
			return gorm.ErrDuplicatedKey
		}
	}
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	now := time.Now()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	stored := *payment
	r.payments = append(r.payments, &stored)
	return nil
}

func (r *MemoryPaymentRepository) FindByGatewayTransaction(_ context.Context, gateway, transactionID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.payments {
		if p.Gateway == gateway && p.TransactionID == transactionID {
			c := *p
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *MemoryPaymentRepository) FindByTransactionID(_ context.Context, transactionID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.payments {
		if p.TransactionID == transactionID {
			c := *p
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *MemoryPaymentRepository) FindByOrderID(_ context.Context, orderID uint) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Payment, 0)
	for i := len(r.payments) - 1; i >= 0; i-- {
		if r.payments[i].OrderID == orderID {
			out = append(out, *r.payments[i])
		}
	}
	return out, nil
}

func (r *MemoryPaymentRepository) LatestStatusByOrderIDs(_ context.Context, orderIDs []uint) (map[uint]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[uint]bool, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = true
	}
	statuses := make(map[uint]string, len(orderIDs))
	// payments are appended in creation order, so the last match wins
	for _, p := range r.payments {
		if wanted[p.OrderID] {
			statuses[p.OrderID] = p.Status
		}
	}
	return statuses, nil
}

func (r *MemoryPaymentRepository) SetRedirect(_ context.Context, id uuid.UUID, redirectURL, providerRef *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.payments {
		if p.ID == id {
			if redirectURL != nil {
				p.RedirectURL = redirectURL
			}
			if providerRef != nil {
				p.ProviderRef = providerRef
			}
			p.UpdatedAt = time.Now()
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *MemoryPaymentRepository) Resolve(_ context.Context, id uuid.UUID, res models.PaymentResolution) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.At.IsZero() {
		res.At = time.Now()
	}
	for _, p := range r.payments {
		if p.ID != id {
			continue
		}
		if p.Status != models.PaymentStatusPending {
			return false, nil
		}
		at := res.At
		p.Status = res.Status
		p.UpdatedAt = at
		switch res.Status {
		case models.PaymentStatusPaid:
			p.PaidAt = &at
		case models.PaymentStatusFailed:
			p.FailedAt = &at
			if res.FailureReason != "" {
				reason := res.FailureReason
				p.FailureReason = &reason
			}
		}
		if res.ProviderRef != "" {
			ref := res.ProviderRef
			p.ProviderRef = &ref
		}
		if res.CallbackPayload != "" {
			payload := res.CallbackPayload
			p.CallbackPayload = &payload
		}
		return true, nil
	}
	return false, gorm.ErrRecordNotFound
}
