package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"order-service/models"
	"order-service/notify"
	"order-service/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultShippingProvider is reported on tracking responses.
const DefaultShippingProvider = "Giao Hàng Nhanh"

var orderTransitions = map[string][]string{
	models.OrderStatusPending:    {models.OrderStatusConfirmed, models.OrderStatusCancelled},
	models.OrderStatusConfirmed:  {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:    {models.OrderStatusDelivered, models.OrderStatusCancelled},
	models.OrderStatusDelivered:  {models.OrderStatusRefunded},
	models.OrderStatusCancelled:  {},
	models.OrderStatusRefunded:   {},
}

// days from order creation until expected delivery, by current status
var deliveryOffsetDays = map[string]int{
	models.OrderStatusPending:    7,
	models.OrderStatusConfirmed:  6,
	models.OrderStatusProcessing: 4,
	models.OrderStatusShipped:    2,
}

func IsKnownStatus(status string) bool {
	_, ok := orderTransitions[status]
	return ok
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to string) bool {
	return slices.Contains(orderTransitions[from], to)
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status string) bool {
	next, ok := orderTransitions[status]
	return ok && len(next) == 0
}

// EstimateDelivery returns nil for delivered, cancelled and refunded orders.
func EstimateDelivery(createdAt time.Time, status string) *time.Time {
	days, ok := deliveryOffsetDays[status]
	if !ok {
		return nil
	}
	eta := createdAt.AddDate(0, 0, days)
	return &eta
}

// TrackingNumber is derived, not stored: "VN", the last six digits of now in
// unix milliseconds, then the zero-padded order ID.
func TrackingNumber(orderID uint, now time.Time) string {
	ms := fmt.Sprintf("%d", now.UnixMilli())
	if len(ms) > 6 {
		ms = ms[len(ms)-6:]
	}
	return fmt.Sprintf("VN%s%06d", ms, orderID)
}

// BulkResult reports the outcome of each entry of a bulk update.
type BulkResult struct {
	Succeeded []uint        `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

type BulkFailure struct {
	OrderID uint   `json:"order_id"`
	Error   string `json:"error"`
}

// StatusStateMachine is the only writer of order status. Every change is
// checked against the lifecycle under a row lock and appended to history.
type StatusStateMachine struct {
	orders   repository.OrderRepository
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewStatusStateMachine(orders repository.OrderRepository, notifier notify.Notifier, logger *zap.Logger) *StatusStateMachine {
	return &StatusStateMachine{orders: orders, notifier: notifier, logger: logger, now: time.Now}
}

// Transition moves an order to newStatus if the lifecycle allows it.
func (m *StatusStateMachine) Transition(ctx context.Context, orderID uint, newStatus, actor, note string) (*models.Order, *ServiceError) {
	if !IsKnownStatus(newStatus) {
		return nil, newError(KindUnknownStatus, fmt.Sprintf("unknown order status %q", newStatus), nil)
	}
	return m.apply(ctx, orderID, newStatus, actor, note, func(current string) error {
		if !CanTransition(current, newStatus) {
			return newError(KindInvalidTransition,
				fmt.Sprintf("cannot change order status from %s to %s", current, newStatus), nil)
		}
		return nil
	})
}

// Cancel moves an order to cancelled from any non-terminal, undelivered state.
func (m *StatusStateMachine) Cancel(ctx context.Context, orderID uint, actor, reason string) (*models.Order, *ServiceError) {
	return m.apply(ctx, orderID, models.OrderStatusCancelled, actor, reason, func(current string) error {
		if current == models.OrderStatusDelivered || IsTerminal(current) {
			return newError(KindNotCancellable, fmt.Sprintf("order in status %s cannot be cancelled", current), nil)
		}
		return nil
	})
}

// BulkTransition applies each update independently; one failure does not
// stop the rest.
func (m *StatusStateMachine) BulkTransition(ctx context.Context, updates []models.BulkStatusUpdate, actor string) BulkResult {
	result := BulkResult{Succeeded: []uint{}, Failed: []BulkFailure{}}
	for _, u := range updates {
		if _, err := m.Transition(ctx, u.OrderID, u.Status, actor, u.Note); err != nil {
			result.Failed = append(result.Failed, BulkFailure{OrderID: u.OrderID, Error: err.Message})
			continue
		}
		result.Succeeded = append(result.Succeeded, u.OrderID)
	}
	return result
}

func (m *StatusStateMachine) apply(ctx context.Context, orderID uint, newStatus, actor, note string, guard repository.TransitionGuard) (*models.Order, *ServiceError) {
	entry := models.OrderStatusHistory{
		Status:    newStatus,
		Actor:     actor,
		Note:      note,
		CreatedAt: m.now(),
	}

	order, previous, err := m.orders.Transition(ctx, orderID, entry, guard)
	if err != nil {
		var se *ServiceError
		switch {
		case errors.As(err, &se):
			return nil, se
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, newError(KindNotFound, "Order not found", err)
		default:
			m.logger.Error("Order status transition failed",
				zap.Uint("order_id", orderID), zap.String("status", newStatus), zap.Error(err))
			return nil, newError(KindInternal, "Failed to update order status", err)
		}
	}

	m.logger.Info("Order status changed",
		zap.Uint("order_id", orderID),
		zap.String("from", previous),
		zap.String("to", newStatus),
		zap.String("actor", actor),
	)

	if m.notifier != nil {
		if nerr := m.notifier.StatusChanged(ctx, order, previous); nerr != nil {
			m.logger.Warn("Status change notification failed", zap.Uint("order_id", orderID), zap.Error(nerr))
		}
	}
	return order, nil
}
