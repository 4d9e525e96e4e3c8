package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"order-service/models"

	"go.uber.org/zap"
)

// Event types emitted by the order service.
const (
	EventOrderConfirmed     = "order_confirmed"
	EventOrderStatusChanged = "order_status_changed"
)

// Event is the payload published for every customer-facing notification.
// The notification service resolves the user's contact details from UserID.
type Event struct {
	EventType      string    `json:"event_type"`
	OrderID        uint      `json:"order_id"`
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	TotalAmount    int64     `json:"total_amount"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher delivers an encoded event over one transport.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Notifier sends order notifications. Callers treat failures as non-fatal.
type Notifier interface {
	OrderConfirmed(ctx context.Context, order *models.Order) error
	StatusChanged(ctx context.Context, order *models.Order, previous string) error
}

// EventNotifier turns order changes into Events and hands them to a Publisher.
type EventNotifier struct {
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewEventNotifier(publisher Publisher, logger *zap.Logger) *EventNotifier {
	return &EventNotifier{publisher: publisher, logger: logger, now: time.Now}
}

func (n *EventNotifier) OrderConfirmed(ctx context.Context, order *models.Order) error {
	return n.publish(ctx, Event{
		EventType:   EventOrderConfirmed,
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Message:     fmt.Sprintf("Order #%d has been received", order.ID),
		Timestamp:   n.now(),
	})
}

func (n *EventNotifier) StatusChanged(ctx context.Context, order *models.Order, previous string) error {
	return n.publish(ctx, Event{
		EventType:      EventOrderStatusChanged,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: previous,
		TotalAmount:    order.TotalAmount,
		Message:        StatusMessage(order.ID, order.Status),
		Timestamp:      n.now(),
	})
}

func (n *EventNotifier) publish(ctx context.Context, event Event) error {
	if n.publisher == nil {
		n.logger.Warn("Notification transport not configured, skipping event publish",
			zap.String("event_type", event.EventType))
		return nil
	}
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.EventType, err)
	}
	if err := n.publisher.Publish(ctx, strconv.FormatUint(uint64(event.OrderID), 10), b); err != nil {
		return fmt.Errorf("publish %s event: %w", event.EventType, err)
	}
	n.logger.Info("Published notification event",
		zap.String("event_type", event.EventType),
		zap.Uint("order_id", event.OrderID),
		zap.String("status", event.Status),
	)
	return nil
}

// StatusMessage is the customer-facing text for a status change.
func StatusMessage(orderID uint, status string) string {
	switch status {
	case models.OrderStatusConfirmed:
		return fmt.Sprintf("Order #%d has been confirmed", orderID)
	case models.OrderStatusProcessing:
		return fmt.Sprintf("Order #%d is being prepared", orderID)
	case models.OrderStatusShipped:
		return fmt.Sprintf("Order #%d has been shipped", orderID)
	case models.OrderStatusDelivered:
		return fmt.Sprintf("Order #%d has been delivered", orderID)
	case models.OrderStatusCancelled:
		return fmt.Sprintf("Order #%d has been cancelled", orderID)
	case models.OrderStatusRefunded:
		return fmt.Sprintf("Order #%d has been refunded", orderID)
	default:
		return fmt.Sprintf("Order #%d is now %s", orderID, status)
	}
}
