package notify

import (
	"context"
	"sync"
	"time"

	"order-service/models"

	"go.uber.org/zap"
)

// AsyncNotifier hands each notification to a goroutine with its own deadline,
// so a slow or unreachable transport never holds up a status change or a
// provider callback. Calls always return nil; failures are logged.
type AsyncNotifier struct {
	next    Notifier
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewAsyncNotifier(next Notifier, timeout time.Duration, logger *zap.Logger) *AsyncNotifier {
	return &AsyncNotifier{next: next, timeout: timeout, logger: logger}
}

func (a *AsyncNotifier) OrderConfirmed(ctx context.Context, order *models.Order) error {
	snapshot := *order
	a.dispatch(ctx, "order_confirmed", snapshot.ID, func(ctx context.Context) error {
		return a.next.OrderConfirmed(ctx, &snapshot)
	})
	return nil
}

func (a *AsyncNotifier) StatusChanged(ctx context.Context, order *models.Order, previous string) error {
	snapshot := *order
	a.dispatch(ctx, "order_status_changed", snapshot.ID, func(ctx context.Context) error {
		return a.next.StatusChanged(ctx, &snapshot, previous)
	})
	return nil
}

// Wait blocks until every dispatched notification has finished.
func (a *AsyncNotifier) Wait() {
	a.wg.Wait()
}

func (a *AsyncNotifier) dispatch(parent context.Context, event string, orderID uint, send func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), a.timeout)
		defer cancel()
		if err := send(ctx); err != nil {
			a.logger.Warn("Notification delivery failed",
				zap.String("event_type", event), zap.Uint("order_id", orderID), zap.Error(err))
		}
	}()
}
