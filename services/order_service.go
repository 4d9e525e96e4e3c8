package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"order-service/cart"
	"order-service/models"
	"order-service/notify"
	"order-service/repository"

	aws_pkg "order-service/pkg/aws"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderService defines the order lifecycle operations exposed over HTTP.
type OrderService interface {
	PlaceOrder(ctx context.Context, userID string, req models.PlaceOrderRequest) (*models.Order, *ServiceError)
	GetOrderDetails(ctx context.Context, caller Caller, orderID uint) (*models.Order, *ServiceError)
	ListOrders(ctx context.Context, userID string, page, limit int) (*models.OrderListResponse, *ServiceError)
	GetOrdersByStatus(ctx context.Context, status string, page, limit int) (*models.OrderListResponse, *ServiceError)
	GetOrderStatistics(ctx context.Context) (*models.OrderStatistics, *ServiceError)
	GetOrderTracking(ctx context.Context, caller Caller, orderID uint) (*models.OrderTracking, *ServiceError)
	GetStatusHistory(ctx context.Context, caller Caller, orderID uint) ([]models.OrderStatusHistory, *ServiceError)
	GetTrackingNumber(ctx context.Context, caller Caller, orderID uint) (string, *ServiceError)
	UpdateStatus(ctx context.Context, caller Caller, orderID uint, req models.StatusUpdateRequest) (*models.Order, *ServiceError)
	CancelOrder(ctx context.Context, caller Caller, orderID uint, reason string) (*models.Order, *ServiceError)
	BulkUpdate(ctx context.Context, caller Caller, updates []models.BulkStatusUpdate) BulkResult
}

type orderServiceImpl struct {
	orders   repository.OrderRepository
	payments repository.PaymentRepository
	carts    cart.Source
	machine  *StatusStateMachine
	notifier notify.Notifier
	metrics  MetricsRecorder
	logger   *zap.Logger
	now      func() time.Time

	shippingProvider string
}

// OrderOption customises an OrderService.
type OrderOption func(*orderServiceImpl)

// WithShippingProvider sets the carrier name reported on tracking responses.
func WithShippingProvider(name string) OrderOption {
	return func(s *orderServiceImpl) {
		if name != "" {
			s.shippingProvider = name
		}
	}
}

func NewOrderService(
	orders repository.OrderRepository,
	payments repository.PaymentRepository,
	carts cart.Source,
	machine *StatusStateMachine,
	notifier notify.Notifier,
	metrics MetricsRecorder,
	logger *zap.Logger,
	opts ...OrderOption,
) OrderService {
	s := &orderServiceImpl{
		orders:   orders,
		payments: payments,
		carts:    carts,
		machine:  machine,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,

		shippingProvider: DefaultShippingProvider,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder snapshots the user's cart into a pending order and clears the
// cart. Prices are taken from the cart as-is.
func (s *orderServiceImpl) PlaceOrder(ctx context.Context, userID string, req models.PlaceOrderRequest) (*models.Order, *ServiceError) {
	items, err := s.carts.GetItems(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to read cart", zap.String("user_id", userID), zap.Error(err))
		return nil, newError(KindInternal, "Failed to read cart", err)
	}
	if len(items) == 0 {
		return nil, newError(KindEmptyCart, "Cart is empty", nil)
	}

	order := &models.Order{
		UserID:          userID,
		Status:          models.OrderStatusPending,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Items:           make([]models.OrderItem, 0, len(items)),
	}
	for _, it := range items {
		if it.Quantity < 1 || it.UnitPrice < 0 {
			return nil, newError(KindInvalidRequest,
				fmt.Sprintf("Invalid cart line for product %s", it.ProductID), nil)
		}
		if it.UnitPrice > 0 && int64(it.Quantity) > math.MaxInt64/it.UnitPrice {
			return nil, newError(KindInvalidRequest, "Order total is too large", nil)
		}
		line := int64(it.Quantity) * it.UnitPrice
		if order.TotalAmount > math.MaxInt64-line {
			return nil, newError(KindInvalidRequest, "Order total is too large", nil)
		}
		order.Items = append(order.Items, models.OrderItem{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			UnitPrice:      it.UnitPrice,
			LineTotal:      line,
			Customizations: it.Customizations,
		})
		order.TotalAmount += line
	}

	initial := models.OrderStatusHistory{
		Status:    models.OrderStatusPending,
		Actor:     userID,
		Note:      "Order placed",
		CreatedAt: s.now(),
	}
	if err := s.orders.Create(ctx, order, initial); err != nil {
		s.logger.Error("Failed to create order", zap.String("user_id", userID), zap.Error(err))
		return nil, newError(KindInternal, "Failed to create order", err)
	}
	order.PaymentStatus = models.PaymentStatusPending

	s.logger.Info("Order placed",
		zap.Uint("order_id", order.ID),
		zap.String("user_id", userID),
		zap.Int64("total_amount", order.TotalAmount),
		zap.Int("items", len(order.Items)),
	)

	if err := s.carts.Clear(ctx, userID); err != nil {
		s.logger.Warn("Failed to clear cart after order", zap.String("user_id", userID), zap.Error(err))
	}
	if s.notifier != nil {
		if err := s.notifier.OrderConfirmed(ctx, order); err != nil {
			s.logger.Warn("Order confirmation notification failed", zap.Uint("order_id", order.ID), zap.Error(err))
		}
	}
	recordCount(s.metrics, s.logger, aws_pkg.MetricOrdersCreated, nil)

	return order, nil
}

// GetOrderDetails hides orders of other users behind NotFound.
func (s *orderServiceImpl) GetOrderDetails(ctx context.Context, caller Caller, orderID uint) (*models.Order, *ServiceError) {
	order, svcErr := s.findOrder(ctx, orderID)
	if svcErr != nil {
		return nil, svcErr
	}
	if !caller.CanAccess(order.UserID) {
		return nil, newError(KindNotFound, "Order not found", nil)
	}
	if err := s.attachCurrentState(ctx, []*models.Order{order}); err != nil {
		return nil, newError(KindInternal, "Failed to load order", err)
	}
	history, err := s.orders.History(ctx, orderID)
	if err != nil {
		return nil, newError(KindInternal, "Failed to load order history", err)
	}
	order.History = history
	return order, nil
}

func (s *orderServiceImpl) ListOrders(ctx context.Context, userID string, page, limit int) (*models.OrderListResponse, *ServiceError) {
	orders, total, err := s.orders.FindByUserID(ctx, userID, page, limit)
	if err != nil {
		s.logger.Error("Failed to list orders", zap.String("user_id", userID), zap.Error(err))
		return nil, newError(KindInternal, "Failed to fetch orders", err)
	}
	return s.listResponse(ctx, orders, total, page, limit)
}

func (s *orderServiceImpl) GetOrdersByStatus(ctx context.Context, status string, page, limit int) (*models.OrderListResponse, *ServiceError) {
	if !IsKnownStatus(status) {
		return nil, newError(KindUnknownStatus, fmt.Sprintf("unknown order status %q", status), nil)
	}
	orders, total, err := s.orders.FindByStatus(ctx, status, page, limit)
	if err != nil {
		s.logger.Error("Failed to list orders by status", zap.String("status", status), zap.Error(err))
		return nil, newError(KindInternal, "Failed to fetch orders", err)
	}
	return s.listResponse(ctx, orders, total, page, limit)
}

func (s *orderServiceImpl) GetOrderStatistics(ctx context.Context) (*models.OrderStatistics, *ServiceError) {
	counts, err := s.orders.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("Failed to count orders", zap.Error(err))
		return nil, newError(KindInternal, "Failed to fetch order statistics", err)
	}
	stats := &models.OrderStatistics{ByStatus: make(map[string]int64, len(orderTransitions))}
	for status := range orderTransitions {
		stats.ByStatus[status] = 0
	}
	for status, n := range counts {
		stats.ByStatus[status] = n
		stats.Total += n
	}
	return stats, nil
}

func (s *orderServiceImpl) GetOrderTracking(ctx context.Context, caller Caller, orderID uint) (*models.OrderTracking, *ServiceError) {
	order, svcErr := s.findOwnedOrder(ctx, caller, orderID)
	if svcErr != nil {
		return nil, svcErr
	}
	history, err := s.orders.History(ctx, orderID)
	if err != nil {
		return nil, newError(KindInternal, "Failed to load order history", err)
	}
	status := order.Status
	if len(history) > 0 {
		status = history[len(history)-1].Status
	}
	return &models.OrderTracking{
		OrderID:           order.ID,
		Status:            status,
		History:           history,
		EstimatedDelivery: EstimateDelivery(order.CreatedAt, status),
		TrackingNumber:    TrackingNumber(order.ID, s.now()),
		ShippingProvider:  s.shippingProvider,
	}, nil
}

func (s *orderServiceImpl) GetStatusHistory(ctx context.Context, caller Caller, orderID uint) ([]models.OrderStatusHistory, *ServiceError) {
	if _, svcErr := s.findOwnedOrder(ctx, caller, orderID); svcErr != nil {
		return nil, svcErr
	}
	history, err := s.orders.History(ctx, orderID)
	if err != nil {
		return nil, newError(KindInternal, "Failed to load order history", err)
	}
	return history, nil
}

func (s *orderServiceImpl) GetTrackingNumber(ctx context.Context, caller Caller, orderID uint) (string, *ServiceError) {
	order, svcErr := s.findOwnedOrder(ctx, caller, orderID)
	if svcErr != nil {
		return "", svcErr
	}
	return TrackingNumber(order.ID, s.now()), nil
}

func (s *orderServiceImpl) UpdateStatus(ctx context.Context, caller Caller, orderID uint, req models.StatusUpdateRequest) (*models.Order, *ServiceError) {
	if !caller.IsAdmin() {
		return nil, newError(KindOwnershipDenied, "Admin role required", nil)
	}
	var (
		order  *models.Order
		svcErr *ServiceError
	)
	if req.Status == models.OrderStatusCancelled {
		order, svcErr = s.machine.Cancel(ctx, orderID, "admin:"+caller.UserID, req.Note)
	} else {
		order, svcErr = s.machine.Transition(ctx, orderID, req.Status, "admin:"+caller.UserID, req.Note)
	}
	if svcErr != nil {
		return nil, svcErr
	}
	if order.Status == models.OrderStatusCancelled {
		recordCount(s.metrics, s.logger, aws_pkg.MetricOrdersCancelled, map[string]string{"Actor": "admin"})
	}
	return order, nil
}

// CancelOrder is available to the order's owner and to admins.
func (s *orderServiceImpl) CancelOrder(ctx context.Context, caller Caller, orderID uint, reason string) (*models.Order, *ServiceError) {
	if _, svcErr := s.findOwnedOrder(ctx, caller, orderID); svcErr != nil {
		return nil, svcErr
	}
	actor := caller.UserID
	if caller.IsAdmin() {
		actor = "admin:" + caller.UserID
	}
	if reason == "" {
		reason = "Cancelled by customer"
	}
	order, svcErr := s.machine.Cancel(ctx, orderID, actor, reason)
	if svcErr != nil {
		return nil, svcErr
	}
	recordCount(s.metrics, s.logger, aws_pkg.MetricOrdersCancelled, nil)
	return order, nil
}

func (s *orderServiceImpl) BulkUpdate(ctx context.Context, caller Caller, updates []models.BulkStatusUpdate) BulkResult {
	if !caller.IsAdmin() {
		result := BulkResult{Succeeded: []uint{}, Failed: make([]BulkFailure, 0, len(updates))}
		for _, u := range updates {
			result.Failed = append(result.Failed, BulkFailure{OrderID: u.OrderID, Error: "Admin role required"})
		}
		return result
	}
	return s.machine.BulkTransition(ctx, updates, "admin:"+caller.UserID)
}

func (s *orderServiceImpl) findOrder(ctx context.Context, orderID uint) (*models.Order, *ServiceError) {
	order, err := s.orders.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "Order not found", err)
	}
	if err != nil {
		s.logger.Error("Failed to load order", zap.Uint("order_id", orderID), zap.Error(err))
		return nil, newError(KindInternal, "Failed to load order", err)
	}
	return order, nil
}

// findOwnedOrder rejects non-owners with OwnershipDenied.
func (s *orderServiceImpl) findOwnedOrder(ctx context.Context, caller Caller, orderID uint) (*models.Order, *ServiceError) {
	order, svcErr := s.findOrder(ctx, orderID)
	if svcErr != nil {
		return nil, svcErr
	}
	if !caller.CanAccess(order.UserID) {
		return nil, newError(KindOwnershipDenied, "You do not have access to this order", nil)
	}
	return order, nil
}

func (s *orderServiceImpl) listResponse(ctx context.Context, orders []models.Order, total int64, page, limit int) (*models.OrderListResponse, *ServiceError) {
	ptrs := make([]*models.Order, len(orders))
	for i := range orders {
		ptrs[i] = &orders[i]
	}
	if err := s.attachCurrentState(ctx, ptrs); err != nil {
		s.logger.Error("Failed to load payment status", zap.Error(err))
		return nil, newError(KindInternal, "Failed to fetch orders", err)
	}

	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return &models.OrderListResponse{
		Orders: orders,
		Meta: models.MetaData{
			Page:        page,
			Limit:       limit,
			TotalOrders: total,
			TotalPages:  totalPages,
			HasMore:     page < totalPages,
		},
	}, nil
}

// attachCurrentState sets the derived payment status on each order. Orders
// without any payment attempt report pending.
func (s *orderServiceImpl) attachCurrentState(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]uint, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	latest, err := s.payments.LatestStatusByOrderIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if st, ok := latest[o.ID]; ok {
			o.PaymentStatus = st
		} else {
			o.PaymentStatus = models.PaymentStatusPending
		}
	}
	return nil
}
