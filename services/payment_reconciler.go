package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"order-service/gateways"
	"order-service/models"
	"order-service/repository"

	aws_pkg "order-service/pkg/aws"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SignaturePolicy decides what happens to a callback whose signature does
// not verify.
type SignaturePolicy string

const (
	// SignatureStrict rejects the callback and leaves the payment pending.
	SignatureStrict SignaturePolicy = "strict"
	// SignatureLenient logs the mismatch and applies the reported status.
	SignatureLenient SignaturePolicy = "lenient"
)

// PaymentService defines the payment operations exposed over HTTP.
type PaymentService interface {
	CreatePayment(ctx context.Context, caller Caller, req models.CreatePaymentRequest, clientIP string) (*models.PaymentResult, *ServiceError)
	// HandleCallback returns true when the provider should stop retrying.
	HandleCallback(ctx context.Context, gateway string, raw []byte) bool
	Acknowledge(gateway string, ok bool) (int, interface{})
	GetPaymentStatus(ctx context.Context, caller Caller, transactionID string) (*models.Payment, *ServiceError)
	GetOrderPayments(ctx context.Context, caller Caller, orderID uint) ([]models.Payment, *ServiceError)
	Reconcile(ctx context.Context, transactionID string) (*models.Payment, *ServiceError)
	MockCallback(ctx context.Context, transactionID string, success bool) (*models.Payment, *ServiceError)
}

type ReconcilerConfig struct {
	Policy   SignaturePolicy
	Currency string
}

// PaymentReconciler owns payment attempts and applies provider callbacks.
// A payment leaves pending at most once; the winning update is the only one
// allowed to drive the order to confirmed.
type PaymentReconciler struct {
	orders   repository.OrderRepository
	payments repository.PaymentRepository
	machine  *StatusStateMachine
	registry *gateways.Registry
	policy   SignaturePolicy
	currency string
	metrics  MetricsRecorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewPaymentReconciler(
	orders repository.OrderRepository,
	payments repository.PaymentRepository,
	machine *StatusStateMachine,
	registry *gateways.Registry,
	cfg ReconcilerConfig,
	metrics MetricsRecorder,
	logger *zap.Logger,
) *PaymentReconciler {
	if cfg.Policy == "" {
		cfg.Policy = SignatureStrict
	}
	if cfg.Currency == "" {
		cfg.Currency = "VND"
	}
	return &PaymentReconciler{
		orders:   orders,
		payments: payments,
		machine:  machine,
		registry: registry,
		policy:   cfg.Policy,
		currency: cfg.Currency,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// CreatePayment records a pending attempt before contacting the gateway, so
// a callback can never arrive for an unknown transaction.
func (r *PaymentReconciler) CreatePayment(ctx context.Context, caller Caller, req models.CreatePaymentRequest, clientIP string) (*models.PaymentResult, *ServiceError) {
	adapter, err := r.registry.Get(req.Gateway)
	if err != nil {
		return nil, newError(KindInvalidRequest, fmt.Sprintf("Unsupported payment gateway %q", req.Gateway), err)
	}

	order, err := r.orders.FindByID(ctx, req.OrderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "Order not found", err)
	}
	if err != nil {
		r.logger.Error("Failed to load order for payment", zap.Uint("order_id", req.OrderID), zap.Error(err))
		return nil, newError(KindInternal, "Failed to load order", err)
	}
	if !caller.CanAccess(order.UserID) {
		return nil, newError(KindOwnershipDenied, "You do not have access to this order", nil)
	}

	current, err := r.orders.LatestStatus(ctx, order.ID)
	if err != nil {
		return nil, newError(KindInternal, "Failed to load order status", err)
	}
	if current == "" {
		current = order.Status
	}
	if current != models.OrderStatusPending {
		return nil, newError(KindOrderNotPending, fmt.Sprintf("Order is %s and cannot be paid", current), nil)
	}

	now := r.now()
	payment := &models.Payment{
		ID:            uuid.New(),
		OrderID:       order.ID,
		UserID:        order.UserID,
		Gateway:       adapter.Name(),
		TransactionID: gateways.NewTransactionID(adapter.Name(), now),
		Amount:        order.TotalAmount,
		Currency:      r.currency,
		Status:        models.PaymentStatusPending,
	}
	if err := r.payments.Create(ctx, payment); err != nil {
		r.logger.Error("Failed to record payment attempt", zap.Uint("order_id", order.ID), zap.Error(err))
		return nil, newError(KindInternal, "Failed to create payment", err)
	}

	resp, err := adapter.CreatePaymentRequest(ctx, gateways.PaymentRequest{
		TransactionID: payment.TransactionID,
		OrderID:       order.ID,
		Amount:        order.TotalAmount,
		Description:   req.Description,
		ReturnURL:     req.ReturnURL,
		CancelURL:     req.CancelURL,
		ClientIP:      clientIP,
		CreatedAt:     now,
	})
	if err != nil {
		kind := KindGatewayUnavailable
		message := "Payment gateway is unavailable"
		if errors.Is(err, gateways.ErrGatewayMisconfigured) {
			kind = KindGatewayMisconfigured
			message = "Payment gateway is not configured"
		}
		r.logger.Error("Gateway rejected payment request",
			zap.String("gateway", payment.Gateway),
			zap.String("transaction_id", payment.TransactionID),
			zap.Error(err),
		)
		// The caller may already be gone; the attempt must not stay pending.
		if _, rerr := r.payments.Resolve(context.WithoutCancel(ctx), payment.ID, models.PaymentResolution{
			Status:        models.PaymentStatusFailed,
			FailureReason: err.Error(),
			At:            r.now(),
		}); rerr != nil {
			r.logger.Error("Failed to mark payment attempt failed", zap.Error(rerr))
		}
		recordCount(r.metrics, r.logger, aws_pkg.MetricPaymentFailed, map[string]string{"Gateway": payment.Gateway})
		return nil, newError(kind, message, err)
	}

	var redirect, providerRef *string
	if resp.RedirectURL != "" {
		redirect = &resp.RedirectURL
	}
	if resp.ProviderRef != "" {
		providerRef = &resp.ProviderRef
	}
	if redirect != nil || providerRef != nil {
		if err := r.payments.SetRedirect(ctx, payment.ID, redirect, providerRef); err != nil {
			r.logger.Warn("Failed to store redirect URL", zap.String("transaction_id", payment.TransactionID), zap.Error(err))
		}
	}

	r.logger.Info("Payment created",
		zap.String("gateway", payment.Gateway),
		zap.String("transaction_id", payment.TransactionID),
		zap.Uint("order_id", order.ID),
		zap.Int64("amount", payment.Amount),
	)
	recordCount(r.metrics, r.logger, aws_pkg.MetricPaymentsCreated, map[string]string{"Gateway": payment.Gateway})

	return &models.PaymentResult{
		PaymentID:     payment.ID.String(),
		TransactionID: payment.TransactionID,
		Gateway:       payment.Gateway,
		RedirectURL:   redirect,
		Amount:        payment.Amount,
		Status:        payment.Status,
	}, nil
}

// HandleCallback applies one provider notification. It is safe to call any
// number of times with the same payload.
func (r *PaymentReconciler) HandleCallback(ctx context.Context, gatewayName string, raw []byte) bool {
	log := r.logger.With(zap.String("gateway", gatewayName))

	adapter, err := r.registry.Get(gatewayName)
	if err != nil {
		log.Warn("Callback for unsupported gateway", zap.Error(err))
		return false
	}

	result, err := adapter.VerifyCallback(raw)
	if err != nil {
		log.Warn("Rejected unreadable callback", zap.Error(err))
		recordCount(r.metrics, r.logger, aws_pkg.MetricCallbacksRejected, map[string]string{"Gateway": adapter.Name()})
		return false
	}
	log = log.With(zap.String("transaction_id", result.TransactionID))

	payment, err := r.payments.FindByGatewayTransaction(ctx, adapter.Name(), result.TransactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("Callback for unknown transaction")
		return true
	}
	if err != nil {
		log.Error("Failed to load payment for callback", zap.Error(err))
		return false
	}

	if payment.IsTerminal() {
		log.Info("Duplicate callback for settled payment", zap.String("status", payment.Status))
		recordCount(r.metrics, r.logger, aws_pkg.MetricCallbacksDuplicated, map[string]string{"Gateway": adapter.Name()})
		return r.resumeConfirmation(ctx, payment)
	}

	if !result.SignatureValid {
		log.Warn("Callback signature mismatch", zap.String("policy", string(r.policy)))
		if r.policy != SignatureLenient {
			recordCount(r.metrics, r.logger, aws_pkg.MetricCallbacksRejected, map[string]string{"Gateway": adapter.Name()})
			return false
		}
	}

	switch result.Status {
	case gateways.StatusPaid:
		return r.settle(ctx, payment, models.PaymentResolution{
			Status:          models.PaymentStatusPaid,
			ProviderRef:     result.ProviderRef,
			CallbackPayload: string(raw),
			At:              r.now(),
		})
	case gateways.StatusFailed:
		return r.settle(ctx, payment, models.PaymentResolution{
			Status:          models.PaymentStatusFailed,
			ProviderRef:     result.ProviderRef,
			CallbackPayload: string(raw),
			FailureReason:   result.Message,
			At:              r.now(),
		})
	default:
		log.Info("Provider reports payment still pending")
		return true
	}
}

// Acknowledge returns the response body the named provider expects.
func (r *PaymentReconciler) Acknowledge(gatewayName string, ok bool) (int, interface{}) {
	adapter, err := r.registry.Get(gatewayName)
	if err != nil {
		return http.StatusNotFound, map[string]interface{}{"error": "unsupported gateway"}
	}
	return adapter.Acknowledge(ok)
}

func (r *PaymentReconciler) GetPaymentStatus(ctx context.Context, caller Caller, transactionID string) (*models.Payment, *ServiceError) {
	payment, svcErr := r.findPayment(ctx, transactionID)
	if svcErr != nil {
		return nil, svcErr
	}
	if !caller.CanAccess(payment.UserID) {
		return nil, newError(KindOwnershipDenied, "You do not have access to this payment", nil)
	}
	return payment, nil
}

func (r *PaymentReconciler) GetOrderPayments(ctx context.Context, caller Caller, orderID uint) ([]models.Payment, *ServiceError) {
	order, err := r.orders.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "Order not found", err)
	}
	if err != nil {
		return nil, newError(KindInternal, "Failed to load order", err)
	}
	if !caller.CanAccess(order.UserID) {
		return nil, newError(KindOwnershipDenied, "You do not have access to this order", nil)
	}
	payments, err := r.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		r.logger.Error("Failed to list payments", zap.Uint("order_id", orderID), zap.Error(err))
		return nil, newError(KindInternal, "Failed to fetch payments", err)
	}
	return payments, nil
}

// Reconcile asks the gateway for the current state of a pending payment and
// applies it as if a callback had arrived.
func (r *PaymentReconciler) Reconcile(ctx context.Context, transactionID string) (*models.Payment, *ServiceError) {
	payment, svcErr := r.findPayment(ctx, transactionID)
	if svcErr != nil {
		return nil, svcErr
	}
	if payment.IsTerminal() {
		return payment, nil
	}

	adapter, err := r.registry.Get(payment.Gateway)
	if err != nil {
		return nil, newError(KindGatewayMisconfigured, "Payment gateway is not configured", err)
	}
	querier, ok := adapter.(gateways.Querier)
	if !ok {
		return nil, newError(KindInvalidRequest,
			fmt.Sprintf("Gateway %s does not support status queries", payment.Gateway), gateways.ErrQueryUnsupported)
	}

	qr, err := querier.Query(ctx, transactionID)
	if err != nil {
		r.logger.Error("Gateway status query failed",
			zap.String("gateway", payment.Gateway), zap.String("transaction_id", transactionID), zap.Error(err))
		if errors.Is(err, gateways.ErrGatewayMisconfigured) {
			return nil, newError(KindGatewayMisconfigured, "Payment gateway is not configured", err)
		}
		return nil, newError(KindGatewayUnavailable, "Payment gateway is unavailable", err)
	}

	var res *models.PaymentResolution
	switch qr.Status {
	case gateways.StatusPaid:
		res = &models.PaymentResolution{Status: models.PaymentStatusPaid, ProviderRef: qr.ProviderRef, At: r.now()}
	case gateways.StatusFailed:
		res = &models.PaymentResolution{Status: models.PaymentStatusFailed, ProviderRef: qr.ProviderRef, FailureReason: qr.Message, At: r.now()}
	}
	if res != nil && !r.settle(ctx, payment, *res) {
		return nil, newError(KindInternal, "Failed to apply gateway status", nil)
	}
	return r.findPayment(ctx, transactionID)
}

// MockCallback settles a pending payment without a provider. Routes expose
// it only outside production.
func (r *PaymentReconciler) MockCallback(ctx context.Context, transactionID string, success bool) (*models.Payment, *ServiceError) {
	payment, svcErr := r.findPayment(ctx, transactionID)
	if svcErr != nil {
		return nil, svcErr
	}
	if !payment.IsTerminal() {
		res := models.PaymentResolution{Status: models.PaymentStatusPaid, At: r.now()}
		if !success {
			res = models.PaymentResolution{Status: models.PaymentStatusFailed, FailureReason: "mock failure", At: r.now()}
		}
		if !r.settle(ctx, payment, res) {
			return nil, newError(KindInternal, "Failed to apply mock callback", nil)
		}
	}
	return r.findPayment(ctx, transactionID)
}

// settle performs the pending -> terminal update and, for the call that wins
// it, confirms the order.
func (r *PaymentReconciler) settle(ctx context.Context, payment *models.Payment, res models.PaymentResolution) bool {
	log := r.logger.With(
		zap.String("gateway", payment.Gateway),
		zap.String("transaction_id", payment.TransactionID),
		zap.Uint("order_id", payment.OrderID),
	)

	won, err := r.payments.Resolve(ctx, payment.ID, res)
	if err != nil {
		log.Error("Failed to update payment", zap.Error(err))
		return false
	}
	if !won {
		log.Info("Payment already settled by a concurrent callback")
		current, err := r.payments.FindByGatewayTransaction(ctx, payment.Gateway, payment.TransactionID)
		if err != nil {
			log.Error("Failed to reload payment", zap.Error(err))
			return false
		}
		return r.resumeConfirmation(ctx, current)
	}

	payment.Status = res.Status
	if res.Status == models.PaymentStatusFailed {
		log.Info("Payment failed", zap.String("reason", res.FailureReason))
		recordCount(r.metrics, r.logger, aws_pkg.MetricPaymentFailed, map[string]string{"Gateway": payment.Gateway})
		return true
	}

	log.Info("Payment succeeded")
	recordCount(r.metrics, r.logger, aws_pkg.MetricPaymentSucceeded, map[string]string{"Gateway": payment.Gateway})
	return r.confirmOrder(ctx, payment)
}

// resumeConfirmation finishes a paid payment whose order was never confirmed,
// e.g. after a crash between the two writes.
func (r *PaymentReconciler) resumeConfirmation(ctx context.Context, payment *models.Payment) bool {
	if payment.Status != models.PaymentStatusPaid {
		return true
	}
	status, err := r.orders.LatestStatus(ctx, payment.OrderID)
	if err != nil {
		r.logger.Error("Failed to read order status", zap.Uint("order_id", payment.OrderID), zap.Error(err))
		return false
	}
	if status != models.OrderStatusPending {
		return true
	}
	r.logger.Info("Resuming order confirmation for paid payment",
		zap.Uint("order_id", payment.OrderID), zap.String("transaction_id", payment.TransactionID))
	return r.confirmOrder(ctx, payment)
}

func (r *PaymentReconciler) confirmOrder(ctx context.Context, payment *models.Payment) bool {
	_, svcErr := r.machine.Transition(ctx, payment.OrderID, models.OrderStatusConfirmed,
		"payment:"+payment.Gateway, "Payment "+payment.TransactionID+" succeeded")
	if svcErr == nil {
		return true
	}
	switch svcErr.Kind {
	case KindInvalidTransition, KindNotFound:
		// The order moved on (usually cancelled) before the money arrived.
		r.logger.Warn("Paid payment could not confirm order",
			zap.Uint("order_id", payment.OrderID),
			zap.String("transaction_id", payment.TransactionID),
			zap.String("reason", svcErr.Message),
		)
		return true
	default:
		r.logger.Error("Failed to confirm order after payment",
			zap.Uint("order_id", payment.OrderID), zap.Error(svcErr))
		return false
	}
}

func (r *PaymentReconciler) findPayment(ctx context.Context, transactionID string) (*models.Payment, *ServiceError) {
	payment, err := r.payments.FindByTransactionID(ctx, transactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "Payment not found", err)
	}
	if err != nil {
		r.logger.Error("Failed to load payment", zap.String("transaction_id", transactionID), zap.Error(err))
		return nil, newError(KindInternal, "Failed to load payment", err)
	}
	return payment, nil
}
