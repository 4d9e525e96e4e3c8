package repository

import (
	"context"
	"time"

	"order-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByGatewayTransaction(ctx context.Context, gateway, transactionID string) (*models.Payment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	FindByOrderID(ctx context.Context, orderID uint) ([]models.Payment, error)
	LatestStatusByOrderIDs(ctx context.Context, orderIDs []uint) (map[uint]string, error)
	SetRedirect(ctx context.Context, id uuid.UUID, redirectURL, providerRef *string) error
	// Resolve moves a pending payment to a terminal status. It reports false
	// when the payment was no longer pending, which makes replays no-ops.
	Resolve(ctx context.Context, id uuid.UUID, res models.PaymentResolution) (bool, error)
}

type gormPaymentRepo struct {
	db *gorm.DB
}

func NewGormPaymentRepo(db *gorm.DB) PaymentRepository {
	return &gormPaymentRepo{db: db}
}

func (r *gormPaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *gormPaymentRepo) FindByGatewayTransaction(ctx context.Context, gateway, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("gateway = ? AND transaction_id = ?", gateway, transactionID).
		First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *gormPaymentRepo) FindByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *gormPaymentRepo) FindByOrderID(ctx context.Context, orderID uint) ([]models.Payment, error) {
	var payments []models.Payment
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *gormPaymentRepo) LatestStatusByOrderIDs(ctx context.Context, orderIDs []uint) (map[uint]string, error) {
	statuses := make(map[uint]string, len(orderIDs))
	if len(orderIDs) == 0 {
		return statuses, nil
	}

	var rows []struct {
		OrderID uint
		Status  string
	}
	if err := r.db.WithContext(ctx).Raw(
		`SELECT DISTINCT ON (order_id) order_id, status FROM payments WHERE order_id IN ? ORDER BY order_id, created_at DESC`,
		orderIDs,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		statuses[row.OrderID] = row.Status
	}
	return statuses, nil
}

func (r *gormPaymentRepo) SetRedirect(ctx context.Context, id uuid.UUID, redirectURL, providerRef *string) error {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if redirectURL != nil {
		updates["redirect_url"] = redirectURL
	}
	if providerRef != nil {
		updates["provider_ref"] = providerRef
	}
	return r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormPaymentRepo) Resolve(ctx context.Context, id uuid.UUID, res models.PaymentResolution) (bool, error) {
	if res.At.IsZero() {
		res.At = time.Now()
	}
	updates := map[string]interface{}{
		"status":     res.Status,
		"updated_at": res.At,
	}
	switch res.Status {
	case models.PaymentStatusPaid:
		updates["paid_at"] = res.At
	case models.PaymentStatusFailed:
		updates["failed_at"] = res.At
		if res.FailureReason != "" {
			updates["failure_reason"] = res.FailureReason
		}
	}
	if res.ProviderRef != "" {
		updates["provider_ref"] = res.ProviderRef
	}
	if res.CallbackPayload != "" {
		updates["callback_payload"] = res.CallbackPayload
	}

	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
