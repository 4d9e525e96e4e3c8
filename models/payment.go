package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment status values. paid and failed are terminal.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Payment is one payment attempt against an order. (Gateway, TransactionID)
// is the idempotency key for callback processing.
type Payment struct {
	ID              uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID         uint       `gorm:"not null;index" json:"order_id"`
	UserID          string     `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Gateway         string     `gorm:"type:varchar(20);not null;uniqueIndex:idx_payments_gateway_txn" json:"gateway"`
	TransactionID   string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_payments_gateway_txn" json:"transaction_id"`
	Amount          int64      `gorm:"not null" json:"amount"`
	Currency        string     `gorm:"type:varchar(10);not null" json:"currency"`
	Status          string     `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	RedirectURL     *string    `gorm:"type:varchar(2048)" json:"redirect_url,omitempty"`
	ProviderRef     *string    `gorm:"type:varchar(128)" json:"provider_ref,omitempty"`
	CallbackPayload *string    `gorm:"type:text" json:"-"`
	FailureReason   *string    `gorm:"type:varchar(512)" json:"failure_reason,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	FailedAt        *time.Time `json:"failed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the payment can no longer change status.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusPaid || p.Status == PaymentStatusFailed
}

// PaymentResolution carries the fields written when a pending payment settles.
type PaymentResolution struct {
	Status          string
	ProviderRef     string
	CallbackPayload string
	FailureReason   string
	At              time.Time
}

// CreatePaymentRequest is the payload for POST /payment/create.
type CreatePaymentRequest struct {
	OrderID     uint   `json:"order_id" binding:"required"`
	Gateway     string `json:"gateway" binding:"required"`
	ReturnURL   string `json:"return_url"`
	CancelURL   string `json:"cancel_url"`
	Description string `json:"description"`
}

// PaymentResult is returned to the client after a payment attempt is created.
type PaymentResult struct {
	PaymentID     string  `json:"payment_id"`
	TransactionID string  `json:"transaction_id"`
	Gateway       string  `json:"gateway"`
	RedirectURL   *string `json:"redirect_url,omitempty"`
	Amount        int64   `json:"amount"`
	Status        string  `json:"status"`
}

// CallbackMessage is the SQS envelope for asynchronously delivered callbacks.
type CallbackMessage struct {
	Gateway string `json:"gateway"`
	Payload string `json:"payload"`
}
