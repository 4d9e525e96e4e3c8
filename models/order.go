package models

import (
	"time"
)

// Order status values.
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
)

// Order is a placed storefront order. TotalAmount is in minor currency units
// and never changes after creation.
type Order struct {
	ID              uint                 `gorm:"primaryKey" json:"id"`
	UserID          string               `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Status          string               `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	TotalAmount     int64                `gorm:"not null" json:"total_amount"`
	ShippingAddress string               `gorm:"type:text" json:"shipping_address"`
	PaymentMethod   string               `gorm:"type:varchar(32)" json:"payment_method"`
	CreatedAt       time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
	Items           []OrderItem          `gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"items,omitempty"`
	History         []OrderStatusHistory `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE;" json:"history,omitempty"`

	// PaymentStatus is derived from the newest payment attempt on read.
	PaymentStatus string `gorm:"-" json:"payment_status,omitempty"`
}

// Customization is one opaque selection captured with an order line.
type Customization struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type OrderItem struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	OrderID        uint            `gorm:"not null;index" json:"order_id"`
	ProductID      string          `gorm:"type:varchar(128);not null" json:"product_id"`
	Quantity       int             `gorm:"not null" json:"quantity"`
	UnitPrice      int64           `gorm:"not null" json:"unit_price"`
	LineTotal      int64           `gorm:"not null" json:"line_total"`
	Customizations []Customization `gorm:"type:jsonb;serializer:json" json:"customizations,omitempty"`
}

// OrderStatusHistory is the append-only status log. The newest row for an
// order always carries the order's current status.
type OrderStatusHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OrderID   uint      `gorm:"not null;index" json:"order_id"`
	Status    string    `gorm:"type:varchar(20);not null" json:"status"`
	Actor     string    `gorm:"type:varchar(128)" json:"actor,omitempty"`
	Note      string    `gorm:"type:text" json:"note,omitempty"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName keeps the history table name singular.
func (OrderStatusHistory) TableName() string { return "order_status_history" }

// PlaceOrderRequest is the payload for POST /orders.
type PlaceOrderRequest struct {
	ShippingAddress string `json:"shipping_address" binding:"required"`
	PaymentMethod   string `json:"payment_method"`
}

// StatusUpdateRequest is the payload for the admin status endpoints.
type StatusUpdateRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

// CancelOrderRequest is the optional payload for POST /cancel/:orderId.
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// BulkStatusUpdate is one entry of an admin bulk update.
type BulkStatusUpdate struct {
	OrderID uint   `json:"order_id" binding:"required"`
	Status  string `json:"status" binding:"required"`
	Note    string `json:"note"`
}

type BulkUpdateRequest struct {
	Updates []BulkStatusUpdate `json:"updates" binding:"required,min=1,dive"`
}

// OrderTracking is the read model behind GET /tracking/:orderId.
type OrderTracking struct {
	OrderID           uint                 `json:"order_id"`
	Status            string               `json:"status"`
	History           []OrderStatusHistory `json:"history"`
	EstimatedDelivery *time.Time           `json:"estimated_delivery,omitempty"`
	TrackingNumber    string               `json:"tracking_number"`
	ShippingProvider  string               `json:"shipping_provider"`
}

// OrderStatistics counts orders per status.
type OrderStatistics struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}

// MetaData is the pagination block returned by list endpoints.
type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int   `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

type OrderListResponse struct {
	Orders []Order  `json:"orders"`
	Meta   MetaData `json:"meta"`
}
