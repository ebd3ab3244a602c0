package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses. PENDING_PAYMENT orders are reused across checkout retries;
// the remaining states are reached through payment reconciliation or
// downstream fulfillment.
const (
	OrderStatusPendingPayment = "PENDING_PAYMENT"
	OrderStatusConfirmed      = "CONFIRMED"
	OrderStatusShipped        = "SHIPPED"
	OrderStatusDelivered      = "DELIVERED"
	OrderStatusCancelled      = "CANCELLED"
)

// Payment statuses. Transitions are monotonic per row: CREATED may move to
// SUCCESS or FAILED, both terminal.
const (
	PaymentStatusCreated = "CREATED"
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusFailed  = "FAILED"
)

// Human-readable tracking labels appended to the order timeline.
const (
	TrackingPendingPayment = "Pending Payment"
	TrackingConfirmed      = "Confirmed"
)

// Order is a customer order. Monetary fields are fixed-point decimals;
// GrandTotal = Subtotal + DeliveryCharges + Tax is enforced at checkout.
type Order struct {
	BaseModel
	UserID          uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	User            *User           `json:"user,omitempty"`
	Subtotal        decimal.Decimal `gorm:"type:decimal(10,2)" json:"total"`
	DeliveryCharges decimal.Decimal `gorm:"type:decimal(10,2)" json:"delivery_charges"`
	Tax             decimal.Decimal `gorm:"type:decimal(10,2)" json:"tax"`
	GrandTotal      decimal.Decimal `gorm:"type:decimal(10,2)" json:"grand_total"`
	Status          string          `gorm:"default:PENDING_PAYMENT" json:"status"`
	Items           []OrderItem     `gorm:"constraint:OnDelete:CASCADE" json:"items,omitempty"`
	TrackingUpdates []OrderTracking `gorm:"constraint:OnDelete:CASCADE" json:"tracking_updates,omitempty"`
	Payment         *Payment        `gorm:"constraint:OnDelete:CASCADE" json:"payment,omitempty"`
}

// OrderItem is a line of an order with the unit price copied from the
// catalog at purchase time.
type OrderItem struct {
	BaseModel
	OrderID   uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	ProductID uuid.UUID       `gorm:"type:uuid" json:"product"`
	Product   *Product        `json:"product_detail,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2)" json:"price"`
}

// OrderTracking is an append-only timeline entry. Consecutive duplicates of
// the same status are never written.
type OrderTracking struct {
	BaseModel
	OrderID uuid.UUID `gorm:"type:uuid;index" json:"order_id"`
	Status  string    `json:"status"`
	Time    time.Time `gorm:"autoCreateTime" json:"time"`
}

// Payment holds gateway-side state for an order. An order carries at most one
// active payment lineage, reused while it stays in CREATED.
type Payment struct {
	BaseModel
	OrderID          uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	GatewayOrderID   string          `gorm:"index" json:"razorpay_order_id"`
	GatewayPaymentID string          `json:"razorpay_payment_id"`
	GatewaySignature string          `json:"razorpay_signature"`
	Amount           decimal.Decimal `gorm:"type:decimal(10,2)" json:"amount"`
	Currency         string          `gorm:"default:INR" json:"currency"`
	Status           string          `gorm:"default:CREATED" json:"status"`
}
