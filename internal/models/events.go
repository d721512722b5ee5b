package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Broker event types. Publishing is best effort: the broker is not assumed
// to deliver reliably, and every consumer must be idempotent.
const (
	EventTypeOrderCreated     = "ORDER_CREATED"
	EventTypeOrderCancelled   = "ORDER_CANCELLED"
	EventTypeOrderDelivered   = "ORDER_DELIVERED"
	EventTypePaymentSucceeded = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypeRefundCreated    = "REFUND_CREATED"
	EventTypeRefundSucceeded  = "REFUND_SUCCEEDED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is created
type OrderCreatedEvent struct {
	BaseEvent
	OrderID      int64           `json:"order_id"`
	OrderNumber  string          `json:"order_number"`
	CustomerID   int64           `json:"customer_id"`
	RestaurantID int64           `json:"restaurant_id"`
	Total        decimal.Decimal `json:"total"`
}

// OrderCancelledEvent published when an order is cancelled
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderDeliveredEvent published when an order reaches delivered. The
// settlement worker derives driver earnings and restaurant settlements
// from it, so it carries the amounts and both counterparties.
type OrderDeliveredEvent struct {
	BaseEvent
	OrderID      int64           `json:"order_id"`
	OrderNumber  string          `json:"order_number"`
	RestaurantID int64           `json:"restaurant_id"`
	DriverID     int64           `json:"driver_id"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	DeliveryFee  decimal.Decimal `json:"delivery_fee"`
	Total        decimal.Decimal `json:"total"`
}

// PaymentSucceededEvent published on the real transition into succeeded
type PaymentSucceededEvent struct {
	BaseEvent
	OrderID          int64           `json:"order_id"`
	PaymentID        int64           `json:"payment_id"`
	Amount           decimal.Decimal `json:"amount"`
	ProviderIntentID string          `json:"provider_intent_id"`
}

// PaymentFailedEvent published on the real transition into failed or cancelled
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id"`
	Reason    string `json:"reason"`
}

// RefundCreatedEvent published when a refund is accepted and sent to the provider
type RefundCreatedEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	PaymentID int64           `json:"payment_id"`
	RefundID  int64           `json:"refund_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// RefundSucceededEvent published when the provider settles a refund
type RefundSucceededEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	PaymentID int64           `json:"payment_id"`
	RefundID  int64           `json:"refund_id"`
	Amount    decimal.Decimal `json:"amount"`
}
