package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfillment state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusPickedUp  OrderStatus = "picked_up"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// orderTransitions is the whitelist of legal order status moves. Anything
// not listed is rejected with a conflict instead of being written blindly.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusPickedUp, OrderStatusCancelled},
	OrderStatusPickedUp:  {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered: {OrderStatusRefunded},
	OrderStatusCancelled: {OrderStatusRefunded},
	OrderStatusRefunded:  {},
}

// CanTransition reports whether from → to is a legal order status move.
func (from OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// OrderPaymentStatus tracks the payment side of an order, independent of
// its fulfillment status.
type OrderPaymentStatus string

const (
	OrderPaymentUnpaid            OrderPaymentStatus = "unpaid"
	OrderPaymentPending           OrderPaymentStatus = "pending"
	OrderPaymentPaid              OrderPaymentStatus = "paid"
	OrderPaymentFailed            OrderPaymentStatus = "failed"
	OrderPaymentRefunded          OrderPaymentStatus = "refunded"
	OrderPaymentPartiallyRefunded OrderPaymentStatus = "partially_refunded"
)

// PaymentStatus is the state of a provider-backed payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// paymentTransitions is monotone forward: a payment never returns to
// pending once the provider has started working on it.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusSucceeded:  {},
	PaymentStatusFailed:     {},
	PaymentStatusCancelled:  {},
}

// CanTransition reports whether from → to is a legal payment status move.
func (from PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the payment can no longer change state.
func (s PaymentStatus) Terminal() bool {
	return len(paymentTransitions[s]) == 0
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// RefundStatus is the state of a single refund against a payment.
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusSucceeded  RefundStatus = "succeeded"
	RefundStatusFailed     RefundStatus = "failed"
)

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusPending:    {RefundStatusProcessing, RefundStatusSucceeded, RefundStatusFailed},
	RefundStatusProcessing: {RefundStatusSucceeded, RefundStatusFailed},
	RefundStatusSucceeded:  {},
	RefundStatusFailed:     {},
}

// CanTransition reports whether from → to is a legal refund status move.
func (from RefundStatus) CanTransition(to RefundStatus) bool {
	for _, next := range refundTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the refund has settled.
func (s RefundStatus) Terminal() bool {
	return len(refundTransitions[s]) == 0
}

// RefundReason records why a refund was raised.
type RefundReason string

const (
	RefundReasonCustomerRequest RefundReason = "requested_by_customer"
	RefundReasonOrderCancelled  RefundReason = "order_cancelled"
	RefundReasonDuplicate       RefundReason = "duplicate"
	RefundReasonFraudulent      RefundReason = "fraudulent"
	RefundReasonOther           RefundReason = "other"
)

// PayoutStatus tracks driver earnings and restaurant settlements.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusPaid       PayoutStatus = "paid"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// Cross-service payment/refund event names carried by the order ledger's
// narrow setters (PUT /orders/{id}/payment-status, …/refund-status).
const (
	PaymentEventPending   = "payment.pending"
	PaymentEventSucceeded = "payment.succeeded"
	PaymentEventFailed    = "payment.failed"
	PaymentEventCancelled = "payment.cancelled"
	RefundEventInitiated  = "refund.initiated"
	RefundEventSucceeded  = "refund.succeeded"
	RefundEventFailed     = "refund.failed"
)

// Metadata is an opaque string map persisted as JSONB.
type Metadata map[string]string

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: cannot scan %T", src)
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

// Order is a customer's purchase request against one restaurant.
type Order struct {
	ID                    int64              `db:"id" json:"id"`
	OrderNumber           string             `db:"order_number" json:"order_number"`
	CustomerID            int64              `db:"customer_id" json:"customer_id"`
	RestaurantID          int64              `db:"restaurant_id" json:"restaurant_id"`
	DriverID              *int64             `db:"driver_id" json:"driver_id,omitempty"`
	Status                OrderStatus        `db:"status" json:"status"`
	PaymentStatus         OrderPaymentStatus `db:"payment_status" json:"payment_status"`
	Subtotal              decimal.Decimal    `db:"subtotal" json:"subtotal"`
	DeliveryFee           decimal.Decimal    `db:"delivery_fee" json:"delivery_fee"`
	Total                 decimal.Decimal    `db:"total" json:"total"`
	RefundAmount          decimal.Decimal    `db:"refund_amount" json:"refund_amount"`
	DeliveryAddress       string             `db:"delivery_address" json:"delivery_address"`
	EstimatedDeliveryTime *time.Time         `db:"estimated_delivery_time" json:"estimated_delivery_time,omitempty"`
	ActualDeliveryTime    *time.Time         `db:"actual_delivery_time" json:"actual_delivery_time,omitempty"`
	CancelReason          *string            `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt             time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time          `db:"updated_at" json:"updated_at"`
}

// OrderItem snapshots an item's name and price at order time. Catalog
// prices may change later; the snapshot is authoritative for this order.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ItemID    int64           `db:"item_id" json:"item_id"`
	Name      string          `db:"name" json:"name"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity  int             `db:"quantity" json:"quantity"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// OrderStatusHistory is the append-only audit log of status transitions.
type OrderStatusHistory struct {
	ID         int64       `db:"id" json:"id"`
	OrderID    int64       `db:"order_id" json:"order_id"`
	FromStatus OrderStatus `db:"from_status" json:"from_status"`
	ToStatus   OrderStatus `db:"to_status" json:"to_status"`
	Note       string      `db:"note" json:"note,omitempty"`
	ChangedBy  string      `db:"changed_by" json:"changed_by,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// Payment is one provider-backed charge per order. The provider intent id
// may be unknown at creation time (checkout-session flow); the session id
// is stored as a first-class column so later reconciliation is a direct
// lookup, never a metadata scan.
type Payment struct {
	ID                int64           `db:"id" json:"id"`
	OrderID           int64           `db:"order_id" json:"order_id"`
	OrderNumber       string          `db:"order_number" json:"order_number"`
	UserID            int64           `db:"user_id" json:"user_id"`
	RestaurantID      int64           `db:"restaurant_id" json:"restaurant_id"`
	ProviderIntentID  *string         `db:"provider_intent_id" json:"provider_intent_id,omitempty"`
	CheckoutSessionID *string         `db:"checkout_session_id" json:"checkout_session_id,omitempty"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Currency          string          `db:"currency" json:"currency"`
	Method            string          `db:"method" json:"method"`
	Status            PaymentStatus   `db:"status" json:"status"`
	Fee               decimal.Decimal `db:"fee" json:"fee"`
	Metadata          Metadata        `db:"metadata" json:"metadata,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Refund is a partial or full reversal of a succeeded payment.
type Refund struct {
	ID               int64           `db:"id" json:"id"`
	PaymentID        int64           `db:"payment_id" json:"payment_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Reason           RefundReason    `db:"reason" json:"reason"`
	Status           RefundStatus    `db:"status" json:"status"`
	Description      string          `db:"description" json:"description,omitempty"`
	RequestedBy      string          `db:"requested_by" json:"requested_by"`
	ProcessedBy      string          `db:"processed_by" json:"processed_by,omitempty"`
	ProviderRefundID *string         `db:"provider_refund_id" json:"provider_refund_id,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// DriverEarning records money owed to a driver for one delivered order.
type DriverEarning struct {
	ID                 int64           `db:"id" json:"id"`
	OrderID            int64           `db:"order_id" json:"order_id"`
	DriverID           int64           `db:"driver_id" json:"driver_id"`
	Gross              decimal.Decimal `db:"gross" json:"gross"`
	Fee                decimal.Decimal `db:"fee" json:"fee"`
	Net                decimal.Decimal `db:"net" json:"net"`
	Status             PayoutStatus    `db:"status" json:"status"`
	ProviderTransferID *string         `db:"provider_transfer_id" json:"provider_transfer_id,omitempty"`
	Metadata           Metadata        `db:"metadata" json:"metadata,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// RestaurantSettlement records money owed to a restaurant for one order.
type RestaurantSettlement struct {
	ID                 int64           `db:"id" json:"id"`
	OrderID            int64           `db:"order_id" json:"order_id"`
	RestaurantID       int64           `db:"restaurant_id" json:"restaurant_id"`
	Gross              decimal.Decimal `db:"gross" json:"gross"`
	Fee                decimal.Decimal `db:"fee" json:"fee"`
	Net                decimal.Decimal `db:"net" json:"net"`
	Status             PayoutStatus    `db:"status" json:"status"`
	ProviderTransferID *string         `db:"provider_transfer_id" json:"provider_transfer_id,omitempty"`
	Metadata           Metadata        `db:"metadata" json:"metadata,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// ProcessedEvent marks a broker or webhook event as already applied.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// RefundStats is the aggregate returned by the refund reporting query.
type RefundStats struct {
	Count int64           `db:"count" json:"count"`
	Total decimal.Decimal `db:"total" json:"total"`
}
