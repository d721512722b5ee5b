package clients

import (
	"context"
	"fmt"
	"time"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/models"

	"github.com/shopspring/decimal"
)

// OrderDetails is the order ledger's GET response: the order plus its items.
type OrderDetails struct {
	Order models.Order       `json:"order"`
	Items []models.OrderItem `json:"items"`
}

// OrderClient is the payment service's handle on the order ledger. Reads
// validate payments against the order; the two update calls relay payment and
// refund outcomes through the ledger's narrow setters.
type OrderClient struct {
	doer httpDoer
}

// NewOrderClient creates a new order ledger client
func NewOrderClient(baseURL string, timeout time.Duration, retries int) *OrderClient {
	return &OrderClient{doer: newHTTPDoer(baseURL, timeout, retries)}
}

// GetOrder fetches an order with its items
func (c *OrderClient) GetOrder(ctx context.Context, orderID int64) (*OrderDetails, error) {
	var details OrderDetails
	err := c.doer.getJSON(ctx, fmt.Sprintf("/api/v1/orders/%d", orderID), &details)
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("order %d not found", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &details, nil
}

type paymentStatusUpdate struct {
	EventID string `json:"event_id"`
	Event   string `json:"event"`
}

// UpdatePaymentStatus relays a payment outcome to the order ledger. The event
// id lets the ledger drop redeliveries of the same outcome.
func (c *OrderClient) UpdatePaymentStatus(ctx context.Context, orderID int64, eventID, event string) error {
	body := paymentStatusUpdate{EventID: eventID, Event: event}
	return c.doer.putJSON(ctx, fmt.Sprintf("/api/v1/orders/%d/payment-status", orderID), body, nil)
}

type refundStatusUpdate struct {
	EventID string          `json:"event_id"`
	Event   string          `json:"event"`
	Amount  decimal.Decimal `json:"amount"`
}

// UpdateRefundStatus relays a refund outcome and its amount to the order ledger.
func (c *OrderClient) UpdateRefundStatus(ctx context.Context, orderID int64, eventID, event string, amount decimal.Decimal) error {
	body := refundStatusUpdate{EventID: eventID, Event: event, Amount: amount}
	return c.doer.putJSON(ctx, fmt.Sprintf("/api/v1/orders/%d/refund-status", orderID), body, nil)
}
