package clients

import (
	"context"
	"time"

	"delivery-platform/internal/models"
)

type refundRequest struct {
	OrderID     int64  `json:"order_id"`
	Reason      string `json:"reason"`
	Description string `json:"description,omitempty"`
	RequestedBy string `json:"requested_by"`
}

// PaymentClient is the order ledger's handle on the payment service, used to
// kick off the automatic refund when a paid order is cancelled. The broker
// event carries the same request as a backstop, so this call is best-effort.
type PaymentClient struct {
	doer httpDoer
}

// NewPaymentClient creates a new payment service client
func NewPaymentClient(baseURL string, timeout time.Duration, retries int) *PaymentClient {
	return &PaymentClient{doer: newHTTPDoer(baseURL, timeout, retries)}
}

// RequestRefund asks the payment service to refund whatever was charged for
// the order.
func (c *PaymentClient) RequestRefund(ctx context.Context, orderID int64, reason, requestedBy string) error {
	body := refundRequest{
		OrderID:     orderID,
		Reason:      string(models.RefundReasonOrderCancelled),
		Description: reason,
		RequestedBy: requestedBy,
	}
	return c.doer.postJSON(ctx, "/api/v1/refunds", body, nil)
}
