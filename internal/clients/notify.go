package clients

import (
	"context"
	"time"
)

// Notification is a message for the notification service to deliver.
type Notification struct {
	UserID int64             `json:"user_id"`
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// NotificationClient sends user-facing notifications. Deliveries are
// best-effort; callers log failures and move on rather than blocking the
// flow that produced the notification.
type NotificationClient struct {
	doer httpDoer
}

// NewNotificationClient creates a new notification client
func NewNotificationClient(baseURL string, timeout time.Duration, retries int) *NotificationClient {
	return &NotificationClient{doer: newHTTPDoer(baseURL, timeout, retries)}
}

// Send submits a notification for delivery
func (c *NotificationClient) Send(ctx context.Context, note Notification) error {
	return c.doer.postJSON(ctx, "/notifications", note, nil)
}
