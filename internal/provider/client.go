package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/util"
)

const (
	maxAttempts       = 3
	retryInitialDelay = 500 * time.Millisecond
)

// Client talks to the payment provider's REST API. Every mutating call
// carries an Idempotency-Key header, so retrying after a network error or
// 5xx cannot create a second provider object.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a new provider client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Intent is the provider's payment intent object.
type Intent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
}

// CheckoutSession is the provider's hosted checkout object. The payment
// intent id may be empty until the session completes.
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentIntent string            `json:"payment_intent"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata"`
}

// Refund is the provider's refund object.
type Refund struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Amount        int64             `json:"amount"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata"`
}

// Transfer is the provider's payout transfer object.
type Transfer struct {
	ID          string            `json:"id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Destination string            `json:"destination"`
	Metadata    map[string]string `json:"metadata"`
}

type CreateIntentRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Method         string            `json:"payment_method_type"`
	Metadata       map[string]string `json:"metadata"`
	IdempotencyKey string            `json:"-"`
}

type CreateSessionRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	SuccessURL     string            `json:"success_url"`
	CancelURL      string            `json:"cancel_url"`
	Metadata       map[string]string `json:"metadata"`
	IdempotencyKey string            `json:"-"`
}

type CreateRefundRequest struct {
	PaymentIntent  string            `json:"payment_intent"`
	Amount         int64             `json:"amount"`
	Reason         string            `json:"reason"`
	Metadata       map[string]string `json:"metadata"`
	IdempotencyKey string            `json:"-"`
}

type CreateTransferRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Destination    string            `json:"destination"`
	Metadata       map[string]string `json:"metadata"`
	IdempotencyKey string            `json:"-"`
}

// CancelIntent asks the provider to cancel an intent that has not succeeded.
func (c *Client) CancelIntent(ctx context.Context, intentID string) (*Intent, error) {
	var intent Intent
	err := c.post(ctx, "cancel_intent", fmt.Sprintf("/v1/payment_intents/%s/cancel", intentID), nil, "", &intent)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// CreateIntent creates a payment intent
func (c *Client) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	var intent Intent
	err := c.post(ctx, "create_intent", "/v1/payment_intents", req, req.IdempotencyKey, &intent)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// CreateCheckoutSession creates a hosted checkout session
func (c *Client) CreateCheckoutSession(ctx context.Context, req CreateSessionRequest) (*CheckoutSession, error) {
	var session CheckoutSession
	err := c.post(ctx, "create_session", "/v1/checkout/sessions", req, req.IdempotencyKey, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateRefund asks the provider to refund part of a settled intent
func (c *Client) CreateRefund(ctx context.Context, req CreateRefundRequest) (*Refund, error) {
	var refund Refund
	err := c.post(ctx, "create_refund", "/v1/refunds", req, req.IdempotencyKey, &refund)
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// CreateTransfer moves settled funds to a driver or restaurant account
func (c *Client) CreateTransfer(ctx context.Context, req CreateTransferRequest) (*Transfer, error) {
	var transfer Transfer
	err := c.post(ctx, "create_transfer", "/v1/transfers", req, req.IdempotencyKey, &transfer)
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, op, path string, in interface{}, idempotencyKey string, out interface{}) error {
	start := time.Now()
	defer func() {
		util.ProviderCallLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * retryInitialDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = apperr.Upstream(err, "provider %s failed", op)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = apperr.Upstream(err, "provider %s: reading response failed", op)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return apperr.Upstream(err, "provider %s: decoding response failed", op)
			}
			return nil
		}

		var perr providerError
		msg := string(respBody)
		if json.Unmarshal(respBody, &perr) == nil && perr.Error.Message != "" {
			msg = perr.Error.Message
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = apperr.Upstream(nil, "provider %s returned %d: %s", op, resp.StatusCode, msg)
			continue
		}

		// 4xx from the provider means the request itself is wrong; the
		// caller's input did not survive contact with the provider.
		return apperr.Upstream(nil, "provider %s rejected request (%d): %s", op, resp.StatusCode, msg)
	}

	return lastErr
}
