package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/clients"
	"delivery-platform/internal/models"
	"delivery-platform/internal/provider"
	"delivery-platform/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AutoRefunder raises a refund for whatever remains refundable on an
// order's payment. The payment service calls it when a payment succeeds
// for an order that was cancelled in the meantime.
type AutoRefunder interface {
	ProcessAutomaticRefund(ctx context.Context, orderID int64, reason string) error
}

// PaymentService charges orders through the payment provider and keeps the
// order service's ledger in sync with what the provider reports.
type PaymentService struct {
	store           PaymentStore
	orders          OrderLedger
	provider        PaymentProvider
	events          Publisher
	notifier        Notifier
	autoRefunds     AutoRefunder
	defaultCurrency string
	logger          *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	store PaymentStore,
	orders OrderLedger,
	prov PaymentProvider,
	events Publisher,
	notifier Notifier,
	autoRefunds AutoRefunder,
	defaultCurrency string,
) *PaymentService {
	return &PaymentService{
		store:           store,
		orders:          orders,
		provider:        prov,
		events:          events,
		notifier:        notifier,
		autoRefunds:     autoRefunds,
		defaultCurrency: strings.ToLower(defaultCurrency),
		logger:          util.GetLogger(),
	}
}

// CreatePaymentRequest represents a direct payment intent request
type CreatePaymentRequest struct {
	OrderID  int64  `json:"order_id" binding:"required"`
	Method   string `json:"method,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// CreatePaymentResponse carries the client secret the customer needs to
// complete the intent.
type CreatePaymentResponse struct {
	Payment      *models.Payment `json:"payment"`
	ClientSecret string          `json:"client_secret,omitempty"`
}

// CreateCheckoutRequest represents a hosted checkout session request
type CreateCheckoutRequest struct {
	OrderID    int64  `json:"order_id" binding:"required"`
	SuccessURL string `json:"success_url" binding:"required"`
	CancelURL  string `json:"cancel_url" binding:"required"`
	Currency   string `json:"currency,omitempty"`
}

// CheckoutResponse carries the hosted page the customer is redirected to
type CheckoutResponse struct {
	Payment   *models.Payment `json:"payment"`
	SessionID string          `json:"session_id"`
	URL       string          `json:"checkout_url"`
}

// CreatePayment opens a payment intent for an order. The payment row is
// inserted before the provider call; if the provider call fails the row
// stays pending and the webhook reconciles whatever the provider actually
// did with the idempotent retry.
func (ps *PaymentService) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePayment")
	defer span.End()

	currency, err := ps.normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = "card"
	}

	payment, _, err := ps.newPaymentForOrder(ctx, req.OrderID, currency, method, "intent")
	if err != nil {
		return nil, err
	}

	intent, err := ps.provider.CreateIntent(ctx, provider.CreateIntentRequest{
		Amount:         models.MinorUnits(payment.Amount, currency),
		Currency:       currency,
		Method:         method,
		Metadata:       providerMetadata(payment.ID, payment.OrderID),
		IdempotencyKey: fmt.Sprintf("payment-intent-%d", payment.ID),
	})
	if err != nil {
		ps.logger.Error("Provider intent creation failed, payment left pending",
			zap.Int64("payment_id", payment.ID), zap.Error(err))
		return nil, err
	}

	if err := ps.store.SetProviderIntentID(ctx, payment.ID, intent.ID); err != nil {
		return nil, err
	}
	payment.ProviderIntentID = &intent.ID

	ps.logger.Info("Payment intent created",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", payment.OrderID),
		zap.String("intent_id", intent.ID))

	if err := ps.orders.UpdatePaymentStatus(ctx, payment.OrderID, uuid.New().String(), models.PaymentEventPending); err != nil {
		ps.logger.Warn("Failed to relay pending payment status", zap.Int64("order_id", payment.OrderID), zap.Error(err))
	}

	return &CreatePaymentResponse{Payment: payment, ClientSecret: intent.ClientSecret}, nil
}

// CreateCheckoutSession opens a hosted checkout session for an order. The
// provider reports the intent id only when the session completes, so the
// session id is stored as its own lookup column.
func (ps *PaymentService) CreateCheckoutSession(ctx context.Context, req *CreateCheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateCheckoutSession")
	defer span.End()

	currency, err := ps.normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		return nil, apperr.Invalid("success_url and cancel_url are required")
	}

	payment, _, err := ps.newPaymentForOrder(ctx, req.OrderID, currency, "checkout", "checkout")
	if err != nil {
		return nil, err
	}

	session, err := ps.provider.CreateCheckoutSession(ctx, provider.CreateSessionRequest{
		Amount:         models.MinorUnits(payment.Amount, currency),
		Currency:       currency,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		Metadata:       providerMetadata(payment.ID, payment.OrderID),
		IdempotencyKey: fmt.Sprintf("checkout-session-%d", payment.ID),
	})
	if err != nil {
		ps.logger.Error("Provider checkout session creation failed, payment left pending",
			zap.Int64("payment_id", payment.ID), zap.Error(err))
		return nil, err
	}

	if err := ps.store.SetCheckoutSessionID(ctx, payment.ID, session.ID); err != nil {
		return nil, err
	}
	payment.CheckoutSessionID = &session.ID
	if session.PaymentIntent != "" {
		if err := ps.store.SetProviderIntentID(ctx, payment.ID, session.PaymentIntent); err != nil {
			return nil, err
		}
		payment.ProviderIntentID = &session.PaymentIntent
	}

	ps.logger.Info("Checkout session created",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", payment.OrderID),
		zap.String("session_id", session.ID))

	if err := ps.orders.UpdatePaymentStatus(ctx, payment.OrderID, uuid.New().String(), models.PaymentEventPending); err != nil {
		ps.logger.Warn("Failed to relay pending payment status", zap.Int64("order_id", payment.OrderID), zap.Error(err))
	}

	return &CheckoutResponse{Payment: payment, SessionID: session.ID, URL: session.URL}, nil
}

// GetPaymentsForOrder lists every payment attempt recorded for an order
func (ps *PaymentService) GetPaymentsForOrder(ctx context.Context, orderID int64) ([]models.Payment, error) {
	return ps.store.GetPaymentsByOrderID(ctx, orderID)
}

// ApplyIntentSucceeded settles a payment after the provider reports the
// intent succeeded. The order ledger is updated first: that call is
// idempotent under eventID, so when it fails the whole webhook delivery is
// retried without double-applying. Side effects fire only on the real
// transition into succeeded.
func (ps *PaymentService) ApplyIntentSucceeded(ctx context.Context, payment *models.Payment, feeMinor int64, eventID string) (bool, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ApplyIntentSucceeded")
	defer span.End()

	if err := ps.orders.UpdatePaymentStatus(ctx, payment.OrderID, eventID, models.PaymentEventSucceeded); err != nil {
		return false, fmt.Errorf("failed to relay payment success for order %d: %w", payment.OrderID, err)
	}

	fee := models.FromMinorUnits(feeMinor, payment.Currency)
	won, err := ps.store.MarkPaymentSucceeded(ctx, payment.ID, models.PaymentStatusPending, fee)
	if err != nil {
		return false, err
	}
	if !won {
		won, err = ps.store.MarkPaymentSucceeded(ctx, payment.ID, models.PaymentStatusProcessing, fee)
		if err != nil {
			return false, err
		}
	}
	if !won {
		util.PaymentNoopUpdatesTotal.Inc()
		ps.logger.Info("Payment already settled, ignoring duplicate success",
			zap.Int64("payment_id", payment.ID))
		return false, nil
	}

	util.PaymentTransitionsTotal.WithLabelValues(string(models.PaymentStatusSucceeded)).Inc()
	ps.logger.Info("Payment succeeded",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", payment.OrderID),
		zap.String("amount", payment.Amount.String()))

	var intentID string
	if payment.ProviderIntentID != nil {
		intentID = *payment.ProviderIntentID
	}
	event := &models.PaymentSucceededEvent{
		BaseEvent:        newBaseEvent(models.EventTypePaymentSucceeded),
		OrderID:          payment.OrderID,
		PaymentID:        payment.ID,
		Amount:           payment.Amount,
		ProviderIntentID: intentID,
	}
	if err := ps.events.PublishPaymentSucceeded(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PAYMENT_SUCCEEDED event", zap.Error(err))
	}

	ps.notifyPayer(ctx, payment, "payment_succeeded", "Payment received",
		fmt.Sprintf("Your payment for order %s went through.", payment.OrderNumber))

	// The order may have been cancelled while the charge was in flight.
	// Money was taken, so give it back without waiting for support.
	if details, err := ps.orders.GetOrder(ctx, payment.OrderID); err != nil {
		ps.logger.Warn("Could not check order state after payment success",
			zap.Int64("order_id", payment.OrderID), zap.Error(err))
	} else if details.Order.Status == models.OrderStatusCancelled {
		ps.logger.Info("Payment succeeded for a cancelled order, refunding",
			zap.Int64("order_id", payment.OrderID), zap.Int64("payment_id", payment.ID))
		if err := ps.autoRefunds.ProcessAutomaticRefund(ctx, payment.OrderID, string(models.RefundReasonOrderCancelled)); err != nil {
			ps.logger.Error("Automatic refund after cancelled-order payment failed",
				zap.Int64("order_id", payment.OrderID), zap.Error(err))
		}
	}

	return true, nil
}

// ApplyIntentFailed marks a payment failed. Unlike success this moves no
// money, so the relay to the order service is best effort and a stale
// failure arriving after success loses the status race and is dropped.
func (ps *PaymentService) ApplyIntentFailed(ctx context.Context, payment *models.Payment, reason string) (bool, error) {
	return ps.finalizeUnpaid(ctx, payment, models.PaymentStatusFailed, models.PaymentEventFailed, reason)
}

// ApplyIntentCancelled marks a payment cancelled after the provider voids
// the intent.
func (ps *PaymentService) ApplyIntentCancelled(ctx context.Context, payment *models.Payment, reason string) (bool, error) {
	return ps.finalizeUnpaid(ctx, payment, models.PaymentStatusCancelled, models.PaymentEventCancelled, reason)
}

func (ps *PaymentService) finalizeUnpaid(ctx context.Context, payment *models.Payment, target models.PaymentStatus, relayEvent, reason string) (bool, error) {
	won, err := ps.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusPending, target)
	if err != nil {
		return false, err
	}
	if !won {
		won, err = ps.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusProcessing, target)
		if err != nil {
			return false, err
		}
	}
	if !won {
		util.PaymentNoopUpdatesTotal.Inc()
		ps.logger.Info("Payment already settled, ignoring stale update",
			zap.Int64("payment_id", payment.ID), zap.String("target", string(target)))
		return false, nil
	}

	util.PaymentTransitionsTotal.WithLabelValues(string(target)).Inc()
	ps.logger.Warn("Payment did not complete",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", payment.OrderID),
		zap.String("status", string(target)),
		zap.String("reason", reason))

	if err := ps.orders.UpdatePaymentStatus(ctx, payment.OrderID, uuid.New().String(), relayEvent); err != nil {
		ps.logger.Warn("Failed to relay payment status", zap.Int64("order_id", payment.OrderID), zap.Error(err))
	}

	if reason == "" {
		reason = string(target)
	}
	event := &models.PaymentFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentFailed),
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		Reason:    reason,
	}
	if err := ps.events.PublishPaymentFailed(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PAYMENT_FAILED event", zap.Error(err))
	}

	ps.notifyPayer(ctx, payment, "payment_failed", "Payment not completed",
		fmt.Sprintf("Your payment for order %s did not complete.", payment.OrderNumber))

	return true, nil
}

// ApplySessionCompleted binds the checkout session's intent to the payment
// and moves it to processing while the provider settles the charge.
func (ps *PaymentService) ApplySessionCompleted(ctx context.Context, payment *models.Payment, intentID string) (bool, error) {
	if intentID != "" {
		if err := ps.store.SetProviderIntentID(ctx, payment.ID, intentID); err != nil {
			return false, err
		}
	}

	won, err := ps.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusPending, models.PaymentStatusProcessing)
	if err != nil {
		return false, err
	}
	if !won {
		util.PaymentNoopUpdatesTotal.Inc()
		return false, nil
	}
	util.PaymentTransitionsTotal.WithLabelValues(string(models.PaymentStatusProcessing)).Inc()
	ps.logger.Info("Checkout session completed",
		zap.Int64("payment_id", payment.ID), zap.String("intent_id", intentID))
	return true, nil
}

// ApplySessionExpired cancels a payment whose checkout session lapsed
// before the customer paid.
func (ps *PaymentService) ApplySessionExpired(ctx context.Context, payment *models.Payment) (bool, error) {
	return ps.finalizeUnpaid(ctx, payment, models.PaymentStatusCancelled, models.PaymentEventCancelled, "checkout_expired")
}

// CancelPendingPayments voids every unsettled payment for a cancelled
// order. Provider failures are logged and skipped; a charge that slips
// through anyway comes back as an intent.succeeded webhook and is refunded
// automatically there.
func (ps *PaymentService) CancelPendingPayments(ctx context.Context, orderID int64, reason string) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.CancelPendingPayments")
	defer span.End()

	payments, err := ps.store.GetPaymentsByOrderID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to list payments for order %d: %w", orderID, err)
	}

	var firstErr error
	for i := range payments {
		p := payments[i]
		if p.Status != models.PaymentStatusPending && p.Status != models.PaymentStatusProcessing {
			continue
		}
		if p.ProviderIntentID != nil {
			if _, err := ps.provider.CancelIntent(ctx, *p.ProviderIntentID); err != nil {
				ps.logger.Warn("Provider intent cancellation failed",
					zap.Int64("payment_id", p.ID), zap.Error(err))
			}
		}
		if _, err := ps.ApplyIntentCancelled(ctx, &p, reason); err != nil {
			ps.logger.Error("Failed to cancel payment",
				zap.Int64("payment_id", p.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (ps *PaymentService) normalizeCurrency(currency string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(currency))
	if c == "" {
		c = ps.defaultCurrency
	}
	if len(c) != 3 {
		return "", apperr.Invalid("currency must be a 3-letter code, got %q", currency)
	}
	return c, nil
}

// newPaymentForOrder checks the order is payable and inserts the pending
// payment row. Provider ids are unknown at this point and stay NULL.
func (ps *PaymentService) newPaymentForOrder(ctx context.Context, orderID int64, currency, method, flow string) (*models.Payment, *clients.OrderDetails, error) {
	if orderID <= 0 {
		return nil, nil, apperr.Invalid("order_id is required")
	}

	details, err := ps.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	order := &details.Order
	if order.Status == models.OrderStatusCancelled {
		return nil, nil, apperr.Conflict("order %d is cancelled", orderID)
	}
	switch order.PaymentStatus {
	case models.OrderPaymentPaid, models.OrderPaymentRefunded, models.OrderPaymentPartiallyRefunded:
		return nil, nil, apperr.Conflict("order %d is already paid", orderID)
	}

	existing, err := ps.store.GetPaymentsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list payments for order %d: %w", orderID, err)
	}
	if err := guardActivePayment(existing, orderID); err != nil {
		return nil, nil, err
	}

	payment := &models.Payment{
		OrderID:      orderID,
		OrderNumber:  order.OrderNumber,
		UserID:       order.CustomerID,
		RestaurantID: order.RestaurantID,
		Amount:       models.SanitizeAmount(order.Total, currency),
		Currency:     currency,
		Method:       method,
		Status:       models.PaymentStatusPending,
		Fee:          decimal.Zero,
		Metadata:     models.Metadata{"flow": flow},
	}
	if err := ps.store.CreatePayment(ctx, payment); err != nil {
		return nil, nil, fmt.Errorf("failed to create payment: %w", err)
	}
	util.PaymentsCreatedTotal.WithLabelValues(flow).Inc()
	return payment, details, nil
}

// guardActivePayment rejects a new attempt while another one is unsettled
// or has already succeeded. Failed and cancelled attempts may be retried.
func guardActivePayment(payments []models.Payment, orderID int64) error {
	for i := range payments {
		switch payments[i].Status {
		case models.PaymentStatusPending, models.PaymentStatusProcessing:
			return apperr.Conflict("order %d already has payment %d in flight", orderID, payments[i].ID)
		case models.PaymentStatusSucceeded:
			return apperr.Conflict("order %d is already paid by payment %d", orderID, payments[i].ID)
		}
	}
	return nil
}

func providerMetadata(paymentID, orderID int64) map[string]string {
	return map[string]string{
		"payment_id": strconv.FormatInt(paymentID, 10),
		"order_id":   strconv.FormatInt(orderID, 10),
	}
}

func (ps *PaymentService) notifyPayer(ctx context.Context, payment *models.Payment, kind, title, body string) {
	note := clients.Notification{
		UserID: payment.UserID,
		Type:   kind,
		Title:  title,
		Body:   body,
		Data: map[string]string{
			"order_id":   strconv.FormatInt(payment.OrderID, 10),
			"payment_id": strconv.FormatInt(payment.ID, 10),
		},
	}
	if err := ps.notifier.Send(ctx, note); err != nil {
		util.NotifyFailuresTotal.WithLabelValues("customer").Inc()
		ps.logger.Warn("Failed to send notification",
			zap.Int64("user_id", payment.UserID), zap.String("type", kind), zap.Error(err))
	}
}
