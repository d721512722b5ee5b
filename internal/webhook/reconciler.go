package webhook

import (
	"context"
	"strconv"
	"time"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/models"
	"delivery-platform/internal/provider"
	"delivery-platform/internal/service"
	"delivery-platform/internal/store"
	"delivery-platform/internal/util"

	"go.uber.org/zap"
)

// PaymentSource resolves webhook objects to payment rows and backfills
// provider ids learned from events.
type PaymentSource interface {
	GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	GetPaymentBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	GetLatestPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	SetProviderIntentID(ctx context.Context, paymentID int64, intentID string) error
	SetCheckoutSessionID(ctx context.Context, paymentID int64, sessionID string) error
}

// RefundSource resolves webhook refund objects to refund rows.
type RefundSource interface {
	GetRefundByID(ctx context.Context, id int64) (*models.Refund, error)
	GetRefundByProviderRefundID(ctx context.Context, providerRefundID string) (*models.Refund, error)
}

// TransferAnnotator records transfer webhook traffic on the matching
// ledger row's metadata.
type TransferAnnotator interface {
	AnnotateEarningByTransferID(ctx context.Context, transferID, key, value string) (bool, error)
	AnnotateSettlementByTransferID(ctx context.Context, transferID, key, value string) (bool, error)
}

// Dedup claims webhook event ids so redelivered events are absorbed.
type Dedup interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PaymentApplier is the payment service surface driven by webhooks.
type PaymentApplier interface {
	ApplyIntentSucceeded(ctx context.Context, payment *models.Payment, feeMinor int64, eventID string) (bool, error)
	ApplyIntentFailed(ctx context.Context, payment *models.Payment, reason string) (bool, error)
	ApplyIntentCancelled(ctx context.Context, payment *models.Payment, reason string) (bool, error)
	ApplySessionCompleted(ctx context.Context, payment *models.Payment, intentID string) (bool, error)
	ApplySessionExpired(ctx context.Context, payment *models.Payment) (bool, error)
}

// RefundApplier is the refund service surface driven by webhooks.
type RefundApplier interface {
	ApplyRefundSucceeded(ctx context.Context, refund *models.Refund, eventID string) (bool, error)
	ApplyRefundFailed(ctx context.Context, refund *models.Refund) (bool, error)
	ApplyRefundAcknowledged(ctx context.Context, refund *models.Refund, providerRefundID string) (bool, error)
}

var (
	_ PaymentSource     = (*store.Store)(nil)
	_ RefundSource      = (*store.Store)(nil)
	_ TransferAnnotator = (*store.Store)(nil)
	_ Dedup             = (*store.Store)(nil)
	_ PaymentApplier    = (*service.PaymentService)(nil)
	_ RefundApplier     = (*service.RefundService)(nil)
)

// Reconciler applies provider webhook events to local state. The provider
// redelivers until it sees 2xx, so every path here either finishes the work
// or returns an error to ask for another delivery; events that match
// nothing are acknowledged with a log line rather than bounced forever.
type Reconciler struct {
	payments   PaymentSource
	refunds    RefundSource
	transfers  TransferAnnotator
	dedup      Dedup
	paymentSvc PaymentApplier
	refundSvc  RefundApplier
	secret     string
	tolerance  time.Duration
	logger     *zap.Logger
}

// NewReconciler creates a new webhook reconciler
func NewReconciler(
	payments PaymentSource,
	refunds RefundSource,
	transfers TransferAnnotator,
	dedup Dedup,
	paymentSvc PaymentApplier,
	refundSvc RefundApplier,
	secret string,
	tolerance time.Duration,
) *Reconciler {
	return &Reconciler{
		payments:   payments,
		refunds:    refunds,
		transfers:  transfers,
		dedup:      dedup,
		paymentSvc: paymentSvc,
		refundSvc:  refundSvc,
		secret:     secret,
		tolerance:  tolerance,
		logger:     util.GetLogger(),
	}
}

// HandleEvent verifies, dedups and dispatches one webhook delivery. The
// signature is checked before anything else touches state; a bad signature
// is an Invalid error the HTTP layer turns into a 400.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, sigHeader string) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleEvent")
	defer span.End()

	if err := provider.VerifySignature(payload, sigHeader, r.secret, r.tolerance, time.Now()); err != nil {
		util.WebhookSignatureFailures.Inc()
		return err
	}

	event, err := provider.ParseEvent(payload)
	if err != nil {
		return err
	}

	seen, err := r.dedup.IsEventProcessed(ctx, event.ID)
	if err != nil {
		return err
	}
	if seen {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		r.logger.Info("Webhook event already processed", zap.String("event_id", event.ID))
		return nil
	}

	if err := r.dispatch(ctx, event); err != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		return err
	}

	if err := r.dedup.MarkEventProcessed(ctx, event.ID, event.Type); err != nil {
		return err
	}
	util.WebhookEventsTotal.WithLabelValues(event.Type, "ok").Inc()
	return nil
}

func (r *Reconciler) dispatch(ctx context.Context, event *provider.Event) error {
	switch event.Type {
	case provider.EventIntentSucceeded:
		return r.onIntentSucceeded(ctx, event)
	case provider.EventIntentFailed:
		return r.onIntentFailed(ctx, event)
	case provider.EventIntentCanceled:
		return r.onIntentCanceled(ctx, event)
	case provider.EventCheckoutSessionCompleted:
		return r.onSessionCompleted(ctx, event)
	case provider.EventCheckoutSessionExpired:
		return r.onSessionExpired(ctx, event)
	case provider.EventRefundCreated:
		return r.onRefundCreated(ctx, event)
	case provider.EventRefundUpdated:
		return r.onRefundUpdated(ctx, event)
	case provider.EventTransferCreated, provider.EventTransferReversed, provider.EventTransferFailed:
		return r.onTransfer(ctx, event)
	case provider.EventDisputeCreated:
		return r.onDispute(ctx, event)
	default:
		r.logger.Info("Unhandled webhook event type",
			zap.String("event_id", event.ID), zap.String("type", event.Type))
		return nil
	}
}

func (r *Reconciler) onIntentSucceeded(ctx context.Context, event *provider.Event) error {
	obj, err := event.IntentObject()
	if err != nil {
		return err
	}
	payment, err := r.resolveIntentPayment(ctx, obj.ID, obj.Metadata)
	if err != nil {
		return err
	}
	if payment == nil {
		r.logger.Warn("No payment matches succeeded intent, ignoring",
			zap.String("event_id", event.ID), zap.String("intent_id", obj.ID))
		return nil
	}
	_, err = r.paymentSvc.ApplyIntentSucceeded(ctx, payment, obj.Fee, event.ID)
	return err
}

func (r *Reconciler) onIntentFailed(ctx context.Context, event *provider.Event) error {
	obj, err := event.IntentObject()
	if err != nil {
		return err
	}
	payment, err := r.resolveIntentPayment(ctx, obj.ID, obj.Metadata)
	if err != nil {
		return err
	}
	if payment == nil {
		r.logger.Warn("No payment matches failed intent, ignoring",
			zap.String("event_id", event.ID), zap.String("intent_id", obj.ID))
		return nil
	}
	reason := obj.LastPaymentError
	if reason == "" {
		reason = "payment_failed"
	}
	_, err = r.paymentSvc.ApplyIntentFailed(ctx, payment, reason)
	return err
}

func (r *Reconciler) onIntentCanceled(ctx context.Context, event *provider.Event) error {
	obj, err := event.IntentObject()
	if err != nil {
		return err
	}
	payment, err := r.resolveIntentPayment(ctx, obj.ID, obj.Metadata)
	if err != nil {
		return err
	}
	if payment == nil {
		r.logger.Warn("No payment matches canceled intent, ignoring",
			zap.String("event_id", event.ID), zap.String("intent_id", obj.ID))
		return nil
	}
	reason := obj.CancellationReason
	if reason == "" {
		reason = "intent_canceled"
	}
	_, err = r.paymentSvc.ApplyIntentCancelled(ctx, payment, reason)
	return err
}

func (r *Reconciler) onSessionCompleted(ctx context.Context, event *provider.Event) error {
	obj, err := event.SessionObject()
	if err != nil {
		return err
	}
	payment, err := r.resolveSessionPayment(ctx, obj.ID, obj.Metadata)
	if err != nil {
		return err
	}
	if payment == nil {
		r.logger.Warn("No payment matches completed session, ignoring",
			zap.String("event_id", event.ID), zap.String("session_id", obj.ID))
		return nil
	}
	_, err = r.paymentSvc.ApplySessionCompleted(ctx, payment, obj.PaymentIntent)
	return err
}

func (r *Reconciler) onSessionExpired(ctx context.Context, event *provider.Event) error {
	obj, err := event.SessionObject()
	if err != nil {
		return err
	}
	payment, err := r.resolveSessionPayment(ctx, obj.ID, obj.Metadata)
	if err != nil {
		return err
	}
	if payment == nil {
		r.logger.Warn("No payment matches expired session, ignoring",
			zap.String("event_id", event.ID), zap.String("session_id", obj.ID))
		return nil
	}
	_, err = r.paymentSvc.ApplySessionExpired(ctx, payment)
	return err
}

func (r *Reconciler) onRefundCreated(ctx context.Context, event *provider.Event) error {
	obj, err := event.RefundObject()
	if err != nil {
		return err
	}
	refund, err := r.resolveRefund(ctx, obj.ID, obj.Metadata)
	if err != nil {
		return err
	}
	if refund == nil {
		r.logger.Warn("Provider reported a refund we did not raise, ignoring",
			zap.String("event_id", event.ID), zap.String("provider_refund_id", obj.ID))
		return nil
	}
	_, err = r.refundSvc.ApplyRefundAcknowledged(ctx, refund, obj.ID)
	return err
}

func (r *Reconciler) onRefundUpdated(ctx context.Context, event *provider.Event) error {
	obj, err := event.RefundObject()
	if err != nil {
		return err
	}
	refund, err := r.resolveRefund(ctx, obj.ID, obj.Metadata)
	if err != nil {
		return err
	}
	if refund == nil {
		r.logger.Warn("No refund matches update, ignoring",
			zap.String("event_id", event.ID), zap.String("provider_refund_id", obj.ID))
		return nil
	}

	switch obj.Status {
	case "succeeded":
		_, err = r.refundSvc.ApplyRefundSucceeded(ctx, refund, event.ID)
		return err
	case "failed", "canceled":
		_, err = r.refundSvc.ApplyRefundFailed(ctx, refund)
		return err
	default:
		r.logger.Info("Refund update with non-final status",
			zap.Int64("refund_id", refund.ID), zap.String("status", obj.Status))
		return nil
	}
}

func (r *Reconciler) onTransfer(ctx context.Context, event *provider.Event) error {
	obj, err := event.TransferObject()
	if err != nil {
		return err
	}
	matched, err := r.transfers.AnnotateEarningByTransferID(ctx, obj.ID, "last_transfer_event", event.Type)
	if err != nil {
		return err
	}
	if !matched {
		matched, err = r.transfers.AnnotateSettlementByTransferID(ctx, obj.ID, "last_transfer_event", event.Type)
		if err != nil {
			return err
		}
	}
	if !matched {
		r.logger.Warn("No ledger row matches transfer, ignoring",
			zap.String("event_id", event.ID), zap.String("transfer_id", obj.ID))
	}
	return nil
}

// onDispute only logs. Chargebacks are rare enough and consequential
// enough that a human decides what happens to the ledgers.
func (r *Reconciler) onDispute(ctx context.Context, event *provider.Event) error {
	obj, err := event.DisputeObject()
	if err != nil {
		return err
	}
	r.logger.Warn("Payment dispute opened",
		zap.String("event_id", event.ID),
		zap.String("dispute_id", obj.ID),
		zap.String("intent_id", obj.PaymentIntent),
		zap.Int64("amount", obj.Amount),
		zap.String("reason", obj.Reason))
	return nil
}

// resolveIntentPayment finds the payment for an intent. Direct intent-id
// lookup first; checkout payments may not carry the intent id yet, so the
// metadata stamped at creation time is the fallback, and a hit backfills
// the binding.
func (r *Reconciler) resolveIntentPayment(ctx context.Context, intentID string, metadata map[string]string) (*models.Payment, error) {
	payment, err := r.payments.GetPaymentByIntentID(ctx, intentID)
	if err == nil {
		return payment, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	payment, err = r.lookupMetadataPayment(ctx, metadata)
	if err != nil || payment == nil {
		return nil, err
	}
	return r.bindIntent(ctx, payment, intentID)
}

func (r *Reconciler) resolveSessionPayment(ctx context.Context, sessionID string, metadata map[string]string) (*models.Payment, error) {
	payment, err := r.payments.GetPaymentBySessionID(ctx, sessionID)
	if err == nil {
		return payment, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	payment, err = r.lookupMetadataPayment(ctx, metadata)
	if err != nil || payment == nil {
		return nil, err
	}
	if payment.CheckoutSessionID == nil {
		if err := r.payments.SetCheckoutSessionID(ctx, payment.ID, sessionID); err != nil {
			if apperr.IsConflict(err) {
				return nil, nil
			}
			return nil, err
		}
		payment.CheckoutSessionID = &sessionID
	} else if *payment.CheckoutSessionID != sessionID {
		return nil, nil
	}
	return payment, nil
}

// lookupMetadataPayment chases the payment_id then order_id stamped into
// provider metadata at creation time. A nil payment with nil error means
// nothing matched.
func (r *Reconciler) lookupMetadataPayment(ctx context.Context, metadata map[string]string) (*models.Payment, error) {
	if raw, ok := metadata["payment_id"]; ok {
		if id, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			payment, err := r.payments.GetPaymentByID(ctx, id)
			if err == nil {
				return payment, nil
			}
			if !apperr.IsNotFound(err) {
				return nil, err
			}
		}
	}
	if raw, ok := metadata["order_id"]; ok {
		if id, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			payment, err := r.payments.GetLatestPaymentByOrderID(ctx, id)
			if err == nil {
				return payment, nil
			}
			if !apperr.IsNotFound(err) {
				return nil, err
			}
		}
	}
	return nil, nil
}

func (r *Reconciler) bindIntent(ctx context.Context, payment *models.Payment, intentID string) (*models.Payment, error) {
	if payment.ProviderIntentID == nil {
		if err := r.payments.SetProviderIntentID(ctx, payment.ID, intentID); err != nil {
			if apperr.IsConflict(err) {
				return nil, nil
			}
			return nil, err
		}
		payment.ProviderIntentID = &intentID
	} else if *payment.ProviderIntentID != intentID {
		return nil, nil
	}
	return payment, nil
}

func (r *Reconciler) resolveRefund(ctx context.Context, providerRefundID string, metadata map[string]string) (*models.Refund, error) {
	refund, err := r.refunds.GetRefundByProviderRefundID(ctx, providerRefundID)
	if err == nil {
		return refund, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	if raw, ok := metadata["refund_id"]; ok {
		if id, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			refund, err := r.refunds.GetRefundByID(ctx, id)
			if err == nil {
				return refund, nil
			}
			if !apperr.IsNotFound(err) {
				return nil, err
			}
		}
	}
	return nil, nil
}
