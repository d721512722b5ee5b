package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/clients"
	"delivery-platform/internal/models"
	"delivery-platform/internal/provider"
	"delivery-platform/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const refundLockTTL = 30 * time.Second

var _ AutoRefunder = (*RefundService)(nil)

// RefundService reverses succeeded payments. Concurrent refunds against the
// same payment are serialized twice over: a redis advisory lock keeps most
// racers out cheaply, and the reservation inside the store transaction is
// the authority that the refunded total never exceeds the payment.
type RefundService struct {
	store    RefundStore
	payments PaymentStore
	orders   OrderLedger
	provider PaymentProvider
	locks    Locker
	events   Publisher
	notifier Notifier
	logger   *zap.Logger
}

// NewRefundService creates a new refund service
func NewRefundService(
	store RefundStore,
	payments PaymentStore,
	orders OrderLedger,
	prov PaymentProvider,
	locks Locker,
	events Publisher,
	notifier Notifier,
) *RefundService {
	return &RefundService{
		store:    store,
		payments: payments,
		orders:   orders,
		provider: prov,
		locks:    locks,
		events:   events,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// CreateRefundRequest represents a refund request against an order's payment
type CreateRefundRequest struct {
	OrderID     int64            `json:"order_id" binding:"required"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Description string           `json:"description,omitempty"`
	RequestedBy string           `json:"requested_by,omitempty"`
}

// CreateRefund raises a refund for an order's latest payment. A nil amount
// refunds the full payment. The amount is reserved against the payment
// before the provider is called, so no interleaving of requests can push
// the refunded total past the payment amount.
func (s *RefundService) CreateRefund(ctx context.Context, req *CreateRefundRequest) (*models.Refund, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.CreateRefund")
	defer span.End()

	if req.OrderID <= 0 {
		return nil, apperr.Invalid("order_id is required")
	}
	reason, err := normalizeRefundReason(req.Reason)
	if err != nil {
		return nil, err
	}
	requestedBy := req.RequestedBy
	if requestedBy == "" {
		requestedBy = "customer"
	}

	payment, err := s.payments.GetLatestPaymentByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusSucceeded {
		util.RefundsRejectedTotal.WithLabelValues("payment_not_succeeded").Inc()
		return nil, apperr.Conflict("payment %d for order %d is %s, only succeeded payments can be refunded",
			payment.ID, req.OrderID, payment.Status)
	}
	if payment.ProviderIntentID == nil {
		util.RefundsRejectedTotal.WithLabelValues("no_provider_intent").Inc()
		return nil, apperr.Conflict("payment %d has no provider intent to refund against", payment.ID)
	}

	amount := payment.Amount
	if req.Amount != nil {
		amount = models.SanitizeAmount(*req.Amount, payment.Currency)
	}
	if !amount.IsPositive() {
		return nil, apperr.Invalid("refund amount must be positive")
	}
	if amount.GreaterThan(payment.Amount) {
		util.RefundsRejectedTotal.WithLabelValues("exceeds_payment").Inc()
		return nil, apperr.Conflict("refund of %s exceeds payment amount %s", amount, payment.Amount)
	}

	unlock, err := s.lockPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	refund := &models.Refund{
		PaymentID:   payment.ID,
		Amount:      amount,
		Reason:      reason,
		Status:      models.RefundStatusPending,
		Description: req.Description,
		RequestedBy: requestedBy,
	}
	if err := s.store.CreateRefundReserved(ctx, refund); err != nil {
		if apperr.IsConflict(err) {
			util.RefundsRejectedTotal.WithLabelValues("exceeds_refundable").Inc()
		}
		return nil, err
	}

	if err := s.sendToProvider(ctx, refund, payment); err != nil {
		return nil, err
	}

	util.RefundsCreatedTotal.Inc()
	s.logger.Info("Refund created",
		zap.Int64("refund_id", refund.ID),
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", payment.OrderID),
		zap.String("amount", refund.Amount.String()))

	s.announceRefund(ctx, refund, payment)
	return refund, nil
}

// ProcessAutomaticRefund refunds whatever remains refundable on a cancelled
// order's payment. Safe to call repeatedly: once nothing is left it does
// nothing, so the synchronous trigger from the order service and the broker
// backstop can both fire.
func (s *RefundService) ProcessAutomaticRefund(ctx context.Context, orderID int64, reason string) error {
	ctx, span := util.StartSpan(ctx, "RefundService.ProcessAutomaticRefund")
	defer span.End()

	payment, err := s.payments.GetLatestPaymentByOrderID(ctx, orderID)
	if apperr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if payment.Status != models.PaymentStatusSucceeded {
		return nil
	}
	if payment.ProviderIntentID == nil {
		s.logger.Warn("Succeeded payment has no provider intent, skipping automatic refund",
			zap.Int64("payment_id", payment.ID))
		return nil
	}

	refundReason, err := normalizeRefundReason(reason)
	if err != nil {
		refundReason = models.RefundReasonOrderCancelled
	}

	unlock, err := s.lockPayment(ctx, payment.ID)
	if err != nil {
		return err
	}
	defer unlock()

	refund := &models.Refund{
		PaymentID:   payment.ID,
		Reason:      refundReason,
		Status:      models.RefundStatusPending,
		Description: "automatic refund for cancelled order",
		RequestedBy: "system",
	}
	created, err := s.store.CreateRemainderRefund(ctx, refund)
	if err != nil {
		return err
	}
	if !created {
		s.logger.Info("Nothing left to refund", zap.Int64("payment_id", payment.ID))
		return nil
	}

	if err := s.sendToProvider(ctx, refund, payment); err != nil {
		return err
	}

	util.RefundsCreatedTotal.Inc()
	s.logger.Info("Automatic refund created",
		zap.Int64("refund_id", refund.ID),
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", orderID),
		zap.String("amount", refund.Amount.String()))

	s.announceRefund(ctx, refund, payment)
	return nil
}

// lockPayment takes the per-payment advisory lock. A redis outage degrades
// to relying on the store reservation alone instead of blocking refunds.
func (s *RefundService) lockPayment(ctx context.Context, paymentID int64) (func(), error) {
	lockKey := fmt.Sprintf("refund-payment-%d", paymentID)
	ok, err := s.locks.AcquireLock(ctx, lockKey, refundLockTTL)
	if err != nil {
		s.logger.Warn("Refund lock unavailable, relying on reservation only",
			zap.Int64("payment_id", paymentID), zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		util.RefundsRejectedTotal.WithLabelValues("in_progress").Inc()
		return nil, apperr.Conflict("a refund for payment %d is already in progress", paymentID)
	}
	return func() {
		if err := s.locks.ReleaseLock(ctx, lockKey); err != nil {
			s.logger.Warn("Failed to release refund lock",
				zap.Int64("payment_id", paymentID), zap.Error(err))
		}
	}, nil
}

// sendToProvider submits the reserved refund. A provider failure marks the
// refund failed, which releases its reservation; the idempotency key keeps
// a provider-side duplicate from charging twice if the failure was only on
// the response path.
func (s *RefundService) sendToProvider(ctx context.Context, refund *models.Refund, payment *models.Payment) error {
	pr, err := s.provider.CreateRefund(ctx, provider.CreateRefundRequest{
		PaymentIntent: *payment.ProviderIntentID,
		Amount:        models.MinorUnits(refund.Amount, payment.Currency),
		Reason:        string(refund.Reason),
		Metadata: map[string]string{
			"refund_id":  strconv.FormatInt(refund.ID, 10),
			"payment_id": strconv.FormatInt(payment.ID, 10),
			"order_id":   strconv.FormatInt(payment.OrderID, 10),
		},
		IdempotencyKey: fmt.Sprintf("refund-%d", refund.ID),
	})
	if err != nil {
		if _, cerr := s.store.UpdateRefundStatus(ctx, refund.ID, models.RefundStatusPending, models.RefundStatusFailed); cerr != nil {
			s.logger.Error("Failed to mark refund failed", zap.Int64("refund_id", refund.ID), zap.Error(cerr))
		}
		return err
	}

	if err := s.store.SetProviderRefundID(ctx, refund.ID, pr.ID); err != nil {
		return err
	}
	refund.ProviderRefundID = &pr.ID

	if _, err := s.store.UpdateRefundStatus(ctx, refund.ID, models.RefundStatusPending, models.RefundStatusProcessing); err != nil {
		return err
	}
	refund.Status = models.RefundStatusProcessing
	return nil
}

// announceRefund relays the initiated refund to the order service and
// publishes REFUND_CREATED. Both are best effort; the ledger only changes
// when the refund lands.
func (s *RefundService) announceRefund(ctx context.Context, refund *models.Refund, payment *models.Payment) {
	if err := s.orders.UpdateRefundStatus(ctx, payment.OrderID, uuid.New().String(), models.RefundEventInitiated, refund.Amount); err != nil {
		s.logger.Warn("Failed to relay refund initiation", zap.Int64("order_id", payment.OrderID), zap.Error(err))
	}

	event := &models.RefundCreatedEvent{
		BaseEvent: newBaseEvent(models.EventTypeRefundCreated),
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		RefundID:  refund.ID,
		Amount:    refund.Amount,
	}
	if err := s.events.PublishRefundCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish REFUND_CREATED event", zap.Error(err))
	}
}

// ApplyRefundSucceeded settles a refund after the provider confirms it.
// The order ledger is told first: that call is idempotent under eventID,
// so a failure retries the whole webhook delivery without double-counting
// the refunded amount.
func (s *RefundService) ApplyRefundSucceeded(ctx context.Context, refund *models.Refund, eventID string) (bool, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.ApplyRefundSucceeded")
	defer span.End()

	payment, err := s.payments.GetPaymentByID(ctx, refund.PaymentID)
	if err != nil {
		return false, err
	}

	if err := s.orders.UpdateRefundStatus(ctx, payment.OrderID, eventID, models.RefundEventSucceeded, refund.Amount); err != nil {
		return false, fmt.Errorf("failed to relay refund success for order %d: %w", payment.OrderID, err)
	}

	won, err := s.store.UpdateRefundStatus(ctx, refund.ID, models.RefundStatusProcessing, models.RefundStatusSucceeded)
	if err != nil {
		return false, err
	}
	if !won {
		won, err = s.store.UpdateRefundStatus(ctx, refund.ID, models.RefundStatusPending, models.RefundStatusSucceeded)
		if err != nil {
			return false, err
		}
	}
	if !won {
		s.logger.Info("Refund already settled, ignoring duplicate success",
			zap.Int64("refund_id", refund.ID))
		return false, nil
	}

	s.logger.Info("Refund succeeded",
		zap.Int64("refund_id", refund.ID),
		zap.Int64("payment_id", payment.ID),
		zap.String("amount", refund.Amount.String()))

	event := &models.RefundSucceededEvent{
		BaseEvent: newBaseEvent(models.EventTypeRefundSucceeded),
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		RefundID:  refund.ID,
		Amount:    refund.Amount,
	}
	if err := s.events.PublishRefundSucceeded(ctx, event); err != nil {
		s.logger.Error("Failed to publish REFUND_SUCCEEDED event", zap.Error(err))
	}

	note := clients.Notification{
		UserID: payment.UserID,
		Type:   "refund_succeeded",
		Title:  "Refund issued",
		Body:   fmt.Sprintf("A refund of %s for order %s has been issued.", refund.Amount, payment.OrderNumber),
		Data: map[string]string{
			"order_id":  strconv.FormatInt(payment.OrderID, 10),
			"refund_id": strconv.FormatInt(refund.ID, 10),
		},
	}
	if err := s.notifier.Send(ctx, note); err != nil {
		util.NotifyFailuresTotal.WithLabelValues("customer").Inc()
		s.logger.Warn("Failed to send notification", zap.Int64("user_id", payment.UserID), zap.Error(err))
	}

	return true, nil
}

// ApplyRefundFailed marks a refund the provider rejected. The failed row
// releases its reservation, so the amount becomes refundable again.
func (s *RefundService) ApplyRefundFailed(ctx context.Context, refund *models.Refund) (bool, error) {
	won, err := s.store.UpdateRefundStatus(ctx, refund.ID, models.RefundStatusProcessing, models.RefundStatusFailed)
	if err != nil {
		return false, err
	}
	if !won {
		won, err = s.store.UpdateRefundStatus(ctx, refund.ID, models.RefundStatusPending, models.RefundStatusFailed)
		if err != nil {
			return false, err
		}
	}
	if !won {
		return false, nil
	}

	s.logger.Warn("Refund failed at provider", zap.Int64("refund_id", refund.ID))

	payment, err := s.payments.GetPaymentByID(ctx, refund.PaymentID)
	if err != nil {
		return true, nil
	}
	if err := s.orders.UpdateRefundStatus(ctx, payment.OrderID, uuid.New().String(), models.RefundEventFailed, refund.Amount); err != nil {
		s.logger.Warn("Failed to relay refund failure", zap.Int64("order_id", payment.OrderID), zap.Error(err))
	}
	return true, nil
}

// ApplyRefundAcknowledged backfills the provider's refund id when the
// provider reports a refund we raised, and moves it to processing.
func (s *RefundService) ApplyRefundAcknowledged(ctx context.Context, refund *models.Refund, providerRefundID string) (bool, error) {
	if providerRefundID != "" && refund.ProviderRefundID == nil {
		if err := s.store.SetProviderRefundID(ctx, refund.ID, providerRefundID); err != nil {
			return false, err
		}
	}
	won, err := s.store.UpdateRefundStatus(ctx, refund.ID, models.RefundStatusPending, models.RefundStatusProcessing)
	if err != nil {
		return false, err
	}
	return won, nil
}

// GetRefund retrieves a refund by id
func (s *RefundService) GetRefund(ctx context.Context, refundID int64) (*models.Refund, error) {
	return s.store.GetRefundByID(ctx, refundID)
}

// GetRefundStats aggregates succeeded refunds, optionally scoped to one
// restaurant and a time window.
func (s *RefundService) GetRefundStats(ctx context.Context, restaurantID *int64, from, to *time.Time) (*models.RefundStats, error) {
	return s.store.GetRefundStats(ctx, restaurantID, from, to)
}

func normalizeRefundReason(reason string) (models.RefundReason, error) {
	if reason == "" {
		return models.RefundReasonCustomerRequest, nil
	}
	r := models.RefundReason(reason)
	switch r {
	case models.RefundReasonCustomerRequest, models.RefundReasonOrderCancelled,
		models.RefundReasonDuplicate, models.RefundReasonFraudulent, models.RefundReasonOther:
		return r, nil
	}
	return "", apperr.Invalid("unknown refund reason %q", reason)
}
