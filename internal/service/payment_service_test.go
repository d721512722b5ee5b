package service

import (
	"context"
	"errors"
	"testing"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentFixture struct {
	store       *fakePaymentStore
	ledger      *fakeLedger
	prov        *fakeProvider
	events      *fakePublisher
	notifier    *fakeNotifier
	autoRefunds *fakeAutoRefunder
	svc         *PaymentService
}

func newPaymentFixture() *paymentFixture {
	f := &paymentFixture{
		store:       newFakePaymentStore(),
		ledger:      newFakeLedger(),
		prov:        &fakeProvider{},
		events:      &fakePublisher{},
		notifier:    &fakeNotifier{},
		autoRefunds: &fakeAutoRefunder{},
	}
	f.svc = NewPaymentService(f.store, f.ledger, f.prov, f.events, f.notifier, f.autoRefunds, "idr")
	f.ledger.put(models.Order{
		ID:            1,
		OrderNumber:   "ORD-20250801-PAY11111",
		CustomerID:    11,
		RestaurantID:  7,
		Status:        models.OrderStatusConfirmed,
		PaymentStatus: models.OrderPaymentUnpaid,
		Subtotal:      decimal.NewFromInt(45000),
		DeliveryFee:   decimal.NewFromInt(5000),
		Total:         decimal.NewFromInt(50000),
	})
	return f
}

func (f *paymentFixture) seedPayment(status models.PaymentStatus, intentID string) *models.Payment {
	p := &models.Payment{
		OrderID:      1,
		OrderNumber:  "ORD-20250801-PAY11111",
		UserID:       11,
		RestaurantID: 7,
		Amount:       decimal.NewFromInt(50000),
		Currency:     "idr",
		Method:       "card",
		Status:       status,
		Fee:          decimal.Zero,
	}
	if intentID != "" {
		p.ProviderIntentID = &intentID
	}
	return f.store.add(p)
}

func TestCreatePaymentOpensIntent(t *testing.T) {
	f := newPaymentFixture()

	resp, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, "pi_fake_1_secret", resp.ClientSecret)

	require.Len(t, f.prov.intentReqs, 1)
	req := f.prov.intentReqs[0]
	assert.Equal(t, int64(50000), req.Amount, "idr has no minor unit")
	assert.Equal(t, "idr", req.Currency)
	assert.Equal(t, "card", req.Method)
	assert.Equal(t, "payment-intent-1", req.IdempotencyKey)
	assert.Equal(t, "1", req.Metadata["payment_id"])
	assert.Equal(t, "1", req.Metadata["order_id"])

	stored, err := f.store.GetPaymentByIntentID(context.Background(), "pi_fake_1")
	require.NoError(t, err)
	assert.Equal(t, resp.Payment.ID, stored.ID)
	assert.Equal(t, models.PaymentStatusPending, stored.Status)
	assert.Equal(t, "intent", stored.Metadata["flow"])

	require.Len(t, f.ledger.payRelays, 1)
	assert.Equal(t, int64(1), f.ledger.payRelays[0].orderID)
	assert.Equal(t, models.PaymentEventPending, f.ledger.payRelays[0].event)
}

func TestCreatePaymentOrderChecks(t *testing.T) {
	f := newPaymentFixture()
	f.ledger.put(models.Order{
		ID: 2, OrderNumber: "ORD-20250801-PAY22222", CustomerID: 11, RestaurantID: 7,
		Status: models.OrderStatusCancelled, PaymentStatus: models.OrderPaymentUnpaid,
		Total: decimal.NewFromInt(10000),
	})
	f.ledger.put(models.Order{
		ID: 3, OrderNumber: "ORD-20250801-PAY33333", CustomerID: 11, RestaurantID: 7,
		Status: models.OrderStatusConfirmed, PaymentStatus: models.OrderPaymentPaid,
		Total: decimal.NewFromInt(10000),
	})

	_, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{OrderID: 2})
	assert.True(t, apperr.IsConflict(err), "cancelled orders take no payments, got %v", err)

	_, err = f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{OrderID: 3})
	assert.True(t, apperr.IsConflict(err), "paid orders take no payments, got %v", err)

	_, err = f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{OrderID: 1, Currency: "rupiah"})
	assert.True(t, apperr.IsInvalid(err), "currency must be a 3-letter code, got %v", err)

	_, err = f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{OrderID: 0})
	assert.True(t, apperr.IsInvalid(err))

	_, err = f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{OrderID: 99})
	assert.True(t, apperr.IsNotFound(err))
}

func TestCreatePaymentGuardsActiveAttempts(t *testing.T) {
	t.Run("pending attempt blocks", func(t *testing.T) {
		f := newPaymentFixture()
		f.seedPayment(models.PaymentStatusPending, "pi_1")
		_, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{OrderID: 1})
		assert.True(t, apperr.IsConflict(err), "want in-flight conflict, got %v", err)
	})

	t.Run("succeeded attempt blocks", func(t *testing.T) {
		f := newPaymentFixture()
		f.seedPayment(models.PaymentStatusSucceeded, "pi_1")
		_, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{OrderID: 1})
		assert.True(t, apperr.IsConflict(err), "want already-paid conflict, got %v", err)
	})

	t.Run("failed attempt may be retried", func(t *testing.T) {
		f := newPaymentFixture()
		f.seedPayment(models.PaymentStatusFailed, "pi_1")
		resp, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{OrderID: 1})
		require.NoError(t, err)
		assert.NotZero(t, resp.Payment.ID)

		payments, err := f.store.GetPaymentsByOrderID(context.Background(), 1)
		require.NoError(t, err)
		assert.Len(t, payments, 2)
	})
}

func TestCreatePaymentProviderFailureLeavesRowPending(t *testing.T) {
	f := newPaymentFixture()
	f.prov.intentErr = apperr.Upstream(errors.New("connection timed out"), "provider unreachable")

	_, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{OrderID: 1})
	require.Error(t, err)

	payments, err := f.store.GetPaymentsByOrderID(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, payments, 1, "the row stays for the webhook to reconcile")
	assert.Equal(t, models.PaymentStatusPending, payments[0].Status)
	assert.Nil(t, payments[0].ProviderIntentID)
	assert.Empty(t, f.ledger.payRelays)
}

func TestCreateCheckoutSession(t *testing.T) {
	f := newPaymentFixture()

	resp, err := f.svc.CreateCheckoutSession(context.Background(), &CreateCheckoutRequest{
		OrderID:    1,
		SuccessURL: "https://app.example/ok",
		CancelURL:  "https://app.example/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_fake_1", resp.SessionID)
	assert.Equal(t, "https://checkout.example/cs_fake_1", resp.URL)

	require.Len(t, f.prov.sessionReqs, 1)
	req := f.prov.sessionReqs[0]
	assert.Equal(t, int64(50000), req.Amount)
	assert.Equal(t, "https://app.example/ok", req.SuccessURL)
	assert.Equal(t, "checkout-session-1", req.IdempotencyKey)

	stored, err := f.store.GetPaymentBySessionID(context.Background(), "cs_fake_1")
	require.NoError(t, err)
	assert.Equal(t, "checkout", stored.Method)
	assert.Nil(t, stored.ProviderIntentID, "no intent until the session completes")
}

func TestCreateCheckoutSessionRequiresReturnURLs(t *testing.T) {
	f := newPaymentFixture()

	_, err := f.svc.CreateCheckoutSession(context.Background(), &CreateCheckoutRequest{
		OrderID: 1, CancelURL: "https://app.example/cancel",
	})
	assert.True(t, apperr.IsInvalid(err))

	payments, err := f.store.GetPaymentsByOrderID(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, payments, "nothing persisted before validation passes")
}

func TestCreateCheckoutSessionBindsEarlyIntent(t *testing.T) {
	f := newPaymentFixture()
	f.prov.sessionIntent = "pi_early"

	resp, err := f.svc.CreateCheckoutSession(context.Background(), &CreateCheckoutRequest{
		OrderID:    1,
		SuccessURL: "https://app.example/ok",
		CancelURL:  "https://app.example/cancel",
	})
	require.NoError(t, err)

	stored, err := f.store.GetPaymentByIntentID(context.Background(), "pi_early")
	require.NoError(t, err)
	assert.Equal(t, resp.Payment.ID, stored.ID)
}

func TestApplyIntentSucceededSettlesAndNotifies(t *testing.T) {
	f := newPaymentFixture()
	p := f.seedPayment(models.PaymentStatusPending, "pi_1")

	applied, err := f.svc.ApplyIntentSucceeded(context.Background(), p, 1450, "evt-s1")
	require.NoError(t, err)
	assert.True(t, applied)

	stored, err := f.store.GetPaymentByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, stored.Status)
	assert.True(t, stored.Fee.Equal(decimal.NewFromInt(1450)), "fee %s", stored.Fee)

	require.Len(t, f.ledger.payRelays, 1)
	assert.Equal(t, "evt-s1", f.ledger.payRelays[0].eventID, "the ledger dedups on the webhook event id")
	assert.Equal(t, models.PaymentEventSucceeded, f.ledger.payRelays[0].event)

	require.Len(t, f.events.paySuccess, 1)
	ev := f.events.paySuccess[0]
	assert.Equal(t, int64(1), ev.OrderID)
	assert.Equal(t, p.ID, ev.PaymentID)
	assert.Equal(t, "pi_1", ev.ProviderIntentID)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(50000)))

	assert.Equal(t, 1, f.notifier.count("payment_succeeded"))
	assert.Equal(t, 0, f.autoRefunds.callCount())
}

func TestApplyIntentSucceededReplay(t *testing.T) {
	f := newPaymentFixture()
	p := f.seedPayment(models.PaymentStatusPending, "pi_1")

	applied, err := f.svc.ApplyIntentSucceeded(context.Background(), p, 1450, "evt-s1")
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = f.svc.ApplyIntentSucceeded(context.Background(), p, 1450, "evt-s1")
	require.NoError(t, err)
	assert.False(t, applied, "redelivery settles nothing")
	assert.Len(t, f.events.paySuccess, 1)
	assert.Equal(t, 1, f.notifier.count("payment_succeeded"))
}

func TestApplyIntentSucceededRelayFailureBlocksSettlement(t *testing.T) {
	f := newPaymentFixture()
	p := f.seedPayment(models.PaymentStatusPending, "pi_1")
	f.ledger.payErr = errors.New("order service down")

	applied, err := f.svc.ApplyIntentSucceeded(context.Background(), p, 1450, "evt-s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to relay payment success")
	assert.False(t, applied)

	stored, err := f.store.GetPaymentByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, stored.Status, "local settle waits for the relay so the provider retries")
	assert.Empty(t, f.events.paySuccess)
}

func TestApplyIntentSucceededRefundsCancelledOrder(t *testing.T) {
	f := newPaymentFixture()
	f.ledger.put(models.Order{
		ID: 1, OrderNumber: "ORD-20250801-PAY11111", CustomerID: 11, RestaurantID: 7,
		Status: models.OrderStatusCancelled, PaymentStatus: models.OrderPaymentUnpaid,
		Total: decimal.NewFromInt(50000),
	})
	p := f.seedPayment(models.PaymentStatusPending, "pi_1")

	applied, err := f.svc.ApplyIntentSucceeded(context.Background(), p, 0, "evt-s1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, f.autoRefunds.callCount(), "money taken for a cancelled order goes straight back")
}

func TestApplyIntentFailed(t *testing.T) {
	f := newPaymentFixture()
	p := f.seedPayment(models.PaymentStatusPending, "pi_1")

	applied, err := f.svc.ApplyIntentFailed(context.Background(), p, "card_declined")
	require.NoError(t, err)
	assert.True(t, applied)

	stored, err := f.store.GetPaymentByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, stored.Status)

	require.Len(t, f.ledger.payRelays, 1)
	assert.Equal(t, models.PaymentEventFailed, f.ledger.payRelays[0].event)
	assert.NotEmpty(t, f.ledger.payRelays[0].eventID)

	require.Len(t, f.events.payFailed, 1)
	assert.Equal(t, "card_declined", f.events.payFailed[0].Reason)
	assert.Equal(t, 1, f.notifier.count("payment_failed"))
}

func TestApplyIntentFailedAfterSuccessIsAbsorbed(t *testing.T) {
	f := newPaymentFixture()
	p := f.seedPayment(models.PaymentStatusSucceeded, "pi_1")

	applied, err := f.svc.ApplyIntentFailed(context.Background(), p, "stale failure")
	require.NoError(t, err)
	assert.False(t, applied)

	stored, err := f.store.GetPaymentByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, stored.Status, "success already won the race")
	assert.Empty(t, f.events.payFailed)
}

func TestApplySessionCompletedThenSettle(t *testing.T) {
	f := newPaymentFixture()
	p := f.seedPayment(models.PaymentStatusPending, "")

	applied, err := f.svc.ApplySessionCompleted(context.Background(), p, "pi_1")
	require.NoError(t, err)
	assert.True(t, applied)

	stored, err := f.store.GetPaymentByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ProviderIntentID)
	assert.Equal(t, "pi_1", *stored.ProviderIntentID)
	assert.Equal(t, models.PaymentStatusProcessing, stored.Status)

	applied, err = f.svc.ApplySessionCompleted(context.Background(), p, "pi_1")
	require.NoError(t, err)
	assert.False(t, applied, "only the first completion moves the row")

	applied, err = f.svc.ApplyIntentSucceeded(context.Background(), stored, 0, "evt-s1")
	require.NoError(t, err)
	assert.True(t, applied, "success must land from processing as well")
}

func TestApplySessionExpired(t *testing.T) {
	f := newPaymentFixture()
	p := f.seedPayment(models.PaymentStatusPending, "")

	applied, err := f.svc.ApplySessionExpired(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, applied)

	stored, err := f.store.GetPaymentByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, stored.Status)

	require.Len(t, f.ledger.payRelays, 1)
	assert.Equal(t, models.PaymentEventCancelled, f.ledger.payRelays[0].event)
	require.Len(t, f.events.payFailed, 1)
	assert.Equal(t, "checkout_expired", f.events.payFailed[0].Reason)
}

func TestCancelPendingPayments(t *testing.T) {
	f := newPaymentFixture()
	pending := f.seedPayment(models.PaymentStatusPending, "pi_1")
	settled := f.seedPayment(models.PaymentStatusSucceeded, "pi_2")

	err := f.svc.CancelPendingPayments(context.Background(), 1, "order cancelled")
	require.NoError(t, err)

	assert.Equal(t, []string{"pi_1"}, f.prov.cancelled, "settled intents are left alone")

	p1, err := f.store.GetPaymentByID(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, p1.Status)

	p2, err := f.store.GetPaymentByID(context.Background(), settled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, p2.Status)

	require.Len(t, f.events.payFailed, 1)
	assert.Equal(t, "order cancelled", f.events.payFailed[0].Reason)
}

func TestCancelPendingPaymentsSurvivesProviderFailure(t *testing.T) {
	f := newPaymentFixture()
	p := f.seedPayment(models.PaymentStatusPending, "pi_1")
	f.prov.cancelErr = errors.New("network down")

	err := f.svc.CancelPendingPayments(context.Background(), 1, "order cancelled")
	require.NoError(t, err)

	stored, err := f.store.GetPaymentByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, stored.Status, "local state closes even when the provider call fails")
}
