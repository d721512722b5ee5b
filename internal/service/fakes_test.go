package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/clients"
	"delivery-platform/internal/models"
	"delivery-platform/internal/provider"

	"github.com/shopspring/decimal"
)

// In-memory fakes for the ports in ports.go. All of them are safe for
// concurrent use so the contention tests exercise real interleavings.

type fakeOrderStore struct {
	mu          sync.Mutex
	orders      map[int64]*models.Order
	items       map[int64][]models.OrderItem
	history     map[int64][]models.OrderStatusHistory
	seenEvents  map[string]bool
	nextID      int64
	createCalls int
	createErr   error
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:     make(map[int64]*models.Order),
		items:      make(map[int64][]models.OrderItem),
		history:    make(map[int64][]models.OrderStatusHistory),
		seenEvents: make(map[string]bool),
	}
}

func (f *fakeOrderStore) add(order *models.Order) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	if order.ID == 0 {
		f.nextID++
		order.ID = f.nextID
	} else if order.ID > f.nextID {
		f.nextID = order.ID
	}
	c := *order
	f.orders[order.ID] = &c
	out := c
	return &out
}

func (f *fakeOrderStore) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	order.ID = f.nextID
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	c := *order
	f.orders[order.ID] = &c
	stored := make([]models.OrderItem, len(items))
	for i := range items {
		f.nextID++
		items[i].ID = f.nextID
		items[i].OrderID = order.ID
		stored[i] = items[i]
	}
	f.items[order.ID] = stored
	f.history[order.ID] = append(f.history[order.ID], models.OrderStatusHistory{
		OrderID:   order.ID,
		ToStatus:  order.Status,
		Note:      "order created",
		ChangedBy: "customer",
		CreatedAt: now,
	})
	return nil
}

func (f *fakeOrderStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %d not found", id)
	}
	c := *o
	return &c, nil
}

func (f *fakeOrderStore) GetOrdersByCustomerID(ctx context.Context, customerID int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.items[orderID]...), nil
}

func (f *fakeOrderStore) GetOrderHistoryByOrderID(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderStatusHistory(nil), f.history[orderID]...), nil
}

func (f *fakeOrderStore) TransitionOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus, eta *time.Time, note, changedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return apperr.NotFound("order %d not found", orderID)
	}
	if o.Status != from {
		return apperr.Conflict("order %d is no longer %s", orderID, from)
	}
	o.Status = to
	if eta != nil {
		o.EstimatedDeliveryTime = eta
	}
	if to == models.OrderStatusDelivered {
		now := time.Now().UTC()
		o.ActualDeliveryTime = &now
	}
	f.history[orderID] = append(f.history[orderID], models.OrderStatusHistory{
		OrderID: orderID, FromStatus: from, ToStatus: to, Note: note, ChangedBy: changedBy,
	})
	return nil
}

func (f *fakeOrderStore) CancelOrder(ctx context.Context, orderID int64, from models.OrderStatus, reason, changedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return apperr.NotFound("order %d not found", orderID)
	}
	if o.Status != from {
		return apperr.Conflict("order %d is no longer %s", orderID, from)
	}
	o.Status = models.OrderStatusCancelled
	o.CancelReason = &reason
	f.history[orderID] = append(f.history[orderID], models.OrderStatusHistory{
		OrderID: orderID, FromStatus: from, ToStatus: models.OrderStatusCancelled, Note: reason, ChangedBy: changedBy,
	})
	return nil
}

func (f *fakeOrderStore) AssignDriver(ctx context.Context, orderID, driverID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return apperr.NotFound("order %d not found", orderID)
	}
	if o.DriverID != nil {
		return apperr.Conflict("order %d already has driver %d assigned", orderID, *o.DriverID)
	}
	d := driverID
	o.DriverID = &d
	return nil
}

func (f *fakeOrderStore) ApplyPaymentEvent(ctx context.Context, orderID int64, eventID string, ps models.OrderPaymentStatus, confirm bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenEvents[eventID] {
		return false, nil
	}
	o, ok := f.orders[orderID]
	if !ok {
		return false, apperr.NotFound("order %d not found", orderID)
	}
	f.seenEvents[eventID] = true
	switch o.PaymentStatus {
	case models.OrderPaymentPaid, models.OrderPaymentRefunded, models.OrderPaymentPartiallyRefunded:
		return false, nil
	}
	o.PaymentStatus = ps
	if confirm && o.Status == models.OrderStatusPending {
		o.Status = models.OrderStatusConfirmed
	}
	return true, nil
}

func (f *fakeOrderStore) ApplyRefundEvent(ctx context.Context, orderID int64, eventID string, amount decimal.Decimal) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenEvents[eventID] {
		return false, false, nil
	}
	o, ok := f.orders[orderID]
	if !ok {
		return false, false, apperr.NotFound("order %d not found", orderID)
	}
	f.seenEvents[eventID] = true
	o.RefundAmount = o.RefundAmount.Add(amount)
	fully := o.RefundAmount.GreaterThanOrEqual(o.Total)
	if fully {
		o.PaymentStatus = models.OrderPaymentRefunded
		if o.Status.CanTransition(models.OrderStatusRefunded) {
			o.Status = models.OrderStatusRefunded
		}
	} else {
		o.PaymentStatus = models.OrderPaymentPartiallyRefunded
	}
	return true, fully, nil
}

type fakeIdem struct {
	mu       sync.Mutex
	values   map[string]string
	claimErr error
}

func newFakeIdem() *fakeIdem {
	return &fakeIdem{values: make(map[string]string)}
}

func (f *fakeIdem) ClaimIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeIdem) GetIdempotencyValue(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key], nil
}

func (f *fakeIdem) SetIdempotencyValue(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeIdem) DeleteIdempotencyKey(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *fakeIdem) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok
}

type fakePublisher struct {
	mu         sync.Mutex
	created    []*models.OrderCreatedEvent
	cancelled  []*models.OrderCancelledEvent
	delivered  []*models.OrderDeliveredEvent
	paySuccess []*models.PaymentSucceededEvent
	payFailed  []*models.PaymentFailedEvent
	refCreated []*models.RefundCreatedEvent
	refSuccess []*models.RefundSucceededEvent
}

func (f *fakePublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, event)
	return nil
}

func (f *fakePublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, event)
	return nil
}

func (f *fakePublisher) PublishOrderDelivered(ctx context.Context, event *models.OrderDeliveredEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, event)
	return nil
}

func (f *fakePublisher) PublishPaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paySuccess = append(f.paySuccess, event)
	return nil
}

func (f *fakePublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payFailed = append(f.payFailed, event)
	return nil
}

func (f *fakePublisher) PublishRefundCreated(ctx context.Context, event *models.RefundCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refCreated = append(f.refCreated, event)
	return nil
}

func (f *fakePublisher) PublishRefundSucceeded(ctx context.Context, event *models.RefundSucceededEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refSuccess = append(f.refSuccess, event)
	return nil
}

type fakeCatalog struct {
	mu    sync.Mutex
	items map[int64]clients.MenuItem
	fail  map[int64]error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{items: make(map[int64]clients.MenuItem), fail: make(map[int64]error)}
}

func (f *fakeCatalog) put(item clients.MenuItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ID] = item
}

func (f *fakeCatalog) GetMenuItem(ctx context.Context, restaurantID, itemID int64) (*clients.MenuItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[itemID]; err != nil {
		return nil, err
	}
	item, ok := f.items[itemID]
	if !ok || item.RestaurantID != restaurantID {
		return nil, apperr.NotFound("menu item %d not found", itemID)
	}
	c := item
	return &c, nil
}

type fakeRestaurants struct {
	mu          sync.Mutex
	restaurants map[int64]clients.Restaurant
}

func newFakeRestaurants() *fakeRestaurants {
	return &fakeRestaurants{restaurants: make(map[int64]clients.Restaurant)}
}

func (f *fakeRestaurants) put(r clients.Restaurant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restaurants[r.ID] = r
}

func (f *fakeRestaurants) GetRestaurant(ctx context.Context, restaurantID int64) (*clients.Restaurant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.restaurants[restaurantID]
	if !ok {
		return nil, apperr.NotFound("restaurant %d not found", restaurantID)
	}
	c := r
	return &c, nil
}

type fakeUsers struct {
	err error
}

func (f *fakeUsers) GetUser(ctx context.Context, userID int64) (*clients.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &clients.User{ID: userID, Name: fmt.Sprintf("user-%d", userID)}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []clients.Notification
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, note clients.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, note)
	return nil
}

func (f *fakeNotifier) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, note := range f.sent {
		if note.Type == kind {
			n++
		}
	}
	return n
}

type refundRequest struct {
	orderID             int64
	reason, requestedBy string
}

type fakeRefundRequester struct {
	mu    sync.Mutex
	calls []refundRequest
}

func (f *fakeRefundRequester) RequestRefund(ctx context.Context, orderID int64, reason, requestedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, refundRequest{orderID: orderID, reason: reason, requestedBy: requestedBy})
	return nil
}

func (f *fakeRefundRequester) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[int64]*models.Payment
	nextID   int64
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{payments: make(map[int64]*models.Payment)}
}

func (f *fakePaymentStore) add(p *models.Payment) *models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == 0 {
		f.nextID++
		p.ID = f.nextID
	} else if p.ID > f.nextID {
		f.nextID = p.ID
	}
	c := *p
	f.payments[p.ID] = &c
	out := c
	return &out
}

func (f *fakePaymentStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	payment.ID = f.nextID
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	c := *payment
	f.payments[payment.ID] = &c
	return nil
}

func (f *fakePaymentStore) GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment %d not found", id)
	}
	c := *p
	return &c, nil
}

func (f *fakePaymentStore) GetPaymentByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ProviderIntentID != nil && *p.ProviderIntentID == intentID {
			c := *p
			return &c, nil
		}
	}
	return nil, apperr.NotFound("payment with intent %s not found", intentID)
}

func (f *fakePaymentStore) GetPaymentBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.CheckoutSessionID != nil && *p.CheckoutSessionID == sessionID {
			c := *p
			return &c, nil
		}
	}
	return nil, apperr.NotFound("payment with session %s not found", sessionID)
}

func (f *fakePaymentStore) GetLatestPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.Payment
	for _, p := range f.payments {
		if p.OrderID == orderID && (latest == nil || p.ID > latest.ID) {
			latest = p
		}
	}
	if latest == nil {
		return nil, apperr.NotFound("no payment for order %d", orderID)
	}
	c := *latest
	return &c, nil
}

func (f *fakePaymentStore) GetPaymentsByOrderID(ctx context.Context, orderID int64) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for id := int64(1); id <= f.nextID; id++ {
		if p, ok := f.payments[id]; ok && p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePaymentStore) UpdatePaymentStatus(ctx context.Context, paymentID int64, from, to models.PaymentStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok {
		return false, apperr.NotFound("payment %d not found", paymentID)
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}

func (f *fakePaymentStore) MarkPaymentSucceeded(ctx context.Context, paymentID int64, from models.PaymentStatus, fee decimal.Decimal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok {
		return false, apperr.NotFound("payment %d not found", paymentID)
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = models.PaymentStatusSucceeded
	p.Fee = fee
	return true, nil
}

func (f *fakePaymentStore) SetProviderIntentID(ctx context.Context, paymentID int64, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok {
		return apperr.NotFound("payment %d not found", paymentID)
	}
	if p.ProviderIntentID != nil && *p.ProviderIntentID != intentID {
		return apperr.Conflict("payment %d is bound to another intent", paymentID)
	}
	id := intentID
	p.ProviderIntentID = &id
	return nil
}

func (f *fakePaymentStore) SetCheckoutSessionID(ctx context.Context, paymentID int64, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok {
		return apperr.NotFound("payment %d not found", paymentID)
	}
	if p.CheckoutSessionID != nil && *p.CheckoutSessionID != sessionID {
		return apperr.Conflict("payment %d is bound to another session", paymentID)
	}
	id := sessionID
	p.CheckoutSessionID = &id
	return nil
}

// fakeRefundStore enforces the reservation invariant the way the SQL store
// does: the sum of non-failed refunds for a payment never exceeds the
// payment amount, checked and inserted atomically.
type fakeRefundStore struct {
	mu       sync.Mutex
	payments *fakePaymentStore
	refunds  map[int64]*models.Refund
	nextID   int64
}

func newFakeRefundStore(payments *fakePaymentStore) *fakeRefundStore {
	return &fakeRefundStore{payments: payments, refunds: make(map[int64]*models.Refund)}
}

func (f *fakeRefundStore) add(r *models.Refund) *models.Refund {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID == 0 {
		f.nextID++
		r.ID = f.nextID
	} else if r.ID > f.nextID {
		f.nextID = r.ID
	}
	c := *r
	f.refunds[r.ID] = &c
	out := c
	return &out
}

func (f *fakeRefundStore) reservedLocked(paymentID int64) decimal.Decimal {
	total := decimal.Zero
	for _, r := range f.refunds {
		if r.PaymentID == paymentID && r.Status != models.RefundStatusFailed {
			total = total.Add(r.Amount)
		}
	}
	return total
}

func (f *fakeRefundStore) CreateRefundReserved(ctx context.Context, refund *models.Refund) error {
	payment, err := f.payments.GetPaymentByID(ctx, refund.PaymentID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reservedLocked(refund.PaymentID).Add(refund.Amount).GreaterThan(payment.Amount) {
		return apperr.Conflict("refund of %s exceeds the refundable amount on payment %d", refund.Amount, refund.PaymentID)
	}
	f.nextID++
	refund.ID = f.nextID
	now := time.Now().UTC()
	refund.CreatedAt = now
	refund.UpdatedAt = now
	c := *refund
	f.refunds[refund.ID] = &c
	return nil
}

func (f *fakeRefundStore) CreateRemainderRefund(ctx context.Context, refund *models.Refund) (bool, error) {
	payment, err := f.payments.GetPaymentByID(ctx, refund.PaymentID)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	remainder := payment.Amount.Sub(f.reservedLocked(refund.PaymentID))
	if !remainder.IsPositive() {
		return false, nil
	}
	refund.Amount = remainder
	f.nextID++
	refund.ID = f.nextID
	now := time.Now().UTC()
	refund.CreatedAt = now
	refund.UpdatedAt = now
	c := *refund
	f.refunds[refund.ID] = &c
	return true, nil
}

func (f *fakeRefundStore) GetRefundByID(ctx context.Context, id int64) (*models.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refunds[id]
	if !ok {
		return nil, apperr.NotFound("refund %d not found", id)
	}
	c := *r
	return &c, nil
}

func (f *fakeRefundStore) GetRefundByProviderRefundID(ctx context.Context, providerRefundID string) (*models.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.refunds {
		if r.ProviderRefundID != nil && *r.ProviderRefundID == providerRefundID {
			c := *r
			return &c, nil
		}
	}
	return nil, apperr.NotFound("refund with provider id %s not found", providerRefundID)
}

func (f *fakeRefundStore) GetRefundsByPaymentID(ctx context.Context, paymentID int64) ([]models.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Refund
	for id := int64(1); id <= f.nextID; id++ {
		if r, ok := f.refunds[id]; ok && r.PaymentID == paymentID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRefundStore) UpdateRefundStatus(ctx context.Context, refundID int64, from, to models.RefundStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refunds[refundID]
	if !ok {
		return false, apperr.NotFound("refund %d not found", refundID)
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (f *fakeRefundStore) SetProviderRefundID(ctx context.Context, refundID int64, providerRefundID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refunds[refundID]
	if !ok {
		return apperr.NotFound("refund %d not found", refundID)
	}
	id := providerRefundID
	r.ProviderRefundID = &id
	return nil
}

func (f *fakeRefundStore) GetRefundStats(ctx context.Context, restaurantID *int64, from, to *time.Time) (*models.RefundStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.RefundStats{Total: decimal.Zero}
	for _, r := range f.refunds {
		if r.Status != models.RefundStatusSucceeded {
			continue
		}
		if restaurantID != nil {
			payment, err := f.payments.GetPaymentByID(ctx, r.PaymentID)
			if err != nil || payment.RestaurantID != *restaurantID {
				continue
			}
		}
		if from != nil && r.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && r.CreatedAt.After(*to) {
			continue
		}
		stats.Count++
		stats.Total = stats.Total.Add(r.Amount)
	}
	return stats, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.held[lockKey] {
		return false, nil
	}
	f.held[lockKey] = true
	return true, nil
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, lockKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, lockKey)
	return nil
}

type ledgerPaymentRelay struct {
	orderID        int64
	eventID, event string
}

type ledgerRefundRelay struct {
	orderID        int64
	eventID, event string
	amount         decimal.Decimal
}

// fakeLedger stands in for the order service as seen from paymentd.
type fakeLedger struct {
	mu           sync.Mutex
	orders       map[int64]clients.OrderDetails
	payRelays    []ledgerPaymentRelay
	refundRelays []ledgerRefundRelay
	getErr       error
	payErr       error
	refundErr    error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{orders: make(map[int64]clients.OrderDetails)}
}

func (f *fakeLedger) put(order models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = clients.OrderDetails{Order: order}
}

func (f *fakeLedger) GetOrder(ctx context.Context, orderID int64) (*clients.OrderDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	d, ok := f.orders[orderID]
	if !ok {
		return nil, apperr.NotFound("order %d not found", orderID)
	}
	c := d
	return &c, nil
}

func (f *fakeLedger) UpdatePaymentStatus(ctx context.Context, orderID int64, eventID, event string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payErr != nil {
		return f.payErr
	}
	f.payRelays = append(f.payRelays, ledgerPaymentRelay{orderID: orderID, eventID: eventID, event: event})
	return nil
}

func (f *fakeLedger) UpdateRefundStatus(ctx context.Context, orderID int64, eventID, event string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refundRelays = append(f.refundRelays, ledgerRefundRelay{orderID: orderID, eventID: eventID, event: event, amount: amount})
	return nil
}

func (f *fakeLedger) refundRelayCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.refundRelays {
		if r.event == event {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	mu            sync.Mutex
	intentReqs    []provider.CreateIntentRequest
	sessionReqs   []provider.CreateSessionRequest
	refundReqs    []provider.CreateRefundRequest
	transferReqs  []provider.CreateTransferRequest
	cancelled     []string
	intentErr     error
	sessionErr    error
	refundErr     error
	transferErr   error
	cancelErr     error
	sessionIntent string
	seq           int
}

func (f *fakeProvider) CreateIntent(ctx context.Context, req provider.CreateIntentRequest) (*provider.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	f.seq++
	f.intentReqs = append(f.intentReqs, req)
	id := fmt.Sprintf("pi_fake_%d", f.seq)
	return &provider.Intent{
		ID:           id,
		Status:       "requires_payment_method",
		Amount:       req.Amount,
		Currency:     req.Currency,
		ClientSecret: id + "_secret",
	}, nil
}

func (f *fakeProvider) CancelIntent(ctx context.Context, intentID string) (*provider.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.cancelled = append(f.cancelled, intentID)
	return &provider.Intent{ID: intentID, Status: "canceled"}, nil
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, req provider.CreateSessionRequest) (*provider.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	f.seq++
	f.sessionReqs = append(f.sessionReqs, req)
	id := fmt.Sprintf("cs_fake_%d", f.seq)
	return &provider.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.example/" + id,
		PaymentIntent: f.sessionIntent,
		Status:        "open",
	}, nil
}

func (f *fakeProvider) CreateRefund(ctx context.Context, req provider.CreateRefundRequest) (*provider.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.seq++
	f.refundReqs = append(f.refundReqs, req)
	return &provider.Refund{
		ID:            fmt.Sprintf("re_fake_%d", f.seq),
		PaymentIntent: req.PaymentIntent,
		Amount:        req.Amount,
		Status:        "pending",
	}, nil
}

func (f *fakeProvider) CreateTransfer(ctx context.Context, req provider.CreateTransferRequest) (*provider.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	f.seq++
	f.transferReqs = append(f.transferReqs, req)
	return &provider.Transfer{
		ID:          fmt.Sprintf("tr_fake_%d", f.seq),
		Amount:      req.Amount,
		Currency:    req.Currency,
		Destination: req.Destination,
	}, nil
}

type fakeAutoRefunder struct {
	mu     sync.Mutex
	orders []int64
	err    error
}

func (f *fakeAutoRefunder) ProcessAutomaticRefund(ctx context.Context, orderID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.orders = append(f.orders, orderID)
	return nil
}

func (f *fakeAutoRefunder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeSettlementStore struct {
	mu          sync.Mutex
	earnings    map[int64]*models.DriverEarning
	settlements map[int64]*models.RestaurantSettlement
	nextID      int64
}

func newFakeSettlementStore() *fakeSettlementStore {
	return &fakeSettlementStore{
		earnings:    make(map[int64]*models.DriverEarning),
		settlements: make(map[int64]*models.RestaurantSettlement),
	}
}

func (f *fakeSettlementStore) CreateDriverEarning(ctx context.Context, earning *models.DriverEarning) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.earnings {
		if e.OrderID == earning.OrderID {
			return false, nil
		}
	}
	f.nextID++
	earning.ID = f.nextID
	now := time.Now().UTC()
	earning.CreatedAt = now
	earning.UpdatedAt = now
	c := *earning
	f.earnings[earning.ID] = &c
	return true, nil
}

func (f *fakeSettlementStore) GetDriverEarningByID(ctx context.Context, id int64) (*models.DriverEarning, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.earnings[id]
	if !ok {
		return nil, apperr.NotFound("driver earning %d not found", id)
	}
	c := *e
	return &c, nil
}

func (f *fakeSettlementStore) GetDriverEarningByOrderID(ctx context.Context, orderID int64) (*models.DriverEarning, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.earnings {
		if e.OrderID == orderID {
			c := *e
			return &c, nil
		}
	}
	return nil, apperr.NotFound("no driver earning for order %d", orderID)
}

func (f *fakeSettlementStore) GetDriverEarningsByDriverID(ctx context.Context, driverID int64) ([]models.DriverEarning, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DriverEarning
	for _, e := range f.earnings {
		if e.DriverID == driverID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeSettlementStore) UpdateEarningPayout(ctx context.Context, id int64, from, to models.PayoutStatus, transferID *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.earnings[id]
	if !ok {
		return false, apperr.NotFound("driver earning %d not found", id)
	}
	if e.Status != from {
		return false, nil
	}
	e.Status = to
	if transferID != nil {
		tid := *transferID
		e.ProviderTransferID = &tid
	}
	return true, nil
}

func (f *fakeSettlementStore) CreateRestaurantSettlement(ctx context.Context, settlement *models.RestaurantSettlement) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.settlements {
		if s.OrderID == settlement.OrderID {
			return false, nil
		}
	}
	f.nextID++
	settlement.ID = f.nextID
	now := time.Now().UTC()
	settlement.CreatedAt = now
	settlement.UpdatedAt = now
	c := *settlement
	f.settlements[settlement.ID] = &c
	return true, nil
}

func (f *fakeSettlementStore) GetRestaurantSettlementByID(ctx context.Context, id int64) (*models.RestaurantSettlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settlements[id]
	if !ok {
		return nil, apperr.NotFound("restaurant settlement %d not found", id)
	}
	c := *s
	return &c, nil
}

func (f *fakeSettlementStore) GetRestaurantSettlementByOrderID(ctx context.Context, orderID int64) (*models.RestaurantSettlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.settlements {
		if s.OrderID == orderID {
			c := *s
			return &c, nil
		}
	}
	return nil, apperr.NotFound("no restaurant settlement for order %d", orderID)
}

func (f *fakeSettlementStore) GetRestaurantSettlementsByRestaurantID(ctx context.Context, restaurantID int64) ([]models.RestaurantSettlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RestaurantSettlement
	for _, s := range f.settlements {
		if s.RestaurantID == restaurantID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSettlementStore) UpdateSettlementPayout(ctx context.Context, id int64, from, to models.PayoutStatus, transferID *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settlements[id]
	if !ok {
		return false, apperr.NotFound("restaurant settlement %d not found", id)
	}
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	if transferID != nil {
		tid := *transferID
		s.ProviderTransferID = &tid
	}
	return true, nil
}

var _ OrderStore = (*fakeOrderStore)(nil)
var _ IdempotencyCache = (*fakeIdem)(nil)
var _ Publisher = (*fakePublisher)(nil)
var _ CatalogReader = (*fakeCatalog)(nil)
var _ RestaurantReader = (*fakeRestaurants)(nil)
var _ UserReader = (*fakeUsers)(nil)
var _ Notifier = (*fakeNotifier)(nil)
var _ RefundRequester = (*fakeRefundRequester)(nil)
var _ PaymentStore = (*fakePaymentStore)(nil)
var _ RefundStore = (*fakeRefundStore)(nil)
var _ Locker = (*fakeLocker)(nil)
var _ OrderLedger = (*fakeLedger)(nil)
var _ PaymentProvider = (*fakeProvider)(nil)
var _ AutoRefunder = (*fakeAutoRefunder)(nil)
var _ SettlementStore = (*fakeSettlementStore)(nil)
