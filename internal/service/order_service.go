package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/clients"
	"delivery-platform/internal/models"
	"delivery-platform/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	idempotencyTTL           = 24 * time.Hour
	idempotencyPendingMarker = "pending"
	confirmDeliveryETA       = 15 * time.Minute
	catalogLookupLimit       = 4
	refundRequestTimeout     = 10 * time.Second
)

// OrderService handles order business logic
type OrderService struct {
	store       OrderStore
	idem        IdempotencyCache
	events      Publisher
	catalog     CatalogReader
	restaurants RestaurantReader
	users       UserReader
	notifier    Notifier
	refunds     RefundRequester
	logger      *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	store OrderStore,
	idem IdempotencyCache,
	events Publisher,
	catalog CatalogReader,
	restaurants RestaurantReader,
	users UserReader,
	notifier Notifier,
	refunds RefundRequester,
) *OrderService {
	return &OrderService{
		store:       store,
		idem:        idem,
		events:      events,
		catalog:     catalog,
		restaurants: restaurants,
		users:       users,
		notifier:    notifier,
		refunds:     refunds,
		logger:      util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	CustomerID      int64              `json:"customer_id" binding:"required"`
	RestaurantID    int64              `json:"restaurant_id" binding:"required"`
	Items           []OrderItemRequest `json:"items" binding:"required,min=1"`
	DeliveryAddress string             `json:"delivery_address" binding:"required"`
	DeliveryFee     *decimal.Decimal   `json:"delivery_fee,omitempty"`
	IdempotencyKey  string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ItemID   int64 `json:"item_id" binding:"required"`
	Quantity int   `json:"quantity" binding:"required,min=1"`
}

// UpdateStatusRequest represents a fulfillment status change
type UpdateStatusRequest struct {
	Status                string     `json:"status" binding:"required"`
	EstimatedDeliveryTime *time.Time `json:"estimated_delivery_time,omitempty"`
	Notes                 string     `json:"notes,omitempty"`
	ChangedBy             string     `json:"changed_by,omitempty"`
}

// CancelOrderRequest represents a cancellation
type CancelOrderRequest struct {
	Reason      string `json:"reason" binding:"required"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

// AssignDriverResponse is the assignment result, decorated with directory
// details when the lookups succeed.
type AssignDriverResponse struct {
	Order      *models.Order       `json:"order"`
	Driver     *clients.User       `json:"driver,omitempty"`
	Customer   *clients.User       `json:"customer,omitempty"`
	Restaurant *clients.Restaurant `json:"restaurant,omitempty"`
}

// CreateOrder validates the request against the restaurant directory and
// catalog, snapshots item names and prices, and persists order, items and
// the first history row in one transaction. Nothing is persisted when any
// item fails validation.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := validateCreateOrder(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, nil, err
	}

	// Claim-first idempotency: the winner creates the order and records
	// its id under the key, losers are served the winner's order. A redis
	// outage degrades to no dedup rather than blocking order intake.
	claimed := false
	if req.IdempotencyKey != "" {
		ok, err := s.idem.ClaimIdempotencyKey(ctx, req.IdempotencyKey, idempotencyPendingMarker, idempotencyTTL)
		if err != nil {
			s.logger.Warn("Idempotency claim failed, continuing without dedup",
				zap.String("idempotency_key", req.IdempotencyKey), zap.Error(err))
		} else if !ok {
			return s.resolveDuplicate(ctx, req.IdempotencyKey)
		} else {
			claimed = true
		}
	}

	order, items, err := s.buildOrder(ctx, req)
	if err != nil {
		s.releaseClaim(ctx, claimed, req.IdempotencyKey)
		return nil, nil, err
	}

	if err := s.store.CreateOrderTx(ctx, order, items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		s.releaseClaim(ctx, claimed, req.IdempotencyKey)
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	if claimed {
		if err := s.idem.SetIdempotencyValue(ctx, req.IdempotencyKey, strconv.FormatInt(order.ID, 10), idempotencyTTL); err != nil {
			s.logger.Warn("Failed to record idempotency result",
				zap.String("idempotency_key", req.IdempotencyKey), zap.Error(err))
		}
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.Total.String()))

	event := &models.OrderCreatedEvent{
		BaseEvent:    newBaseEvent(models.EventTypeOrderCreated),
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		CustomerID:   order.CustomerID,
		RestaurantID: order.RestaurantID,
		Total:        order.Total,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish ORDER_CREATED event", zap.Error(err))
	}

	s.notifyCustomer(ctx, order.CustomerID, "order_created", "Order placed",
		fmt.Sprintf("Your order %s has been placed.", order.OrderNumber), order)

	return order, items, nil
}

// resolveDuplicate serves a repeated create request from the idempotency
// record. An in-flight marker means the first request has not finished yet.
func (s *OrderService) resolveDuplicate(ctx context.Context, key string) (*models.Order, []models.OrderItem, error) {
	value, err := s.idem.GetIdempotencyValue(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve idempotency key: %w", err)
	}
	orderID, perr := strconv.ParseInt(value, 10, 64)
	if value == "" || value == idempotencyPendingMarker || perr != nil {
		return nil, nil, apperr.Conflict("order creation with key %q is already in progress", key)
	}
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key), zap.Int64("order_id", orderID))
	return s.GetOrder(ctx, orderID)
}

func (s *OrderService) releaseClaim(ctx context.Context, claimed bool, key string) {
	if !claimed {
		return
	}
	if err := s.idem.DeleteIdempotencyKey(ctx, key); err != nil {
		s.logger.Warn("Failed to release idempotency key", zap.String("idempotency_key", key), zap.Error(err))
	}
}

// buildOrder resolves the restaurant and catalog and assembles the order
// without persisting anything.
func (s *OrderService) buildOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, []models.OrderItem, error) {
	restaurant, err := s.restaurants.GetRestaurant(ctx, req.RestaurantID)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("restaurant_lookup").Inc()
		return nil, nil, err
	}
	if !restaurant.Open {
		util.OrdersFailedTotal.WithLabelValues("restaurant_closed").Inc()
		return nil, nil, apperr.Conflict("restaurant %d is not accepting orders", req.RestaurantID)
	}

	items, subtotal, err := s.snapshotItems(ctx, req.RestaurantID, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("catalog").Inc()
		return nil, nil, err
	}

	deliveryFee := restaurant.DeliveryFee
	if req.DeliveryFee != nil {
		deliveryFee = *req.DeliveryFee
	}

	order := &models.Order{
		OrderNumber:     newOrderNumber(),
		CustomerID:      req.CustomerID,
		RestaurantID:    req.RestaurantID,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.OrderPaymentUnpaid,
		Subtotal:        subtotal,
		DeliveryFee:     deliveryFee,
		Total:           subtotal.Add(deliveryFee),
		RefundAmount:    decimal.Zero,
		DeliveryAddress: req.DeliveryAddress,
	}
	return order, items, nil
}

// snapshotItems looks the items up in the catalog concurrently and copies
// name and unit price into the order, so later catalog edits cannot change
// what this order charges.
func (s *OrderService) snapshotItems(ctx context.Context, restaurantID int64, reqs []OrderItemRequest) ([]models.OrderItem, decimal.Decimal, error) {
	items := make([]models.OrderItem, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogLookupLimit)
	for i, ir := range reqs {
		i, ir := i, ir
		g.Go(func() error {
			menuItem, err := s.catalog.GetMenuItem(gctx, restaurantID, ir.ItemID)
			if err != nil {
				return err
			}
			if !menuItem.Available {
				return apperr.Conflict("menu item %d is currently unavailable", ir.ItemID)
			}
			items[i] = models.OrderItem{
				ItemID:    ir.ItemID,
				Name:      menuItem.Name,
				UnitPrice: menuItem.Price,
				Quantity:  ir.Quantity,
				LineTotal: menuItem.Price.Mul(decimal.NewFromInt(int64(ir.Quantity))),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, decimal.Zero, err
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal)
	}
	return items, subtotal, nil
}

func validateCreateOrder(req *CreateOrderRequest) error {
	if req.CustomerID <= 0 {
		return apperr.Invalid("customer_id is required")
	}
	if req.RestaurantID <= 0 {
		return apperr.Invalid("restaurant_id is required")
	}
	if strings.TrimSpace(req.DeliveryAddress) == "" {
		return apperr.Invalid("delivery_address is required")
	}
	if len(req.Items) == 0 {
		return apperr.Invalid("order must contain at least one item")
	}
	for _, item := range req.Items {
		if item.ItemID <= 0 {
			return apperr.Invalid("item_id is required for every item")
		}
		if item.Quantity <= 0 {
			return apperr.Invalid("quantity must be positive for item %d", item.ItemID)
		}
	}
	if req.DeliveryFee != nil && req.DeliveryFee.IsNegative() {
		return apperr.Invalid("delivery_fee cannot be negative")
	}
	return nil
}

func newOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", time.Now().UTC().Format("20060102"), suffix)
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// GetOrder retrieves an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// GetOrderHistory retrieves the status audit trail for an order
func (s *OrderService) GetOrderHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	if _, err := s.store.GetOrderByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.GetOrderHistoryByOrderID(ctx, orderID)
}

// ListCustomerOrders retrieves all orders placed by a customer
func (s *OrderService) ListCustomerOrders(ctx context.Context, customerID int64) ([]models.Order, error) {
	return s.store.GetOrdersByCustomerID(ctx, customerID)
}

// UpdateStatus moves an order along the fulfillment lifecycle. Cancellation
// and refunds have their own entry points; this endpoint rejects them.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, req *UpdateStatusRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	target := models.OrderStatus(req.Status)
	if !target.Valid() {
		return nil, apperr.Invalid("unknown order status %q", req.Status)
	}
	if target == models.OrderStatusCancelled {
		return nil, apperr.Invalid("use the cancel endpoint to cancel an order")
	}
	if target == models.OrderStatusRefunded {
		return nil, apperr.Invalid("refunded is driven by the payment service, not the status endpoint")
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransition(target) {
		util.OrderTransitionsRejected.Inc()
		return nil, apperr.Conflict("order %d cannot move from %s to %s", orderID, order.Status, target)
	}
	if (target == models.OrderStatusPickedUp || target == models.OrderStatusDelivered) && order.DriverID == nil {
		util.OrderTransitionsRejected.Inc()
		return nil, apperr.Conflict("order %d has no driver assigned", orderID)
	}

	changedBy := req.ChangedBy
	if changedBy == "" {
		changedBy = "system"
	}

	if err := s.store.TransitionOrderStatus(ctx, orderID, order.Status, target, req.EstimatedDeliveryTime, req.Notes, changedBy); err != nil {
		if apperr.IsConflict(err) {
			util.OrderTransitionsRejected.Inc()
		}
		return nil, err
	}
	util.OrderTransitionsTotal.WithLabelValues(string(target)).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(target)))

	updated, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if target == models.OrderStatusDelivered {
		var driverID int64
		if updated.DriverID != nil {
			driverID = *updated.DriverID
		}
		event := &models.OrderDeliveredEvent{
			BaseEvent:    newBaseEvent(models.EventTypeOrderDelivered),
			OrderID:      updated.ID,
			OrderNumber:  updated.OrderNumber,
			RestaurantID: updated.RestaurantID,
			DriverID:     driverID,
			Subtotal:     updated.Subtotal,
			DeliveryFee:  updated.DeliveryFee,
			Total:        updated.Total,
		}
		if err := s.events.PublishOrderDelivered(ctx, event); err != nil {
			s.logger.Error("Failed to publish ORDER_DELIVERED event", zap.Error(err))
		}
	}

	s.notifyCustomer(ctx, updated.CustomerID, "order_status", "Order update",
		fmt.Sprintf("Your order %s is now %s.", updated.OrderNumber, target), updated)

	return updated, nil
}

// AssignDriver binds a driver to an order exactly once. The conditional
// write in the store is the authority; the status pre-check only produces
// friendlier errors for terminal orders.
func (s *OrderService) AssignDriver(ctx context.Context, orderID, driverID int64) (*AssignDriverResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.AssignDriver")
	defer span.End()

	if driverID <= 0 {
		return nil, apperr.Invalid("driver_id is required")
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case models.OrderStatusCancelled, models.OrderStatusDelivered, models.OrderStatusRefunded:
		return nil, apperr.Conflict("cannot assign a driver to a %s order", order.Status)
	}

	if err := s.store.AssignDriver(ctx, orderID, driverID); err != nil {
		if apperr.IsConflict(err) {
			util.DriverAssignConflicts.Inc()
		}
		return nil, err
	}
	s.logger.Info("Driver assigned", zap.Int64("order_id", orderID), zap.Int64("driver_id", driverID))

	// Accepting the assignment confirms a pending order and stamps the
	// first delivery estimate. Losing this transition to a concurrent
	// confirm is fine; the assignment itself already committed.
	if order.Status == models.OrderStatusPending {
		eta := time.Now().UTC().Add(confirmDeliveryETA)
		if err := s.store.TransitionOrderStatus(ctx, orderID, models.OrderStatusPending, models.OrderStatusConfirmed, &eta, "driver assigned", "system"); err != nil {
			s.logger.Warn("Could not confirm order after driver assignment",
				zap.Int64("order_id", orderID), zap.Error(err))
		} else {
			util.OrderTransitionsTotal.WithLabelValues(string(models.OrderStatusConfirmed)).Inc()
		}
	}

	updated, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	resp := &AssignDriverResponse{Order: updated}
	s.enrichAssignment(ctx, resp, driverID)

	s.notifyCustomer(ctx, updated.CustomerID, "driver_assigned", "Driver assigned",
		fmt.Sprintf("A driver is on the way for order %s.", updated.OrderNumber), updated)

	return resp, nil
}

// enrichAssignment decorates the response with directory details. Failed
// lookups degrade to nil fields; the assignment itself already committed.
func (s *OrderService) enrichAssignment(ctx context.Context, resp *AssignDriverResponse, driverID int64) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		driver, err := s.users.GetUser(gctx, driverID)
		if err != nil {
			s.logger.Warn("Driver lookup failed", zap.Int64("driver_id", driverID), zap.Error(err))
			return nil
		}
		resp.Driver = driver
		return nil
	})
	g.Go(func() error {
		customer, err := s.users.GetUser(gctx, resp.Order.CustomerID)
		if err != nil {
			s.logger.Warn("Customer lookup failed", zap.Int64("customer_id", resp.Order.CustomerID), zap.Error(err))
			return nil
		}
		resp.Customer = customer
		return nil
	})
	g.Go(func() error {
		restaurant, err := s.restaurants.GetRestaurant(gctx, resp.Order.RestaurantID)
		if err != nil {
			s.logger.Warn("Restaurant lookup failed", zap.Int64("restaurant_id", resp.Order.RestaurantID), zap.Error(err))
			return nil
		}
		resp.Restaurant = restaurant
		return nil
	})
	_ = g.Wait()
}

// Cancel cancels an order that has not reached a terminal state. For paid
// orders it also asks the payment service to refund; that call is fire and
// forget because the payment service independently consumes the
// ORDER_CANCELLED event as a backstop.
func (s *OrderService) Cancel(ctx context.Context, orderID int64, req *CancelOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	if strings.TrimSpace(req.Reason) == "" {
		return nil, apperr.Invalid("cancel reason is required")
	}
	cancelledBy := req.CancelledBy
	if cancelledBy == "" {
		cancelledBy = "customer"
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransition(models.OrderStatusCancelled) {
		return nil, apperr.Conflict("order %d is %s and can no longer be cancelled", orderID, order.Status)
	}

	if err := s.store.CancelOrder(ctx, orderID, order.Status, req.Reason, cancelledBy); err != nil {
		return nil, err
	}
	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled", zap.Int64("order_id", orderID), zap.String("reason", req.Reason))

	if order.PaymentStatus == models.OrderPaymentPaid {
		s.requestRefundAsync(orderID, req.Reason, cancelledBy)
	}

	event := &models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   orderID,
		Reason:    req.Reason,
	}
	if err := s.events.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish ORDER_CANCELLED event", zap.Error(err))
	}

	updated, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.notifyCustomer(ctx, updated.CustomerID, "order_cancelled", "Order cancelled",
		fmt.Sprintf("Your order %s was cancelled.", updated.OrderNumber), updated)

	return updated, nil
}

func (s *OrderService) requestRefundAsync(orderID int64, reason, requestedBy string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refundRequestTimeout)
		defer cancel()
		if err := s.refunds.RequestRefund(ctx, orderID, reason, requestedBy); err != nil {
			s.logger.Error("Refund request failed", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}()
}

// ApplyPaymentEvent applies a payment status relay from the payment
// service. The event id is claimed inside the same transaction as the
// write, so replays return applied=false without touching the order.
func (s *OrderService) ApplyPaymentEvent(ctx context.Context, orderID int64, eventID, event string) (bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ApplyPaymentEvent")
	defer span.End()

	if eventID == "" {
		return false, apperr.Invalid("event_id is required")
	}

	var (
		target  models.OrderPaymentStatus
		confirm bool
	)
	switch event {
	case models.PaymentEventPending:
		target = models.OrderPaymentPending
	case models.PaymentEventSucceeded:
		target = models.OrderPaymentPaid
		confirm = true
	case models.PaymentEventFailed, models.PaymentEventCancelled:
		target = models.OrderPaymentFailed
	default:
		return false, apperr.Invalid("unknown payment event %q", event)
	}

	applied, err := s.store.ApplyPaymentEvent(ctx, orderID, eventID, target, confirm)
	if err != nil {
		return false, err
	}
	if !applied {
		s.logger.Info("Payment event already applied",
			zap.Int64("order_id", orderID), zap.String("event_id", eventID))
		return false, nil
	}
	s.logger.Info("Payment event applied",
		zap.Int64("order_id", orderID), zap.String("event", event))

	if confirm {
		if order, err := s.store.GetOrderByID(ctx, orderID); err == nil {
			s.notifyCustomer(ctx, order.CustomerID, "payment_received", "Payment received",
				fmt.Sprintf("Payment for order %s is confirmed.", order.OrderNumber), order)
		}
	}
	return true, nil
}

// ApplyRefundEvent applies a refund relay from the payment service.
// Only refund.succeeded changes the ledger; initiated and failed are
// acknowledged without a write because the refund has not landed.
func (s *OrderService) ApplyRefundEvent(ctx context.Context, orderID int64, eventID, event string, amount decimal.Decimal) (bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ApplyRefundEvent")
	defer span.End()

	if eventID == "" {
		return false, apperr.Invalid("event_id is required")
	}

	switch event {
	case models.RefundEventInitiated, models.RefundEventFailed:
		s.logger.Info("Refund event acknowledged",
			zap.Int64("order_id", orderID), zap.String("event", event))
		return false, nil
	case models.RefundEventSucceeded:
	default:
		return false, apperr.Invalid("unknown refund event %q", event)
	}

	if !amount.IsPositive() {
		return false, apperr.Invalid("refund amount must be positive")
	}

	applied, fullyRefunded, err := s.store.ApplyRefundEvent(ctx, orderID, eventID, amount)
	if err != nil {
		return false, err
	}
	if !applied {
		s.logger.Info("Refund event already applied",
			zap.Int64("order_id", orderID), zap.String("event_id", eventID))
		return false, nil
	}
	s.logger.Info("Refund applied to order",
		zap.Int64("order_id", orderID),
		zap.String("amount", amount.String()),
		zap.Bool("fully_refunded", fullyRefunded))

	if order, err := s.store.GetOrderByID(ctx, orderID); err == nil {
		s.notifyCustomer(ctx, order.CustomerID, "refund_processed", "Refund processed",
			fmt.Sprintf("A refund of %s was issued for order %s.", amount.String(), order.OrderNumber), order)
	}
	return true, nil
}

func (s *OrderService) notifyCustomer(ctx context.Context, customerID int64, kind, title, body string, order *models.Order) {
	note := clients.Notification{
		UserID: customerID,
		Type:   kind,
		Title:  title,
		Body:   body,
		Data: map[string]string{
			"order_id":     strconv.FormatInt(order.ID, 10),
			"order_number": order.OrderNumber,
		},
	}
	if err := s.notifier.Send(ctx, note); err != nil {
		util.NotifyFailuresTotal.WithLabelValues("customer").Inc()
		s.logger.Warn("Failed to send notification",
			zap.Int64("user_id", customerID), zap.String("type", kind), zap.Error(err))
	}
}
