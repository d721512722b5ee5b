package store

import (
	"context"
	"database/sql"
	"time"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// CreateOrderTx creates an order, its items, and the first history row in a
// single transaction. A failure at any step leaves no partial order behind.
func (s *Store) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (order_number, customer_id, restaurant_id, status, payment_status,
			subtotal, delivery_fee, total, refund_amount, delivery_address, estimated_delivery_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err = tx.GetContext(ctx, order, query,
		order.OrderNumber, order.CustomerID, order.RestaurantID, order.Status, order.PaymentStatus,
		order.Subtotal, order.DeliveryFee, order.Total, order.RefundAmount,
		order.DeliveryAddress, order.EstimatedDeliveryTime)
	if err != nil {
		return err
	}

	itemQuery := `
		INSERT INTO order_items (order_id, item_id, name, unit_price, quantity, line_total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	for i := range items {
		items[i].OrderID = order.ID
		if err := tx.GetContext(ctx, &items[i].ID, itemQuery,
			order.ID, items[i].ItemID, items[i].Name, items[i].UnitPrice,
			items[i].Quantity, items[i].LineTotal); err != nil {
			return err
		}
	}

	if err := insertHistory(ctx, tx, order.ID, "", order.Status, "order created", "customer"); err != nil {
		return err
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("order %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByNumber retrieves an order by its public order number
func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE order_number = $1", number)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("order %s not found", number)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByCustomerID retrieves orders for a customer, newest first
func (s *Store) GetOrdersByCustomerID(ctx context.Context, customerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE customer_id = $1 ORDER BY created_at DESC", customerID)
	return orders, err
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetOrderHistoryByOrderID retrieves the status audit trail for an order
func (s *Store) GetOrderHistoryByOrderID(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	var history []models.OrderStatusHistory
	err := s.db.SelectContext(ctx, &history,
		"SELECT * FROM order_status_history WHERE order_id = $1 ORDER BY id", orderID)
	return history, err
}

// TransitionOrderStatus moves an order from one status to another. The UPDATE
// is guarded on the expected current status so two racing writers cannot both
// apply; the loser gets a conflict. Reaching delivered also stamps the actual
// delivery time, and a non-nil eta overwrites the estimate.
func (s *Store) TransitionOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus, eta *time.Time, note, changedBy string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    estimated_delivery_time = COALESCE($2, estimated_delivery_time),
		    actual_delivery_time = CASE WHEN $1 = 'delivered' THEN NOW() ELSE actual_delivery_time END,
		    updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		to, eta, orderID, from)
	if err != nil {
		return err
	}
	if err := requireTransitionApplied(ctx, tx, res, orderID, from, to); err != nil {
		return err
	}

	if err := insertHistory(ctx, tx, orderID, from, to, note, changedBy); err != nil {
		return err
	}

	return tx.Commit()
}

// CancelOrder is a status transition to cancelled that also records the
// reason. An unpaid or pending payment status flips to failed; a paid order
// keeps it until the refund flow overwrites it.
func (s *Store) CancelOrder(ctx context.Context, orderID int64, from models.OrderStatus, reason, changedBy string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = 'cancelled',
		    cancel_reason = $1,
		    payment_status = CASE WHEN payment_status IN ('unpaid', 'pending') THEN 'failed' ELSE payment_status END,
		    updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		reason, orderID, from)
	if err != nil {
		return err
	}
	if err := requireTransitionApplied(ctx, tx, res, orderID, from, models.OrderStatusCancelled); err != nil {
		return err
	}

	if err := insertHistory(ctx, tx, orderID, from, models.OrderStatusCancelled, reason, changedBy); err != nil {
		return err
	}

	return tx.Commit()
}

// AssignDriver writes the driver id only if no driver holds the order yet.
// Of N concurrent assignment attempts exactly one succeeds; the rest conflict.
func (s *Store) AssignDriver(ctx context.Context, orderID, driverID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET driver_id = $1, updated_at = NOW() WHERE id = $2 AND driver_id IS NULL",
		driverID, orderID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var current sql.NullInt64
	err = s.db.GetContext(ctx, &current, "SELECT driver_id FROM orders WHERE id = $1", orderID)
	if err == sql.ErrNoRows {
		return apperr.NotFound("order %d not found", orderID)
	}
	if err != nil {
		return err
	}
	return apperr.Conflict("order %d already has driver %d assigned", orderID, current.Int64)
}

func settledPayment(ps models.OrderPaymentStatus) bool {
	switch ps {
	case models.OrderPaymentPaid, models.OrderPaymentRefunded, models.OrderPaymentPartiallyRefunded:
		return true
	}
	return false
}

// ApplyPaymentEvent records a payment outcome relayed by the payment service.
// The event id is claimed inside the same transaction as the write, so a
// redelivered event changes nothing and reports applied=false. When confirm
// is set and the order is still pending, the order advances to confirmed.
func (s *Store) ApplyPaymentEvent(ctx context.Context, orderID int64, eventID string, ps models.OrderPaymentStatus, confirm bool) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	claimed, err := claimEvent(ctx, tx, eventID, "order.payment-status")
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, tx.Commit()
	}

	var row struct {
		Status        models.OrderStatus        `db:"status"`
		PaymentStatus models.OrderPaymentStatus `db:"payment_status"`
	}
	err = tx.GetContext(ctx, &row, "SELECT status, payment_status FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return false, apperr.NotFound("order %d not found", orderID)
	}
	if err != nil {
		return false, err
	}

	// Once money has landed the payment state only moves through the
	// refund path; stale relays delivered out of order are absorbed with
	// their event id claimed.
	if settledPayment(row.PaymentStatus) {
		return false, tx.Commit()
	}

	if confirm && row.Status == models.OrderStatusPending {
		_, err = tx.ExecContext(ctx,
			"UPDATE orders SET payment_status = $1, status = 'confirmed', updated_at = NOW() WHERE id = $2",
			ps, orderID)
		if err != nil {
			return false, err
		}
		if err := insertHistory(ctx, tx, orderID, row.Status, models.OrderStatusConfirmed, "payment succeeded", "payment-service"); err != nil {
			return false, err
		}
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2", ps, orderID)
		if err != nil {
			return false, err
		}
	}

	return true, tx.Commit()
}

// ApplyRefundEvent accumulates a succeeded refund amount onto the order and
// derives the payment status from the running total. Fully refunded orders in
// a terminal-eligible status also move to refunded. Dedup by event id makes
// redelivery safe; without it a replay would double-count the amount.
func (s *Store) ApplyRefundEvent(ctx context.Context, orderID int64, eventID string, amount decimal.Decimal) (applied, fullyRefunded bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback()

	claimed, err := claimEvent(ctx, tx, eventID, "order.refund-status")
	if err != nil {
		return false, false, err
	}
	if !claimed {
		return false, false, tx.Commit()
	}

	var row struct {
		Status       models.OrderStatus `db:"status"`
		RefundAmount decimal.Decimal    `db:"refund_amount"`
		Total        decimal.Decimal    `db:"total"`
	}
	err = tx.GetContext(ctx, &row, `
		UPDATE orders
		SET refund_amount = refund_amount + $1,
		    payment_status = CASE WHEN refund_amount + $1 >= total THEN 'refunded' ELSE 'partially_refunded' END,
		    updated_at = NOW()
		WHERE id = $2
		RETURNING status, refund_amount, total`,
		amount, orderID)
	if err == sql.ErrNoRows {
		return false, false, apperr.NotFound("order %d not found", orderID)
	}
	if err != nil {
		return false, false, err
	}

	fullyRefunded = row.RefundAmount.GreaterThanOrEqual(row.Total)
	if fullyRefunded && row.Status.CanTransition(models.OrderStatusRefunded) {
		_, err = tx.ExecContext(ctx,
			"UPDATE orders SET status = 'refunded', updated_at = NOW() WHERE id = $1", orderID)
		if err != nil {
			return false, false, err
		}
		if err := insertHistory(ctx, tx, orderID, row.Status, models.OrderStatusRefunded, "fully refunded", "payment-service"); err != nil {
			return false, false, err
		}
	}

	return true, fullyRefunded, tx.Commit()
}

// requireTransitionApplied turns a zero-row guarded UPDATE into a not-found or
// conflict error depending on whether the order exists at all.
func requireTransitionApplied(ctx context.Context, tx *sqlx.Tx, res sql.Result, orderID int64, from, to models.OrderStatus) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var current models.OrderStatus
	err = tx.GetContext(ctx, &current, "SELECT status FROM orders WHERE id = $1", orderID)
	if err == sql.ErrNoRows {
		return apperr.NotFound("order %d not found", orderID)
	}
	if err != nil {
		return err
	}
	return apperr.Conflict("order %d is %s, expected %s before %s", orderID, current, from, to)
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, orderID int64, from, to models.OrderStatus, note, changedBy string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, note, changed_by)
		VALUES ($1, $2, $3, $4, $5)`,
		orderID, from, to, note, changedBy)
	return err
}

func claimEvent(ctx context.Context, tx *sqlx.Tx, eventID, eventType string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
