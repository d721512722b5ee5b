package store

import (
	"context"
	"database/sql"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/models"

	"github.com/shopspring/decimal"
)

// CreatePayment creates a new payment record. Provider ids start out NULL and
// are backfilled once the provider call returns, so a crash between the two
// steps leaves a row the reconciler can still find through the order id.
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, order_number, user_id, restaurant_id,
			provider_intent_id, checkout_session_id, amount, currency, method, status, fee, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, payment, query,
		payment.OrderID, payment.OrderNumber, payment.UserID, payment.RestaurantID,
		payment.ProviderIntentID, payment.CheckoutSessionID, payment.Amount, payment.Currency,
		payment.Method, payment.Status, payment.Fee, payment.Metadata)
}

// GetPaymentByID retrieves a payment by ID
func (s *Store) GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("payment %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByIntentID retrieves a payment by its provider intent id
func (s *Store) GetPaymentByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE provider_intent_id = $1", intentID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("payment for intent %s not found", intentID)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentBySessionID retrieves a payment by its checkout session id. The
// session id is a first-class indexed column, so reconciliation never scans
// metadata blobs.
func (s *Store) GetPaymentBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE checkout_session_id = $1", sessionID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("payment for session %s not found", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetLatestPaymentByOrderID retrieves the newest payment attempt for an order
func (s *Store) GetLatestPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no payment found for order %d", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentsByOrderID retrieves all payment attempts for an order
func (s *Store) GetPaymentsByOrderID(ctx context.Context, orderID int64) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC, id DESC", orderID)
	return payments, err
}

// UpdatePaymentStatus moves a payment between statuses only if it still holds
// the expected one. Reports whether the write applied; callers decide whether
// a lost race is a conflict or a no-op.
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID int64, from, to models.PaymentStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, paymentID, from)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkPaymentSucceeded is the succeeded transition plus the provider fee
// reported with the charge.
func (s *Store) MarkPaymentSucceeded(ctx context.Context, paymentID int64, from models.PaymentStatus, fee decimal.Decimal) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = 'succeeded', fee = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		fee, paymentID, from)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// SetProviderIntentID backfills the provider intent id. Overwriting an
// existing different intent id is refused; that would mean two provider
// objects claim the same payment.
func (s *Store) SetProviderIntentID(ctx context.Context, paymentID int64, intentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET provider_intent_id = $1, updated_at = NOW()
		WHERE id = $2 AND (provider_intent_id IS NULL OR provider_intent_id = $1)`,
		intentID, paymentID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.Conflict("payment %d already bound to a different provider intent", paymentID)
	}
	return nil
}

// SetCheckoutSessionID backfills the checkout session id with the same
// overwrite protection as SetProviderIntentID.
func (s *Store) SetCheckoutSessionID(ctx context.Context, paymentID int64, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET checkout_session_id = $1, updated_at = NOW()
		WHERE id = $2 AND (checkout_session_id IS NULL OR checkout_session_id = $1)`,
		sessionID, paymentID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.Conflict("payment %d already bound to a different checkout session", paymentID)
	}
	return nil
}
