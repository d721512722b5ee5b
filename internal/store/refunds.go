package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// CreateRefundReserved inserts a refund while holding a row lock on its
// payment. Pending and processing refunds count against the refundable
// amount alongside succeeded ones, otherwise two in-flight refunds could
// together pass the check and over-refund the payment.
func (s *Store) CreateRefundReserved(ctx context.Context, refund *models.Refund) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	payment, reserved, err := lockPaymentForRefund(ctx, tx, refund.PaymentID)
	if err != nil {
		return err
	}

	if reserved.Add(refund.Amount).GreaterThan(payment.Amount) {
		return apperr.Conflict("refund of %s exceeds remaining refundable %s on payment %d",
			refund.Amount, payment.Amount.Sub(reserved), payment.ID)
	}

	if err := insertRefund(ctx, tx, refund); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateRemainderRefund inserts a refund for whatever is still refundable on
// the payment, under the same lock as CreateRefundReserved. Returns false
// without error when nothing remains, so callers triggered by order
// cancellation can treat an already covered payment as done.
func (s *Store) CreateRemainderRefund(ctx context.Context, refund *models.Refund) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	payment, reserved, err := lockPaymentForRefund(ctx, tx, refund.PaymentID)
	if err != nil {
		return false, err
	}

	remaining := payment.Amount.Sub(reserved)
	if remaining.LessThanOrEqual(decimal.Zero) {
		return false, tx.Commit()
	}

	refund.Amount = remaining
	if err := insertRefund(ctx, tx, refund); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func lockPaymentForRefund(ctx context.Context, tx *sqlx.Tx, paymentID int64) (*models.Payment, decimal.Decimal, error) {
	var payment models.Payment
	err := tx.GetContext(ctx, &payment, "SELECT * FROM payments WHERE id = $1 FOR UPDATE", paymentID)
	if err == sql.ErrNoRows {
		return nil, decimal.Zero, apperr.NotFound("payment %d not found", paymentID)
	}
	if err != nil {
		return nil, decimal.Zero, err
	}

	if payment.Status != models.PaymentStatusSucceeded {
		return nil, decimal.Zero, apperr.Conflict("payment %d is %s, only succeeded payments can be refunded",
			payment.ID, payment.Status)
	}

	var reserved decimal.Decimal
	err = tx.GetContext(ctx, &reserved,
		"SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1 AND status <> 'failed'",
		paymentID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return &payment, reserved, nil
}

func insertRefund(ctx context.Context, tx *sqlx.Tx, refund *models.Refund) error {
	query := `
		INSERT INTO refunds (payment_id, amount, reason, status, description, requested_by, processed_by, provider_refund_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return tx.GetContext(ctx, refund, query,
		refund.PaymentID, refund.Amount, refund.Reason, refund.Status, refund.Description,
		refund.RequestedBy, refund.ProcessedBy, refund.ProviderRefundID)
}

// GetRefundByID retrieves a refund by ID
func (s *Store) GetRefundByID(ctx context.Context, id int64) (*models.Refund, error) {
	var refund models.Refund
	err := s.db.GetContext(ctx, &refund, "SELECT * FROM refunds WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("refund %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// GetRefundByProviderRefundID retrieves a refund by the provider's refund id
func (s *Store) GetRefundByProviderRefundID(ctx context.Context, providerRefundID string) (*models.Refund, error) {
	var refund models.Refund
	err := s.db.GetContext(ctx, &refund,
		"SELECT * FROM refunds WHERE provider_refund_id = $1", providerRefundID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("refund for provider id %s not found", providerRefundID)
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// GetRefundsByPaymentID retrieves all refunds raised against a payment
func (s *Store) GetRefundsByPaymentID(ctx context.Context, paymentID int64) ([]models.Refund, error) {
	var refunds []models.Refund
	err := s.db.SelectContext(ctx, &refunds,
		"SELECT * FROM refunds WHERE payment_id = $1 ORDER BY id", paymentID)
	return refunds, err
}

// UpdateRefundStatus moves a refund between statuses only if it still holds
// the expected one, reporting whether the write applied.
func (s *Store) UpdateRefundStatus(ctx context.Context, refundID int64, from, to models.RefundStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE refunds SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, refundID, from)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// SetProviderRefundID backfills the provider refund id after the provider
// call returns. A different existing id is refused.
func (s *Store) SetProviderRefundID(ctx context.Context, refundID int64, providerRefundID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refunds SET provider_refund_id = $1, updated_at = NOW()
		WHERE id = $2 AND (provider_refund_id IS NULL OR provider_refund_id = $1)`,
		providerRefundID, refundID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.Conflict("refund %d already bound to a different provider refund", refundID)
	}
	return nil
}

// GetRefundStats aggregates succeeded refunds, optionally filtered by the
// restaurant the payment belongs to and a created-at window.
func (s *Store) GetRefundStats(ctx context.Context, restaurantID *int64, from, to *time.Time) (*models.RefundStats, error) {
	query := `
		SELECT COUNT(r.id) AS count, COALESCE(SUM(r.amount), 0) AS total
		FROM refunds r
		JOIN payments p ON p.id = r.payment_id
		WHERE r.status = 'succeeded'`
	args := []interface{}{}

	if restaurantID != nil {
		args = append(args, *restaurantID)
		query += fmt.Sprintf(" AND p.restaurant_id = $%d", len(args))
	}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND r.created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND r.created_at < $%d", len(args))
	}

	var stats models.RefundStats
	if err := s.db.GetContext(ctx, &stats, query, args...); err != nil {
		return nil, err
	}
	return &stats, nil
}
