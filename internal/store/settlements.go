package store

import (
	"context"
	"database/sql"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/models"
)

// CreateDriverEarning inserts the earning for a delivered order. One earning
// per order; a redelivered delivery event hits the unique order_id and
// reports created=false instead of inserting twice.
func (s *Store) CreateDriverEarning(ctx context.Context, earning *models.DriverEarning) (bool, error) {
	query := `
		INSERT INTO driver_earnings (order_id, driver_id, gross, fee, net, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, earning, query,
		earning.OrderID, earning.DriverID, earning.Gross, earning.Fee, earning.Net,
		earning.Status, earning.Metadata)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetDriverEarningByID retrieves a driver earning by ID
func (s *Store) GetDriverEarningByID(ctx context.Context, id int64) (*models.DriverEarning, error) {
	var earning models.DriverEarning
	err := s.db.GetContext(ctx, &earning, "SELECT * FROM driver_earnings WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("driver earning %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &earning, nil
}

// GetDriverEarningByOrderID retrieves the earning recorded for an order
func (s *Store) GetDriverEarningByOrderID(ctx context.Context, orderID int64) (*models.DriverEarning, error) {
	var earning models.DriverEarning
	err := s.db.GetContext(ctx, &earning, "SELECT * FROM driver_earnings WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no driver earning recorded for order %d", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &earning, nil
}

// GetDriverEarningsByDriverID retrieves earnings for a driver, newest first
func (s *Store) GetDriverEarningsByDriverID(ctx context.Context, driverID int64) ([]models.DriverEarning, error) {
	var earnings []models.DriverEarning
	err := s.db.SelectContext(ctx, &earnings,
		"SELECT * FROM driver_earnings WHERE driver_id = $1 ORDER BY created_at DESC, id DESC", driverID)
	return earnings, err
}

// UpdateEarningPayout moves an earning between payout statuses only if it
// still holds the expected one, optionally recording the provider transfer.
func (s *Store) UpdateEarningPayout(ctx context.Context, id int64, from, to models.PayoutStatus, transferID *string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE driver_earnings
		SET status = $1, provider_transfer_id = COALESCE($2, provider_transfer_id), updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		to, transferID, id, from)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// CreateRestaurantSettlement inserts the settlement for a delivered order,
// idempotent per order like CreateDriverEarning.
func (s *Store) CreateRestaurantSettlement(ctx context.Context, settlement *models.RestaurantSettlement) (bool, error) {
	query := `
		INSERT INTO restaurant_settlements (order_id, restaurant_id, gross, fee, net, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, settlement, query,
		settlement.OrderID, settlement.RestaurantID, settlement.Gross, settlement.Fee, settlement.Net,
		settlement.Status, settlement.Metadata)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetRestaurantSettlementByID retrieves a settlement by ID
func (s *Store) GetRestaurantSettlementByID(ctx context.Context, id int64) (*models.RestaurantSettlement, error) {
	var settlement models.RestaurantSettlement
	err := s.db.GetContext(ctx, &settlement, "SELECT * FROM restaurant_settlements WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("restaurant settlement %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

// GetRestaurantSettlementByOrderID retrieves the settlement recorded for
// an order
func (s *Store) GetRestaurantSettlementByOrderID(ctx context.Context, orderID int64) (*models.RestaurantSettlement, error) {
	var settlement models.RestaurantSettlement
	err := s.db.GetContext(ctx, &settlement, "SELECT * FROM restaurant_settlements WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no restaurant settlement recorded for order %d", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

// GetRestaurantSettlementsByRestaurantID retrieves settlements for a
// restaurant, newest first
func (s *Store) GetRestaurantSettlementsByRestaurantID(ctx context.Context, restaurantID int64) ([]models.RestaurantSettlement, error) {
	var settlements []models.RestaurantSettlement
	err := s.db.SelectContext(ctx, &settlements,
		"SELECT * FROM restaurant_settlements WHERE restaurant_id = $1 ORDER BY created_at DESC, id DESC", restaurantID)
	return settlements, err
}

// UpdateSettlementPayout moves a settlement between payout statuses only if
// it still holds the expected one.
func (s *Store) UpdateSettlementPayout(ctx context.Context, id int64, from, to models.PayoutStatus, transferID *string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE restaurant_settlements
		SET status = $1, provider_transfer_id = COALESCE($2, provider_transfer_id), updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		to, transferID, id, from)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// AnnotateEarningByTransferID merges a note into the metadata of the earning
// holding the given provider transfer. Transfer webhooks are bookkeeping
// only; payout status never changes here.
func (s *Store) AnnotateEarningByTransferID(ctx context.Context, transferID, key, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE driver_earnings
		SET metadata = metadata || jsonb_build_object($2::text, $3::text), updated_at = NOW()
		WHERE provider_transfer_id = $1`,
		transferID, key, value)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// AnnotateSettlementByTransferID mirrors AnnotateEarningByTransferID for
// restaurant settlements.
func (s *Store) AnnotateSettlementByTransferID(ctx context.Context, transferID, key, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE restaurant_settlements
		SET metadata = metadata || jsonb_build_object($2::text, $3::text), updated_at = NOW()
		WHERE provider_transfer_id = $1`,
		transferID, key, value)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
