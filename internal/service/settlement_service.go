package service

import (
	"context"
	"fmt"
	"strconv"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/clients"
	"delivery-platform/internal/models"
	"delivery-platform/internal/provider"
	"delivery-platform/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SettlementService owes money the other way: driver earnings and
// restaurant settlements per delivered order, paid out through provider
// transfers. Creation is idempotent per order; payouts are serialized with
// the same conditional-write pattern as payments.
type SettlementService struct {
	store            SettlementStore
	provider         PaymentProvider
	notifier         Notifier
	currency         string
	driverFeePct     int
	restaurantFeePct int
	logger           *zap.Logger
}

// NewSettlementService creates a new settlement service
func NewSettlementService(
	store SettlementStore,
	prov PaymentProvider,
	notifier Notifier,
	currency string,
	driverFeePct, restaurantFeePct int,
) *SettlementService {
	return &SettlementService{
		store:            store,
		provider:         prov,
		notifier:         notifier,
		currency:         currency,
		driverFeePct:     driverFeePct,
		restaurantFeePct: restaurantFeePct,
		logger:           util.GetLogger(),
	}
}

// CreateEarningRequest records a driver's earning for a delivered order
type CreateEarningRequest struct {
	OrderID  int64           `json:"order_id" binding:"required"`
	DriverID int64           `json:"driver_id" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
}

// CreateSettlementRequest records a restaurant's settlement for a
// delivered order
type CreateSettlementRequest struct {
	OrderID      int64           `json:"order_id" binding:"required"`
	RestaurantID int64           `json:"restaurant_id" binding:"required"`
	Amount       decimal.Decimal `json:"amount" binding:"required"`
}

// CreateEarning records what a driver is owed for one order. The platform
// fee comes off the gross amount. A repeated create for the same order
// returns the existing earning with created=false.
func (s *SettlementService) CreateEarning(ctx context.Context, req *CreateEarningRequest) (*models.DriverEarning, bool, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.CreateEarning")
	defer span.End()

	if req.OrderID <= 0 || req.DriverID <= 0 {
		return nil, false, apperr.Invalid("order_id and driver_id are required")
	}
	gross := models.SanitizeAmount(req.Amount, s.currency)
	if !gross.IsPositive() {
		return nil, false, apperr.Invalid("amount must be positive")
	}

	fee := s.platformFee(gross, s.driverFeePct)
	earning := &models.DriverEarning{
		OrderID:  req.OrderID,
		DriverID: req.DriverID,
		Gross:    gross,
		Fee:      fee,
		Net:      gross.Sub(fee),
		Status:   models.PayoutStatusPending,
		Metadata: models.Metadata{},
	}

	created, err := s.store.CreateDriverEarning(ctx, earning)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create driver earning: %w", err)
	}
	if !created {
		existing, err := s.store.GetDriverEarningByOrderID(ctx, req.OrderID)
		if err != nil {
			return nil, false, err
		}
		s.logger.Info("Driver earning already recorded",
			zap.Int64("order_id", req.OrderID), zap.Int64("earning_id", existing.ID))
		return existing, false, nil
	}

	s.logger.Info("Driver earning recorded",
		zap.Int64("earning_id", earning.ID),
		zap.Int64("order_id", earning.OrderID),
		zap.Int64("driver_id", earning.DriverID),
		zap.String("net", earning.Net.String()))
	return earning, true, nil
}

// CreateSettlement records what a restaurant is owed for one order,
// idempotent per order like CreateEarning.
func (s *SettlementService) CreateSettlement(ctx context.Context, req *CreateSettlementRequest) (*models.RestaurantSettlement, bool, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.CreateSettlement")
	defer span.End()

	if req.OrderID <= 0 || req.RestaurantID <= 0 {
		return nil, false, apperr.Invalid("order_id and restaurant_id are required")
	}
	gross := models.SanitizeAmount(req.Amount, s.currency)
	if !gross.IsPositive() {
		return nil, false, apperr.Invalid("amount must be positive")
	}

	fee := s.platformFee(gross, s.restaurantFeePct)
	settlement := &models.RestaurantSettlement{
		OrderID:      req.OrderID,
		RestaurantID: req.RestaurantID,
		Gross:        gross,
		Fee:          fee,
		Net:          gross.Sub(fee),
		Status:       models.PayoutStatusPending,
		Metadata:     models.Metadata{},
	}

	created, err := s.store.CreateRestaurantSettlement(ctx, settlement)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create restaurant settlement: %w", err)
	}
	if !created {
		existing, err := s.store.GetRestaurantSettlementByOrderID(ctx, req.OrderID)
		if err != nil {
			return nil, false, err
		}
		s.logger.Info("Restaurant settlement already recorded",
			zap.Int64("order_id", req.OrderID), zap.Int64("settlement_id", existing.ID))
		return existing, false, nil
	}

	s.logger.Info("Restaurant settlement recorded",
		zap.Int64("settlement_id", settlement.ID),
		zap.Int64("order_id", settlement.OrderID),
		zap.Int64("restaurant_id", settlement.RestaurantID),
		zap.String("net", settlement.Net.String()))
	return settlement, true, nil
}

// SettleDeliveredOrder derives both ledgers from a delivery event: the
// driver earns the delivery fee, the restaurant is owed the food subtotal.
// Creation is idempotent per order, so redelivered events settle nothing
// twice.
func (s *SettlementService) SettleDeliveredOrder(ctx context.Context, ev *models.OrderDeliveredEvent) error {
	ctx, span := util.StartSpan(ctx, "SettlementService.SettleDeliveredOrder")
	defer span.End()

	if ev.DriverID > 0 {
		if _, _, err := s.CreateEarning(ctx, &CreateEarningRequest{
			OrderID:  ev.OrderID,
			DriverID: ev.DriverID,
			Amount:   ev.DeliveryFee,
		}); err != nil {
			return fmt.Errorf("failed to settle driver earning for order %d: %w", ev.OrderID, err)
		}
	} else {
		s.logger.Warn("Delivered order carries no driver, skipping earning", zap.Int64("order_id", ev.OrderID))
	}

	if _, _, err := s.CreateSettlement(ctx, &CreateSettlementRequest{
		OrderID:      ev.OrderID,
		RestaurantID: ev.RestaurantID,
		Amount:       ev.Subtotal,
	}); err != nil {
		return fmt.Errorf("failed to settle restaurant share for order %d: %w", ev.OrderID, err)
	}
	return nil
}

// PayoutEarning transfers a driver's net earning. The pending→processing
// claim makes concurrent payout requests lose cleanly, and a failed payout
// may be retried.
func (s *SettlementService) PayoutEarning(ctx context.Context, earningID int64) (*models.DriverEarning, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.PayoutEarning")
	defer span.End()

	earning, err := s.store.GetDriverEarningByID(ctx, earningID)
	if err != nil {
		return nil, err
	}

	if err := s.claimPayout(ctx, "earning", earningID, func(from models.PayoutStatus) (bool, error) {
		return s.store.UpdateEarningPayout(ctx, earningID, from, models.PayoutStatusProcessing, nil)
	}); err != nil {
		return nil, err
	}

	transfer, err := s.provider.CreateTransfer(ctx, provider.CreateTransferRequest{
		Amount:      models.MinorUnits(earning.Net, s.currency),
		Currency:    s.currency,
		Destination: fmt.Sprintf("driver-%d", earning.DriverID),
		Metadata: map[string]string{
			"earning_id": strconv.FormatInt(earningID, 10),
			"order_id":   strconv.FormatInt(earning.OrderID, 10),
		},
		IdempotencyKey: fmt.Sprintf("earning-payout-%d", earningID),
	})
	if err != nil {
		if _, cerr := s.store.UpdateEarningPayout(ctx, earningID, models.PayoutStatusProcessing, models.PayoutStatusFailed, nil); cerr != nil {
			s.logger.Error("Failed to mark earning payout failed", zap.Int64("earning_id", earningID), zap.Error(cerr))
		}
		return nil, err
	}

	if _, err := s.store.UpdateEarningPayout(ctx, earningID, models.PayoutStatusProcessing, models.PayoutStatusPaid, &transfer.ID); err != nil {
		return nil, err
	}
	util.PayoutsProcessedTotal.WithLabelValues("driver").Inc()
	s.logger.Info("Driver earning paid out",
		zap.Int64("earning_id", earningID),
		zap.Int64("driver_id", earning.DriverID),
		zap.String("transfer_id", transfer.ID))

	note := clients.Notification{
		UserID: earning.DriverID,
		Type:   "payout_paid",
		Title:  "Payout sent",
		Body:   fmt.Sprintf("Your earnings of %s for order %d were paid out.", earning.Net, earning.OrderID),
		Data: map[string]string{
			"earning_id": strconv.FormatInt(earningID, 10),
			"order_id":   strconv.FormatInt(earning.OrderID, 10),
		},
	}
	if err := s.notifier.Send(ctx, note); err != nil {
		util.NotifyFailuresTotal.WithLabelValues("driver").Inc()
		s.logger.Warn("Failed to send payout notification", zap.Int64("driver_id", earning.DriverID), zap.Error(err))
	}

	return s.store.GetDriverEarningByID(ctx, earningID)
}

// PayoutSettlement transfers a restaurant's net settlement.
func (s *SettlementService) PayoutSettlement(ctx context.Context, settlementID int64) (*models.RestaurantSettlement, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.PayoutSettlement")
	defer span.End()

	settlement, err := s.store.GetRestaurantSettlementByID(ctx, settlementID)
	if err != nil {
		return nil, err
	}

	if err := s.claimPayout(ctx, "settlement", settlementID, func(from models.PayoutStatus) (bool, error) {
		return s.store.UpdateSettlementPayout(ctx, settlementID, from, models.PayoutStatusProcessing, nil)
	}); err != nil {
		return nil, err
	}

	transfer, err := s.provider.CreateTransfer(ctx, provider.CreateTransferRequest{
		Amount:      models.MinorUnits(settlement.Net, s.currency),
		Currency:    s.currency,
		Destination: fmt.Sprintf("restaurant-%d", settlement.RestaurantID),
		Metadata: map[string]string{
			"settlement_id": strconv.FormatInt(settlementID, 10),
			"order_id":      strconv.FormatInt(settlement.OrderID, 10),
		},
		IdempotencyKey: fmt.Sprintf("settlement-payout-%d", settlementID),
	})
	if err != nil {
		if _, cerr := s.store.UpdateSettlementPayout(ctx, settlementID, models.PayoutStatusProcessing, models.PayoutStatusFailed, nil); cerr != nil {
			s.logger.Error("Failed to mark settlement payout failed", zap.Int64("settlement_id", settlementID), zap.Error(cerr))
		}
		return nil, err
	}

	if _, err := s.store.UpdateSettlementPayout(ctx, settlementID, models.PayoutStatusProcessing, models.PayoutStatusPaid, &transfer.ID); err != nil {
		return nil, err
	}
	util.PayoutsProcessedTotal.WithLabelValues("restaurant").Inc()
	s.logger.Info("Restaurant settlement paid out",
		zap.Int64("settlement_id", settlementID),
		zap.Int64("restaurant_id", settlement.RestaurantID),
		zap.String("transfer_id", transfer.ID))

	return s.store.GetRestaurantSettlementByID(ctx, settlementID)
}

// claimPayout moves a payout into processing from pending, or from failed
// for a retry. Anything else is already being paid or is paid.
func (s *SettlementService) claimPayout(ctx context.Context, kind string, id int64, move func(from models.PayoutStatus) (bool, error)) error {
	won, err := move(models.PayoutStatusPending)
	if err != nil {
		return err
	}
	if !won {
		won, err = move(models.PayoutStatusFailed)
		if err != nil {
			return err
		}
	}
	if !won {
		return apperr.Conflict("%s %d payout is already processing or paid", kind, id)
	}
	return nil
}

// ListDriverEarnings retrieves a driver's earnings, newest first
func (s *SettlementService) ListDriverEarnings(ctx context.Context, driverID int64) ([]models.DriverEarning, error) {
	return s.store.GetDriverEarningsByDriverID(ctx, driverID)
}

// ListRestaurantSettlements retrieves a restaurant's settlements, newest
// first
func (s *SettlementService) ListRestaurantSettlements(ctx context.Context, restaurantID int64) ([]models.RestaurantSettlement, error) {
	return s.store.GetRestaurantSettlementsByRestaurantID(ctx, restaurantID)
}

func (s *SettlementService) platformFee(gross decimal.Decimal, pct int) decimal.Decimal {
	fee := gross.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100))
	return models.SanitizeAmount(fee, s.currency)
}
