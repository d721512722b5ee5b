package service

import (
	"context"
	"time"

	"delivery-platform/internal/broker"
	"delivery-platform/internal/clients"
	"delivery-platform/internal/models"
	"delivery-platform/internal/provider"
	"delivery-platform/internal/redisclient"
	"delivery-platform/internal/store"

	"github.com/shopspring/decimal"
)

// The services program against these interfaces; the concrete store, redis,
// broker, provider and collaborator clients satisfy them (asserted below),
// and tests substitute in-memory fakes.

type OrderStore interface {
	CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrdersByCustomerID(ctx context.Context, customerID int64) ([]models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrderHistoryByOrderID(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error)
	TransitionOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus, eta *time.Time, note, changedBy string) error
	CancelOrder(ctx context.Context, orderID int64, from models.OrderStatus, reason, changedBy string) error
	AssignDriver(ctx context.Context, orderID, driverID int64) error
	ApplyPaymentEvent(ctx context.Context, orderID int64, eventID string, ps models.OrderPaymentStatus, confirm bool) (bool, error)
	ApplyRefundEvent(ctx context.Context, orderID int64, eventID string, amount decimal.Decimal) (applied, fullyRefunded bool, err error)
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	GetPaymentBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	GetLatestPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	GetPaymentsByOrderID(ctx context.Context, orderID int64) ([]models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID int64, from, to models.PaymentStatus) (bool, error)
	MarkPaymentSucceeded(ctx context.Context, paymentID int64, from models.PaymentStatus, fee decimal.Decimal) (bool, error)
	SetProviderIntentID(ctx context.Context, paymentID int64, intentID string) error
	SetCheckoutSessionID(ctx context.Context, paymentID int64, sessionID string) error
}

type RefundStore interface {
	CreateRefundReserved(ctx context.Context, refund *models.Refund) error
	CreateRemainderRefund(ctx context.Context, refund *models.Refund) (bool, error)
	GetRefundByID(ctx context.Context, id int64) (*models.Refund, error)
	GetRefundByProviderRefundID(ctx context.Context, providerRefundID string) (*models.Refund, error)
	GetRefundsByPaymentID(ctx context.Context, paymentID int64) ([]models.Refund, error)
	UpdateRefundStatus(ctx context.Context, refundID int64, from, to models.RefundStatus) (bool, error)
	SetProviderRefundID(ctx context.Context, refundID int64, providerRefundID string) error
	GetRefundStats(ctx context.Context, restaurantID *int64, from, to *time.Time) (*models.RefundStats, error)
}

type SettlementStore interface {
	CreateDriverEarning(ctx context.Context, earning *models.DriverEarning) (bool, error)
	GetDriverEarningByID(ctx context.Context, id int64) (*models.DriverEarning, error)
	GetDriverEarningByOrderID(ctx context.Context, orderID int64) (*models.DriverEarning, error)
	GetDriverEarningsByDriverID(ctx context.Context, driverID int64) ([]models.DriverEarning, error)
	UpdateEarningPayout(ctx context.Context, id int64, from, to models.PayoutStatus, transferID *string) (bool, error)
	CreateRestaurantSettlement(ctx context.Context, settlement *models.RestaurantSettlement) (bool, error)
	GetRestaurantSettlementByID(ctx context.Context, id int64) (*models.RestaurantSettlement, error)
	GetRestaurantSettlementByOrderID(ctx context.Context, orderID int64) (*models.RestaurantSettlement, error)
	GetRestaurantSettlementsByRestaurantID(ctx context.Context, restaurantID int64) ([]models.RestaurantSettlement, error)
	UpdateSettlementPayout(ctx context.Context, id int64, from, to models.PayoutStatus, transferID *string) (bool, error)
}

type EventDedup interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

type CatalogReader interface {
	GetMenuItem(ctx context.Context, restaurantID, itemID int64) (*clients.MenuItem, error)
}

type RestaurantReader interface {
	GetRestaurant(ctx context.Context, restaurantID int64) (*clients.Restaurant, error)
}

type UserReader interface {
	GetUser(ctx context.Context, userID int64) (*clients.User, error)
}

type Notifier interface {
	Send(ctx context.Context, note clients.Notification) error
}

// OrderLedger is paymentd's view of orderd.
type OrderLedger interface {
	GetOrder(ctx context.Context, orderID int64) (*clients.OrderDetails, error)
	UpdatePaymentStatus(ctx context.Context, orderID int64, eventID, event string) error
	UpdateRefundStatus(ctx context.Context, orderID int64, eventID, event string, amount decimal.Decimal) error
}

// RefundRequester is orderd's view of paymentd.
type RefundRequester interface {
	RequestRefund(ctx context.Context, orderID int64, reason, requestedBy string) error
}

type PaymentProvider interface {
	CreateIntent(ctx context.Context, req provider.CreateIntentRequest) (*provider.Intent, error)
	CancelIntent(ctx context.Context, intentID string) (*provider.Intent, error)
	CreateCheckoutSession(ctx context.Context, req provider.CreateSessionRequest) (*provider.CheckoutSession, error)
	CreateRefund(ctx context.Context, req provider.CreateRefundRequest) (*provider.Refund, error)
	CreateTransfer(ctx context.Context, req provider.CreateTransferRequest) (*provider.Transfer, error)
}

type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

type IdempotencyCache interface {
	ClaimIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	GetIdempotencyValue(ctx context.Context, key string) (string, error)
	SetIdempotencyValue(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteIdempotencyKey(ctx context.Context, key string) error
}

type Publisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderDelivered(ctx context.Context, event *models.OrderDeliveredEvent) error
	PublishPaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishRefundCreated(ctx context.Context, event *models.RefundCreatedEvent) error
	PublishRefundSucceeded(ctx context.Context, event *models.RefundSucceededEvent) error
}

var (
	_ OrderStore      = (*store.Store)(nil)
	_ PaymentStore    = (*store.Store)(nil)
	_ RefundStore     = (*store.Store)(nil)
	_ SettlementStore = (*store.Store)(nil)
	_ EventDedup      = (*store.Store)(nil)

	_ CatalogReader    = (*clients.CatalogClient)(nil)
	_ RestaurantReader = (*clients.RestaurantClient)(nil)
	_ UserReader       = (*clients.UserClient)(nil)
	_ Notifier         = (*clients.NotificationClient)(nil)
	_ OrderLedger      = (*clients.OrderClient)(nil)
	_ RefundRequester  = (*clients.PaymentClient)(nil)

	_ PaymentProvider  = (*provider.Client)(nil)
	_ Locker           = (*redisclient.Client)(nil)
	_ IdempotencyCache = (*redisclient.Client)(nil)
	_ Publisher        = (*broker.EventPublisher)(nil)
)
