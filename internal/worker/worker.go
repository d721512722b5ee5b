package worker

import (
	"context"
	"log"

	"delivery-platform/internal/broker"
	"delivery-platform/internal/models"
	"delivery-platform/internal/service"
)

// SettlementWorker consumes order lifecycle events on the payment side.
// Delivered orders feed the driver and restaurant ledgers; cancelled orders
// void unsettled payments and raise whatever refund remains. Delivery is at
// least once, so every handler dedups by event id before doing work and the
// work itself is idempotent per order.
type SettlementWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewSettlementWorker creates a new settlement worker
func NewSettlementWorker(
	consumer *broker.Consumer,
	dedup service.EventDedup,
	settlements *service.SettlementService,
	refunds *service.RefundService,
	payments *service.PaymentService,
) *SettlementWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderDelivered(func(ctx context.Context, event *models.OrderDeliveredEvent) error {
		seen, err := dedup.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return err
		}
		if seen {
			log.Printf("Skipping already processed event: %s", event.EventID)
			return nil
		}

		if err := settlements.SettleDeliveredOrder(ctx, event); err != nil {
			return err
		}
		return dedup.MarkEventProcessed(ctx, event.EventID, event.EventType)
	})

	eventHandler.OnOrderCancelled(func(ctx context.Context, event *models.OrderCancelledEvent) error {
		seen, err := dedup.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return err
		}
		if seen {
			log.Printf("Skipping already processed event: %s", event.EventID)
			return nil
		}

		if err := payments.CancelPendingPayments(ctx, event.OrderID, event.Reason); err != nil {
			return err
		}
		if err := refunds.ProcessAutomaticRefund(ctx, event.OrderID, string(models.RefundReasonOrderCancelled)); err != nil {
			return err
		}
		return dedup.MarkEventProcessed(ctx, event.EventID, event.EventType)
	})

	return &SettlementWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *SettlementWorker) Start(ctx context.Context) error {
	log.Println("Starting settlement worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SettlementWorker) Stop() error {
	log.Println("Stopping settlement worker...")
	return w.consumer.Close()
}
