package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Order status transitions by target status",
	}, []string{"to"})

	OrderTransitionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_status_transitions_rejected_total",
		Help: "Order status transitions rejected by the whitelist",
	})

	DriverAssignConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driver_assign_conflicts_total",
		Help: "Driver assignments rejected because a driver was already assigned",
	})

	CatalogLookupLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_lookup_latency_seconds",
		Help:    "Latency of per-item catalog price lookups",
		Buckets: prometheus.DefBuckets,
	})

	PaymentsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Total number of payments created, by flow",
	}, []string{"flow"})

	PaymentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_status_transitions_total",
		Help: "Applied payment status transitions by target status",
	}, []string{"to"})

	PaymentNoopUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_noop_updates_total",
		Help: "Payment status updates absorbed as no-ops (redelivery or illegal transition)",
	})

	RefundsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refunds_created_total",
		Help: "Total number of refunds accepted and sent to the provider",
	})

	RefundsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_rejected_total",
		Help: "Refund requests rejected before any provider call",
	}, []string{"reason"})

	ProviderCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_call_latency_seconds",
		Help:    "Latency of payment provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook events received, by type and result",
	}, []string{"type", "result"})

	WebhookSignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_signature_failures_total",
		Help: "Webhook deliveries rejected for a missing or invalid signature",
	})

	PayoutsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_processed_total",
		Help: "Payout requests moved to processing, by ledger",
	}, []string{"ledger"})

	NotifyFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_failures_total",
		Help: "Best-effort collaborator notifications that failed",
	}, []string{"target"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
