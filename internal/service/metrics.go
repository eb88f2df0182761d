package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_orders_created_total",
			Help: "Orders persisted in created status",
		},
	)

	gatewayFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_gateway_failures_total",
			Help: "Payment intent creations that failed the order",
		},
		[]string{"reason"},
	)

	gatewayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkout_gateway_duration_ms",
			Help:    "Duration of payment intent creation in ms",
			Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3200, 6400},
		},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_webhook_events_total",
			Help: "Webhook events by kind and reconciliation outcome",
		},
		[]string{"kind", "outcome"},
	)

	webhookRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_webhook_rejected_total",
			Help: "Webhook deliveries that failed the authenticity check",
		},
	)

	reconcileFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_reconcile_failures_total",
			Help: "Reconciliations that ended in an error after acknowledgement",
		},
	)
)
