package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InvoicesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoices_created_total",
		Help: "Total number of invoices settled",
	}, []string{"payment_method"})

	SettlementsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_failed_total",
		Help: "Total number of failed settlements",
	}, []string{"reason"})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of stock reservation inside a settlement",
		Buckets: prometheus.DefBuckets,
	})

	InvoiceTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_transitions_total",
		Help: "Total number of applied payment state transitions",
	}, []string{"to", "source"})

	InvoiceTransitionsNoopTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_transitions_noop_total",
		Help: "Total number of transitions that found the invoice already at target",
	}, []string{"to", "source"})

	ProviderCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paypal_call_latency_seconds",
		Help:    "Latency of outbound PayPal calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	ProviderCallsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paypal_calls_failed_total",
		Help: "Total number of failed outbound PayPal calls",
	}, []string{"operation"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paypal_webhook_events_total",
		Help: "Total number of PayPal webhook deliveries by outcome",
	}, []string{"outcome"})

	CartOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Total number of cart mutations",
	}, []string{"operation", "result"})

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
