package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carts_created_total",
		Help: "Total number of cart entries recorded at creation",
	}, []string{"source"})

	CartsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_confirmed_total",
		Help: "Total number of carts transitioned to confirmed",
	})

	CartsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_failed_total",
		Help: "Total number of carts transitioned to failed",
	})

	CartsReplacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_replaced_total",
		Help: "Total number of live cart entries overwritten by a duplicate creation",
	})

	CartsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_evicted_total",
		Help: "Total number of cart entries evicted by the capacity cap",
	})

	CartsSynthesizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_synthesized_total",
		Help: "Total number of cart entries synthesized for confirmations without a creation record",
	})

	TokenCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "token_cache_hits_total",
		Help: "Total number of token requests served from cache",
	})

	TokenRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "token_refreshes_total",
		Help: "Total number of upstream token refresh calls",
	})

	TokenRefreshFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "token_refresh_failures_total",
		Help: "Total number of failed token refreshes",
	}, []string{"reason"})

	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_total",
		Help: "Total number of checkout session/order creation attempts",
	}, []string{"provider", "outcome"})

	PayPalCapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paypal_captures_total",
		Help: "Total number of PayPal capture calls",
	}, []string{"status"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of processed provider webhook events",
	}, []string{"type"})

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
