// Package metrics defines the process-wide Prometheus collectors served
// on the observability listener, using a ledger_<subsystem>_<noun>
// naming convention.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests handled, by route and outcome status.",
	}, []string{"route", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request handling latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	PaymentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_payment_authorize_duration_seconds",
		Help:    "Time spent inside the authorization engine's Authorize call, by outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_rate_limit_rejections_total",
		Help: "Requests rejected by the sliding-window rate limiter, by key category.",
	}, []string{"category"})

	OutboxPublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_outbox_publishes_total",
		Help: "Outbox records successfully published, by event type.",
	}, []string{"event_type"})

	OutboxFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_outbox_publish_failures_total",
		Help: "Outbox publish attempts that failed, by event type.",
	}, []string{"event_type"})

	OutboxDLQTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_outbox_dead_letters_total",
		Help: "Outbox records routed to the dead-letter topic.",
	}, []string{"event_type"})

	OutboxPendingDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_outbox_pending_depth",
		Help: "Unpublished outbox rows counted during the last poll cycle, right after its claim.",
	})
)
