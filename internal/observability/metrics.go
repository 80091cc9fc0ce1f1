package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "operations_total", Help: "Carpool operations by outcome"},
		[]string{"op", "outcome"},
	)
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "carpool", Name: "operation_latency_seconds", Help: "Carpool operation latency seconds", Buckets: prometheus.DefBuckets},
		[]string{"op"},
	)

	EscrowHeldTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "escrow_held_total", Help: "Value placed into escrow"})
	EscrowReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "escrow_released_total", Help: "Value released from escrow to drivers"})
	EscrowRefundedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "escrow_refunded_total", Help: "Value refunded from escrow to passengers"})
	TokensRewardedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "tokens_rewarded_total", Help: "Reward tokens issued to drivers"})
	OpenRides           = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "carpool", Name: "open_rides", Help: "Rides accepting bookings"})

	EventsPublishFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "events_publish_failures_total", Help: "Event batches that failed to publish"})

	ConsumerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "consumer_events_total", Help: "Events handled by the projector"},
		[]string{"type", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
