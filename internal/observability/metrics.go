// Package observability holds the process-wide Prometheus collectors.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "carpool"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "session_transitions_total", Help: "Trip session state transitions"},
		[]string{"to"},
	)
	JoinRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "join_rejections_total", Help: "Join requests refused by the guard or geofence"},
		[]string{"reason"},
	)

	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_events_total", Help: "Change events received from Postgres"},
		[]string{"table"},
	)
	RealtimeDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "realtime_dropped_total", Help: "Change events dropped because a subscriber fell behind",
	})
	RealtimeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "realtime_subscriptions", Help: "Open realtime subscriptions",
	})
	ReconcileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "realtime_reconcile_errors_total", Help: "Handler failures inside the reconcile loop",
	})

	TrackersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "trackers_active", Help: "Sessions with a running location tracker",
	})
	PositionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "positions_accepted_total", Help: "Positions that passed the throttle and were written",
	})
	PositionsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "positions_throttled_total", Help: "Positions discarded by the throttle",
	})
	PositionWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "position_write_errors_total", Help: "Failed driver location writes",
	})

	PushesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "pushes_total", Help: "Push notification attempts"},
		[]string{"result"},
	)
)
