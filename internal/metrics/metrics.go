package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReferralsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referralhub_referrals_processed_total",
			Help: "Referral attempts by outcome reason",
		},
		[]string{"reason"},
	)

	StatsRecomputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referralhub_stats_recomputations_total",
			Help: "Network stats recomputations by result",
		},
		[]string{"result"},
	)

	StoreConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referralhub_store_conflicts_total",
			Help: "Units of work aborted by a serialization failure or deadlock",
		},
	)

	AggregationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referralhub_aggregation_failures_total",
			Help: "Propagations that left at least one user with stale stats",
		},
	)

	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "referralhub_dispatch_queue_depth",
			Help: "Users waiting for stats propagation",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
