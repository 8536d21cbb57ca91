// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolWorkers tracks live worker goroutines per pool
	PoolWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asrrelay_pool_workers",
			Help: "Number of live worker goroutines",
		},
		[]string{"pool"},
	)

	// PoolActive tracks workers currently executing a task
	PoolActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asrrelay_pool_active_tasks",
			Help: "Number of tasks currently executing",
		},
		[]string{"pool"},
	)

	// PoolQueueDepth tracks tasks waiting for a worker
	PoolQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asrrelay_pool_queue_depth",
			Help: "Number of tasks waiting in the pool queue",
		},
		[]string{"pool"},
	)

	// PoolRejections counts admissions refused because the pool was saturated
	PoolRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asrrelay_pool_rejections_total",
			Help: "Total number of tasks rejected by a saturated pool",
		},
		[]string{"pool"},
	)

	// Submissions counts submission outcomes
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asrrelay_submissions_total",
			Help: "Total number of job submissions by outcome",
		},
		[]string{"outcome"},
	)

	// Polls counts engine poll answers by job status
	Polls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asrrelay_polls_total",
			Help: "Total number of job status polls by reported status",
		},
		[]string{"status"},
	)

	// Deliveries counts callback delivery attempts
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asrrelay_deliveries_total",
			Help: "Total number of callback delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Retries counts retry scheduler decisions
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asrrelay_retries_total",
			Help: "Total number of callback retry events",
		},
		[]string{"event"},
	)

	// RetryPending tracks jobs waiting in the retry registry
	RetryPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asrrelay_retry_pending",
			Help: "Number of jobs registered for callback retry",
		},
	)

	// EngineLatency tracks recognition engine call latency
	EngineLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asrrelay_engine_latency_seconds",
			Help:    "Recognition engine call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// HTTPRequests counts served API requests
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asrrelay_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration tracks API request latency
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asrrelay_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Panics counts recovered panics by where they were caught
	Panics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asrrelay_panics_total",
			Help: "Total number of recovered panics",
		},
		[]string{"site"},
	)
)
