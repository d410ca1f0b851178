package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omni_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Consumer metrics
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_messages_processed_total",
			Help: "Inbound entries processed and acknowledged",
		},
		[]string{"channel"},
	)

	MessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_messages_failed_total",
			Help: "Inbound entries that failed processing",
		},
		[]string{"reason"}, // "malformed", "invalid", "route", "publish", "status"
	)

	MessagesReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "omni_messages_reclaimed_total",
			Help: "Stalled entries reclaimed from other consumers",
		},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omni_processing_duration_seconds",
			Help:    "Time to process one inbound entry",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	ChannelProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omni_channel_processing_duration_seconds",
			Help:    "Time to process one inbound entry, by channel",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"channel"},
	)

	CycleErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "omni_consumer_cycle_errors_total",
			Help: "Consumer cycles that ended with an error",
		},
	)

	// Routing metrics
	IntentsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_intents_total",
			Help: "Inbound messages by classified intent",
		},
		[]string{"intent"},
	)

	// Publisher metrics
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_publish_total",
			Help: "Outbound publish attempts by result",
		},
		[]string{"result"}, // "published", "duplicate", "fail_open"
	)

	BusAppendRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_bus_append_retries_total",
			Help: "Stream append retries after a transient failure",
		},
		[]string{"stream"},
	)

	// Ingest metrics
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_messages_ingested_total",
			Help: "Messages accepted by the ingest endpoint",
		},
		[]string{"channel"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omni_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .25, 1},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omni_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
