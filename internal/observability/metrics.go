package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PostsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentry_posts_ingested_total",
		Help: "The total number of ingested posts",
	}, []string{"channel"})

	PostsFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentry_posts_filtered_total",
		Help: "The total number of posts excluded by filter rules",
	}, []string{"channel"})

	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentry_alerts_fired_total",
		Help: "The total number of alert notifications triggered",
	}, []string{"rule"})

	AlertCheckFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentry_alert_check_failures_total",
		Help: "The total number of alert checks that failed after retries",
	})

	DigestsBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentry_digests_built_total",
		Help: "The total number of digest builds by outcome",
	}, []string{"status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentry_llm_request_duration_seconds",
		Help:    "Duration of LLM requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	IngestCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentry_ingest_cycle_duration_seconds",
		Help:    "Duration in seconds of a full ingestion cycle",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	AlertQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentry_alert_queue_depth",
		Help: "Number of posts waiting for alert evaluation",
	})
)
