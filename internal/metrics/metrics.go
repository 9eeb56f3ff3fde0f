package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_health_webhooks_received_total",
		Help: "Total number of webhook requests received.",
	})

	WebhooksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_health_webhooks_rejected_total",
		Help: "Total number of webhook requests rejected, labelled by reason.",
	}, []string{"reason"})

	ItemsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_health_items_published_total",
		Help: "Total number of notification items handed to the write path.",
	})

	ItemsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_health_items_skipped_total",
		Help: "Total number of notification items skipped for missing fields.",
	})

	EntriesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_health_stream_entries_processed_total",
		Help: "Total number of stream entries persisted and acknowledged, labelled by consumer.",
	}, []string{"consumer"})

	EntriesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_health_stream_entries_failed_total",
		Help: "Total number of stream entries left pending after a persistence failure.",
	}, []string{"consumer"})

	EntriesDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_health_stream_entries_dead_lettered_total",
		Help: "Total number of stream entries moved to the dead-letter stream, labelled by reason.",
	}, []string{"reason"})

	ScoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_health_scoring_duration_ms",
		Help:    "Time spent computing one health score in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	ScoreCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_health_score_cache_total",
		Help: "Score cache lookups, labelled by result (hit or miss).",
	}, []string{"result"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payment_health_live_subscribers",
		Help: "Current number of live dashboard subscribers.",
	})

	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_health_broadcast_messages_total",
		Help: "Total number of score messages delivered to subscribers.",
	})
)
