package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urlmeta_messages_consumed_total",
			Help: "Total number of queue messages consumed",
		},
		[]string{"queue"},
	)

	messagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urlmeta_messages_published_total",
			Help: "Total number of queue messages published",
		},
		[]string{"queue"},
	)

	publishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urlmeta_publish_failures_total",
			Help: "Total number of failed publishes",
		},
		[]string{"reason"},
	)

	fetchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urlmeta_fetch_outcomes_total",
			Help: "Total number of fetch attempts by outcome",
		},
		[]string{"outcome"},
	)

	retryAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "urlmeta_retry_attempts_total",
			Help: "Total number of message redeliveries requested (nack+requeue)",
		},
	)

	poisonMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "urlmeta_poison_messages_total",
			Help: "Total number of malformed messages rejected without requeue",
		},
	)

	processingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "urlmeta_message_processing_duration_seconds",
			Help:    "Message processing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

func RecordMessageConsumed(queue string) {
	messagesConsumedTotal.WithLabelValues(queue).Inc()
}

func RecordMessagePublished(queue string) {
	messagesPublishedTotal.WithLabelValues(queue).Inc()
}

func RecordPublishFailure(reason string) {
	publishFailuresTotal.WithLabelValues(reason).Inc()
}

func RecordFetchOutcome(outcome string) {
	fetchOutcomesTotal.WithLabelValues(outcome).Inc()
}

func RecordRetryAttempt() {
	retryAttemptsTotal.Inc()
}

func RecordPoisonMessage() {
	poisonMessagesTotal.Inc()
}

func RecordProcessingDuration(d time.Duration) {
	processingDuration.Observe(d.Seconds())
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
