package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the custom Prometheus metrics for the application.
type Metrics struct {
	TurnRequests prometheus.Counter
	TurnFailures *prometheus.CounterVec
	TurnLatency  prometheus.Histogram

	ModerationFlags prometheus.Counter
	OffTopicTurns   prometheus.Counter
}

// InitMetrics initializes the Prometheus metrics.
func InitMetrics() *Metrics {
	return &Metrics{
		TurnRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "discourse_turns_total",
			Help: "Total number of chat turns processed",
		}),

		// Stage is the pipeline branch that failed: tutor, subtask,
		// moderation, offtopic, cleanup, persist.
		TurnFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "discourse_turn_failures_total",
			Help: "Total number of failed chat turns by stage",
		}, []string{"stage"}),

		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "discourse_turn_duration_seconds",
			Help:    "Chat turn latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		ModerationFlags: promauto.NewCounter(prometheus.CounterOpts{
			Name: "discourse_moderation_flags_total",
			Help: "Total number of turns flagged by the harmful-content check",
		}),

		OffTopicTurns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "discourse_offtopic_turns_total",
			Help: "Total number of turns classified as off-topic",
		}),
	}
}
