// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "playtest_telemetry"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Ingestion metrics
	ReadingsIngested *prometheus.CounterVec
	ReadingsRejected *prometheus.CounterVec
	ChunksIngested   prometheus.Counter
	ChunksRejected   prometheus.Counter

	// Analysis boundary metrics
	ChunksAnalyzed   prometheus.Counter
	AnalysisRetries  prometheus.Counter
	AnalysisDegraded prometheus.Counter

	// Finalize pipeline metrics
	SessionsFinalized *prometheus.CounterVec
	FinalizeDuration  prometheus.Histogram
	FusedRowsProduced prometheus.Counter
	FusedRowQuality   *prometheus.CounterVec
	VerdictOutcomes   *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Ingestion metrics
		ReadingsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Total sensor readings accepted, by stream",
		}, []string{"stream"}),
		ReadingsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Total sensor readings rejected at validation, by stream",
		}, []string{"stream"}),
		ChunksIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_ingested_total",
			Help:      "Total chunk observations accepted",
		}),
		ChunksRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_rejected_total",
			Help:      "Total chunk observations rejected at validation",
		}),

		// Analysis boundary metrics
		ChunksAnalyzed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_analyzed_total",
			Help:      "Total windows successfully analyzed upstream",
		}),
		AnalysisRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_retries_total",
			Help:      "Total retried analysis calls",
		}),
		AnalysisDegraded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_degraded_total",
			Help:      "Total windows substituted with zero-confidence observations after retry exhaustion",
		}),

		// Finalize pipeline metrics
		SessionsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finalized_total",
			Help:      "Total finalize calls, by result status",
		}, []string{"status"}),
		FinalizeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_duration_seconds",
			Help:      "Duration of session finalization in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		FusedRowsProduced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fused_rows_produced_total",
			Help:      "Total fused timeline rows produced",
		}),
		FusedRowQuality: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fused_row_quality_total",
			Help:      "Fused rows by data quality flag",
		}, []string{"quality"}),
		VerdictOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdict_outcomes_total",
			Help:      "Verdicts by outcome",
		}, []string{"outcome"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total Kafka publish attempts, by event kind",
		}, []string{"kind"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total Kafka publish failures, by event kind",
		}, []string{"kind"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds, by event kind",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"kind"}),
	}
}
