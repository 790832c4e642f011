// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "whisper_transcription"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsSuccess prometheus.Counter
	SessionsFailed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Audio metrics
	AudioBytesReceived     prometheus.Counter
	AudioFragmentsReceived prometheus.Counter
	FragmentsDropped       *prometheus.CounterVec

	// Flush metrics
	FlushesTotal     *prometheus.CounterVec
	FlushBufferBytes prometheus.Histogram

	// Inference metrics
	InferenceLatency  *prometheus.HistogramVec
	InferenceErrors   *prometheus.CounterVec
	InferenceInFlight prometheus.Gauge
	JobsQueued        prometheus.Gauge
	JobsRejected      prometheus.Counter

	// Transcript metrics
	TranscriptsEmitted prometheus.Counter
	EmptyResults       prometheus.Counter

	// Upload metrics
	UploadsTotal  prometheus.Counter
	UploadsFailed prometheus.Counter

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
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of streaming sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active streaming sessions",
		}),
		SessionsSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_success_total",
			Help:      "Total number of sessions completed with a done message",
		}),
		SessionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions terminated by transport failure",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of streaming sessions in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received across all sessions",
		}),
		AudioFragmentsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_fragments_received_total",
			Help:      "Total audio fragments received across all sessions",
		}),
		FragmentsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_fragments_dropped_total",
			Help:      "Total malformed audio fragments dropped",
		}, []string{"reason"}),

		FlushesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Total buffer flushes handed to the inference engine",
		}, []string{"trigger"}),
		FlushBufferBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_buffer_bytes",
			Help:      "Size in bytes of flushed audio buffers",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),

		InferenceLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_latency_seconds",
			Help:      "Inference engine call latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"engine", "source"}),
		InferenceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_errors_total",
			Help:      "Total inference engine failures",
		}, []string{"engine", "source"}),
		InferenceInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_in_flight",
			Help:      "Number of inference jobs currently executing",
		}),
		JobsQueued: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_jobs_queued",
			Help:      "Number of inference jobs waiting for a worker",
		}),
		JobsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_jobs_rejected_total",
			Help:      "Total inference jobs rejected because the queue was full",
		}),

		TranscriptsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_emitted_total",
			Help:      "Total transcript messages sent to streaming clients",
		}),
		EmptyResults: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_results_total",
			Help:      "Total flushes that produced no text (silence)",
		}),

		UploadsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total file transcription requests",
		}),
		UploadsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_failed_total",
			Help:      "Total failed file transcription requests",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new streaming session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a streaming session ending.
func (m *Metrics) RecordSessionEnd(success bool, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if success {
		m.SessionsSuccess.Inc()
	} else {
		m.SessionsFailed.Inc()
	}
}

// RecordFragmentReceived records an accepted audio fragment.
func (m *Metrics) RecordFragmentReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFragmentsReceived.Inc()
}

// RecordFragmentDropped records a malformed fragment being dropped.
func (m *Metrics) RecordFragmentDropped(reason string) {
	m.FragmentsDropped.WithLabelValues(reason).Inc()
}

// RecordFlush records a buffer flush and its size. Trigger is "threshold"
// or "finalize".
func (m *Metrics) RecordFlush(trigger string, bytes int) {
	m.FlushesTotal.WithLabelValues(trigger).Inc()
	m.FlushBufferBytes.Observe(float64(bytes))
}

// RecordInference records one inference call. Source is "stream" or "file".
func (m *Metrics) RecordInference(engine, source string, err error, latencySeconds float64) {
	m.InferenceLatency.WithLabelValues(engine, source).Observe(latencySeconds)
	if err != nil {
		m.InferenceErrors.WithLabelValues(engine, source).Inc()
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
