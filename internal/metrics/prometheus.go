package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the whisper inference service
type Metrics struct {
	// Transcription metrics
	TranscriptionRequests  *prometheus.CounterVec
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionAttempts  prometheus.Histogram
	AudioDuration          prometheus.Histogram

	// Model lifecycle metrics
	ModelLoads        prometheus.Counter
	ModelLoadFailures prometheus.Counter
	ModelLoadDuration prometheus.Histogram
	Restarts          prometheus.Counter
	RestartFailures   prometheus.Counter
	WarmupDuration    prometheus.Histogram
	WarmedUp          prometheus.Gauge

	// Device memory metrics
	MemoryReclaims        prometheus.Counter
	MemoryReclaimFailures prometheus.Counter
	ReclaimDuration       prometheus.Histogram

	// Retry diagnostics metrics
	RetryEvents  *prometheus.CounterVec
	RetryLogSize prometheus.Gauge

	// VAD metrics
	VADSegments       prometheus.Counter
	VADProcessingTime prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics against the given registerer.
// Tests pass a fresh registry so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Transcription metrics
		TranscriptionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_transcription_requests_total",
			Help: "Total number of transcription requests by dispatch mode",
		}, []string{"mode"}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_transcription_successes_total",
			Help: "Total number of successful transcriptions",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_transcription_failures_total",
			Help: "Total number of transcriptions that exhausted all retries",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_transcription_duration_seconds",
			Help:    "Wall-clock duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		TranscriptionAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_transcription_attempts",
			Help:    "Attempts consumed per finished transcription request",
			Buckets: prometheus.LinearBuckets(1, 1, 5),
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_audio_duration_seconds",
			Help:    "Duration of submitted audio clips",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~8 minutes
		}),

		// Model lifecycle metrics
		ModelLoads: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_model_loads_total",
			Help: "Total number of model load operations",
		}),
		ModelLoadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_model_load_failures_total",
			Help: "Total number of failed model load operations",
		}),
		ModelLoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_model_load_duration_seconds",
			Help:    "Time spent loading the model stack",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~8 minutes
		}),
		Restarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_model_restarts_total",
			Help: "Total number of full model lifecycle restarts",
		}),
		RestartFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_model_restart_failures_total",
			Help: "Total number of failed model restarts",
		}),
		WarmupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_warmup_duration_seconds",
			Help:    "Time spent warming the model with synthetic audio",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		WarmedUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_warmed_up",
			Help: "Whether the model stack is loaded and warmed (1) or not (0)",
		}),

		// Device memory metrics
		MemoryReclaims: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_memory_reclaims_total",
			Help: "Total number of device memory reclamation passes",
		}),
		MemoryReclaimFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_memory_reclaim_failures_total",
			Help: "Total number of reclamation passes with at least one failed step",
		}),
		ReclaimDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_memory_reclaim_duration_seconds",
			Help:    "Time spent reclaiming device memory",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),

		// Retry diagnostics metrics
		RetryEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_retry_events_total",
			Help: "Total number of retry loop events by action",
		}, []string{"action"}),
		RetryLogSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_retry_log_size",
			Help: "Current number of entries in the bounded retry log",
		}),

		// VAD metrics
		VADSegments: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_vad_segments_total",
			Help: "Total number of speech segments produced by VAD",
		}),
		VADProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_vad_processing_duration_seconds",
			Help:    "Time spent segmenting audio with VAD",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisper_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordTranscriptionRequest counts a dispatched request by mode
func (m *Metrics) RecordTranscriptionRequest(mode string) {
	m.TranscriptionRequests.WithLabelValues(mode).Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64, attempts int) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	m.TranscriptionAttempts.Observe(float64(attempts))
}

// RecordTranscriptionFailure records a transcription that exhausted retries
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64, attempts int) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	m.TranscriptionAttempts.Observe(float64(attempts))
}

// RecordAudioDuration records the length of a submitted clip
func (m *Metrics) RecordAudioDuration(seconds float64) {
	m.AudioDuration.Observe(seconds)
}

// RecordModelLoad records a model load attempt
func (m *Metrics) RecordModelLoad(durationSeconds float64, success bool) {
	m.ModelLoads.Inc()
	if success {
		m.ModelLoadDuration.Observe(durationSeconds)
	} else {
		m.ModelLoadFailures.Inc()
	}
}

// RecordRestart records a lifecycle restart attempt
func (m *Metrics) RecordRestart(success bool) {
	m.Restarts.Inc()
	if !success {
		m.RestartFailures.Inc()
	}
}

// RecordWarmup records the duration of a warmup pass
func (m *Metrics) RecordWarmup(durationSeconds float64) {
	m.WarmupDuration.Observe(durationSeconds)
}

// SetWarmedUp reflects the lifecycle manager's warmed-up flag
func (m *Metrics) SetWarmedUp(warmed bool) {
	if warmed {
		m.WarmedUp.Set(1)
	} else {
		m.WarmedUp.Set(0)
	}
}

// RecordReclaim records a device memory reclamation pass
func (m *Metrics) RecordReclaim(durationSeconds float64, success bool) {
	m.MemoryReclaims.Inc()
	m.ReclaimDuration.Observe(durationSeconds)
	if !success {
		m.MemoryReclaimFailures.Inc()
	}
}

// RecordRetryEvent counts a retry loop event by its action label
func (m *Metrics) RecordRetryEvent(action string) {
	m.RetryEvents.WithLabelValues(action).Inc()
}

// SetRetryLogSize sets the current retry log size
func (m *Metrics) SetRetryLogSize(size int) {
	m.RetryLogSize.Set(float64(size))
}

// RecordVADSegments records a VAD segmentation pass
func (m *Metrics) RecordVADSegments(count int, processingSeconds float64) {
	m.VADSegments.Add(float64(count))
	m.VADProcessingTime.Observe(processingSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
