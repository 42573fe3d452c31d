package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	requests       *prometheus.CounterVec
	admitWait      prometheus.Histogram
	violations     prometheus.Gauge
	taskStatus     *prometheus.CounterVec
	candlesWritten *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New creates a Prometheus metrics recorder registered on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "histpull_provider_requests_total",
				Help: "Provider history calls by classified outcome",
			},
			[]string{"outcome"},
		),
		admitWait: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "histpull_ratelimit_wait_seconds",
				Help:    "Time callers spent waiting for rate limiter admission",
				Buckets: []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		violations: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "histpull_ratelimit_violations",
				Help: "Provider rate-limit rejections in the current provider day",
			},
		),
		taskStatus: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "histpull_task_transitions_total",
				Help: "Task transitions by target status",
			},
			[]string{"status"},
		),
		candlesWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "histpull_candles_written_total",
				Help: "Candles delivered to the storage backend",
			},
			[]string{"backend", "timeframe"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "histpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "histpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordRequest counts one provider call outcome.
func (r *Recorder) RecordRequest(outcome string) {
	r.requests.WithLabelValues(outcome).Inc()
}

// RecordAdmitWait observes a limiter wait.
func (r *Recorder) RecordAdmitWait(seconds float64) {
	r.admitWait.Observe(seconds)
}

// RecordViolations sets the current violation count.
func (r *Recorder) RecordViolations(n int) {
	r.violations.Set(float64(n))
}

// RecordTaskStatus counts a task transition.
func (r *Recorder) RecordTaskStatus(status string) {
	r.taskStatus.WithLabelValues(status).Inc()
}

// RecordCandlesWritten counts candles handed to a backend.
func (r *Recorder) RecordCandlesWritten(backend, timeframe string, n int) {
	r.candlesWritten.WithLabelValues(backend, timeframe).Add(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordRequest(string)                     {}
func (Nop) RecordAdmitWait(float64)                  {}
func (Nop) RecordViolations(int)                     {}
func (Nop) RecordTaskStatus(string)                  {}
func (Nop) RecordCandlesWritten(string, string, int) {}
func (Nop) RecordError(string)                       {}
func (Nop) RecordLatency(string, float64)            {}
