package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements Recorder with Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttleTotal   *prometheus.CounterVec
	queueWaitTime   *prometheus.HistogramVec
}

// NewPrometheusRecorder creates and registers the Prometheus collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total LLM requests by provider, model, status, and error type",
			},
			[]string{"provider", "model", "status", "error_type"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model"},
		),
		throttleTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_throttle_total",
				Help: "Total limiter rejections by provider, limit type, and reason",
			},
			[]string{"provider", "limit_type", "reason"},
		),
		queueWaitTime: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_queue_wait_duration_seconds",
				Help:    "Time spent waiting for rate limit budget before retrying",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}
}

// ObserveRequest implements Recorder.
func (p *PrometheusRecorder) ObserveRequest(provider, model, status, errorType string, duration time.Duration) {
	p.requestsTotal.WithLabelValues(provider, model, status, errorType).Inc()
	p.requestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// IncThrottle implements Recorder.
func (p *PrometheusRecorder) IncThrottle(provider, limitType, reason string) {
	p.throttleTotal.WithLabelValues(provider, limitType, reason).Inc()
}

// ObserveQueueWait implements Recorder.
func (p *PrometheusRecorder) ObserveQueueWait(provider string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(provider).Observe(duration.Seconds())
}
