// Package metrics provides metrics recording for rate-limited LLM operations.
package metrics

import "time"

// Recorder records operational metrics for decorated client calls.
type Recorder interface {
	// ObserveRequest records a completed call through the decorator.
	ObserveRequest(provider, model, status, errorType string, duration time.Duration)

	// IncThrottle counts a limiter rejection for one dimension.
	IncThrottle(provider, limitType, reason string)

	// ObserveQueueWait records time spent blocked waiting to retry.
	ObserveQueueWait(provider string, duration time.Duration)
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

// Nop returns a no-op recorder for when metrics are disabled.
func Nop() Recorder { return &NoopRecorder{} }

// ObserveRequest does nothing.
func (*NoopRecorder) ObserveRequest(_, _, _, _ string, _ time.Duration) {}

// IncThrottle does nothing.
func (*NoopRecorder) IncThrottle(_, _, _ string) {}

// ObserveQueueWait does nothing.
func (*NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}
