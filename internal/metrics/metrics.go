// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

// Package metrics exports Prometheus instrumentation for the admission
// outcomes, handler execution time, and wait-poll latency the state engine
// observes, plus circuit breaker and HTTP transport metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hallowell/idemlayer/internal/stateengine"
)

var (
	AdmissionOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_admission_outcomes_total",
			Help: "Total number of idempotency admissions by outcome",
		},
		[]string{"outcome"},
	)

	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idempotency_execution_duration_seconds",
			Help:    "Duration of the wrapped handler's execution",
			Buckets: prometheus.DefBuckets,
		},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idempotency_poll_duration_seconds",
			Help:    "Time a waiting admission spent polling before resolving",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "idempotency_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 0.5=half-open, 1=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	StoreSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idempotency_store_swept_records_total",
			Help: "Total number of expired records removed by the cleanup sweeper",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_http_requests_total",
			Help: "Total number of HTTP requests seen by the demo router",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idempotency_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
)

// Observer adapts the state engine's outcome/latency callbacks to
// Prometheus collectors. It satisfies stateengine.Observer.
type Observer struct{}

var _ stateengine.Observer = Observer{}

func (Observer) ObserveOutcome(kind stateengine.OutcomeKind) {
	AdmissionOutcomesTotal.WithLabelValues(string(kind)).Inc()
}

func (Observer) ObserveExecution(d time.Duration) {
	ExecutionDuration.Observe(d.Seconds())
}

func (Observer) ObservePoll(d time.Duration) {
	PollDuration.Observe(d.Seconds())
}

// RecordHTTPRequest records one request/response cycle for the demo router.
func RecordHTTPRequest(method, route, statusCode string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStoreSweep records a completed sweeper pass that removed n records.
func RecordStoreSweep(n int) {
	StoreSweptTotal.Add(float64(n))
}

// RecordBreakerStateChange records a circuit breaker transition.
func RecordBreakerStateChange(name, from, to string, stateValue float64) {
	CircuitBreakerState.WithLabelValues(name).Set(stateValue)
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}
