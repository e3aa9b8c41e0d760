package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Chat turn metrics
	activeTurns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trades_chat_active_turns",
		Help: "Number of chat turns currently being processed",
	})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_chat_turns_total",
		Help: "Total number of chat turns by final orchestration state",
	}, []string{"state"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trades_chat_turn_duration_seconds",
		Help:    "End-to-end duration of a chat turn in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	// LLM metrics
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_chat_llm_requests_total",
		Help: "Total number of model calls by phase",
	}, []string{"phase", "status"}) // phase: "detection" or "analysis"

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trades_chat_llm_latency_seconds",
		Help:    "Model call latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	}, []string{"phase"})

	// Tool dispatch metrics
	toolDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_chat_tool_dispatches_total",
		Help: "Total number of data function dispatches",
	}, []string{"function", "status"})

	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trades_chat_tool_latency_seconds",
		Help:    "Data function latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"function"})

	fallbackMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_chat_fallback_matches_total",
		Help: "Keyword fallback outcomes by rule",
	}, []string{"rule"})

	// History metrics
	historyOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_chat_history_operations_total",
		Help: "Total number of history store operations",
	}, []string{"operation", "status"})

	// HTTP metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_chat_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trades_chat_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trades_chat_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_chat_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// TurnMetrics tracks metrics for a single chat turn
type TurnMetrics struct {
	startTime time.Time
	once      sync.Once
}

// NewTurnMetrics creates a new metrics tracker for a chat turn and marks it active
func NewTurnMetrics() *TurnMetrics {
	activeTurns.Inc()
	return &TurnMetrics{startTime: time.Now()}
}

// RecordTurnEnd records the end of a chat turn with its final state.
// Only the first call has an effect.
func (m *TurnMetrics) RecordTurnEnd(state string) {
	m.once.Do(func() {
		activeTurns.Dec()
		turnsTotal.WithLabelValues(state).Inc()
		turnDuration.Observe(time.Since(m.startTime).Seconds())
	})
}

// RecordLLMCall records one model call
func RecordLLMCall(phase string, success bool, latency time.Duration) {
	llmLatency.WithLabelValues(phase).Observe(latency.Seconds())
	llmRequests.WithLabelValues(phase, statusLabel(success)).Inc()
}

// RecordToolDispatch records one data function call
func RecordToolDispatch(function string, success bool, latency time.Duration) {
	toolLatency.WithLabelValues(function).Observe(latency.Seconds())
	toolDispatches.WithLabelValues(function, statusLabel(success)).Inc()
}

// RecordFallback records which keyword rule matched, or "none"
func RecordFallback(rule string) {
	fallbackMatches.WithLabelValues(rule).Inc()
}

// RecordHistoryOperation records a history load or save
func RecordHistoryOperation(operation string, success bool) {
	historyOperations.WithLabelValues(operation, statusLabel(success)).Inc()
}

// RecordHTTPRequest records a served HTTP request
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, route, httpStatusClass(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func httpStatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
