// Package observability exposes Prometheus metrics, health endpoints and
// OpenTelemetry tracing for the companion core.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	sessionConnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aria_session_connects_total",
			Help: "Total number of live connection attempts",
		},
		[]string{"kind", "status"}, // kind: first|reconnect
	)

	sessionTaskFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aria_session_task_failures_total",
			Help: "Total number of session task failures that triggered teardown",
		},
		[]string{"task"},
	)

	// Tool metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aria_tool_calls_total",
			Help: "Total number of dispatched tool calls",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aria_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Transcript metrics
	transcriptDeltasTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aria_transcript_deltas_total",
			Help: "Total number of transcript deltas applied",
		},
		[]string{"direction"},
	)

	// Outbound queue metrics
	outboundDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aria_outbound_drops_total",
			Help: "Total number of outbound items dropped (best-effort kinds only)",
		},
		[]string{"kind"},
	)

	// Nudge metrics
	nudgesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aria_nudges_sent_total",
			Help: "Total number of proactive nudges sent",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the metric set. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			sessionConnectsTotal,
			sessionTaskFailuresTotal,
			toolCallsTotal,
			toolCallDuration,
			transcriptDeltasTotal,
			outboundDropsTotal,
			nudgesSentTotal,
		)
	})
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordConnect records a connection attempt outcome.
func RecordConnect(reconnect bool, status string) {
	kind := "first"
	if reconnect {
		kind = "reconnect"
	}
	sessionConnectsTotal.WithLabelValues(kind, status).Inc()
}

// RecordTaskFailure records a session task failure.
func RecordTaskFailure(task string) {
	sessionTaskFailuresTotal.WithLabelValues(task).Inc()
}

// RecordToolCall records a dispatched tool call outcome.
func RecordToolCall(tool, status string) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// ObserveToolCallDuration records how long a tool handler ran.
func ObserveToolCallDuration(tool string, d time.Duration) {
	toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordTranscriptDelta records one applied transcript delta.
func RecordTranscriptDelta(direction string) {
	transcriptDeltasTotal.WithLabelValues(direction).Inc()
}

// RecordOutboundDrop records a dropped best-effort outbound item.
func RecordOutboundDrop(kind string) {
	outboundDropsTotal.WithLabelValues(kind).Inc()
}

// RecordNudge records an emitted proactive nudge.
func RecordNudge() {
	nudgesSentTotal.Inc()
}
