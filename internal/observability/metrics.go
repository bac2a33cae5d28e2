package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finadvisor_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finadvisor_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30, 60},
		},
		[]string{"method", "path"},
	)

	// Turn / run metrics
	TurnsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finadvisor_turns_started_total",
			Help: "Total chat turns accepted",
		},
	)

	RunOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finadvisor_run_outcomes_total",
			Help: "Terminal run outcomes",
		},
		[]string{"outcome"}, // completed, failed, cancelled, expired, timeout, error
	)

	PollAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finadvisor_run_poll_attempts",
			Help:    "Number of status polls needed to reach a terminal outcome",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 30, 50},
		},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finadvisor_tool_calls_total",
			Help: "Tool calls serviced during requires_action pauses",
		},
		[]string{"function", "result"}, // result: ok or error
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finadvisor_store_latency_seconds",
			Help:    "Conversation store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"operation"},
	)
)
