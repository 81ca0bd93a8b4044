// Package metrics provides Prometheus instrumentation for OpenWork.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	runsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openwork_runs_started_total",
			Help: "Total agent runs started",
		},
		[]string{"kind"},
	)

	runsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openwork_runs_finished_total",
			Help: "Total agent runs finished by outcome",
		},
		[]string{"outcome"},
	)

	runsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "openwork_runs_active",
			Help: "Number of agent runs currently streaming",
		},
	)

	streamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openwork_stream_events_total",
			Help: "Total stream events published",
		},
		[]string{"type"},
	)

	// Workspace metrics
	mirrorFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openwork_mirror_failures_total",
			Help: "Disk mirror operations that failed after the state write succeeded",
		},
		[]string{"op"},
	)

	syncedFilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openwork_synced_files_total",
			Help: "Files loaded from disk into thread state",
		},
	)

	workspacesBound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "openwork_workspaces_bound",
			Help: "Number of threads with a bound workspace directory",
		},
	)

	// IPC metrics
	busDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openwork_bus_dropped_total",
			Help: "Messages sent to a channel with no subscriber",
		},
	)

	bridgeConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "openwork_bridge_connections_active",
			Help: "Number of open bridge websocket connections",
		},
	)

	// MCP metrics
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openwork_tool_calls_total",
			Help: "Workspace tool calls served over MCP",
		},
		[]string{"tool", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RunStarted records a run entering the running state.
func RunStarted(kind string) {
	runsStartedTotal.WithLabelValues(kind).Inc()
	runsActive.Inc()
}

// RunFinished records a run reaching done, error or cancelled.
func RunFinished(outcome string) {
	runsFinishedTotal.WithLabelValues(outcome).Inc()
	runsActive.Dec()
}

// RecordStreamEvent records a published stream event.
func RecordStreamEvent(eventType string) {
	streamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordMirrorFailure records a swallowed disk mirror failure.
func RecordMirrorFailure(op string) {
	mirrorFailuresTotal.WithLabelValues(op).Inc()
}

// RecordSyncedFiles records files bootstrapped from disk.
func RecordSyncedFiles(n int) {
	syncedFilesTotal.Add(float64(n))
}

// SetWorkspacesBound sets the number of bound workspaces.
func SetWorkspacesBound(n int) {
	workspacesBound.Set(float64(n))
}

// RecordBusDrop records a message sent with nobody listening.
func RecordBusDrop() {
	busDroppedTotal.Inc()
}

// SetBridgeConnections sets the number of open bridge connections.
func SetBridgeConnections(n int) {
	bridgeConnectionsActive.Set(float64(n))
}

// RecordToolCall records an MCP tool call.
func RecordToolCall(tool string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}
