// Package observability provides Prometheus metrics for the sandbox core and
// the HTTP endpoint that exposes them.
package observability

import "github.com/prometheus/client_golang/prometheus"

// SandboxBuckets covers remote sandbox runs, from a quick interpreter call to a
// slow pygame build.
var SandboxBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300}

var (
	// SandboxRunsTotal counts dispatched runs by environment and outcome.
	SandboxRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codearena_sandbox_runs_total",
			Help: "Sandbox runs",
		},
		[]string{"environment", "status"},
	)

	// SandboxRunDuration records end-to-end dispatch duration in seconds.
	SandboxRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codearena_sandbox_run_duration_seconds",
			Help:    "Sandbox run duration",
			Buckets: SandboxBuckets,
		},
		[]string{"environment"},
	)

	// ExtractionsTotal counts code extraction attempts by outcome.
	ExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codearena_extractions_total",
			Help: "Code extractions",
		},
		[]string{"outcome"},
	)

	// RemoteCommandsTotal counts remote sandbox operations (install, write,
	// build, serve) by status.
	RemoteCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codearena_remote_commands_total",
			Help: "Remote sandbox commands",
		},
		[]string{"operation", "status"},
	)
)

// Status label values shared by the counters.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

func init() {
	prometheus.MustRegister(
		SandboxRunsTotal,
		SandboxRunDuration,
		ExtractionsTotal,
		RemoteCommandsTotal,
	)
}
