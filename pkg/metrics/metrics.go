// Package metrics exposes Prometheus metrics for the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run lifecycle metrics
	RunsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arena_runs",
			Help: "Number of runs by current status",
		},
		[]string{"status"},
	)

	RunsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_runs_completed_total",
			Help: "Total runs that reached a terminal or ready state, by outcome",
		},
		[]string{"outcome"},
	)

	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arena_build_duration_seconds",
			Help:    "Wall time of the build container per run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	HealthProbeAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arena_health_probe_attempts",
			Help:    "Probe attempts until a run turned healthy",
			Buckets: prometheus.LinearBuckets(1, 3, 10),
		},
	)

	// Resource metrics
	PortsAllocated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arena_ports_allocated",
			Help: "Host ports currently held by live runs",
		},
	)

	ActiveContainers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arena_active_containers",
			Help: "Runtime containers currently running",
		},
	)

	GatewayEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arena_gateway_entries",
			Help: "Runs currently registered in the gateway registry",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_api_requests_total",
			Help: "Total API requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(RunsByStatus)
	prometheus.MustRegister(RunsCompleted)
	prometheus.MustRegister(BuildDuration)
	prometheus.MustRegister(HealthProbeAttempts)
	prometheus.MustRegister(PortsAllocated)
	prometheus.MustRegister(ActiveContainers)
	prometheus.MustRegister(GatewayEntries)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
