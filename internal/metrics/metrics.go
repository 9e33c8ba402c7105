// Package metrics provides Prometheus metrics collection for the offline cache.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Response sources.
const (
	SourceCache       = "cache"
	SourceNetwork     = "network"
	SourceShell       = "shell"
	SourceOffline     = "offline"
	SourcePassthrough = "passthrough"
)

var (
	// ResponsesTotal tracks responses by fetch policy and the source that served them.
	ResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_responses_total",
			Help: "Total number of responses by fetch policy and source",
		},
		[]string{"policy", "source"},
	)

	// PrecacheTotal tracks precache attempts by result (stored, failed).
	PrecacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_precache_total",
			Help: "Total number of precache attempts",
		},
		[]string{"result"},
	)

	// GenerationsDeletedTotal tracks stale generations removed on activation.
	GenerationsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_cache_generations_deleted_total",
			Help: "Total number of stale cache generations deleted",
		},
	)

	// StoreErrorsTotal tracks failed storage operations.
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_store_errors_total",
			Help: "Total number of failed cache storage operations",
		},
		[]string{"operation"},
	)

	// LifecycleTransitionsTotal tracks worker lifecycle transitions by target state.
	LifecycleTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_lifecycle_transitions_total",
			Help: "Total number of worker lifecycle transitions",
		},
		[]string{"state"},
	)
)

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
