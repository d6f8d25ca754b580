// Package metrics exposes prometheus collectors for the plugin engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	// WorkerLeaks counts module workers abandoned after the join timeout.
	WorkerLeaks prometheus.Counter

	// Restarts counts restart cycles per plugin.
	Restarts *prometheus.CounterVec

	// StartFailures counts failed start attempts per plugin and kind.
	StartFailures *prometheus.CounterVec

	// Running tracks the number of plugins currently running.
	Running prometheus.Gauge
}

// New registers the engine collectors on reg and returns them. Passing a
// fresh Registry per engine instance keeps tests isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WorkerLeaks: factory.NewCounter(prometheus.CounterOpts{
			Name: "pluginhost_worker_leaks_total",
			Help: "Module plugin workers abandoned after the stop join timeout.",
		}),
		Restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhost_restarts_total",
			Help: "Plugin restart cycles.",
		}, []string{"plugin"}),
		StartFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhost_start_failures_total",
			Help: "Failed plugin start attempts.",
		}, []string{"plugin", "kind"}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pluginhost_plugins_running",
			Help: "Plugins currently in the running state.",
		}),
	}
}

// NewUnregistered returns collectors backed by a private registry, for
// callers that do not export metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
