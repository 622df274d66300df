// Package metrics holds the Prometheus collectors for plugin method
// invocations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Invocation outcomes used for the status label.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	// Registry holds every collector of this package. It is separate from
	// the default registry so that a one-shot CLI run exports only method
	// metrics.
	Registry = prometheus.NewRegistry()

	methodInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "q2tsne_method_invocations_total",
			Help: "Total number of plugin method invocations",
		},
		[]string{"method", "status"},
	)
	methodDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "q2tsne_method_duration_seconds",
			Help:    "Plugin method latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"method"},
	)
)

func init() {
	Registry.MustRegister(methodInvocations, methodDuration)
}

// ObserveInvocation records one finished method call.
func ObserveInvocation(method, status string, d time.Duration) {
	methodInvocations.WithLabelValues(method, status).Inc()
	methodDuration.WithLabelValues(method).Observe(d.Seconds())
}

// WriteTextfile writes the current metrics in the text exposition format
// used by the node exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
