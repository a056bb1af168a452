// Package metrics exposes Prometheus metrics for port allocation and the
// viewer instances the daemon supervises.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pozicube/logdy-runner/internal/model"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "logdy_runner"

// Collector records runner metrics on its own registry. All methods are safe
// to call on a nil *Collector, which records nothing.
type Collector struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	allocations     *prometheus.CounterVec
	portsTried      prometheus.Histogram
	instances       prometheus.Gauge
	exits           prometheus.Counter

	registry *prometheus.Registry
}

// NewCollector creates a Collector with a fresh registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launch_attempts_total",
			Help:      "Launch attempts by outcome. probed=true means the bind probe rejected the port without spawning.",
		},
		[]string{"outcome", "probed"},
	)

	c.attemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "launch_attempt_duration_seconds",
			Help:      "Time from spawn to terminal outcome for launched attempts",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"outcome"},
	)

	c.allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Completed allocations by result (success or an error kind)",
		},
		[]string{"result"},
	)

	c.portsTried = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_ports_tried",
			Help:      "Number of ports probed per allocation",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50, 100},
		},
	)

	c.instances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_instances",
			Help:      "Viewer instances currently registered",
		},
	)

	c.exits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unexpected_exits_total",
			Help:      "Viewer instances that exited without being stopped",
		},
	)

	c.registry.MustRegister(
		c.attempts,
		c.attemptDuration,
		c.allocations,
		c.portsTried,
		c.instances,
		c.exits,
	)
	return c
}

// ObserveAttempt records one launch attempt.
func (c *Collector) ObserveAttempt(a model.LaunchAttempt) {
	if c == nil {
		return
	}
	probed := "false"
	if a.Probed {
		probed = "true"
	}
	c.attempts.WithLabelValues(a.Outcome.String(), probed).Inc()
	if !a.Probed {
		c.attemptDuration.WithLabelValues(a.Outcome.String()).Observe(a.Duration.Seconds())
	}
}

// ObserveAllocation records a finished allocation. kind is empty on success.
func (c *Collector) ObserveAllocation(kind model.ErrorKind, portsTried int) {
	if c == nil {
		return
	}
	result := "success"
	if kind != "" {
		result = kind.String()
	}
	c.allocations.WithLabelValues(result).Inc()
	c.portsTried.Observe(float64(portsTried))
}

// SetInstances records the current number of running instances.
func (c *Collector) SetInstances(n int) {
	if c == nil {
		return
	}
	c.instances.Set(float64(n))
}

// InstanceExited counts an instance whose viewer died on its own.
func (c *Collector) InstanceExited() {
	if c == nil {
		return
	}
	c.exits.Inc()
}

// Registry returns the Prometheus registry for HTTP handler setup.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
