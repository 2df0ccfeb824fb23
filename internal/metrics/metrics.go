// Package metrics exposes Prometheus collectors for the executor, scheduler,
// state machine and tool dispatcher.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"virtmcp/internal/vm"
)

const namespace = "virtmcp"

// Metrics implements every observer interface of the core packages on top
// of one Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	drift           *prometheus.CounterVec
	operations      *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Hypervisor CLI invocations by outcome.",
		}, []string{"command", "outcome"}),
		commandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Wall time of hypervisor CLI invocations.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"command"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_retries_total",
			Help:      "Retries of transient hypervisor CLI failures.",
		}, []string{"command"}),
		drift: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_drift_total",
			Help:      "Observed VM states that differed from the expected state.",
		}, []string{"expected", "observed"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Scheduled VM operations by kind and final status.",
		}, []string{"kind", "status"}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time from admission to completion of scheduled operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operations_in_flight",
			Help:      "Operations currently holding a scheduler slot.",
		}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "MCP tool calls by tool, action and outcome.",
		}, []string{"tool", "action", "outcome"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Latency of MCP tool calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool", "action"}),
	}
}

// WatchRegistry exports the number of registered VMs per state.
func (m *Metrics) WatchRegistry(r *vm.Registry) {
	m.registry.MustRegister(&registryCollector{
		registry: r,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "vms"),
			"Registered VMs by last known state.",
			[]string{"state"}, nil,
		),
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCommand implements executor.Observer.
func (m *Metrics) ObserveCommand(command, outcome string, wallTime time.Duration) {
	m.commands.WithLabelValues(command, outcome).Inc()
	m.commandDuration.WithLabelValues(command).Observe(wallTime.Seconds())
}

// ObserveRetry implements executor.RetryObserver.
func (m *Metrics) ObserveRetry(command string) {
	m.retries.WithLabelValues(command).Inc()
}

// ObserveDrift implements vm.DriftObserver.
func (m *Metrics) ObserveDrift(_ string, expected, observed vm.State) {
	m.drift.WithLabelValues(string(expected), string(observed)).Inc()
}

// ObserveOperation implements scheduler.Observer.
func (m *Metrics) ObserveOperation(kind, status string, duration time.Duration) {
	m.operations.WithLabelValues(kind, status).Inc()
	m.opDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetInFlight implements scheduler.Observer.
func (m *Metrics) SetInFlight(n int) {
	m.inFlight.Set(float64(n))
}

// ObserveCall implements dispatcher.Observer.
func (m *Metrics) ObserveCall(tool, action, outcome string, duration time.Duration) {
	m.toolCalls.WithLabelValues(tool, action, outcome).Inc()
	m.toolDuration.WithLabelValues(tool, action).Observe(duration.Seconds())
}

// registryCollector counts registry entries at scrape time.
type registryCollector struct {
	registry *vm.Registry
	desc     *prometheus.Desc
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	counts := make(map[vm.State]int)
	for _, info := range c.registry.List() {
		counts[info.State]++
	}
	for state, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), string(state))
	}
}
