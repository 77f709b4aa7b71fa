// Package metrics registers the counters and gauges spec.md §6 names
// against a Prometheus registry and exposes them as text, using
// github.com/prometheus/client_golang — the one dependency the
// teacher's go.mod lists but its own tree never imports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the aggregator's metrics and their backing
// prometheus.Registry.
type Registry struct {
	reg *prometheus.Registry

	SignatureRegistrationTotal *prometheus.CounterVec
	CertificateTotal           prometheus.Counter
	RuntimeCycleTotal          prometheus.Counter
	RuntimeCycleErrorTotal     *prometheus.CounterVec
	CurrentEpoch               prometheus.Gauge
	BufferEvictedTotal         prometheus.Counter
}

// New creates a Registry with every metric registered and zeroed.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		SignatureRegistrationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signature_registration_total",
			Help: "Single signature registrations, by outcome.",
		}, []string{"outcome"}),
		CertificateTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certificate_total",
			Help: "Certificates sealed.",
		}),
		RuntimeCycleTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtime_cycle_total",
			Help: "Runtime state machine cycles completed.",
		}),
		RuntimeCycleErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runtime_cycle_error_total",
			Help: "Runtime state machine cycles that errored, by error kind.",
		}, []string{"kind"}),
		CurrentEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "current_epoch",
			Help: "The epoch the runtime state machine is currently operating in.",
		}),
		BufferEvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffer_evicted_total",
			Help: "Buffered signatures evicted before being replayed.",
		}),
	}

	reg.MustRegister(
		m.SignatureRegistrationTotal,
		m.CertificateTotal,
		m.RuntimeCycleTotal,
		m.RuntimeCycleErrorTotal,
		m.CurrentEpoch,
		m.BufferEvictedTotal,
	)

	return m
}

// Handler returns the text-exposition HTTP handler for GET /metrics.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
