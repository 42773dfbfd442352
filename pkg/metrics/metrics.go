// Package metrics holds the Prometheus instruments of the sync pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "delphi_sync"

// Metrics holds every instrument, registered on its own registry so that
// several instances can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	PassesTotal       *prometheus.CounterVec
	PassDuration      *prometheus.HistogramVec
	RecordsTotal      *prometheus.CounterVec
	DiscontinuedTotal *prometheus.CounterVec
	AgentsLinked      prometheus.Counter
	AgentsAmbiguous   prometheus.Counter
	TicketsCreated    prometheus.Counter
	LastSuccess       *prometheus.GaugeVec
	ConnectionState   *prometheus.GaugeVec
}

// New creates a Metrics instance with all instruments registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PassesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Sync passes by pass name and outcome",
		}, []string{"pass", "outcome"}),
		PassDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of one sync pass",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"pass"}),
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Reconciled records by pass and outcome",
		}, []string{"pass", "outcome"}),
		DiscontinuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discontinued_total",
			Help:      "Findings marked discontinued by the sweep",
		}, []string{"pass"}),
		AgentsLinked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agents_linked_total",
			Help:      "Agents bound to a local device",
		}),
		AgentsAmbiguous: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agents_ambiguous_total",
			Help:      "Agent bindings that matched more than one device",
		}),
		TicketsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_created_total",
			Help:      "Tickets created from findings",
		}),
		LastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last fully successful sync per connection",
		}, []string{"connection"}),
		ConnectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the state each connection is currently in",
		}, []string{"connection", "state"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObservePass records one pass outcome and its duration.
func (m *Metrics) ObservePass(pass string, err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.PassesTotal.WithLabelValues(pass, outcome).Inc()
	m.PassDuration.WithLabelValues(pass).Observe(elapsed.Seconds())
}

// AddRecords adds per-outcome counts for pass.
func (m *Metrics) AddRecords(pass string, created, updated, unchanged, failed, discontinued int) {
	add := func(outcome string, n int) {
		if n > 0 {
			m.RecordsTotal.WithLabelValues(pass, outcome).Add(float64(n))
		}
	}
	add("created", created)
	add("updated", updated)
	add("unchanged", unchanged)
	add("failed", failed)
	if discontinued > 0 {
		m.DiscontinuedTotal.WithLabelValues(pass).Add(float64(discontinued))
	}
}

// SetState marks state as the current one for connection among states.
func (m *Metrics) SetState(connection uint, state string, states []string) {
	id := strconv.FormatUint(uint64(connection), 10)
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(id, s).Set(v)
	}
}

// MarkSuccess stamps the last successful sync of connection.
func (m *Metrics) MarkSuccess(connection uint, at time.Time) {
	m.LastSuccess.WithLabelValues(strconv.FormatUint(uint64(connection), 10)).Set(float64(at.Unix()))
}
