// Package metrics exposes prometheus instrumentation for the tick loop and
// the persistence cycle. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guildrpg"

type Metrics struct {
	registry *prometheus.Registry

	tickDuration  *prometheus.HistogramVec
	tickErrors    *prometheus.CounterVec
	saveFailures  *prometheus.CounterVec
	pendingWrites *prometheus.GaugeVec
	activeTenants prometheus.Gauge

	timersFired     prometheus.Counter
	statusesExpired prometheus.Counter
	turnsProcessed  *prometheus.CounterVec
	critical        prometheus.Counter
}

// New creates a Metrics with its own registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_stage_duration_seconds",
			Help:      "Time spent in each tick stage for one tenant.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stage"}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_stage_errors_total",
			Help:      "Tick stages that returned an error.",
		}, []string{"stage"}),
		saveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_failures_total",
			Help:      "Failed save_state calls per manager.",
		}, []string{"manager"}),
		pendingWrites: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_writes",
			Help:      "Dirty and deleted ids left after the last save, summed over tenants.",
		}, []string{"manager", "kind"}),
		activeTenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tenants",
			Help:      "Tenants currently loaded and ticking.",
		}),
		timersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_fired_total",
			Help:      "Timers whose handler was invoked.",
		}),
		statusesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statuses_expired_total",
			Help:      "Status effects removed on expiry.",
		}),
		turnsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "party_turns_total",
			Help:      "Party turns by outcome.",
		}, []string{"outcome"}),
		critical: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "critical_inconsistencies_total",
			Help:      "Market transactions that charged currency without moving stock.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tickDuration,
		m.tickErrors,
		m.saveFailures,
		m.pendingWrites,
		m.activeTenants,
		m.timersFired,
		m.statusesExpired,
		m.turnsProcessed,
		m.critical,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.tickErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) SaveFailed(manager string) {
	if m == nil {
		return
	}
	m.saveFailures.WithLabelValues(manager).Inc()
}

func (m *Metrics) SetPending(manager string, dirty, deleted int) {
	if m == nil {
		return
	}
	m.pendingWrites.WithLabelValues(manager, "dirty").Set(float64(dirty))
	m.pendingWrites.WithLabelValues(manager, "deleted").Set(float64(deleted))
}

func (m *Metrics) SetActiveTenants(n int) {
	if m == nil {
		return
	}
	m.activeTenants.Set(float64(n))
}

func (m *Metrics) TimerFired() {
	if m == nil {
		return
	}
	m.timersFired.Inc()
}

func (m *Metrics) StatusExpired() {
	if m == nil {
		return
	}
	m.statusesExpired.Inc()
}

func (m *Metrics) TurnProcessed(outcome string) {
	if m == nil {
		return
	}
	m.turnsProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CriticalInconsistency() {
	if m == nil {
		return
	}
	m.critical.Inc()
}
