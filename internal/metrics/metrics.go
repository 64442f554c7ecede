// Package metrics exposes Prometheus instrumentation for the plugin
// runtime. All methods are nil-receiver safe so components can run without
// metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the runtime's collectors.
type Metrics struct {
	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	reloads            prometheus.Counter
	pluginsOk          prometheus.Gauge
	pluginsFailed      prometheus.Gauge
	builds             *prometheus.CounterVec
	buildDuration      prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modhost",
			Name:      "invocations_total",
			Help:      "Plugin invocations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modhost",
			Name:      "invocation_duration_seconds",
			Help:      "Plugin invocation wall time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modhost",
			Name:      "registry_reloads_total",
			Help:      "Plugin registry reloads.",
		}),
		pluginsOk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modhost",
			Name:      "plugins_loaded",
			Help:      "Plugins currently loaded with status ok.",
		}),
		pluginsFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modhost",
			Name:      "plugins_failed",
			Help:      "Plugins currently in error status.",
		}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modhost",
			Name:      "builds_total",
			Help:      "Bundle builds by outcome.",
		}, []string{"outcome"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "modhost",
			Name:      "build_duration_seconds",
			Help:      "Bundle build wall time.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}

	reg.MustRegister(
		m.invocations,
		m.invocationDuration,
		m.reloads,
		m.pluginsOk,
		m.pluginsFailed,
		m.builds,
		m.buildDuration,
	)
	return m
}

// ObserveInvocation records one hook or RPC invocation.
func (m *Metrics) ObserveInvocation(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(kind, outcome).Inc()
	m.invocationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncReload records one registry reload.
func (m *Metrics) IncReload() {
	if m == nil {
		return
	}
	m.reloads.Inc()
}

// SetPluginCounts updates the loaded/failed plugin gauges.
func (m *Metrics) SetPluginCounts(ok, failed int) {
	if m == nil {
		return
	}
	m.pluginsOk.Set(float64(ok))
	m.pluginsFailed.Set(float64(failed))
}

// ObserveBuild records one bundle build.
func (m *Metrics) ObserveBuild(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.builds.WithLabelValues(outcome).Inc()
	m.buildDuration.Observe(d.Seconds())
}
