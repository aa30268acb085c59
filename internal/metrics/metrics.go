// Package metrics exposes engine counters on a private Prometheus registry.
// All methods are safe on a nil *Metrics so services can run without it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	trades           *prometheus.CounterVec
	tradeVolume      *prometheus.CounterVec
	orders           *prometheus.CounterVec
	fills            *prometheus.CounterVec
	resolutions      *prometheus.CounterVec
	settled          prometheus.Counter
	claims           *prometheus.CounterVec
	conservationFail prometheus.Counter
	sweepDuration    *prometheus.HistogramVec
	publishFailures  prometheus.Counter
}

// New registers every collector under namespace on a fresh registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "AMM trades executed, by market kind and side",
		}, []string{"kind", "side"}),
		tradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_volume_total",
			Help:      "Currency traded against the AMM, by side",
		}, []string{"side"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Limit order events, by event",
		}, []string{"event"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Order fills, by counterparty (book or amm)",
		}, []string{"counterparty"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Markets resolved, by path (proposal, override, oracle)",
		}, []string{"path"}),
		settled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_settled_total",
			Help:      "Positions settled by the settlement pass",
		}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim calls, by result (settled, claimed, paid)",
		}, []string{"result"}),
		conservationFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conservation_violations_total",
			Help:      "Audits where payouts exceeded net deposits",
		}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Scheduler sweep duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Notifications that could not be delivered",
		}),
	}

	reg.MustRegister(
		m.trades, m.tradeVolume, m.orders, m.fills, m.resolutions, m.settled,
		m.claims, m.conservationFail, m.sweepDuration, m.publishFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry (for tests and extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Trade records one AMM trade of amount currency.
func (m *Metrics) Trade(kind, side string, amount float64) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(kind, side).Inc()
	m.tradeVolume.WithLabelValues(side).Add(amount)
}

// Order records a limit order event: placed, cancelled, filled.
func (m *Metrics) Order(event string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(event).Inc()
}

// Fill records a fill against "book" or "amm".
func (m *Metrics) Fill(counterparty string) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(counterparty).Inc()
}

// Resolved records a resolution through path.
func (m *Metrics) Resolved(path string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(path).Inc()
}

// Settled records n positions settled.
func (m *Metrics) Settled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.settled.Add(float64(n))
}

// Claim records a claim result.
func (m *Metrics) Claim(result string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
}

// ConservationViolation records a failed audit.
func (m *Metrics) ConservationViolation() {
	if m == nil {
		return
	}
	m.conservationFail.Inc()
}

// ObserveSweep records the duration of one sweep run in seconds.
func (m *Metrics) ObserveSweep(sweep string, seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(sweep).Observe(seconds)
}

// PublishFailed records an undeliverable notification.
func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}
