// Package metrics exposes the gateway's operational gauges and
// counters on a dedicated Prometheus registry, served by the HTTP
// router at /api/metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the gateway updates. Each instance
// owns its own registry so tests can construct as many as they like
// without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal *prometheus.CounterVec
	WSConnections prometheus.Gauge
	SwapsTotal    *prometheus.CounterVec
	PairingsTotal *prometheus.CounterVec
}

// New builds a Metrics set. activeConversations and browserSessions
// are sampled at scrape time via GaugeFunc, so the run lock and
// browser pool need no metrics awareness of their own.
func New(activeConversations func() float64, browserSessions func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spaceduck_http_requests_total",
			Help: "HTTP requests served, by route class and status code.",
		}, []string{"route", "code"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spaceduck_ws_connections",
			Help: "Currently open WebSocket connections.",
		}),
		SwapsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spaceduck_hotswap_total",
			Help: "Hot-swap rebuilds, by component and result.",
		}, []string{"component", "result"}),
		PairingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spaceduck_pairings_total",
			Help: "Pairing confirmation attempts, by result.",
		}, []string{"result"}),
	}

	if activeConversations != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "spaceduck_active_conversations",
			Help: "Conversations currently holding the run lock.",
		}, activeConversations)
	}
	if browserSessions != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "spaceduck_browser_sessions",
			Help: "Live headless browser sessions in the pool.",
		}, browserSessions)
	}

	return m
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
