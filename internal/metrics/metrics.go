// Package metrics agrupa los collectors de Prometheus del exchange y del market maker.
// Todos los métodos aceptan receptor nil para que los componentes funcionen sin métricas.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "binex"

// Metrics es el conjunto de collectors registrado en un Registry propio.
type Metrics struct {
	registry *prometheus.Registry

	OrdersTotal        *prometheus.CounterVec
	FillsTotal         prometheus.Counter
	ContractsTraded    prometheus.Counter
	RestingOrders      prometheus.Gauge
	SettlementsTotal   *prometheus.CounterVec
	SettlementsPending prometheus.Gauge
	QuoteRefreshes     *prometheus.CounterVec
	TrackedMarkets     prometheus.Gauge
}

// New crea y registra los collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "orders_total",
			Help:      "Orders processed by type and final status",
		}, []string{"type", "status"}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "fills_total",
			Help:      "Fills produced by the matching engine",
		}),
		ContractsTraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "contracts_traded_total",
			Help:      "Contracts traded across all markets",
		}),
		RestingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "resting_orders",
			Help:      "Orders currently resting on the books",
		}),
		SettlementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "attempts_total",
			Help:      "Settlement dispatch attempts by kind and result",
		}, []string{"kind", "result"}),
		SettlementsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "pending",
			Help:      "Settlement intents waiting for the relayer",
		}),
		QuoteRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mm",
			Name:      "quote_refreshes_total",
			Help:      "Market maker quote refreshes by result",
		}, []string{"result"}),
		TrackedMarkets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mm",
			Name:      "tracked_markets",
			Help:      "Markets currently quoted by the market maker",
		}),
	}

	m.registry.MustRegister(
		m.OrdersTotal, m.FillsTotal, m.ContractsTraded, m.RestingOrders,
		m.SettlementsTotal, m.SettlementsPending,
		m.QuoteRefreshes, m.TrackedMarkets,
	)
	return m
}

// Registry devuelve el registry (tests y handler).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler devuelve el handler HTTP de /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOrder cuenta una orden procesada.
func (m *Metrics) ObserveOrder(orderType, status string) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(orderType, status).Inc()
}

// ObserveFills suma fills y contratos.
func (m *Metrics) ObserveFills(n int, contracts float64) {
	if m == nil || n == 0 {
		return
	}
	m.FillsTotal.Add(float64(n))
	m.ContractsTraded.Add(contracts)
}

// AddResting ajusta el gauge de órdenes en reposo.
func (m *Metrics) AddResting(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.RestingOrders.Add(float64(delta))
}

// ObserveSettlement cuenta un intento de settlement ("ok" | "error").
func (m *Metrics) ObserveSettlement(kind, result string) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(kind, result).Inc()
}

// SetPending fija el número de intents pendientes.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.SettlementsPending.Set(float64(n))
}

// ObserveRefresh cuenta un refresh de cotizaciones ("ok" | "error" | "skipped" | "closed").
func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.QuoteRefreshes.WithLabelValues(result).Inc()
}

// SetTracked fija el número de mercados cotizados.
func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.TrackedMarkets.Set(float64(n))
}
