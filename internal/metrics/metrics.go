// Package metrics exposes engine counters and gauges in Prometheus
// exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/levtrade/corebot/internal/domain"
)

// Recorder holds the engine's Prometheus collectors. Components that emit
// metrics receive a *Recorder and call its typed record methods.
type Recorder struct {
	ordersSubmitted  *prometheus.CounterVec
	ordersFilled     *prometheus.CounterVec
	ordersCancelled  *prometheus.CounterVec
	ordersRejected   *prometheus.CounterVec
	guardrailDenials *prometheus.CounterVec
	riskRegime       *prometheus.GaugeVec
	cyclesRemaining  *prometheus.GaugeVec
	portfolioValue   prometheus.Gauge
	cashBalance      prometheus.Gauge
}

// New creates a Recorder registered on the default registry.
func New() *Recorder {
	return &Recorder{
		ordersSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebot_orders_submitted_total",
				Help: "Orders submitted to the brokerage",
			},
			[]string{"symbol", "action", "tag"},
		),
		ordersFilled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebot_orders_filled_total",
				Help: "Orders that reached FILLED",
			},
			[]string{"symbol", "tag"},
		),
		ordersCancelled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebot_orders_cancelled_total",
				Help: "Orders that reached CANCELLED",
			},
			[]string{"symbol", "tag"},
		),
		ordersRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebot_orders_rejected_total",
				Help: "Orders rejected by the brokerage",
			},
			[]string{"symbol", "tag"},
		),
		guardrailDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebot_guardrail_denials_total",
				Help: "Order intents denied by a guardrail",
			},
			[]string{"symbol", "rule"},
		),
		riskRegime: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "corebot_risk_regime",
				Help: "Current risk regime per symbol (1 RISK_ON, 0 NEUTRAL, -1 RISK_OFF)",
			},
			[]string{"symbol"},
		),
		cyclesRemaining: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "corebot_core_cycles_remaining",
				Help: "Build cycles left until the core target",
			},
			[]string{"symbol"},
		),
		portfolioValue: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "corebot_portfolio_value",
				Help: "Total account equity",
			},
		),
		cashBalance: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "corebot_cash_balance",
				Help: "Uninvested cash",
			},
		),
	}
}

// OrderSubmitted counts a submission.
func (r *Recorder) OrderSubmitted(symbol string, action domain.OrderAction, tag domain.OrderTag) {
	r.ordersSubmitted.WithLabelValues(symbol, string(action), string(tag)).Inc()
}

// OrderTerminal counts an order reaching its final status.
func (r *Recorder) OrderTerminal(symbol string, tag domain.OrderTag, status domain.OrderStatus) {
	switch status {
	case domain.OrderStatusFilled:
		r.ordersFilled.WithLabelValues(symbol, string(tag)).Inc()
	case domain.OrderStatusCancelled:
		r.ordersCancelled.WithLabelValues(symbol, string(tag)).Inc()
	case domain.OrderStatusRejected:
		r.ordersRejected.WithLabelValues(symbol, string(tag)).Inc()
	}
}

// GuardrailDenied counts a guardrail denial.
func (r *Recorder) GuardrailDenied(symbol, rule string) {
	r.guardrailDenials.WithLabelValues(symbol, rule).Inc()
}

// RiskRegime records the symbol's current regime.
func (r *Recorder) RiskRegime(symbol string, regime domain.RiskRegime) {
	var v float64
	switch regime {
	case domain.RegimeRiskOn:
		v = 1
	case domain.RegimeRiskOff:
		v = -1
	}
	r.riskRegime.WithLabelValues(symbol).Set(v)
}

// CyclesRemaining records how many build cycles are left for a symbol.
func (r *Recorder) CyclesRemaining(symbol string, n int) {
	r.cyclesRemaining.WithLabelValues(symbol).Set(float64(n))
}

// Portfolio records account equity and cash.
func (r *Recorder) Portfolio(equity, cash float64) {
	r.portfolioValue.Set(equity)
	r.cashBalance.Set(cash)
}

// Handler returns the exposition handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
