// Package metrics exposes Prometheus metrics for the engine:
//
//	split_orders_total{side,outcome}      orders by outcome (submitted|filled|pending|failed)
//	split_pending_resolved_total{outcome} sweep results (filled|expired)
//	split_reconcile_repairs_total{kind}   reconciliation repairs by kind
//	split_sells_total{reason}             confirmed sells by reason
//	split_stop_loss_total                 stop-loss liquidations
//	split_emergency_halted                1 while the emergency halt is latched
//	split_equity                          last observed account equity
//	split_active_tranches{symbol}         active tranche count per instrument
//	split_cycle_seconds                   trading cycle duration
//
// Metrics are registered in init() and served by Handler at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "split_orders_total",
			Help: "Orders by side and outcome",
		},
		[]string{"side", "outcome"},
	)

	pendingResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "split_pending_resolved_total",
			Help: "Pending orders resolved by the sweep",
		},
		[]string{"outcome"},
	)

	repairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "split_reconcile_repairs_total",
			Help: "Ledger repairs applied by reconciliation",
		},
		[]string{"kind"},
	)

	sells = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "split_sells_total",
			Help: "Confirmed sells by reason",
		},
		[]string{"reason"},
	)

	stopLosses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "split_stop_loss_total",
			Help: "Stop-loss liquidations",
		},
	)

	halted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "split_emergency_halted",
			Help: "1 while the emergency halt is latched",
		},
	)

	equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "split_equity",
			Help: "Last observed account equity",
		},
	)

	activeTranches = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "split_active_tranches",
			Help: "Active tranches per instrument",
		},
		[]string{"symbol"},
	)

	cycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "split_cycle_seconds",
			Help:    "Trading cycle duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(orders, pendingResolved, repairs, sells, stopLosses)
	prometheus.MustRegister(halted, equity, activeTranches, cycleSeconds)
}

func Handler() http.Handler { return promhttp.Handler() }

func IncOrder(side, outcome string)     { orders.WithLabelValues(side, outcome).Inc() }
func IncPendingResolved(outcome string) { pendingResolved.WithLabelValues(outcome).Inc() }
func IncRepair(kind string)             { repairs.WithLabelValues(kind).Inc() }
func IncSell(reason string)             { sells.WithLabelValues(reason).Inc() }
func IncStopLoss()                      { stopLosses.Inc() }
func SetEquity(v float64)               { equity.Set(v) }
func SetActiveTranches(symbol string, n int) {
	activeTranches.WithLabelValues(symbol).Set(float64(n))
}
func ObserveCycle(seconds float64) { cycleSeconds.Observe(seconds) }

func SetHalted(on bool) {
	if on {
		halted.Set(1)
		return
	}
	halted.Set(0)
}
