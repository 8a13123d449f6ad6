// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine collectors. A single instance is shared by the
// executors, the monitor and the API server.
type Metrics struct {
	OrdersPlaced    *prometheus.CounterVec
	OrdersSkipped   *prometheus.CounterVec
	ExitTriggers    *prometheus.CounterVec
	ScanCycles      prometheus.Counter
	ScanDuration    prometheus.Histogram
	OpenPositions   prometheus.Gauge
	RegimeRefreshes prometheus.Counter
}

// New registers the collectors on a registry (nil uses the default).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_placed_total",
			Help: "Orders accepted by the gateway, by side.",
		}, []string{"side"}),
		OrdersSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_skipped_total",
			Help: "Order attempts rejected before placement, by stage.",
		}, []string{"stage"}),
		ExitTriggers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_exit_triggers_total",
			Help: "Exit evaluations that fired, by trigger.",
		}, []string{"trigger"}),
		ScanCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_scan_cycles_total",
			Help: "Completed scan cycles.",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_scan_duration_seconds",
			Help:    "Wall time of a full scan cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Number of open positions in the book.",
		}),
		RegimeRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_regime_refresh_total",
			Help: "Regime snapshot recomputations.",
		}),
	}
}
