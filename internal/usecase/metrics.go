package usecase

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the trading core's Prometheus series.
type Metrics struct {
	ordersPlaced    *prometheus.CounterVec
	ordersCanceled  *prometheus.CounterVec
	ordersFilled    *prometheus.CounterVec
	positionsClosed *prometheus.CounterVec
	closeChunks     prometheus.Histogram
	realizedPnL     prometheus.Gauge
	signals         *prometheus.CounterVec
	events          *prometheus.CounterVec
	activeOrders    prometheus.Gauge
	activePositions prometheus.Gauge
	loopDuration    *prometheus.HistogramVec
	loopSkipped     *prometheus.CounterVec
	loopErrors      *prometheus.CounterVec
}

// NewMetrics creates the series and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_placed_total",
			Help: "Entry orders placed",
		}, []string{"strategy", "type"}),
		ordersCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_canceled_total",
			Help: "Orders canceled by the bot, split by reason",
		}, []string{"reason"}),
		ordersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_filled_total",
			Help: "Orders promoted to positions",
		}, []string{"strategy"}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_positions_closed_total",
			Help: "Positions closed, split by exit reason",
		}, []string{"reason"}),
		closeChunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_close_chunks",
			Help:    "Market orders needed per close",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perp_realized_pnl_usd",
			Help: "Sum of net PnL over closed positions since start",
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_signals_total",
			Help: "Inbound signals by strategy and intake outcome",
		}, []string{"strategy", "action"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_events_total",
			Help: "Notifications emitted",
		}, []string{"kind", "severity"}),
		activeOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perp_active_orders",
			Help: "Tracked entry orders",
		}),
		activePositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perp_active_positions",
			Help: "Tracked positions, portfolio included",
		}),
		loopDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_loop_tick_seconds",
			Help:    "Polling tick duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"loop"}),
		loopSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_loop_skipped_total",
			Help: "Ticks skipped because the previous one was still running",
		}, []string{"loop"}),
		loopErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_loop_errors_total",
			Help: "Ticks that returned an error or panicked",
		}, []string{"loop"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ordersPlaced, m.ordersCanceled, m.ordersFilled, m.positionsClosed,
			m.closeChunks, m.realizedPnL, m.signals, m.events,
			m.activeOrders, m.activePositions,
			m.loopDuration, m.loopSkipped, m.loopErrors,
		)
	}
	return m
}
