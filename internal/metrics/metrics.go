package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UnknownSymbol replaces caller supplied symbols that have no book, so remote
// input cannot create new series.
const UnknownSymbol = "unknown"

var (
	// OrderProcessing tracks how long the owning worker spends applying a
	// request to its book, by action.
	OrderProcessing = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tickmatch_order_processing_seconds",
			Help:    "Time spent applying an order to its book in seconds",
			Buckets: []float64{1e-7, 2.5e-7, 5e-7, 1e-6, 2.5e-6, 5e-6, 1e-5, 2.5e-5, 5e-5, 1e-4, 1e-3},
		},
		[]string{"action"},
	)

	// OrdersTotal counts accepted orders by action (rest, match, submit).
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickmatch_orders_total",
			Help: "Total number of accepted orders by action",
		},
		[]string{"action", "symbol"},
	)

	// RejectsTotal counts orders refused before touching a book.
	RejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickmatch_rejects_total",
			Help: "Total number of rejected orders by reason",
		},
		[]string{"reason", "symbol"},
	)

	// TradesTotal counts fills reported by the books.
	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickmatch_trades_total",
			Help: "Total number of trades by symbol",
		},
		[]string{"symbol"},
	)

	// TradedVolume sums the size of every fill.
	TradedVolume = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickmatch_traded_volume_total",
			Help: "Total traded quantity by symbol",
		},
		[]string{"symbol"},
	)

	// BookDepth tracks the number of price levels per side.
	BookDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickmatch_book_depth_levels",
			Help: "Current number of price levels",
		},
		[]string{"symbol", "side"},
	)

	// BookLiquidity tracks the resting quantity per side.
	BookLiquidity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickmatch_book_liquidity",
			Help: "Current resting quantity",
		},
		[]string{"symbol", "side"},
	)
)
