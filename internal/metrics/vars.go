package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ScanCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_scan_cycles_total",
		Help: "Completed scan cycles",
	})

	ScanSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_scan_skipped_total",
		Help: "Ticks skipped because the previous cycle was still running",
	})

	ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arb_scan_duration_seconds",
		Help:    "Wall time of one aggregate/detect/rank cycle",
		Buckets: prometheus.DefBuckets,
	})

	Opportunities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_opportunities",
		Help: "Opportunities in the current ranked set",
	})

	BestNetPct = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_best_net_profit_pct",
		Help: "Net profit % of the top-ranked opportunity (0 when none)",
	})

	QuoteErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_quote_errors_total",
		Help: "Venue quote failures",
	}, []string{"venue"})

	QuoteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arb_quote_latency_seconds",
		Help:    "Time to obtain one venue quote",
		Buckets: prometheus.DefBuckets,
	})

	GasUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_gas_usd",
		Help: "Modeled gas cost in USD for one arbitrage call",
	})

	Trades = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_trades_total",
		Help: "Trade state transitions",
	}, []string{"status", "mode"})

	TradeInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_trade_in_flight",
		Help: "1 while a trade holds the execution slot",
	})

	RealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_realized_pnl_usd",
		Help: "Ledger total of realized profit",
	})
)

func init() {
	prometheus.MustRegister(
		ScanCycles,
		ScanSkipped,
		ScanDuration,
		Opportunities,
		BestNetPct,
		QuoteErrors,
		QuoteLatency,
		GasUSD,
		Trades,
		TradeInFlight,
		RealizedPnL,
	)
}
