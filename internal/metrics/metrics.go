// Package metrics registers the prometheus collectors shared across the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fills_total", Help: "Orders filled by the paper broker"},
		[]string{"symbol", "side"},
	)
	CoinGeckoPointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "coingecko_points_total", Help: "Market cap observations consumed"},
		[]string{"coin"},
	)
	UniverseChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "universe_changes_total", Help: "Securities added to or removed from the universe"},
		[]string{"change"},
	)
	PortfolioEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "portfolio_equity", Help: "Marked-to-market paper portfolio value"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, OrdersTotal, FillsTotal, CoinGeckoPointsTotal, UniverseChangesTotal, PortfolioEquity)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
