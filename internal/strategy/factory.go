// Package strategy holds the algorithms the engine can host.
package strategy

import (
	"strings"

	"geckobot/internal/engine"
)

// Params expresses tunable knobs required by strategy constructors.
type Params struct {
	Coin              string
	Crypto            string
	Market            string
	Quote             string
	WindowSize        int
	TopN              int
	Symbols           []string
	TrendThreshold    float64
	TrendWindowSecs   int
	TrendMinVolumeUSD float64
}

// Mode names accepted by Build.
const (
	ModeMarketCapTrend    = "marketcap_trend"
	ModeMarketCapUniverse = "marketcap_universe"
	ModePriceTrend        = "price_trend"
)

// Build returns a strategy implementation matching the configured mode.
func Build(mode string, params Params) engine.Strategy {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeMarketCapUniverse, "universe", "coingecko_universe":
		return NewMarketCapUniverse(params.TopN, params.Market, params.Quote)
	case ModePriceTrend, "trend", "trend_follow", "trend_follower":
		return NewPriceTrend(params.Symbols, params.Market, params.TrendThreshold, params.TrendWindowSecs, params.TrendMinVolumeUSD)
	default:
		return NewMarketCapTrend(params.Coin, params.Crypto, params.Market, params.WindowSize)
	}
}
