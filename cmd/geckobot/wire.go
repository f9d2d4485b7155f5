package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"geckobot/internal/coingecko"
	"geckobot/internal/data"
	"geckobot/internal/engine"
	"geckobot/internal/market"
	"geckobot/internal/paper"
	"geckobot/internal/risk"
	"geckobot/internal/store"
	"geckobot/internal/strategy"
)

func (a *app) client() *coingecko.Client {
	c := a.cfg.CoinGecko
	return coingecko.NewClient(a.log.With().Str("component", "coingecko").Logger(),
		coingecko.WithBaseURL(c.BaseURL),
		coingecko.WithAPIKey(c.APIKey, c.Pro),
		coingecko.WithRateLimit(c.RateLimitPerMin),
		coingecko.WithMaxRetries(c.MaxRetries),
		coingecko.WithCoinIDs(c.CoinIDs),
	)
}

// openStore returns nil when no store path is configured and the data source does not need one.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	path := a.cfg.Data.StorePath
	if path == "" {
		if !strings.EqualFold(a.cfg.Data.Source, "cached") {
			return nil, nil
		}
		path = filepath.Join(a.cfg.Data.Dir, "geckobot.db")
	}
	return store.Open(ctx, path, a.log.With().Str("component", "store").Logger())
}

func (a *app) source(st *store.Store) (data.Source, error) {
	d := a.cfg.Data
	upstream := func(kind string) data.Source {
		if strings.EqualFold(kind, "csv") {
			return data.NewCSVSource(d.Dir)
		}
		return data.NewAPISource(a.client(), a.cfg.CoinGecko.VsCurrency)
	}
	switch strings.ToLower(d.Source) {
	case "csv", "api":
		return upstream(d.Source), nil
	case "cached":
		if st == nil {
			return nil, fmt.Errorf("cached data source needs a store")
		}
		return data.NewCachedSource(st, upstream(d.Upstream), a.log.With().Str("component", "cache").Logger()), nil
	default:
		return nil, fmt.Errorf("unknown data source %q", d.Source)
	}
}

// universeSource prefers daily ranking files next to the CSV series and falls back to the configured coins.
func (a *app) universeSource(source data.Source) data.UniverseSource {
	d := a.cfg.Data
	if strings.EqualFold(d.Source, "csv") {
		if info, err := os.Stat(filepath.Join(d.Dir, "universe")); err == nil && info.IsDir() {
			return data.NewCSVUniverse(d.Dir)
		}
	}
	if len(d.Coins) > 0 {
		return data.NewSeriesUniverse(source, d.Coins)
	}
	return nil
}

func (a *app) strategy() engine.Strategy {
	p := a.cfg.Strategy.Params
	mkt := p.Market
	if mkt == "" {
		mkt = a.cfg.Universe.Market
	}
	topN := p.TopN
	if topN == 0 {
		topN = a.cfg.Universe.TopN
	}
	return strategy.Build(a.cfg.Strategy.Mode, strategy.Params{
		Coin:              p.Coin,
		Crypto:            p.Crypto,
		Market:            mkt,
		Quote:             a.cfg.Universe.Quote,
		WindowSize:        p.WindowSize,
		TopN:              topN,
		Symbols:           a.cfg.Exchange.Symbols,
		TrendThreshold:    p.TrendThreshold,
		TrendWindowSecs:   p.TrendWindowSecs,
		TrendMinVolumeUSD: p.TrendMinVolumeUSD,
	})
}

// settings maps config onto runner overrides; live runs ignore the dates.
func (a *app) settings(recorders ...paper.FillRecorder) (engine.Settings, error) {
	start, end, err := a.cfg.Backtest.Window()
	if err != nil {
		return engine.Settings{}, err
	}
	res := market.Resolution("")
	if a.cfg.Universe.Resolution != "" {
		if res, err = market.ParseResolution(a.cfg.Universe.Resolution); err != nil {
			return engine.Settings{}, err
		}
	}
	return engine.Settings{
		Start:                start,
		End:                  end,
		Cash:                 a.cfg.Backtest.Cash,
		LotSize:              a.cfg.Paper.LotSize,
		SlippageBps:          a.cfg.Paper.SlippageBps,
		FeeBps:               a.cfg.Paper.FeeBps,
		MaxPositionPerSymbol: a.cfg.Paper.MaxPositionPerSymbol,
		UniverseResolution:   res,
		Limits: risk.Limits{
			MaxNotionalPerTrade: a.cfg.Risk.MaxNotionalPerTrade,
			MaxLeverage:         a.cfg.Risk.MaxLeverage,
			KillSwitchDrawdown:  a.cfg.Risk.KillSwitchDrawdown,
		},
		Recorders: recorders,
	}, nil
}

// recorders always includes ledger and adds the JSONL file and the store when configured.
// The returned closer flushes the JSONL file.
func (a *app) recorders(ledger *paper.Ledger, st *store.Store, strategyName string) ([]paper.FillRecorder, func() error, error) {
	out := []paper.FillRecorder{ledger}
	closer := func() error { return nil }
	if path := a.cfg.Paper.FillsPath; path != "" {
		jsonl, err := paper.NewJSONLRecorder(path, paper.WithStrategyName(strategyName))
		if err != nil {
			return nil, nil, fmt.Errorf("open fills file: %w", err)
		}
		out = append(out, jsonl)
		closer = jsonl.Close
	}
	if st != nil {
		out = append(out, st.FillRecorder())
	}
	return out, closer, nil
}

func (a *app) pollInterval() time.Duration {
	if ms := a.cfg.CoinGecko.PollInterval; ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return time.Minute
}
