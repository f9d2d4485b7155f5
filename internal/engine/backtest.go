package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"geckobot/internal/data"
	"geckobot/internal/market"
	"geckobot/internal/metrics"
)

// SelectionStore persists universe selections.
type SelectionStore interface {
	SaveSelection(ctx context.Context, ts time.Time, symbols []string) error
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Result summarizes a finished backtest.
type Result struct {
	Strategy     string        `json:"strategy"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	StartingCash float64       `json:"starting_cash"`
	FinalEquity  float64       `json:"final_equity"`
	TotalReturn  float64       `json:"total_return"`
	MaxDrawdown  float64       `json:"max_drawdown"`
	Orders       int           `json:"orders"`
	Fills        int           `json:"fills"`
	DataPoints   int           `json:"data_points"`
	Selections   int           `json:"selections"`
	Halted       bool          `json:"halted"`
	Equity       []EquityPoint `json:"equity"`
}

// Backtest replays daily CoinGecko history through a strategy.
type Backtest struct {
	log        zerolog.Logger
	strategy   Strategy
	source     data.Source
	universe   data.UniverseSource
	selections SelectionStore
	settings   Settings

	algo   *Algorithm
	series map[string][]market.CoinGecko
}

// BacktestOption configures a Backtest.
type BacktestOption func(*Backtest)

// WithUniverseSource sets where daily universe candidates come from. Without one the
// runner ranks the coins it has already loaded.
func WithUniverseSource(u data.UniverseSource) BacktestOption {
	return func(b *Backtest) { b.universe = u }
}

// WithSelectionStore persists every universe selection.
func WithSelectionStore(s SelectionStore) BacktestOption {
	return func(b *Backtest) { b.selections = s }
}

// NewBacktest prepares a replay of strat over source.
func NewBacktest(log zerolog.Logger, strat Strategy, source data.Source, settings Settings, opts ...BacktestOption) *Backtest {
	b := &Backtest{log: log, strategy: strat, source: source, settings: settings}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Algorithm exposes the host state, mostly for inspection after Run.
func (b *Backtest) Algorithm() *Algorithm { return b.algo }

// Run initializes the strategy and replays every day in [start, end].
func (b *Backtest) Run(ctx context.Context) (Result, error) {
	a := newAlgorithm(b.log, b.strategy, b.settings)
	b.algo = a
	b.series = make(map[string][]market.CoinGecko)
	if err := a.initialize(); err != nil {
		return Result{}, err
	}
	if a.start.IsZero() || a.end.IsZero() {
		return Result{}, errors.New("backtest: start and end dates are required")
	}
	if a.end.Before(a.start) {
		return Result{}, fmt.Errorf("backtest: end %s before start %s", a.end.Format(time.DateOnly), a.start.Format(time.DateOnly))
	}
	a.open()

	for _, coin := range a.dataCoins() {
		if err := b.ensureSeries(ctx, coin, true); err != nil {
			return Result{}, err
		}
	}
	for _, sym := range a.Securities() {
		base, _ := market.SplitTicker(sym.Ticker)
		if err := b.ensureSeries(ctx, base, true); err != nil {
			return Result{}, err
		}
	}

	b.log.Info().
		Str("strategy", b.strategy.Name()).
		Str("start", a.start.Format(time.DateOnly)).
		Str("end", a.end.Format(time.DateOnly)).
		Float64("cash", a.cash).
		Msg("backtest started")

	res := Result{Strategy: b.strategy.Name(), Start: a.start, End: a.end, StartingCash: a.cash}
	for day := market.Daily.Truncate(a.start); !day.After(a.end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		a.now = day
		if a.universe != nil && a.universe.Due(day) {
			if err := b.selectUniverse(ctx, day); err != nil {
				return res, err
			}
			res.Selections++
		}
		for _, slice := range b.slices(day, day.AddDate(0, 0, 1)) {
			a.now = slice.Time
			for ticker, tk := range slice.Ticks {
				a.broker.SetMark(ticker, tk.Price)
				metrics.TicksTotal.WithLabelValues(ticker).Inc()
			}
			for coin := range slice.CoinGecko {
				metrics.CoinGeckoPointsTotal.WithLabelValues(coin).Inc()
			}
			res.DataPoints += len(slice.CoinGecko)
			if !a.halted {
				a.strategy.OnData(a, slice)
			}
			equity := a.observe()
			metrics.PortfolioEquity.Set(equity)
			res.Equity = append(res.Equity, EquityPoint{Time: slice.Time, Equity: equity})
		}
	}

	snap := a.broker.Snapshot()
	res.FinalEquity = snap.Equity
	res.TotalReturn = (snap.Equity - a.cash) / a.cash
	res.MaxDrawdown = a.guard.MaxDrawdown()
	res.Orders = a.orders
	res.Fills = a.fills
	res.Halted = a.halted
	b.log.Info().
		Str("strategy", res.Strategy).
		Float64("equity", res.FinalEquity).
		Float64("return", res.TotalReturn).
		Float64("max_dd", res.MaxDrawdown).
		Int("orders", res.Orders).
		Int("fills", res.Fills).
		Int("points", res.DataPoints).
		Msg("backtest finished")
	return res, nil
}

// ensureSeries loads coin over the whole backtest window once. Missing coins are fatal only when required.
func (b *Backtest) ensureSeries(ctx context.Context, coin string, required bool) error {
	coin = strings.ToUpper(coin)
	if _, ok := b.series[coin]; ok {
		return nil
	}
	a := b.algo
	points, err := b.source.Load(ctx, coin, a.start, a.end.Add(24*time.Hour-time.Nanosecond))
	if err != nil {
		if !required || errors.Is(err, data.ErrNotFound) {
			b.log.Warn().Err(err).Str("coin", coin).Msg("no series for coin")
			b.series[coin] = nil
			return nil
		}
		return fmt.Errorf("load %s: %w", coin, err)
	}
	if len(points) == 0 {
		b.log.Warn().Str("coin", coin).Msg("series is empty")
	}
	b.series[coin] = points
	return nil
}

func (b *Backtest) selectUniverse(ctx context.Context, day time.Time) error {
	a := b.algo
	var candidates []market.CoinGecko
	if b.universe != nil {
		rows, err := b.universe.Universe(ctx, day)
		if err != nil {
			return fmt.Errorf("universe %s: %w", day.Format(time.DateOnly), err)
		}
		candidates = rows
	} else {
		candidates = b.latestBefore(day)
	}

	changes := a.applyUniverse(candidates)
	for _, s := range changes.Added {
		base, _ := market.SplitTicker(s.Ticker)
		if err := b.ensureSeries(ctx, base, false); err != nil {
			return err
		}
		metrics.UniverseChangesTotal.WithLabelValues("added").Inc()
	}
	for range changes.Removed {
		metrics.UniverseChangesTotal.WithLabelValues("removed").Inc()
	}

	if b.selections != nil {
		members := a.universe.Members()
		tickers := make([]string, len(members))
		for i, s := range members {
			tickers[i] = s.Ticker
		}
		if err := b.selections.SaveSelection(ctx, day, tickers); err != nil {
			b.log.Warn().Err(err).Msg("persist selection failed")
		}
	}
	return nil
}

// latestBefore returns, per loaded coin, the newest point on or before the end of day.
func (b *Backtest) latestBefore(day time.Time) []market.CoinGecko {
	cutoff := day.AddDate(0, 0, 1)
	var out []market.CoinGecko
	for _, points := range b.series {
		var last *market.CoinGecko
		for i := range points {
			if !points[i].Time.Before(cutoff) {
				break
			}
			last = &points[i]
		}
		if last != nil {
			out = append(out, *last)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Coin < out[j].Coin })
	return out
}

// slices groups points in [from, to) by timestamp. Crypto symbols get a tick from their base coin.
func (b *Backtest) slices(from, to time.Time) []market.Slice {
	a := b.algo
	byTime := make(map[time.Time]market.Slice)
	slice := func(ts time.Time) market.Slice {
		s, ok := byTime[ts]
		if !ok {
			s = market.NewSlice(ts)
			byTime[ts] = s
		}
		return s
	}

	for _, coin := range a.dataCoins() {
		for _, p := range window(b.series[coin], from, to) {
			slice(p.Time).CoinGecko[coin] = p
		}
	}
	for _, ticker := range a.tracked() {
		base, _ := market.SplitTicker(ticker)
		for _, p := range window(b.series[base], from, to) {
			if p.Price <= 0 {
				continue
			}
			slice(p.Time).Ticks[ticker] = market.Tick{Symbol: ticker, Price: p.Price, Size: p.Volume / p.Price, Ts: p.Time}
		}
	}

	out := make([]market.Slice, 0, len(byTime))
	for _, s := range byTime {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func window(points []market.CoinGecko, from, to time.Time) []market.CoinGecko {
	lo := sort.Search(len(points), func(i int) bool { return !points[i].Time.Before(from) })
	hi := sort.Search(len(points), func(i int) bool { return !points[i].Time.Before(to) })
	return points[lo:hi]
}
