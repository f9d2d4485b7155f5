package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"geckobot/internal/market"
	"geckobot/internal/metrics"
)

// Live drives a strategy from streaming ticks and market-cap batches against the paper broker.
type Live struct {
	log        zerolog.Logger
	strategy   Strategy
	settings   Settings
	selections SelectionStore
	now        func() time.Time

	algo *Algorithm
	// subs caches tracked tickers; ticked holds pairs priced by their own feed.
	subs   map[string]struct{}
	ticked map[string]struct{}
}

// LiveOption configures a Live runner.
type LiveOption func(*Live)

// WithLiveSelectionStore persists universe selections made while streaming.
func WithLiveSelectionStore(s SelectionStore) LiveOption {
	return func(l *Live) { l.selections = s }
}

// WithClock overrides the wall clock used to stamp market-cap batches.
func WithClock(now func() time.Time) LiveOption {
	return func(l *Live) { l.now = now }
}

// NewLive prepares a live paper runner.
func NewLive(log zerolog.Logger, strat Strategy, settings Settings, opts ...LiveOption) *Live {
	l := &Live{log: log, strategy: strat, settings: settings, now: time.Now, ticked: make(map[string]struct{})}
	for _, opt := range opts {
		opt(l)
	}
	l.algo = newAlgorithm(log, strat, settings)
	return l
}

// Algorithm exposes the host state.
func (l *Live) Algorithm() *Algorithm { return l.algo }

// Run initializes the strategy and processes events until ctx is cancelled or both channels close.
// Start and end dates only matter for backtests and are ignored here.
func (l *Live) Run(ctx context.Context, ticks <-chan market.Tick, caps <-chan []market.CoinGecko) error {
	a := l.algo
	if err := a.initialize(); err != nil {
		return err
	}
	a.open()
	l.refresh()
	l.log.Info().Str("strategy", l.strategy.Name()).Float64("cash", a.cash).Msg("live paper engine started")

	for ticks != nil || caps != nil {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("shutting down")
			return nil
		case tk, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			l.onTick(tk)
		case batch, ok := <-caps:
			if !ok {
				caps = nil
				continue
			}
			l.onCaps(ctx, batch)
		}
	}
	l.log.Info().Msg("feeds closed")
	return nil
}

func (l *Live) onTick(tk market.Tick) {
	a := l.algo
	if tk.Symbol == "" || tk.Price <= 0 {
		return
	}
	a.broker.SetMark(tk.Symbol, tk.Price)
	l.ticked[tk.Symbol] = struct{}{}
	if _, ok := l.subs[tk.Symbol]; !ok {
		return
	}
	a.now = tk.Ts
	slice := market.NewSlice(tk.Ts)
	slice.Ticks[tk.Symbol] = tk
	l.step(slice)
}

func (l *Live) onCaps(ctx context.Context, batch []market.CoinGecko) {
	a := l.algo
	if len(batch) == 0 {
		return
	}
	ts := batch[0].Time
	if ts.IsZero() {
		ts = l.now().UTC()
	}
	a.now = ts

	if a.universe != nil && a.universe.Due(ts) {
		changes := a.applyUniverse(batch)
		metrics.UniverseChangesTotal.WithLabelValues("added").Add(float64(len(changes.Added)))
		metrics.UniverseChangesTotal.WithLabelValues("removed").Add(float64(len(changes.Removed)))
		if l.selections != nil {
			members := a.universe.Members()
			tickers := make([]string, len(members))
			for i, s := range members {
				tickers[i] = s.Ticker
			}
			if err := l.selections.SaveSelection(ctx, ts, tickers); err != nil {
				l.log.Warn().Err(err).Msg("persist selection failed")
			}
		}
		l.refresh()
	}

	slice := market.NewSlice(ts)
	byCoin := make(map[string]market.CoinGecko, len(batch))
	for _, d := range batch {
		coin := strings.ToUpper(d.Coin)
		byCoin[coin] = d
		if _, ok := a.data[coin]; ok {
			slice.CoinGecko[coin] = d
			metrics.CoinGeckoPointsTotal.WithLabelValues(coin).Inc()
		}
	}
	// coins double as a price source for pairs without a tick feed
	for ticker := range l.subs {
		if _, ok := l.ticked[ticker]; ok {
			continue
		}
		base, _ := market.SplitTicker(ticker)
		if d, ok := byCoin[base]; ok && d.Price > 0 {
			a.broker.SetMark(ticker, d.Price)
		}
	}
	if slice.Empty() {
		return
	}
	l.step(slice)
}

func (l *Live) step(slice market.Slice) {
	a := l.algo
	orders, securities := a.orders, len(a.crypto)
	if !a.halted {
		a.strategy.OnData(a, slice)
	}
	metrics.PortfolioEquity.Set(a.observe())
	if a.orders != orders || len(a.crypto) != securities {
		l.refresh()
	}
}

// refresh rebuilds the tracked set after the universe, subscriptions or positions change.
func (l *Live) refresh() {
	tracked := l.algo.tracked()
	l.subs = make(map[string]struct{}, len(tracked))
	for _, t := range tracked {
		l.subs[t] = struct{}{}
	}
}
