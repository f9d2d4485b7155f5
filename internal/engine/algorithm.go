// Package engine hosts strategies: it replays or streams market-cap data, fills their orders
// on a paper broker and notifies them about fills and universe changes.
package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"geckobot/internal/execution"
	"geckobot/internal/market"
	"geckobot/internal/paper"
	"geckobot/internal/risk"
	"geckobot/internal/universe"
)

var (
	// ErrNotStarted is returned by trading calls made before the runner opened the portfolio.
	ErrNotStarted = errors.New("engine: portfolio not open")
	// ErrHalted is returned once the drawdown kill switch has tripped.
	ErrHalted = errors.New("engine: trading halted")
	// ErrNoPrice is returned when a symbol has not been marked yet.
	ErrNoPrice = errors.New("engine: no price")
)

// DefaultCash funds strategies that never call SetCash.
const DefaultCash = 100000

// holdingsBuffer keeps SetHoldings targets slightly under full equity so fees and slippage fit.
const holdingsBuffer = 0.0025

// Strategy is implemented by every tradable algorithm.
type Strategy interface {
	Name() string
	Initialize(a *Algorithm) error
	OnData(a *Algorithm, slice market.Slice)
}

// OrderEventHandler receives order lifecycle events.
type OrderEventHandler interface {
	OnOrderEvent(a *Algorithm, ev execution.OrderEvent)
}

// SecuritiesChangedHandler receives universe changes.
type SecuritiesChangedHandler interface {
	OnSecuritiesChanged(a *Algorithm, changes universe.Changes)
}

// Settings carries runner-level overrides and execution tuning. Zero values keep
// whatever the strategy declared in Initialize.
type Settings struct {
	Start                time.Time
	End                  time.Time
	Cash                 float64
	LotSize              float64
	SlippageBps          float64
	FeeBps               float64
	MaxPositionPerSymbol float64
	UniverseResolution   market.Resolution
	Limits               risk.Limits
	Recorders            []paper.FillRecorder
}

// Algorithm is the API a strategy uses to subscribe to data and trade.
type Algorithm struct {
	log      zerolog.Logger
	strategy Strategy
	settings Settings

	start time.Time
	end   time.Time
	cash  float64
	now   time.Time

	crypto map[string]market.Symbol
	data   map[string]market.Symbol

	selector   universe.Selector
	resolution market.Resolution
	universe   *universe.Manager

	broker *paper.Broker
	guard  *risk.DrawdownGuard
	halted bool
	orders int
	fills  int
}

func newAlgorithm(log zerolog.Logger, strat Strategy, settings Settings) *Algorithm {
	return &Algorithm{
		log:        log.With().Str("strategy", strat.Name()).Logger(),
		strategy:   strat,
		settings:   settings,
		cash:       DefaultCash,
		crypto:     make(map[string]market.Symbol),
		data:       make(map[string]market.Symbol),
		resolution: market.Daily,
	}
}

// initialize runs the strategy's Initialize and applies runner overrides on top.
func (a *Algorithm) initialize() error {
	if err := a.strategy.Initialize(a); err != nil {
		return fmt.Errorf("initialize %s: %w", a.strategy.Name(), err)
	}
	if !a.settings.Start.IsZero() {
		a.start = a.settings.Start
	}
	if !a.settings.End.IsZero() {
		a.end = a.settings.End
	}
	if a.settings.Cash > 0 {
		a.cash = a.settings.Cash
	}
	if a.cash <= 0 {
		return errors.New("initialize: cash must be positive")
	}
	if a.settings.UniverseResolution != "" {
		a.resolution = a.settings.UniverseResolution
	}
	if a.selector != nil {
		a.universe = universe.NewManager(a.resolution)
	}
	return nil
}

// open creates the paper account and broker. Shorting is always enabled; exposure is bounded by leverage.
func (a *Algorithm) open() {
	account := paper.NewAccount(a.cash, a.settings.MaxPositionPerSymbol, paper.WithShorting())
	limits := a.settings.Limits
	if limits.MaxLeverage == 0 {
		limits.MaxLeverage = 1
	}
	a.broker = paper.NewBroker(a.log, account,
		paper.WithSlippageBps(a.settings.SlippageBps),
		paper.WithFeeBps(a.settings.FeeBps),
		paper.WithLimits(limits),
		paper.WithRecorders(a.settings.Recorders...),
	)
	a.broker.OnOrderEvent(a.dispatchOrderEvent)
	a.guard = risk.NewDrawdownGuard(limits.KillSwitchDrawdown)
}

func (a *Algorithm) dispatchOrderEvent(ev execution.OrderEvent) {
	switch ev.Status {
	case execution.Submitted:
		a.orders++
	case execution.Filled:
		a.fills++
	}
	if h, ok := a.strategy.(OrderEventHandler); ok {
		h.OnOrderEvent(a, ev)
	}
}

// SetStartDate sets the first replayed day (UTC).
func (a *Algorithm) SetStartDate(year int, month time.Month, day int) {
	a.start = time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// SetEndDate sets the last replayed day (inclusive, UTC).
func (a *Algorithm) SetEndDate(year int, month time.Month, day int) {
	a.end = time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// SetCash sets the starting cash.
func (a *Algorithm) SetCash(cash float64) { a.cash = cash }

// StartDate returns the configured start.
func (a *Algorithm) StartDate() time.Time { return a.start }

// EndDate returns the configured end.
func (a *Algorithm) EndDate() time.Time { return a.end }

// AddCrypto subscribes to a tradable pair. Its price comes from the base coin's market-cap series.
func (a *Algorithm) AddCrypto(ticker, mkt string) market.Symbol {
	sym := market.NewCrypto(ticker, mkt)
	a.crypto[sym.Ticker] = sym
	return sym
}

// AddData subscribes to a coin's CoinGecko market-cap feed.
func (a *Algorithm) AddData(coin string) market.Symbol {
	sym := market.NewData(coin)
	a.data[sym.Ticker] = sym
	return sym
}

// SetUniverseSelection installs a selector run once per universe resolution period.
func (a *Algorithm) SetUniverseSelection(sel universe.Selector) { a.selector = sel }

// SetUniverseResolution sets how often the universe is refreshed.
func (a *Algorithm) SetUniverseResolution(r market.Resolution) { a.resolution = r }

// Time is the timestamp of the data currently being processed.
func (a *Algorithm) Time() time.Time { return a.now }

// Log writes an informational strategy message.
func (a *Algorithm) Log(msg string) {
	a.log.Info().Time("algo_time", a.now).Msg(msg)
}

// Debug writes a debug strategy message.
func (a *Algorithm) Debug(msg string) {
	a.log.Debug().Time("algo_time", a.now).Msg(msg)
}

// Securities lists subscribed crypto symbols plus current universe members, sorted by ticker.
func (a *Algorithm) Securities() []market.Symbol {
	seen := make(map[string]market.Symbol, len(a.crypto))
	for t, s := range a.crypto {
		seen[t] = s
	}
	if a.universe != nil {
		for _, s := range a.universe.Members() {
			seen[s.Ticker] = s
		}
	}
	out := make([]market.Symbol, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Portfolio is the marked-to-market account state.
func (a *Algorithm) Portfolio() paper.Snapshot {
	if a.broker == nil {
		return paper.Snapshot{Cash: a.cash, Equity: a.cash, Positions: map[string]paper.PositionSnapshot{}}
	}
	return a.broker.Snapshot()
}

// SetHoldings trades symbol toward fraction of total portfolio value (negative for short).
// Quantities are rounded toward zero to the lot size and only the difference is ordered.
func (a *Algorithm) SetHoldings(symbol market.Symbol, fraction float64) error {
	if a.broker == nil {
		return ErrNotStarted
	}
	if a.halted {
		return ErrHalted
	}
	price := a.broker.Mark(symbol.Ticker)
	if price <= 0 {
		return fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	snap := a.broker.Snapshot()
	target := a.truncateLot(decimal.NewFromFloat(fraction).
		Mul(decimal.NewFromFloat(snap.Equity)).
		Mul(decimal.NewFromFloat(1 - holdingsBuffer)).
		Div(decimal.NewFromFloat(price)))
	delta := a.truncateLot(target.Sub(decimal.NewFromFloat(snap.Positions[symbol.Ticker].Qty)))
	if delta.IsZero() {
		return nil
	}
	return a.submit(symbol.Ticker, delta.InexactFloat64(), fmt.Sprintf("SetHoldings %.4f", fraction))
}

// Liquidate closes the position in symbol.
func (a *Algorithm) Liquidate(symbol market.Symbol) error {
	if a.broker == nil {
		return ErrNotStarted
	}
	qty := a.broker.Account().Position(symbol.Ticker)
	if qty == 0 {
		return nil
	}
	return a.submit(symbol.Ticker, -qty, "Liquidate")
}

func (a *Algorithm) liquidateAll() {
	for sym, pos := range a.broker.Snapshot().Positions {
		if err := a.submit(sym, -pos.Qty, "Liquidate"); err != nil {
			a.log.Error().Err(err).Str("sym", sym).Msg("liquidate failed")
		}
	}
}

func (a *Algorithm) submit(ticker string, delta float64, tag string) error {
	side := execution.Buy
	if delta < 0 {
		side = execution.Sell
	}
	_, err := a.broker.SubmitMarket(ticker, side, math.Abs(delta), tag, a.now)
	return err
}

// roundLot truncates qty toward zero to a multiple of the lot size.
func (a *Algorithm) roundLot(qty float64) float64 {
	return a.truncateLot(decimal.NewFromFloat(qty)).InexactFloat64()
}

func (a *Algorithm) truncateLot(qty decimal.Decimal) decimal.Decimal {
	if a.settings.LotSize <= 0 {
		return qty
	}
	lot := decimal.NewFromFloat(a.settings.LotSize)
	return qty.Div(lot).Truncate(0).Mul(lot)
}

// observe marks equity after a step and trips the kill switch when drawdown exceeds its limit.
func (a *Algorithm) observe() float64 {
	equity := a.broker.Snapshot().Equity
	if _, tripped := a.guard.Observe(equity); tripped && !a.halted {
		a.log.Warn().Float64("equity", equity).Float64("max_drawdown", a.guard.MaxDrawdown()).Msg("drawdown kill switch tripped, liquidating")
		a.liquidateAll()
		a.halted = true
	}
	return equity
}

// applyUniverse runs the selector over data and notifies the strategy about changes.
func (a *Algorithm) applyUniverse(data []market.CoinGecko) universe.Changes {
	selected := a.selector(data)
	changes := a.universe.Apply(a.now, selected)
	if changes.Empty() {
		return changes
	}
	for _, s := range changes.Added {
		a.log.Debug().Str("sym", s.Ticker).Msg("universe added")
	}
	if h, ok := a.strategy.(SecuritiesChangedHandler); ok {
		h.OnSecuritiesChanged(a, changes)
	}
	return changes
}

// tracked lists tickers that need prices: subscriptions, universe members and open positions.
func (a *Algorithm) tracked() []string {
	seen := make(map[string]struct{})
	for _, s := range a.Securities() {
		seen[s.Ticker] = struct{}{}
	}
	if a.broker != nil {
		for sym := range a.broker.Snapshot().Positions {
			seen[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// dataCoins lists the coins subscribed through AddData.
func (a *Algorithm) dataCoins() []string {
	out := make([]string, 0, len(a.data))
	for coin := range a.data {
		out = append(out, coin)
	}
	sort.Strings(out)
	return out
}
