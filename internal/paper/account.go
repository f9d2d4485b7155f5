// Package paper simulates a trading account and a market-order broker without touching a venue.
package paper

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"geckobot/internal/execution"
)

// FillRecorder captures paper fills for later inspection.
type FillRecorder interface {
	Record(execution.Fill)
}

var (
	ErrInvalidOrder            = errors.New("invalid order")
	ErrInsufficientCash        = errors.New("insufficient cash for buy")
	ErrInsufficientPosition    = errors.New("insufficient position to sell")
	ErrPositionLimit           = errors.New("position limit exceeded")
	ErrInsufficientBuyingPower = errors.New("insufficient buying power")
)

const epsilon = 1e-9

type positionState struct {
	Qty     float64 // negative when short
	AvgCost float64
}

// Account tracks virtual cash, realized PnL, and per-symbol positions while trading in paper mode.
type Account struct {
	mu                   sync.Mutex
	startingCash         float64
	cash                 float64
	realizedPnL          float64
	fees                 float64
	maxPositionPerSymbol float64
	allowShort           bool
	positions            map[string]positionState
}

// AccountOption tweaks account construction.
type AccountOption func(*Account)

// WithShorting lets sells take a position below zero. Cash checks are then left to the broker's buying-power rule.
func WithShorting() AccountOption {
	return func(a *Account) { a.allowShort = true }
}

// PositionSnapshot exposes a read-only view of a single symbol position.
type PositionSnapshot struct {
	Qty         float64
	AvgCost     float64
	MarketValue float64
	Unrealized  float64
}

// Snapshot represents a thread-safe view of the account state, optionally marked to market using provided prices.
type Snapshot struct {
	Cash        float64
	RealizedPnL float64
	Fees        float64
	Equity      float64
	Gross       float64
	Positions   map[string]PositionSnapshot
}

// Invested reports whether symbol has a non-zero position.
func (s Snapshot) Invested(symbol string) bool {
	return math.Abs(s.Positions[symbol].Qty) > epsilon
}

// NewAccount constructs an account populated with starting cash and optional position cap.
func NewAccount(startingCash, maxPositionPerSymbol float64, opts ...AccountOption) *Account {
	a := &Account{
		startingCash:         startingCash,
		cash:                 startingCash,
		maxPositionPerSymbol: maxPositionPerSymbol,
		positions:            make(map[string]positionState),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StartingCash returns the initial bankroll used to compute drawdown.
func (a *Account) StartingCash() float64 { return a.startingCash }

// MarketFill executes qty at price, mutating balances if successful. fee is charged in cash.
func (a *Account) MarketFill(symbol string, side execution.Side, qty, price, fee float64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if side != execution.Buy && side != execution.Sell {
		return fmt.Errorf("%w: unknown order side %q", ErrInvalidOrder, side)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.positions[symbol]
	notional := qty * price
	delta := side.Sign() * qty
	newQty := state.Qty + delta

	if !a.allowShort {
		if side == execution.Buy && notional+fee > a.cash+epsilon {
			return ErrInsufficientCash
		}
		if side == execution.Sell && (state.Qty <= 0 || state.Qty+epsilon < qty) {
			return ErrInsufficientPosition
		}
	}
	if a.maxPositionPerSymbol > 0 && math.Abs(newQty) > a.maxPositionPerSymbol+epsilon && math.Abs(newQty) > math.Abs(state.Qty) {
		return ErrPositionLimit
	}

	switch {
	case math.Abs(state.Qty) <= epsilon || sameSign(state.Qty, delta):
		state.AvgCost = (math.Abs(state.Qty)*state.AvgCost + notional) / math.Abs(newQty)
	default:
		closing := math.Min(qty, math.Abs(state.Qty))
		a.realizedPnL += closing * (price - state.AvgCost) * sign(state.Qty)
		if qty-closing > epsilon {
			// flipped through zero; the remainder opens at this price
			state.AvgCost = price
		}
	}
	state.Qty = newQty
	a.cash -= delta*price + fee
	a.fees += fee

	if math.Abs(state.Qty) <= epsilon {
		delete(a.positions, symbol)
	} else {
		a.positions[symbol] = state
	}
	return nil
}

// Snapshot returns a copy of balances marked using the supplied prices map.
// Symbols without a price are marked at their average cost.
func (a *Account) Snapshot(prices map[string]float64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := make(map[string]PositionSnapshot, len(a.positions))
	equity := a.cash
	var gross float64
	for sym, pos := range a.positions {
		mark := prices[sym]
		if mark <= 0 {
			mark = pos.AvgCost
		}
		marketValue := pos.Qty * mark
		positions[sym] = PositionSnapshot{
			Qty:         pos.Qty,
			AvgCost:     pos.AvgCost,
			MarketValue: marketValue,
			Unrealized:  (mark - pos.AvgCost) * pos.Qty,
		}
		equity += marketValue
		gross += math.Abs(marketValue)
	}

	return Snapshot{
		Cash:        a.cash,
		RealizedPnL: a.realizedPnL,
		Fees:        a.fees,
		Equity:      equity,
		Gross:       gross,
		Positions:   positions,
	}
}

// Equity is the marked-to-market account value.
func (a *Account) Equity(prices map[string]float64) float64 {
	return a.Snapshot(prices).Equity
}

// AvailableCash reports free cash that can be deployed into new longs.
func (a *Account) AvailableCash() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// Position returns the signed position size for the supplied symbol.
func (a *Account) Position(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[symbol].Qty
}

// RealizedPnL returns total closed-trade profit and loss before fees.
func (a *Account) RealizedPnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
