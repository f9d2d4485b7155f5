// Package risk holds the guard-rails the paper broker and engine consult before trading.
package risk

import "sync"

// Limits caps per-trade notional and gross leverage. Zero values disable a check.
type Limits struct {
	MaxNotionalPerTrade float64
	MaxLeverage         float64
	KillSwitchDrawdown  float64
}

// Allow reports whether a single trade of notional fits the per-trade cap.
func (l Limits) Allow(notional float64) bool {
	if l.MaxNotionalPerTrade <= 0 {
		return true
	}
	return notional <= l.MaxNotionalPerTrade
}

// AllowExposure reports whether gross exposure stays within leverage of equity.
func (l Limits) AllowExposure(gross, equity float64) bool {
	if l.MaxLeverage <= 0 {
		return true
	}
	if equity <= 0 {
		return gross <= 0
	}
	return gross <= equity*l.MaxLeverage*(1+1e-9)
}

// DrawdownGuard trips once equity falls a configured fraction below its peak.
type DrawdownGuard struct {
	mu      sync.Mutex
	limit   float64
	peak    float64
	maxDD   float64
	tripped bool
}

// NewDrawdownGuard returns a guard; limit <= 0 never trips but still tracks drawdown.
func NewDrawdownGuard(limit float64) *DrawdownGuard {
	return &DrawdownGuard{limit: limit}
}

// Observe records equity and returns the current drawdown and whether the guard has tripped.
func (g *DrawdownGuard) Observe(equity float64) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if equity > g.peak {
		g.peak = equity
	}
	var dd float64
	if g.peak > 0 {
		dd = (g.peak - equity) / g.peak
	}
	if dd > g.maxDD {
		g.maxDD = dd
	}
	if g.limit > 0 && dd >= g.limit {
		g.tripped = true
	}
	return dd, g.tripped
}

// MaxDrawdown is the worst drawdown observed so far.
func (g *DrawdownGuard) MaxDrawdown() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxDD
}

// Tripped reports whether trading should halt.
func (g *DrawdownGuard) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}
