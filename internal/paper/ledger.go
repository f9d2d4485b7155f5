package paper

import (
	"math"
	"sort"
	"sync"

	"geckobot/internal/execution"
)

// Ledger keeps the most recent fills in memory and running per-symbol totals for every fill seen.
type Ledger struct {
	mu       sync.Mutex
	limit    int
	fills    []execution.Fill
	dropped  int
	totals   map[string]*SymbolTotals
	feesPaid float64
}

// SymbolTotals aggregates the fills of one symbol.
type SymbolTotals struct {
	Symbol   string  `json:"symbol"`
	Fills    int     `json:"fills"`
	Bought   float64 `json:"bought"`
	Sold     float64 `json:"sold"`
	Notional float64 `json:"notional"`
	Fees     float64 `json:"fees"`
}

// Net is the signed quantity traded.
func (t SymbolTotals) Net() float64 { return t.Bought - t.Sold }

// Summary is a point-in-time view of the ledger totals.
type Summary struct {
	Fills    int            `json:"fills"`
	Dropped  int            `json:"dropped"`
	Fees     float64        `json:"fees"`
	Notional float64        `json:"notional"`
	Symbols  []SymbolTotals `json:"symbols"`
}

// NewLedger creates a ledger retaining at most limit fills; limit <= 0 keeps everything.
func NewLedger(limit int) *Ledger {
	if limit < 0 {
		limit = 0
	}
	return &Ledger{
		limit:  limit,
		fills:  make([]execution.Fill, 0, limit),
		totals: make(map[string]*SymbolTotals),
	}
}

// Record appends a fill, evicting the oldest one once the limit is reached.
func (l *Ledger) Record(fill execution.Fill) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit > 0 && len(l.fills) == l.limit {
		copy(l.fills, l.fills[1:])
		l.fills = l.fills[:len(l.fills)-1]
		l.dropped++
	}
	l.fills = append(l.fills, fill)

	t := l.totals[fill.Symbol]
	if t == nil {
		t = &SymbolTotals{Symbol: fill.Symbol}
		l.totals[fill.Symbol] = t
	}
	t.Fills++
	if fill.Side == execution.Sell {
		t.Sold += fill.Qty
	} else {
		t.Bought += fill.Qty
	}
	t.Notional += math.Abs(fill.Qty * fill.Price)
	t.Fees += fill.Fee
	l.feesPaid += fill.Fee
}

// Snapshot returns a copy of the retained fills, oldest first.
func (l *Ledger) Snapshot() []execution.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]execution.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// Summary totals every fill recorded since the last reset, including evicted ones.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Summary{Dropped: l.dropped, Fees: l.feesPaid}
	for _, t := range l.totals {
		s.Fills += t.Fills
		s.Notional += t.Notional
		s.Symbols = append(s.Symbols, *t)
	}
	sort.Slice(s.Symbols, func(i, j int) bool { return s.Symbols[i].Symbol < s.Symbols[j].Symbol })
	return s
}

// Reset clears fills and totals.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.fills = l.fills[:0]
	l.dropped = 0
	l.feesPaid = 0
	l.totals = make(map[string]*SymbolTotals)
	l.mu.Unlock()
}
