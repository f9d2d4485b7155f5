// Package universe ranks candidate coins and tracks which securities a strategy currently trades.
package universe

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"geckobot/internal/market"
)

// Selector picks the symbols to trade from one day's observations.
type Selector func(data []market.CoinGecko) []market.Symbol

// TopByMarketCap ranks by market cap descending (ties by coin name) and maps the first n
// coins to crypto symbols on mkt quoted in quote.
func TopByMarketCap(n int, mkt, quote string) Selector {
	return func(data []market.CoinGecko) []market.Symbol {
		ranked := Rank(data)
		if n >= 0 && len(ranked) > n {
			ranked = ranked[:n]
		}
		out := make([]market.Symbol, len(ranked))
		for i, d := range ranked {
			out[i] = d.CreateSymbol(mkt, quote)
		}
		return out
	}
}

// Rank returns a copy of data sorted by market cap descending, ties broken by coin ascending.
func Rank(data []market.CoinGecko) []market.CoinGecko {
	ranked := append([]market.CoinGecko(nil), data...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].MarketCap != ranked[j].MarketCap {
			return ranked[i].MarketCap > ranked[j].MarketCap
		}
		return ranked[i].Coin < ranked[j].Coin
	})
	return ranked
}

// Changes lists securities entering and leaving the universe.
type Changes struct {
	Added   []market.Symbol
	Removed []market.Symbol
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool { return len(c.Added) == 0 && len(c.Removed) == 0 }

func (c Changes) String() string {
	return fmt.Sprintf("SecurityChanges: Added: [%s] Removed: [%s]", joinSymbols(c.Added), joinSymbols(c.Removed))
}

func joinSymbols(symbols []market.Symbol) string {
	parts := make([]string, len(symbols))
	for i, s := range symbols {
		parts[i] = s.Ticker
	}
	return strings.Join(parts, ", ")
}

// Diff computes the changes moving from prev to next. Output is sorted by ticker.
func Diff(prev, next []market.Symbol) Changes {
	before := make(map[string]market.Symbol, len(prev))
	for _, s := range prev {
		before[s.Ticker] = s
	}
	after := make(map[string]market.Symbol, len(next))
	for _, s := range next {
		after[s.Ticker] = s
	}
	var ch Changes
	for t, s := range after {
		if _, ok := before[t]; !ok {
			ch.Added = append(ch.Added, s)
		}
	}
	for t, s := range before {
		if _, ok := after[t]; !ok {
			ch.Removed = append(ch.Removed, s)
		}
	}
	sortSymbols(ch.Added)
	sortSymbols(ch.Removed)
	return ch
}

func sortSymbols(s []market.Symbol) {
	sort.Slice(s, func(i, j int) bool { return s[i].Ticker < s[j].Ticker })
}

// Manager holds the current members and the selection schedule.
type Manager struct {
	mu         sync.Mutex
	resolution market.Resolution
	members    []market.Symbol
	last       time.Time
	selected   bool
}

// NewManager schedules selections once per resolution period (daily when empty).
func NewManager(resolution market.Resolution) *Manager {
	if resolution == "" {
		resolution = market.Daily
	}
	return &Manager{resolution: resolution}
}

// Resolution is the selection period.
func (m *Manager) Resolution() market.Resolution { return m.resolution }

// Due reports whether a selection should run at t: the first call, then once per new period.
func (m *Manager) Due(t time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.selected {
		return true
	}
	return m.resolution.Truncate(t).After(m.last)
}

// Apply replaces the members with next (deduplicated), records the selection time and returns the changes.
func (m *Manager) Apply(t time.Time, next []market.Symbol) Changes {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{}, len(next))
	members := make([]market.Symbol, 0, len(next))
	for _, s := range next {
		if _, ok := seen[s.Ticker]; ok || s.IsZero() {
			continue
		}
		seen[s.Ticker] = struct{}{}
		members = append(members, s)
	}
	ch := Diff(m.members, members)
	m.members = members
	m.last = m.resolution.Truncate(t)
	m.selected = true
	return ch
}

// Members returns a copy of the current universe in selection order.
func (m *Manager) Members() []market.Symbol {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]market.Symbol(nil), m.members...)
}
