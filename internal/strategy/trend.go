package strategy

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"geckobot/internal/engine"
	"geckobot/internal/market"
)

// PriceTrend follows price momentum on tick-driven pairs: when the move over the lookback window
// exceeds the threshold with enough traded notional it holds a fixed fraction in that direction.
type PriceTrend struct {
	symbols   []string
	market    string
	threshold float64
	window    time.Duration
	minVolume float64

	mu           sync.Mutex
	observations map[string]*trendSeries
	holding      map[string]float64
	subscribed   []market.Symbol
}

type trendSeries struct {
	ticks []market.Tick
}

// NewPriceTrend builds a trend follower over symbols using percent change and volume filters.
func NewPriceTrend(symbols []string, mkt string, threshold float64, windowSecs int, minVolumeUSD float64) *PriceTrend {
	if threshold <= 0 {
		threshold = 0.05
	}
	if windowSecs <= 0 {
		windowSecs = 180
	}
	if len(symbols) == 0 {
		symbols = []string{"BTCUSD"}
	}
	return &PriceTrend{
		symbols:      append([]string(nil), symbols...),
		market:       mkt,
		threshold:    threshold,
		window:       time.Duration(windowSecs) * time.Second,
		minVolume:    math.Max(0, minVolumeUSD),
		observations: make(map[string]*trendSeries),
		holding:      make(map[string]float64),
	}
}

func (t *PriceTrend) Name() string { return "PriceTrend" }

// Initialize subscribes to every configured pair.
func (t *PriceTrend) Initialize(a *engine.Algorithm) error {
	t.subscribed = t.subscribed[:0]
	for _, s := range t.symbols {
		t.subscribed = append(t.subscribed, a.AddCrypto(s, t.market))
	}
	return nil
}

// OnData splits capital evenly across pairs and flips a pair only when its signal changes direction.
func (t *PriceTrend) OnData(a *engine.Algorithm, slice market.Slice) {
	if len(t.subscribed) == 0 {
		return
	}
	fraction := 1 / float64(len(t.subscribed))
	tickers := make([]string, 0, len(slice.Ticks))
	for ticker := range slice.Ticks {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		sig := t.OnTick(slice.Ticks[ticker])
		if sig == nil {
			continue
		}
		target := fraction
		if sig.Score < 0 {
			target = -fraction
		}
		if t.holding[ticker] == target {
			continue
		}
		if err := a.SetHoldings(market.NewCrypto(ticker, t.market), target); err != nil {
			a.Log(fmt.Sprintf("SetHoldings %s: %v", ticker, err))
			continue
		}
		t.holding[ticker] = target
		a.Log(fmt.Sprintf("%s %s", ticker, sig.Reason))
	}
}

// OnTick evaluates momentum and volume to decide whether to emit a signal.
func (t *PriceTrend) OnTick(tk market.Tick) *market.Signal {
	if tk.Symbol == "" || tk.Price <= 0 {
		return nil
	}

	t.mu.Lock()
	series := t.observations[tk.Symbol]
	if series == nil {
		series = &trendSeries{}
		t.observations[tk.Symbol] = series
	}
	series.append(tk, t.window)
	oldest, latest := series.bounds()
	totalNotional := series.notional()
	t.mu.Unlock()

	if oldest.Price <= 0 {
		return nil
	}
	change := (latest.Price - oldest.Price) / oldest.Price
	if math.Abs(change) < t.threshold {
		return nil
	}
	if t.minVolume > 0 && totalNotional < t.minVolume {
		return nil
	}
	reason := fmt.Sprintf("Δ=%.2f%% volume=%.0f", change*100, totalNotional)
	return &market.Signal{Symbol: tk.Symbol, Score: change, Reason: reason, Ts: tk.Ts}
}

// append keeps only ticks newer than window before the latest one.
func (s *trendSeries) append(tk market.Tick, window time.Duration) {
	s.ticks = append(s.ticks, tk)
	cutoff := tk.Ts.Add(-window)
	idx := sort.Search(len(s.ticks), func(i int) bool { return s.ticks[i].Ts.After(cutoff) })
	s.ticks = s.ticks[idx:]
}

func (s *trendSeries) bounds() (market.Tick, market.Tick) {
	if len(s.ticks) == 0 {
		return market.Tick{}, market.Tick{}
	}
	return s.ticks[0], s.ticks[len(s.ticks)-1]
}

func (s *trendSeries) notional() float64 {
	var total float64
	for _, tk := range s.ticks {
		total += math.Abs(tk.Price * tk.Size)
	}
	return total
}
