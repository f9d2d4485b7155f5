package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"geckobot/internal/data"
	"geckobot/internal/engine"
	"geckobot/internal/market"
)

func TestPriceTrendLongSignal(t *testing.T) {
	strat := NewPriceTrend([]string{"WIFUSD"}, "", 0.02, 120, 100)
	now := time.Now()
	ticks := []market.Tick{
		{Symbol: "WIFUSD", Price: 0.01, Size: 5000, Side: 1, Ts: now.Add(-90 * time.Second)},
		{Symbol: "WIFUSD", Price: 0.0105, Size: 4000, Side: 1, Ts: now.Add(-60 * time.Second)},
		{Symbol: "WIFUSD", Price: 0.011, Size: 3000, Side: 1, Ts: now},
	}

	var sig *market.Signal
	for _, tk := range ticks {
		sig = strat.OnTick(tk)
	}
	if sig == nil {
		t.Fatalf("expected long signal")
	}
	if sig.Score <= 0 {
		t.Fatalf("expected positive score, got %.4f", sig.Score)
	}
}

func TestPriceTrendShortSignal(t *testing.T) {
	strat := NewPriceTrend(nil, "", 0.02, 120, 100)
	now := time.Now()
	ticks := []market.Tick{
		{Symbol: "ETHUSD", Price: 200, Size: 4, Side: -1, Ts: now.Add(-90 * time.Second)},
		{Symbol: "ETHUSD", Price: 195, Size: 4, Side: -1, Ts: now.Add(-60 * time.Second)},
		{Symbol: "ETHUSD", Price: 180, Size: 4, Side: -1, Ts: now},
	}

	var sig *market.Signal
	for _, tk := range ticks {
		sig = strat.OnTick(tk)
	}
	if sig == nil {
		t.Fatalf("expected short signal")
	}
	if sig.Score >= 0 {
		t.Fatalf("expected negative score, got %.4f", sig.Score)
	}
}

func TestPriceTrendRespectsVolume(t *testing.T) {
	strat := NewPriceTrend(nil, "", 0.02, 120, 1000)
	now := time.Now()
	ticks := []market.Tick{
		{Symbol: "LOWVOL", Price: 1, Size: 1, Side: 1, Ts: now.Add(-30 * time.Second)},
		{Symbol: "LOWVOL", Price: 1.03, Size: 1, Side: 1, Ts: now},
	}

	var sig *market.Signal
	for _, tk := range ticks {
		sig = strat.OnTick(tk)
	}
	if sig != nil {
		t.Fatalf("expected nil signal due to insufficient volume")
	}
}

func TestPriceTrendDropsTicksOutsideWindow(t *testing.T) {
	strat := NewPriceTrend(nil, "", 0.02, 60, 0)
	now := time.Now()
	strat.OnTick(market.Tick{Symbol: "BTCUSD", Price: 100, Size: 1, Ts: now.Add(-5 * time.Minute)})
	if sig := strat.OnTick(market.Tick{Symbol: "BTCUSD", Price: 110, Size: 1, Ts: now}); sig != nil {
		t.Fatalf("stale tick should have left the window, got %+v", sig)
	}
}

func TestPriceTrendBacktestShortsOnce(t *testing.T) {
	strat := NewPriceTrend([]string{"BTCUSD"}, "coinbase", 0.02, 3*24*3600, 0)
	settings := engine.Settings{
		Start:   time.Date(2018, 4, 4, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2018, 4, 6, 0, 0, 0, 0, time.UTC),
		LotSize: 1e-8,
	}
	bt := engine.NewBacktest(zerolog.Nop(), strat, data.NewCSVSource("../../data/coingecko"), settings)
	res, err := bt.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Fills != 1 {
		t.Fatalf("expected a single short entry, got %d fills", res.Fills)
	}
	if qty := bt.Algorithm().Portfolio().Positions["BTCUSD"].Qty; qty >= 0 {
		t.Fatalf("expected short BTCUSD, got %.8f", qty)
	}
}
