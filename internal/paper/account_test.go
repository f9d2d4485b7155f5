package paper

import (
	"errors"
	"math"
	"testing"

	"geckobot/internal/execution"
)

func TestMarketFillBuySellPnL(t *testing.T) {
	account := NewAccount(1000, 1)

	if err := account.MarketFill("BTCUSD", execution.Buy, 0.5, 1000, 0); err != nil {
		t.Fatalf("unexpected buy error: %v", err)
	}
	if err := account.MarketFill("BTCUSD", execution.Buy, 0.25, 1000, 0); err != nil {
		t.Fatalf("unexpected second buy error: %v", err)
	}

	snap := account.Snapshot(map[string]float64{"BTCUSD": 1150})
	pos := snap.Positions["BTCUSD"]
	if pos.Qty < 0.74 || pos.Qty > 0.76 {
		t.Fatalf("expected qty ~0.75, got %.4f", pos.Qty)
	}
	if pos.AvgCost != 1000 {
		t.Fatalf("avg cost not tracked: %.2f", pos.AvgCost)
	}

	if err := account.MarketFill("BTCUSD", execution.Sell, 0.25, 1200, 0); err != nil {
		t.Fatalf("unexpected sell error: %v", err)
	}
	if realized := account.RealizedPnL(); math.Abs(realized-50) > 1e-9 {
		t.Fatalf("expected realized pnl 50 got %.2f", realized)
	}

	snap = account.Snapshot(map[string]float64{"BTCUSD": 1180})
	if math.Abs(snap.Cash+snap.Positions["BTCUSD"].MarketValue-snap.Equity) > 1e-6 {
		t.Fatalf("equity did not balance")
	}
}

func TestMarketFillInsufficientCash(t *testing.T) {
	account := NewAccount(10, 1)
	if err := account.MarketFill("BTCUSD", execution.Buy, 0.1, 200, 0); !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("expected cash error, got %v", err)
	}
}

func TestMarketFillPositionLimit(t *testing.T) {
	account := NewAccount(1000, 0.1)
	if err := account.MarketFill("BTCUSD", execution.Buy, 0.2, 1000, 0); !errors.Is(err, ErrPositionLimit) {
		t.Fatalf("expected position limit error, got %v", err)
	}
}

func TestMarketFillInsufficientPosition(t *testing.T) {
	account := NewAccount(1000, 1)
	if err := account.MarketFill("BTCUSD", execution.Sell, 0.01, 1000, 0); !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("expected insufficient position error, got %v", err)
	}
}

func TestMarketFillShortAndFlip(t *testing.T) {
	account := NewAccount(10000, 0, WithShorting())

	if err := account.MarketFill("ETHUSD", execution.Sell, 10, 500, 5); err != nil {
		t.Fatalf("unexpected short error: %v", err)
	}
	if qty := account.Position("ETHUSD"); qty != -10 {
		t.Fatalf("expected -10 short, got %.2f", qty)
	}
	if cash := account.AvailableCash(); math.Abs(cash-14995) > 1e-9 {
		t.Fatalf("expected short proceeds minus fee in cash, got %.2f", cash)
	}
	snap := account.Snapshot(map[string]float64{"ETHUSD": 450})
	if math.Abs(snap.Equity-10495) > 1e-9 {
		t.Fatalf("expected equity 10495 after favourable move, got %.2f", snap.Equity)
	}

	// buy 15: closes 10 short at 450 (+500) and opens 5 long at 450
	if err := account.MarketFill("ETHUSD", execution.Buy, 15, 450, 0); err != nil {
		t.Fatalf("unexpected flip error: %v", err)
	}
	if math.Abs(account.RealizedPnL()-500) > 1e-9 {
		t.Fatalf("expected realized 500, got %.2f", account.RealizedPnL())
	}
	snap = account.Snapshot(nil)
	pos := snap.Positions["ETHUSD"]
	if pos.Qty != 5 || pos.AvgCost != 450 {
		t.Fatalf("expected 5 long at 450, got %+v", pos)
	}
	if snap.Fees != 5 {
		t.Fatalf("expected fees 5, got %.2f", snap.Fees)
	}
}

func TestMarketFillRejectsBadInput(t *testing.T) {
	account := NewAccount(1000, 0)
	if err := account.MarketFill("BTCUSD", execution.Buy, 0, 100, 0); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected invalid order for zero qty, got %v", err)
	}
	if err := account.MarketFill("BTCUSD", execution.Side("HOLD"), 1, 100, 0); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected invalid order for unknown side, got %v", err)
	}
}
