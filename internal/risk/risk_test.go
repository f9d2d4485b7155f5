package risk

import (
	"math"
	"testing"
)

func TestAllow(t *testing.T) {
	limits := Limits{MaxNotionalPerTrade: 50}
	if !limits.Allow(49.9) {
		t.Fatalf("expected notional under limit to pass")
	}
	if limits.Allow(50.1) {
		t.Fatalf("expected notional above limit to fail")
	}
	if !(Limits{}).Allow(1e12) {
		t.Fatalf("expected zero limit to disable the check")
	}
}

func TestAllowExposure(t *testing.T) {
	limits := Limits{MaxLeverage: 1}
	if !limits.AllowExposure(100000, 100000) {
		t.Fatalf("expected fully invested book to pass")
	}
	if limits.AllowExposure(150000, 100000) {
		t.Fatalf("expected 1.5x exposure to fail at 1x leverage")
	}
	if limits.AllowExposure(1, 0) {
		t.Fatalf("expected exposure without equity to fail")
	}
}

func TestDrawdownGuard(t *testing.T) {
	guard := NewDrawdownGuard(0.2)
	guard.Observe(100)
	guard.Observe(120)
	dd, tripped := guard.Observe(102)
	if math.Abs(dd-0.15) > 1e-9 || tripped {
		t.Fatalf("unexpected drawdown %.4f tripped=%v", dd, tripped)
	}
	_, tripped = guard.Observe(90)
	if !tripped || !guard.Tripped() {
		t.Fatalf("expected guard to trip at 25%% drawdown")
	}
	guard.Observe(130)
	if !guard.Tripped() {
		t.Fatalf("guard should stay tripped")
	}
	if math.Abs(guard.MaxDrawdown()-0.25) > 1e-9 {
		t.Fatalf("unexpected max drawdown %.4f", guard.MaxDrawdown())
	}
}
