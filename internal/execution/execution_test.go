package execution

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSubmitLogsOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	exec := NewExecutor(logger)
	err := exec.Submit(Order{ID: 1, Symbol: "BTCUSD", Side: Buy, Qty: 1, Price: 7000})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "BTCUSD") {
		t.Fatalf("log does not contain symbol: %s", out)
	}
}

func TestSubmitRejectsEmptyOrder(t *testing.T) {
	exec := NewExecutor(zerolog.Nop())
	if err := exec.Submit(Order{ID: 2, Side: Buy, Qty: 1}); err == nil {
		t.Fatalf("expected missing symbol error")
	}
	if err := exec.Submit(Order{ID: 3, Symbol: "BTCUSD", Side: Sell}); err == nil {
		t.Fatalf("expected zero quantity error")
	}
}

func TestOrderEventString(t *testing.T) {
	ev := OrderEvent{OrderID: 7, Symbol: "ETHUSD", Status: Filled, Side: Sell, FillQty: 2, FillPrice: 400}
	if !strings.Contains(ev.String(), "filled SELL ETHUSD") {
		t.Fatalf("unexpected event string %q", ev.String())
	}
	if Sell.Sign() != -1 || Buy.Sign() != 1 {
		t.Fatalf("unexpected side signs")
	}
}
