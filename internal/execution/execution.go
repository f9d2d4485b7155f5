// Package execution defines order types and the logging submitter shared by brokers.
package execution

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"geckobot/internal/metrics"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

// Order represents a market order placement request.
type Order struct {
	ID     int64
	Symbol string
	Side   Side
	Qty    float64
	Price  float64 // reference price the order was sized against
	Tag    string
	Ts     time.Time
}

// Fill records an executed order.
type Fill struct {
	OrderID int64     `json:"order_id"`
	Symbol  string    `json:"symbol"`
	Side    Side      `json:"side"`
	Qty     float64   `json:"qty"`
	Price   float64   `json:"price"`
	Fee     float64   `json:"fee"`
	Ts      time.Time `json:"ts"`
}

// OrderStatus tracks where an order is in its lifecycle.
type OrderStatus string

const (
	Submitted OrderStatus = "submitted"
	Filled    OrderStatus = "filled"
	Invalid   OrderStatus = "invalid"
)

// OrderEvent notifies a strategy about an order state change.
type OrderEvent struct {
	OrderID   int64
	Symbol    string
	Status    OrderStatus
	Side      Side
	FillQty   float64
	FillPrice float64
	Fee       float64
	Message   string
	Ts        time.Time
}

func (e OrderEvent) String() string {
	if e.Status == Filled {
		return fmt.Sprintf("order %d %s %s %s %.8f @ %.8f fee=%.4f", e.OrderID, e.Status, e.Side, e.Symbol, e.FillQty, e.FillPrice, e.Fee)
	}
	if e.Message != "" {
		return fmt.Sprintf("order %d %s %s %s: %s", e.OrderID, e.Status, e.Side, e.Symbol, e.Message)
	}
	return fmt.Sprintf("order %d %s %s %s", e.OrderID, e.Status, e.Side, e.Symbol)
}

// Executor implements a logger-backed submitter for orders.
type Executor struct{ log zerolog.Logger }

// NewExecutor wraps a zerolog logger for order submissions.
func NewExecutor(log zerolog.Logger) *Executor { return &Executor{log: log} }

// Submit logs the order request and counts it.
func (executor *Executor) Submit(order Order) error {
	if order.Symbol == "" {
		return fmt.Errorf("order %d missing symbol", order.ID)
	}
	if order.Qty <= 0 {
		return fmt.Errorf("order %d quantity must be positive", order.ID)
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()
	executor.log.Info().
		Int64("id", order.ID).
		Str("sym", order.Symbol).
		Str("side", string(order.Side)).
		Float64("qty", order.Qty).
		Float64("px", order.Price).
		Str("tag", order.Tag).
		Msg("submit order")
	return nil
}
