package paper

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geckobot/internal/execution"
	"geckobot/internal/metrics"
	"geckobot/internal/risk"
)

// Broker fills market orders against an Account at the last marked price.
type Broker struct {
	mu          sync.Mutex
	log         zerolog.Logger
	account     *Account
	exec        *execution.Executor
	limits      risk.Limits
	slippageBps float64
	feeBps      float64
	recorders   []FillRecorder
	marks       map[string]float64
	nextID      int64
	handlers    []func(execution.OrderEvent)
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithSlippageBps moves fills against the order side by bps of the mark.
func WithSlippageBps(bps float64) BrokerOption {
	return func(b *Broker) { b.slippageBps = math.Max(0, bps) }
}

// WithFeeBps charges bps of filled notional.
func WithFeeBps(bps float64) BrokerOption {
	return func(b *Broker) { b.feeBps = math.Max(0, bps) }
}

// WithLimits installs per-trade and leverage limits.
func WithLimits(l risk.Limits) BrokerOption {
	return func(b *Broker) { b.limits = l }
}

// WithRecorders adds fill sinks.
func WithRecorders(recorders ...FillRecorder) BrokerOption {
	return func(b *Broker) {
		for _, r := range recorders {
			if r != nil {
				b.recorders = append(b.recorders, r)
			}
		}
	}
}

// NewBroker wires an account to the logging executor.
func NewBroker(log zerolog.Logger, account *Account, opts ...BrokerOption) *Broker {
	b := &Broker{
		log:     log,
		account: account,
		exec:    execution.NewExecutor(log),
		marks:   make(map[string]float64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Account exposes the underlying account.
func (b *Broker) Account() *Account { return b.account }

// OnOrderEvent registers fn to receive every order event. Handlers run outside the broker lock
// so they may submit further orders.
func (b *Broker) OnOrderEvent(fn func(execution.OrderEvent)) {
	b.mu.Lock()
	b.handlers = append(b.handlers, fn)
	b.mu.Unlock()
}

// SetMark records the latest price for symbol.
func (b *Broker) SetMark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	b.marks[symbol] = price
	b.mu.Unlock()
}

// Mark returns the last price for symbol or zero.
func (b *Broker) Mark(symbol string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.marks[symbol]
}

// Marks returns a copy of all marks.
func (b *Broker) Marks() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.marks))
	for k, v := range b.marks {
		out[k] = v
	}
	return out
}

// Snapshot marks the account with the broker's prices.
func (b *Broker) Snapshot() Snapshot {
	return b.account.Snapshot(b.Marks())
}

// SubmitMarket places a market order. The returned event is the terminal one (filled or invalid);
// a non-nil error accompanies invalid orders.
func (b *Broker) SubmitMarket(symbol string, side execution.Side, qty float64, tag string, ts time.Time) (execution.OrderEvent, error) {
	b.mu.Lock()
	b.nextID++
	order := execution.Order{ID: b.nextID, Symbol: symbol, Side: side, Qty: qty, Price: b.marks[symbol], Tag: tag, Ts: ts}
	events, err := b.fillLocked(order)
	handlers := append([]func(execution.OrderEvent){}, b.handlers...)
	b.mu.Unlock()

	for _, ev := range events {
		for _, fn := range handlers {
			fn(ev)
		}
	}
	return events[len(events)-1], err
}

func (b *Broker) fillLocked(order execution.Order) ([]execution.OrderEvent, error) {
	base := execution.OrderEvent{OrderID: order.ID, Symbol: order.Symbol, Side: order.Side, Ts: order.Ts}
	invalid := func(err error) ([]execution.OrderEvent, error) {
		ev := base
		ev.Status = execution.Invalid
		ev.Message = err.Error()
		b.log.Warn().Int64("id", order.ID).Str("sym", order.Symbol).Err(err).Msg("order rejected")
		return []execution.OrderEvent{ev}, err
	}

	if err := b.exec.Submit(order); err != nil {
		return invalid(fmt.Errorf("%w: %v", ErrInvalidOrder, err))
	}
	submitted := base
	submitted.Status = execution.Submitted
	events := []execution.OrderEvent{submitted}

	if order.Price <= 0 {
		evs, err := invalid(fmt.Errorf("%w: no price for %s", ErrInvalidOrder, order.Symbol))
		return append(events, evs...), err
	}
	fillPrice := order.Price * (1 + order.Side.Sign()*b.slippageBps/10000)
	notional := order.Qty * fillPrice
	fee := notional * b.feeBps / 10000

	if !b.limits.Allow(notional) {
		evs, err := invalid(fmt.Errorf("%w: notional %.2f above per-trade limit", ErrInvalidOrder, notional))
		return append(events, evs...), err
	}

	current := b.account.Position(order.Symbol)
	next := current + order.Side.Sign()*order.Qty
	if math.Abs(next) > math.Abs(current)+epsilon {
		marks := make(map[string]float64, len(b.marks))
		for k, v := range b.marks {
			marks[k] = v
		}
		snap := b.account.Snapshot(marks)
		gross := snap.Gross - math.Abs(current*order.Price) + math.Abs(next*fillPrice)
		if !b.limits.AllowExposure(gross, snap.Equity-fee) {
			evs, err := invalid(fmt.Errorf("%w: gross %.2f equity %.2f", ErrInsufficientBuyingPower, gross, snap.Equity))
			return append(events, evs...), err
		}
	}

	if err := b.account.MarketFill(order.Symbol, order.Side, order.Qty, fillPrice, fee); err != nil {
		evs, ierr := invalid(err)
		return append(events, evs...), ierr
	}

	fill := execution.Fill{OrderID: order.ID, Symbol: order.Symbol, Side: order.Side, Qty: order.Qty, Price: fillPrice, Fee: fee, Ts: order.Ts}
	for _, r := range b.recorders {
		r.Record(fill)
	}
	metrics.FillsTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()

	filled := base
	filled.Status = execution.Filled
	filled.FillQty = order.Qty
	filled.FillPrice = fillPrice
	filled.Fee = fee
	return append(events, filled), nil
}
