// Package exchange hosts live tick sources and market-cap pollers for the paper runner.
package exchange

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geckobot/internal/coingecko"
	"geckobot/internal/market"
	"geckobot/internal/metrics"
)

const (
	// ProviderStub emits deterministic synthetic ticks (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams live trades from Binance public websockets.
	ProviderBinance = "binance"
	// ProviderCoinGecko polls CoinGecko simple prices for each pair's base coin.
	ProviderCoinGecko = "coingecko"
)

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider     string
	symbols      []string
	log          zerolog.Logger
	pollInterval time.Duration
	stubInterval time.Duration
	binanceURL   string
	gecko        *coingecko.Client
	vsCurrency   string
	lastPrices   map[string]float64
	mu           sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultPollInterval = 30 * time.Second
	defaultStubInterval = 500 * time.Millisecond
	defaultBinanceURL   = "wss://stream.binance.com:9443/stream"
)

// WithPollInterval overrides the default polling cadence for HTTP-based feeds.
func WithPollInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithStubInterval sets how often the stub provider emits.
func WithStubInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubInterval = d
		}
	}
}

// WithBinanceURL points the websocket provider at another combined-stream endpoint.
func WithBinanceURL(u string) Option {
	return func(f *Feed) {
		if u != "" {
			f.binanceURL = u
		}
	}
}

// WithCoinGecko supplies the API client used by the coingecko provider.
func WithCoinGecko(client *coingecko.Client, vs string) Option {
	return func(f *Feed) {
		f.gecko = client
		f.vsCurrency = strings.ToLower(vs)
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		pollInterval: defaultPollInterval,
		stubInterval: defaultStubInterval,
		binanceURL:   defaultBinanceURL,
		vsCurrency:   "usd",
		lastPrices:   make(map[string]float64),
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for determinism).
func (f *Feed) SetSymbols(symbols []string) {
	f.setSymbols(symbols)
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

// Symbols returns the currently tracked symbols.
func (f *Feed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- market.Tick) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	case ProviderCoinGecko:
		return f.runCoinGecko(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- market.Tick) error {
	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()

	var px float64 = 100.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			px += 0.1
			for _, s := range f.Symbols() {
				tick := market.Tick{Symbol: s, Price: px, Size: 1, Side: 1, Ts: ts.UTC()}
				if err := f.emit(ctx, out, tick); err != nil {
					return err
				}
			}
		}
	}
}

func (f *Feed) emit(ctx context.Context, out chan<- market.Tick, tick market.Tick) error {
	select {
	case out <- tick:
		metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
