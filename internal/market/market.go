// Package market standardizes payloads shared between data ingestion, strategies and the engine.
package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Tick models the essential pieces of price data consumed by strategies.
type Tick struct {
	Symbol string
	Price  float64
	Size   float64
	Side   int // +1 buy, -1 sell (aggressor)
	Ts     time.Time
}

// Signal expresses a trading bias produced by a strategy implementation.
type Signal struct {
	Symbol string
	Score  float64 // positive long bias, negative short bias
	Reason string
	Ts     time.Time
}

// Markets a crypto symbol can be created on.
const (
	Coinbase = "coinbase"
	Binance  = "binance"
	Bitfinex = "bitfinex"
)

// NormalizeMarket lower-cases a market name and folds legacy aliases.
func NormalizeMarket(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "gdax", "coinbasepro", "coinbase_pro":
		return Coinbase
	case "":
		return Coinbase
	}
	return name
}

// Kind distinguishes tradable symbols from custom data subscriptions.
type Kind string

const (
	// KindCrypto is a tradable crypto pair.
	KindCrypto Kind = "crypto"
	// KindData is a custom data subscription (a CoinGecko coin).
	KindData Kind = "data"
)

// Symbol identifies a subscription.
type Symbol struct {
	Ticker string
	Market string
	Kind   Kind
}

func (s Symbol) String() string { return s.Ticker }

// IsZero reports whether the symbol is unset.
func (s Symbol) IsZero() bool { return s.Ticker == "" }

// NewCrypto builds a tradable crypto symbol on the given market.
func NewCrypto(ticker, market string) Symbol {
	return Symbol{Ticker: strings.ToUpper(strings.TrimSpace(ticker)), Market: NormalizeMarket(market), Kind: KindCrypto}
}

// NewData builds a CoinGecko data symbol for a coin.
func NewData(coin string) Symbol {
	return Symbol{Ticker: strings.ToUpper(strings.TrimSpace(coin)), Market: "coingecko", Kind: KindData}
}

// CoinGecko is one market capitalization observation for a coin.
type CoinGecko struct {
	Coin      string    `json:"coin"`
	Price     float64   `json:"price"`
	MarketCap float64   `json:"market_cap"`
	Volume    float64   `json:"volume"`
	Time      time.Time `json:"time"`
}

// CreateSymbol maps the coin to a tradable crypto symbol on market quoted in quote.
func (c CoinGecko) CreateSymbol(market, quote string) Symbol {
	if quote == "" {
		quote = "USD"
	}
	return NewCrypto(strings.ToUpper(c.Coin)+strings.ToUpper(quote), market)
}

func (c CoinGecko) String() string {
	return fmt.Sprintf("%s,%v,%v", c.Coin, c.MarketCap, c.Price)
}

// Slice groups every observation sharing one timestamp.
type Slice struct {
	Time      time.Time
	Ticks     map[string]Tick
	CoinGecko map[string]CoinGecko
}

// NewSlice returns an empty slice stamped at ts.
func NewSlice(ts time.Time) Slice {
	return Slice{Time: ts, Ticks: make(map[string]Tick), CoinGecko: make(map[string]CoinGecko)}
}

// Get returns the CoinGecko datum for coin when present in the slice.
func (s Slice) Get(coin string) (CoinGecko, bool) {
	d, ok := s.CoinGecko[strings.ToUpper(coin)]
	return d, ok
}

// Price returns the price of ticker in the slice or zero.
func (s Slice) Price(ticker string) float64 {
	return s.Ticks[ticker].Price
}

// Empty reports whether the slice carries no data at all.
func (s Slice) Empty() bool {
	return len(s.Ticks) == 0 && len(s.CoinGecko) == 0
}

// Coins returns the coins present in the slice in sorted order.
func (s Slice) Coins() []string {
	out := make([]string, 0, len(s.CoinGecko))
	for coin := range s.CoinGecko {
		out = append(out, coin)
	}
	sort.Strings(out)
	return out
}

// Resolution is the granularity a series is consumed at.
type Resolution string

const (
	Minute Resolution = "minute"
	Hour   Resolution = "hour"
	Daily  Resolution = "daily"
)

// ParseResolution accepts minute, hour or daily (case-insensitive); empty means daily.
func ParseResolution(raw string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "daily", "day", "1d":
		return Daily, nil
	case "hour", "hourly", "1h":
		return Hour, nil
	case "minute", "1m":
		return Minute, nil
	default:
		return "", fmt.Errorf("unknown resolution %q", raw)
	}
}

// Duration returns the period length of r.
func (r Resolution) Duration() time.Duration {
	switch r {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Truncate rounds t down to the start of its period in UTC.
func (r Resolution) Truncate(t time.Time) time.Time {
	t = t.UTC()
	if r == Daily || r == "" {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(r.Duration())
}

// quotes are matched longest first so USDT wins over USD.
var quotes = []string{"USDT", "USDC", "BUSD", "USD", "EUR", "GBP", "BTC", "ETH"}

// SplitTicker separates a crypto pair ticker into base coin and quote currency.
// Tickers without a known quote are returned whole with an empty quote.
func SplitTicker(ticker string) (base, quote string) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	for _, q := range quotes {
		if len(ticker) > len(q) && strings.HasSuffix(ticker, q) {
			return strings.TrimSuffix(ticker, q), q
		}
	}
	return ticker, ""
}
