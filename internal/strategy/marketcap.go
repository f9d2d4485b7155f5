package strategy

import (
	"fmt"
	"strings"

	"geckobot/internal/engine"
	"geckobot/internal/execution"
	"geckobot/internal/market"
	"geckobot/internal/universe"
	"geckobot/internal/window"
)

// MarketCapTrend goes fully long a pair while its coin's market cap rises across the
// window and fully short otherwise.
type MarketCapTrend struct {
	coin   string
	ticker string
	market string
	size   int

	crypto market.Symbol
	data   market.Symbol
	caps   *window.Rolling[market.CoinGecko]
}

// NewMarketCapTrend defaults to BTC data driving BTCUSD on coinbase with a window of two readings.
func NewMarketCapTrend(coin, ticker, mkt string, windowSize int) *MarketCapTrend {
	if coin == "" {
		coin = "BTC"
	}
	if ticker == "" {
		ticker = strings.ToUpper(coin) + "USD"
	}
	if windowSize < 2 {
		windowSize = 2
	}
	return &MarketCapTrend{coin: strings.ToUpper(coin), ticker: ticker, market: mkt, size: windowSize}
}

func (s *MarketCapTrend) Name() string { return "MarketCapTrend" }

func (s *MarketCapTrend) Initialize(a *engine.Algorithm) error {
	a.SetStartDate(2018, 4, 4)
	a.SetEndDate(2018, 4, 6)
	s.crypto = a.AddCrypto(s.ticker, s.market)
	s.data = a.AddData(s.coin)
	caps, err := window.New[market.CoinGecko](s.size)
	if err != nil {
		return err
	}
	s.caps = caps
	return nil
}

func (s *MarketCapTrend) OnData(a *engine.Algorithm, slice market.Slice) {
	datum, ok := slice.Get(s.data.Ticker)
	if !ok {
		return
	}
	s.caps.Add(datum)
	if !s.caps.IsReady() {
		return
	}
	newest, _ := s.caps.At(0)
	oldest, _ := s.caps.At(s.caps.Count() - 1)

	fraction := -1.0
	if newest.MarketCap > oldest.MarketCap {
		fraction = 1
	}
	if err := a.SetHoldings(s.crypto, fraction); err != nil {
		a.Log(fmt.Sprintf("SetHoldings %s %.0f: %v", s.crypto, fraction, err))
	}
}

func (s *MarketCapTrend) OnOrderEvent(a *engine.Algorithm, ev execution.OrderEvent) {
	if ev.Status == execution.Filled {
		a.Debug(fmt.Sprintf("Purchased Stock: %s", ev.Symbol))
	}
}

// MarketCapUniverse trades nothing itself: it selects the largest coins by market cap each day
// and logs what it saw and how the universe moved.
type MarketCapUniverse struct {
	topN   int
	market string
	quote  string
}

// NewMarketCapUniverse defaults to the top 3 coins on coinbase quoted in USD.
func NewMarketCapUniverse(topN int, mkt, quote string) *MarketCapUniverse {
	if topN <= 0 {
		topN = 3
	}
	if mkt == "" {
		mkt = market.Coinbase
	}
	if quote == "" {
		quote = "USD"
	}
	return &MarketCapUniverse{topN: topN, market: mkt, quote: quote}
}

func (s *MarketCapUniverse) Name() string { return "MarketCapUniverse" }

func (s *MarketCapUniverse) Initialize(a *engine.Algorithm) error {
	a.SetUniverseResolution(market.Daily)
	a.SetStartDate(2018, 4, 4)
	a.SetEndDate(2018, 4, 6)
	a.SetCash(100000)
	top := universe.TopByMarketCap(s.topN, s.market, s.quote)
	a.SetUniverseSelection(func(data []market.CoinGecko) []market.Symbol {
		for _, datum := range data {
			a.Log(datum.String())
		}
		return top(data)
	})
	return nil
}

func (s *MarketCapUniverse) OnData(*engine.Algorithm, market.Slice) {}

func (s *MarketCapUniverse) OnSecuritiesChanged(a *engine.Algorithm, changes universe.Changes) {
	a.Log(changes.String())
}
