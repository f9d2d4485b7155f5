package universe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"geckobot/internal/market"
)

func caps(pairs ...any) []market.CoinGecko {
	var out []market.CoinGecko
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, market.CoinGecko{Coin: pairs[i].(string), MarketCap: pairs[i+1].(float64)})
	}
	return out
}

func tickers(symbols []market.Symbol) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = s.Ticker
	}
	return out
}

func TestTopByMarketCapSelectsThree(t *testing.T) {
	sel := TopByMarketCap(3, "gdax", "USD")
	data := caps("LTC", 6.5e9, "BTC", 118e9, "XRP", 20e9, "ETH", 38e9, "BCH", 11e9)
	got := sel(data)
	require.Equal(t, []string{"BTCUSD", "ETHUSD", "XRPUSD"}, tickers(got))
	require.Equal(t, market.Coinbase, got[0].Market)
	require.Equal(t, "LTC", data[0].Coin, "input must not be reordered")
}

func TestTopByMarketCapFewerThanN(t *testing.T) {
	got := TopByMarketCap(3, "coinbase", "USD")(caps("BTC", 1.0))
	require.Equal(t, []string{"BTCUSD"}, tickers(got))
	require.Empty(t, TopByMarketCap(3, "coinbase", "USD")(nil))
}

func TestRankBreaksTiesByCoin(t *testing.T) {
	ranked := Rank(caps("ZEC", 5.0, "ADA", 5.0, "BTC", 9.0))
	require.Equal(t, "BTC", ranked[0].Coin)
	require.Equal(t, "ADA", ranked[1].Coin)
	require.Equal(t, "ZEC", ranked[2].Coin)
}

func TestDiffAndString(t *testing.T) {
	prev := []market.Symbol{market.NewCrypto("BTCUSD", "coinbase"), market.NewCrypto("BCHUSD", "coinbase")}
	next := []market.Symbol{market.NewCrypto("BTCUSD", "coinbase"), market.NewCrypto("ETHUSD", "coinbase"), market.NewCrypto("XRPUSD", "coinbase")}
	ch := Diff(prev, next)
	require.Equal(t, []string{"ETHUSD", "XRPUSD"}, tickers(ch.Added))
	require.Equal(t, []string{"BCHUSD"}, tickers(ch.Removed))
	require.Equal(t, "SecurityChanges: Added: [ETHUSD, XRPUSD] Removed: [BCHUSD]", ch.String())
	require.True(t, Diff(next, next).Empty())
}

func TestManagerDailySchedule(t *testing.T) {
	m := NewManager("")
	d1 := time.Date(2018, 4, 4, 0, 0, 0, 0, time.UTC)
	require.True(t, m.Due(d1))

	ch := m.Apply(d1, []market.Symbol{market.NewCrypto("BTCUSD", ""), market.NewCrypto("BTCUSD", ""), market.NewCrypto("ETHUSD", "")})
	require.Equal(t, []string{"BTCUSD", "ETHUSD"}, tickers(ch.Added))
	require.Equal(t, []string{"BTCUSD", "ETHUSD"}, tickers(m.Members()))

	require.False(t, m.Due(d1.Add(23*time.Hour)))
	require.True(t, m.Due(d1.Add(24*time.Hour)))

	ch = m.Apply(d1.Add(24*time.Hour), []market.Symbol{market.NewCrypto("ETHUSD", "")})
	require.Empty(t, ch.Added)
	require.Equal(t, []string{"BTCUSD"}, tickers(ch.Removed))
}
