package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"geckobot/internal/execution"
	"geckobot/internal/market"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "geckobot.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func day(d int) time.Time { return time.Date(2018, 4, d, 0, 0, 0, 0, time.UTC) }

func TestCoinGeckoRoundTripAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	points := []market.CoinGecko{
		{Coin: "btc", Price: 7000, MarketCap: 118e9, Volume: 5e9, Time: day(5)},
		{Coin: "BTC", Price: 6800, MarketCap: 115e9, Volume: 4e9, Time: day(4)},
		{Coin: "ETH", Price: 380, MarketCap: 38e9, Volume: 1e9, Time: day(4)},
	}
	require.NoError(t, s.SaveCoinGecko(ctx, points))
	require.NoError(t, s.SaveCoinGecko(ctx, []market.CoinGecko{{Coin: "BTC", Price: 7100, MarketCap: 120e9, Volume: 5e9, Time: day(5)}}))

	got, err := s.LoadCoinGecko(ctx, "btc", day(1), day(30))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].Time.Equal(day(4)))
	require.Equal(t, 120e9, got[1].MarketCap)
	require.Equal(t, "BTC", got[1].Coin)

	coins, err := s.Coins(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"BTC", "ETH"}, coins)

	none, err := s.LoadCoinGecko(ctx, "BTC", day(10), day(12))
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestFillRecorderPersists(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	rec := s.FillRecorder()
	rec.Record(execution.Fill{OrderID: 1, Symbol: "BTCUSD", Side: execution.Buy, Qty: 1.5, Price: 7000, Fee: 1, Ts: day(4)})
	rec.Record(execution.Fill{OrderID: 2, Symbol: "BTCUSD", Side: execution.Sell, Qty: 3, Price: 7100, Ts: day(5)})

	fills, err := s.Fills(ctx)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	require.Equal(t, execution.Sell, fills[1].Side)
	require.True(t, fills[0].Ts.Equal(day(4)))
}

func TestSelections(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveSelection(ctx, day(4), []string{"BTCUSD", "ETHUSD", "XRPUSD"}))
	require.NoError(t, s.SaveSelection(ctx, day(5), nil))

	sels, err := s.Selections(ctx)
	require.NoError(t, err)
	require.Len(t, sels, 2)
	require.Equal(t, []string{"BTCUSD", "ETHUSD", "XRPUSD"}, sels[0].Symbols)
	require.Empty(t, sels[1].Symbols)
}
