package data

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"geckobot/internal/coingecko"
	"geckobot/internal/market"
	"geckobot/internal/store"
)

func day(d int) time.Time { return time.Date(2018, 4, d, 0, 0, 0, 0, time.UTC) }

func TestCSVSourceLoadsAndClips(t *testing.T) {
	src := NewCSVSource("testdata")
	points, err := src.Load(context.Background(), "BTC", day(4), day(6))
	require.NoError(t, err)
	require.Len(t, points, 3)
	require.Equal(t, "BTC", points[0].Coin)
	require.True(t, points[0].Time.Equal(day(4)))
	require.Equal(t, 7456.11, points[0].Price)
	require.Equal(t, 1.265e11, points[0].MarketCap)
	require.Equal(t, 5.49e9, points[0].Volume)
}

func TestCSVSourceMissingCoinIsEmpty(t *testing.T) {
	points, err := NewCSVSource("testdata").Load(context.Background(), "DOGE", day(1), day(7))
	require.NoError(t, err)
	require.Empty(t, points)
}

func TestCSVSourceReportsBadRows(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.csv"), []byte("20180404,1,2,3\n20180405,abc,2,3\n"), 0o644))
	_, err := NewCSVSource(dir).Load(context.Background(), "BAD", day(1), day(7))
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad.csv:2")
}

func TestCSVUniverse(t *testing.T) {
	u := NewCSVUniverse("testdata")
	rows, err := u.Universe(context.Background(), day(4).Add(13*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 5)
	require.Equal(t, "BTC", rows[0].Coin)
	require.True(t, rows[0].Time.Equal(day(4)))

	rows, err = u.Universe(context.Background(), day(5))
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestSeriesUniverse(t *testing.T) {
	u := NewSeriesUniverse(NewCSVSource("testdata"), []string{"eth", "btc", "doge"})
	rows, err := u.Universe(context.Background(), day(5))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "BTC", rows[0].Coin)
	require.Equal(t, "ETH", rows[1].Coin)
	require.Equal(t, 3.76e10, rows[1].MarketCap)
}

type countingSource struct {
	calls  int
	points []market.CoinGecko
	err    error
}

func (c *countingSource) Load(_ context.Context, _ string, from, to time.Time) ([]market.CoinGecko, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return clip(c.points, from, to), nil
}

func TestCachedSourceReadsThrough(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "cache.db"), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	upstream := &countingSource{points: []market.CoinGecko{
		{Coin: "BTC", Time: day(4), Price: 1, MarketCap: 10},
		{Coin: "BTC", Time: day(5), Price: 2, MarketCap: 20},
		{Coin: "BTC", Time: day(6), Price: 3, MarketCap: 30},
	}}
	cached := NewCachedSource(st, upstream, zerolog.Nop())

	first, err := cached.Load(ctx, "BTC", day(4), day(6))
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.Equal(t, 1, upstream.calls)

	second, err := cached.Load(ctx, "BTC", day(4), day(6))
	require.NoError(t, err)
	require.Len(t, second, 3)
	require.Equal(t, 1, upstream.calls, "second load should be served from sqlite")

	upstream.err = errors.New("offline")
	partial, err := cached.Load(ctx, "BTC", day(1), day(6))
	require.NoError(t, err)
	require.Len(t, partial, 3)

	_, err = cached.Load(ctx, "ETH", day(1), day(6))
	require.Error(t, err)
}

// hourlyChart serves 72 hourly points over 2018-04-04..06; price and cap encode day*100+hour.
func hourlyChart(t *testing.T) *coingecko.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var prices, caps, vols []string
		for h := 0; h < 72; h++ {
			ts := day(4).Add(time.Duration(h) * time.Hour).UnixMilli()
			v := (4+h/24)*100 + h%24
			prices = append(prices, fmt.Sprintf("[%d,%d]", ts, v))
			caps = append(caps, fmt.Sprintf("[%d,%d]", ts, v*1000))
			vols = append(vols, fmt.Sprintf("[%d,1]", ts))
		}
		fmt.Fprintf(w, `{"prices":[%s],"market_caps":[%s],"total_volumes":[%s]}`,
			strings.Join(prices, ","), strings.Join(caps, ","), strings.Join(vols, ","))
	}))
	t.Cleanup(server.Close)
	return coingecko.NewClient(zerolog.Nop(),
		coingecko.WithBaseURL(server.URL),
		coingecko.WithHTTPClient(server.Client()),
		coingecko.WithRateLimit(0),
		coingecko.WithCoinIDs(map[string]string{"BTC": "bitcoin"}),
	)
}

func TestAPISourceCollapsesIntradayPointsToDays(t *testing.T) {
	src := NewAPISource(hourlyChart(t), "usd")
	points, err := src.Load(context.Background(), "btc", day(4), day(6).Add(24*time.Hour-time.Nanosecond))
	require.NoError(t, err)
	require.Len(t, points, 3)
	for i, p := range points {
		require.True(t, p.Time.Equal(day(4+i)), "point %d at %s", i, p.Time)
		require.Equal(t, "BTC", p.Coin)
		require.Equal(t, float64((4+i)*100+23), p.Price)
		require.Equal(t, float64(((4+i)*100+23)*1000), p.MarketCap)
	}
}

func TestCachedSourceStoresDailyRowsFromAPI(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "cache.db"), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	cached := NewCachedSource(st, NewAPISource(hourlyChart(t), "usd"), zerolog.Nop())
	_, err = cached.Load(ctx, "BTC", day(4), day(6))
	require.NoError(t, err)

	rows, err := st.LoadCoinGecko(ctx, "BTC", day(1), day(7))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.True(t, rows[2].Time.Equal(day(6)))
}
