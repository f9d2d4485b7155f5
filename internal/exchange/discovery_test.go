package exchange

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"geckobot/internal/config"
	"geckobot/internal/market"
)

const marketsBody = `[
	{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":43000,"market_cap":840000000000,"total_volume":20000000000},
	{"id":"ethereum","symbol":"eth","name":"Ethereum","current_price":2300,"market_cap":276000000000,"total_volume":9000000000},
	{"id":"tether","symbol":"usdt","name":"Tether","current_price":1,"market_cap":91000000000,"total_volume":30000000000},
	{"id":"solana","symbol":"sol","name":"Solana","current_price":100,"market_cap":43000000000,"total_volume":2000000},
	{"id":"ripple","symbol":"xrp","name":"XRP","current_price":0.6,"market_cap":32000000000,"total_volume":1000000000}
]`

func TestCoinGeckoDiscoveryRefreshMergesSymbols(t *testing.T) {
	client := newGeckoClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(marketsBody))
	})
	feed := NewFeed(ProviderBinance, []string{"DOGEUSDT"}, zerolog.Nop())
	cfg := config.Discovery{Enabled: true, MaxCoins: 2, Quote: "USDT", RefreshInterval: 1000}
	disc := NewCoinGeckoDiscovery(zerolog.Nop(), feed, []string{"DOGEUSDT"}, client, "usd", cfg)
	if disc == nil {
		t.Fatalf("expected discovery to be constructed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := disc.Refresh(ctx); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	got := feed.Symbols()
	want := []string{"BTCUSDT", "DOGEUSDT", "ETHUSDT"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestCoinGeckoDiscoveryVolumeFilterSkipsStablecoins(t *testing.T) {
	client := newGeckoClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(marketsBody))
	})
	feed := NewFeed(ProviderBinance, nil, zerolog.Nop())
	cfg := config.Discovery{Enabled: true, MaxCoins: 5, MinVolumeUSD: 5e8}
	disc := NewCoinGeckoDiscovery(zerolog.Nop(), feed, nil, client, "usd", cfg)

	if err := disc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	got := feed.Symbols()
	for _, sym := range got {
		if sym == "USDTUSDT" || sym == "SOLUSDT" {
			t.Fatalf("unexpected symbol %s in %v", sym, got)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected BTC, ETH and XRP, got %v", got)
	}
}

func TestDiscoveryDisabledIsNil(t *testing.T) {
	feed := NewFeed(ProviderStub, nil, zerolog.Nop())
	if disc := NewCoinGeckoDiscovery(zerolog.Nop(), feed, nil, nil, "usd", config.Discovery{Enabled: true}); disc != nil {
		t.Fatal("expected nil discovery without client")
	}
	var disc *CoinGeckoDiscovery
	if err := disc.Refresh(context.Background()); err != nil {
		t.Fatalf("nil discovery refresh should be a no-op: %v", err)
	}
}

func TestMarketCapPollerBatchesShareTimestamp(t *testing.T) {
	ids := make(chan string, 1)
	client := newGeckoClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case ids <- r.URL.Query().Get("ids"):
		default:
		}
		_, _ = w.Write([]byte(marketsBody))
	})
	poller := NewMarketCapPoller(zerolog.Nop(), client, []string{"btc", "eth"}, "usd", 10, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan []market.CoinGecko, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- poller.Run(ctx, out) }()

	var batch []market.CoinGecko
	select {
	case batch = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for market cap batch")
	}
	cancel()
	<-errCh

	if got := <-ids; got != "bitcoin,ethereum" {
		t.Fatalf("unexpected ids %q", got)
	}
	if len(batch) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(batch))
	}
	if batch[0].Coin != "BTC" || batch[0].MarketCap != 840e9 {
		t.Fatalf("unexpected first row %+v", batch[0])
	}
	for _, d := range batch {
		if !d.Time.Equal(batch[0].Time) {
			t.Fatalf("rows should share the poll timestamp: %+v", batch)
		}
	}
}
