package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"geckobot/internal/coingecko"
	"geckobot/internal/market"
)

func TestFeedRunEmitsTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(ProviderStub, []string{"btcusdt"}, zerolog.Nop(), WithStubInterval(10*time.Millisecond))
	ticks := make(chan market.Tick, 1)

	go func() {
		_ = feed.Run(ctx, ticks)
	}()

	select {
	case tk := <-ticks:
		if tk.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected symbol %s", tk.Symbol)
		}
		cancel()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestSetSymbolsDeduplicates(t *testing.T) {
	feed := NewFeed(ProviderStub, nil, zerolog.Nop())
	feed.SetSymbols([]string{"ethusd", " BTCUSD ", "ETHUSD", ""})
	got := feed.Symbols()
	if len(got) != 2 || got[0] != "BTCUSD" || got[1] != "ETHUSD" {
		t.Fatalf("unexpected symbols %+v", got)
	}
}

func TestParseBinanceSymbol(t *testing.T) {
	cases := map[string]string{
		"btcusdt@trade":    "BTCUSDT",
		"ethusdt@aggTrade": "ETHUSDT",
		"dogeusdt":         "DOGEUSDT",
		"":                 "",
	}
	for stream, expected := range cases {
		if got := parseBinanceSymbol(stream); got != expected {
			t.Fatalf("expected %s got %s", expected, got)
		}
	}
}

func TestBinanceStreamURL(t *testing.T) {
	got := binanceStreamURL("wss://example/stream", []string{"BTCUSDT", "ETHUSDT"})
	if got != "wss://example/stream?streams=btcusdt@trade/ethusdt@trade" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestRunBinanceEmitsTradesFromWebsocket(t *testing.T) {
	streams := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case streams <- r.URL.Query().Get("streams"):
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := `{"stream":"btcusdt@trade","data":{"p":"43000.50","q":"0.25","T":1704200000000,"m":true}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	feed := NewFeed(ProviderBinance, []string{"BTCUSDT"}, zerolog.Nop(), WithBinanceURL(wsURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := make(chan market.Tick, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- feed.Run(ctx, ticks) }()

	select {
	case tk := <-ticks:
		if tk.Symbol != "BTCUSDT" || tk.Price != 43000.50 || tk.Size != 0.25 || tk.Side != -1 {
			t.Fatalf("unexpected tick %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for binance tick")
	}
	if got := <-streams; got != "btcusdt@trade" {
		t.Fatalf("unexpected streams query %q", got)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("binance feed did not stop after cancel")
	}
}

func TestRunBinanceRequiresSymbols(t *testing.T) {
	feed := NewFeed(ProviderBinance, nil, zerolog.Nop())
	if err := feed.Run(context.Background(), make(chan market.Tick)); err == nil {
		t.Fatal("expected error without symbols")
	}
}

func newGeckoClient(t *testing.T, handler http.HandlerFunc) *coingecko.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return coingecko.NewClient(zerolog.Nop(),
		coingecko.WithBaseURL(server.URL),
		coingecko.WithHTTPClient(server.Client()),
		coingecko.WithRateLimit(0),
		coingecko.WithBackoff(time.Millisecond),
	)
}

func TestRunCoinGeckoEmitsTick(t *testing.T) {
	const body = `{"bitcoin":{"usd":43000,"usd_market_cap":840000000000,"usd_24h_vol":21600000000,"last_updated_at":1704200000}}`
	ids := make(chan string, 1)
	client := newGeckoClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case ids <- r.URL.Query().Get("ids"):
		default:
		}
		_, _ = w.Write([]byte(body))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(ProviderCoinGecko, []string{"BTCUSD", "BTCUSDT"}, zerolog.Nop(),
		WithCoinGecko(client, "usd"),
		WithPollInterval(time.Hour),
	)

	ticks := make(chan market.Tick, 2)
	errCh := make(chan error, 1)
	go func() {
		if err := feed.Run(ctx, ticks); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		close(errCh)
	}()

	seen := map[string]market.Tick{}
	for len(seen) < 2 {
		select {
		case tk := <-ticks:
			seen[tk.Symbol] = tk
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for ticks, got %+v", seen)
		}
	}
	cancel()

	tk := seen["BTCUSD"]
	if tk.Price != 43000 {
		t.Fatalf("unexpected price %.2f", tk.Price)
	}
	// one hour of 21.6bn daily volume at 43k
	if want := 21600000000.0 / 24 / 43000; tk.Size < want*0.999 || tk.Size > want*1.001 {
		t.Fatalf("unexpected size %.4f want %.4f", tk.Size, want)
	}
	if !tk.Ts.Equal(time.Unix(1704200000, 0)) {
		t.Fatalf("unexpected ts %s", tk.Ts)
	}
	if got := <-ids; got != "bitcoin" {
		t.Fatalf("expected deduplicated ids, got %q", got)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("feed returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("feed did not stop after cancel")
	}
}

func TestDetermineSideFollowsPrice(t *testing.T) {
	feed := NewFeed(ProviderCoinGecko, nil, zerolog.Nop())
	if side := feed.determineSide("BTCUSD", 100); side != 1 {
		t.Fatalf("first observation should default to buy, got %d", side)
	}
	if side := feed.determineSide("BTCUSD", 99); side != -1 {
		t.Fatalf("falling price should read as sell, got %d", side)
	}
}
