package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geckobot/internal/coingecko"
	"geckobot/internal/config"
	"geckobot/internal/market"
	"geckobot/internal/universe"
)

// stablecoins never make sense as the base of a traded pair.
var stablecoins = map[string]struct{}{"USDT": {}, "USDC": {}, "BUSD": {}, "DAI": {}, "TUSD": {}, "FDUSD": {}, "USDE": {}}

// CoinGeckoDiscovery keeps the feed's symbol list in line with the largest coins by market cap.
type CoinGeckoDiscovery struct {
	log     zerolog.Logger
	feed    *Feed
	manual  []string
	client  *coingecko.Client
	vs      string
	cfg     config.Discovery
	mu      sync.Mutex
	lastSet []string
}

type candidate struct {
	symbol    string
	marketCap float64
	volume    float64
}

// NewCoinGeckoDiscovery constructs a discovery service; returns nil if disabled or nil feed.
func NewCoinGeckoDiscovery(log zerolog.Logger, feed *Feed, manual []string, client *coingecko.Client, vs string, cfg config.Discovery) *CoinGeckoDiscovery {
	if feed == nil || client == nil || !cfg.Enabled {
		return nil
	}
	return &CoinGeckoDiscovery{
		log:    log,
		feed:   feed,
		manual: append([]string(nil), manual...),
		client: client,
		vs:     vs,
		cfg:    cfg,
	}
}

// Run refreshes immediately and then every refresh interval until ctx ends.
func (d *CoinGeckoDiscovery) Run(ctx context.Context) error {
	if d == nil {
		return nil
	}
	interval := time.Duration(d.cfg.RefreshInterval) * time.Millisecond
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if err := d.Refresh(ctx); err != nil {
		d.log.Warn().Err(err).Msg("symbol discovery refresh failed")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil {
				d.log.Warn().Err(err).Msg("symbol discovery refresh failed")
			}
		}
	}
}

// Refresh performs a single discovery cycle.
func (d *CoinGeckoDiscovery) Refresh(ctx context.Context) error {
	if d == nil {
		return nil
	}
	candidates, err := d.discover(ctx)
	if err != nil {
		return err
	}
	discovered := make([]string, len(candidates))
	for i, cand := range candidates {
		discovered[i] = cand.symbol
	}
	combined := mergeSymbols(d.manual, discovered)
	d.feed.SetSymbols(combined)
	d.logDiscoveryChange(combined, candidates)
	return nil
}

func (d *CoinGeckoDiscovery) discover(ctx context.Context) ([]candidate, error) {
	limit := d.cfg.MaxCoins
	if limit <= 0 {
		limit = 10
	}
	quote := strings.ToUpper(d.cfg.Quote)
	if quote == "" {
		quote = "USDT"
	}
	// over-fetch so filtered coins can be replaced
	rows, err := d.client.Markets(ctx, d.vs, limit*2, 1)
	if err != nil {
		return nil, err
	}
	data := make([]market.CoinGecko, 0, len(rows))
	for _, r := range rows {
		if _, stable := stablecoins[r.Datum.Coin]; stable || r.Datum.Coin == quote {
			continue
		}
		if d.cfg.MinMarketCapUSD > 0 && r.Datum.MarketCap < d.cfg.MinMarketCapUSD {
			continue
		}
		if d.cfg.MinVolumeUSD > 0 && r.Datum.Volume < d.cfg.MinVolumeUSD {
			continue
		}
		data = append(data, r.Datum)
	}

	ranked := universe.Rank(data)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]candidate, len(ranked))
	for i, datum := range ranked {
		out[i] = candidate{
			symbol:    datum.CreateSymbol("", quote).Ticker,
			marketCap: datum.MarketCap,
			volume:    datum.Volume,
		}
	}
	return out, nil
}

func (d *CoinGeckoDiscovery) logDiscoveryChange(combined []string, discovered []candidate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slicesEqual(combined, d.lastSet) {
		return
	}
	changes := universe.Diff(toSymbols(d.lastSet), toSymbols(combined))
	d.lastSet = append([]string(nil), combined...)
	detail := make([]string, len(discovered))
	for i, cand := range discovered {
		detail[i] = fmt.Sprintf("%s(mcap=%.0f vol=%.0f)", cand.symbol, cand.marketCap, cand.volume)
	}
	d.log.Info().
		Strs("symbols", combined).
		Strs("discovered", detail).
		Strs("manual", d.manual).
		Str("changes", changes.String()).
		Msg("updated symbol universe")
}

func toSymbols(tickers []string) []market.Symbol {
	out := make([]market.Symbol, len(tickers))
	for i, t := range tickers {
		out[i] = market.NewCrypto(t, "")
	}
	return out
}

func mergeSymbols(manual, discovered []string) []string {
	set := make(map[string]struct{}, len(manual)+len(discovered))
	for _, sym := range manual {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			set[sym] = struct{}{}
		}
	}
	for _, sym := range discovered {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			set[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
