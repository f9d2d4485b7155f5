package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"geckobot/internal/coingecko"
	"geckobot/internal/market"
)

// MarketCapPoller periodically ranks coins on CoinGecko and emits each ranking as one batch.
type MarketCapPoller struct {
	log      zerolog.Logger
	client   *coingecko.Client
	coins    []string
	vs       string
	perPage  int
	interval time.Duration
}

// NewMarketCapPoller polls the given coins, or the top perPage coins when coins is empty.
func NewMarketCapPoller(log zerolog.Logger, client *coingecko.Client, coins []string, vs string, perPage int, interval time.Duration) *MarketCapPoller {
	if interval <= 0 {
		interval = time.Minute
	}
	if perPage <= 0 {
		perPage = 100
	}
	return &MarketCapPoller{
		log:      log,
		client:   client,
		coins:    append([]string(nil), coins...),
		vs:       vs,
		perPage:  perPage,
		interval: interval,
	}
}

// Run emits a batch immediately and then once per interval until ctx ends.
func (p *MarketCapPoller) Run(ctx context.Context, out chan<- []market.CoinGecko) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		batch, err := p.Poll(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			p.log.Warn().Err(err).Msg("market cap poll failed")
		case len(batch) > 0:
			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll fetches one ranking. All rows share the poll time so the engine sees a single slice.
func (p *MarketCapPoller) Poll(ctx context.Context) ([]market.CoinGecko, error) {
	var ids []string
	for _, coin := range p.coins {
		id, err := p.client.ResolveID(ctx, coin)
		if err != nil {
			if errors.Is(err, coingecko.ErrUnknownCoin) {
				p.log.Warn().Str("coin", coin).Msg("unknown coin skipped")
				continue
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(p.coins) > 0 && len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.client.Markets(ctx, p.vs, p.perPage, 1, ids...)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Truncate(time.Second)
	out := make([]market.CoinGecko, 0, len(rows))
	for _, r := range rows {
		d := r.Datum
		d.Time = now
		out = append(out, d)
	}
	return out, nil
}
