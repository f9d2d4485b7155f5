package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geckobot/internal/market"
)

func (f *Feed) runCoinGecko(ctx context.Context, out chan<- market.Tick) error {
	if f.gecko == nil {
		return errors.New("coingecko feed requires a client")
	}
	if err := f.pollCoinGecko(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
		f.log.Warn().Err(err).Msg("initial coingecko poll failed")
	}

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.pollCoinGecko(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
				f.log.Warn().Err(err).Msg("coingecko poll failed")
			}
		}
	}
}

// pollCoinGecko fetches one simple-price snapshot for every pair's base coin.
func (f *Feed) pollCoinGecko(ctx context.Context, out chan<- market.Tick) error {
	symbols := f.Symbols()
	if len(symbols) == 0 {
		return nil
	}
	idBySymbol := make(map[string]string, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		base, _ := market.SplitTicker(sym)
		id, err := f.gecko.ResolveID(ctx, base)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Str("symbol", sym).Msg("coingecko id lookup failed")
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		idBySymbol[sym] = id
	}
	if len(ids) == 0 {
		return nil
	}
	prices, err := f.gecko.SimplePrice(ctx, f.vsCurrency, ids...)
	if err != nil {
		return fmt.Errorf("simple price: %w", err)
	}
	for _, sym := range symbols {
		datum, ok := prices[idBySymbol[sym]]
		if !ok || datum.Price <= 0 {
			continue
		}
		tick := market.Tick{
			Symbol: sym,
			Price:  datum.Price,
			Size:   f.estimateSize(datum),
			Side:   f.determineSide(sym, datum.Price),
			Ts:     datum.Time,
		}
		if err := f.emit(ctx, out, tick); err != nil {
			return err
		}
	}
	return nil
}

// estimateSize spreads the 24h volume over one poll interval.
func (f *Feed) estimateSize(datum market.CoinGecko) float64 {
	if datum.Price <= 0 || datum.Volume <= 0 {
		return 0
	}
	share := f.pollInterval.Seconds() / (24 * time.Hour).Seconds()
	return datum.Volume * share / datum.Price
}

func (f *Feed) determineSide(sym string, price float64) int {
	f.mu.Lock()
	last := f.lastPrices[sym]
	f.lastPrices[sym] = price
	f.mu.Unlock()
	if last > 0 && price < last {
		return -1
	}
	return 1
}
