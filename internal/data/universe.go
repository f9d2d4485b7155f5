package data

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"geckobot/internal/market"
)

// UniverseSource yields every coin observation available for one UTC day.
type UniverseSource interface {
	Universe(ctx context.Context, day time.Time) ([]market.CoinGecko, error)
}

// CSVUniverse reads <dir>/universe/yyyyMMdd.csv files with rows coin,price,volume,market_cap.
type CSVUniverse struct {
	dir string
}

// NewCSVUniverse returns a universe source rooted at dir.
func NewCSVUniverse(dir string) *CSVUniverse { return &CSVUniverse{dir: dir} }

// Universe returns nothing (and no error) for days without a file.
func (u *CSVUniverse) Universe(_ context.Context, day time.Time) ([]market.CoinGecko, error) {
	day = market.Daily.Truncate(day)
	path := filepath.Join(u.dir, "universe", day.Format(DateLayout)+".csv")
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	return readRows(path, file, func(rec []string) (market.CoinGecko, error) {
		coin := strings.ToUpper(strings.TrimSpace(rec[0]))
		if coin == "" {
			return market.CoinGecko{}, errors.New("empty coin")
		}
		return parseRecord(coin, day.Format(DateLayout), rec[1:])
	})
}

// SeriesUniverse builds daily universes from per-coin series of a Source.
// Series are loaded lazily per requested day.
type SeriesUniverse struct {
	source Source
	coins  []string
}

// NewSeriesUniverse returns a universe over coins.
func NewSeriesUniverse(source Source, coins []string) *SeriesUniverse {
	return &SeriesUniverse{source: source, coins: append([]string(nil), coins...)}
}

// Universe returns, per coin, the last observation within day.
func (u *SeriesUniverse) Universe(ctx context.Context, day time.Time) ([]market.CoinGecko, error) {
	start := market.Daily.Truncate(day)
	end := start.Add(24*time.Hour - time.Nanosecond)
	out := make([]market.CoinGecko, 0, len(u.coins))
	for _, coin := range u.coins {
		points, err := u.source.Load(ctx, coin, start, end)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("universe %s: %w", coin, err)
		}
		if len(points) == 0 {
			continue
		}
		last := points[len(points)-1]
		last.Time = start
		out = append(out, last)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Coin < out[j].Coin })
	return out, nil
}
