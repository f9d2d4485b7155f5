// Package data loads historical CoinGecko observations for the backtest engine.
package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"geckobot/internal/coingecko"
	"geckobot/internal/market"
	"geckobot/internal/store"
)

// DateLayout is the date column format of the CSV files.
const DateLayout = "20060102"

// ErrNotFound is returned by explicit lookups of a coin no source knows.
var ErrNotFound = errors.New("data: not found")

// Source yields a coin's observations between from and to inclusive, ordered by time.
type Source interface {
	Load(ctx context.Context, coin string, from, to time.Time) ([]market.CoinGecko, error)
}

// CSVSource reads <dir>/<coin>.csv files with rows date,price,volume,market_cap.
type CSVSource struct {
	dir string
}

// NewCSVSource returns a CSV-backed source rooted at dir.
func NewCSVSource(dir string) *CSVSource { return &CSVSource{dir: dir} }

// Load returns nothing (and no error) when the coin file is missing.
func (s *CSVSource) Load(_ context.Context, coin string, from, to time.Time) ([]market.CoinGecko, error) {
	path := filepath.Join(s.dir, strings.ToLower(coin)+".csv")
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	rows, err := readRows(path, file, func(rec []string) (market.CoinGecko, error) {
		return parseRecord(strings.ToUpper(coin), rec[0], rec[1:])
	})
	if err != nil {
		return nil, err
	}
	return clip(rows, from, to), nil
}

// readRows parses every non-empty CSV record with four columns.
func readRows(path string, r io.Reader, parse func([]string) (market.CoinGecko, error)) ([]market.CoinGecko, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var out []market.CoinGecko
	line := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		if len(rec) < 4 {
			return nil, fmt.Errorf("%s:%d: expected 4 columns, got %d", path, line, len(rec))
		}
		p, err := parse(rec)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func isHeader(rec []string) bool {
	for _, field := range rec {
		if _, err := decimal.NewFromString(strings.TrimSpace(field)); err == nil {
			return false
		}
	}
	return true
}

// parseRecord parses date then price, volume, market_cap.
func parseRecord(coin, date string, nums []string) (market.CoinGecko, error) {
	ts, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), time.UTC)
	if err != nil {
		return market.CoinGecko{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	vals := make([]float64, 3)
	for i := range vals {
		vals[i], err = parseNumber(nums[i])
		if err != nil {
			return market.CoinGecko{}, err
		}
	}
	return market.CoinGecko{Coin: coin, Time: ts, Price: vals[0], Volume: vals[1], MarketCap: vals[2]}, nil
}

// parseNumber accepts plain and scientific notation; empty fields read as zero.
func parseNumber(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", raw, err)
	}
	return d.InexactFloat64(), nil
}

func clip(points []market.CoinGecko, from, to time.Time) []market.CoinGecko {
	out := points[:0:0]
	for _, p := range points {
		if p.Time.Before(from) || p.Time.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// APISource fetches ranges from the CoinGecko API.
type APISource struct {
	client *coingecko.Client
	vs     string
}

// NewAPISource wraps client; vs is the quote currency (usd when empty).
func NewAPISource(client *coingecko.Client, vs string) *APISource {
	return &APISource{client: client, vs: vs}
}

// Load resolves coin to an id and fetches the range as one point per UTC day.
func (s *APISource) Load(ctx context.Context, coin string, from, to time.Time) ([]market.CoinGecko, error) {
	id, err := s.client.ResolveID(ctx, coin)
	if err != nil {
		if errors.Is(err, coingecko.ErrUnknownCoin) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, coin)
		}
		return nil, err
	}
	points, err := s.client.MarketChartRange(ctx, coin, id, s.vs, from, to)
	if err != nil {
		return nil, err
	}
	return clip(dailyCloses(points), market.Daily.Truncate(from), to), nil
}

// dailyCloses keeps the last point of each UTC day, stamped at midnight. Input must be time ordered.
func dailyCloses(points []market.CoinGecko) []market.CoinGecko {
	out := make([]market.CoinGecko, 0, len(points))
	for _, p := range points {
		p.Time = market.Daily.Truncate(p.Time)
		if n := len(out); n > 0 && out[n-1].Time.Equal(p.Time) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// CachedSource serves from the SQLite store and falls back to upstream, writing results through.
type CachedSource struct {
	store    *store.Store
	upstream Source
	log      zerolog.Logger
}

// NewCachedSource builds a read-through cache.
func NewCachedSource(st *store.Store, upstream Source, log zerolog.Logger) *CachedSource {
	return &CachedSource{store: st, upstream: upstream, log: log}
}

// Load returns cached rows when the cache spans [from, to]; otherwise it refetches the whole range.
func (s *CachedSource) Load(ctx context.Context, coin string, from, to time.Time) ([]market.CoinGecko, error) {
	cached, err := s.store.LoadCoinGecko(ctx, coin, from, to)
	if err != nil {
		return nil, err
	}
	if covers(cached, from, to) {
		return cached, nil
	}
	fresh, err := s.upstream.Load(ctx, coin, from, to)
	if err != nil {
		if len(cached) > 0 {
			s.log.Warn().Err(err).Str("coin", coin).Int("cached", len(cached)).Msg("upstream failed, serving partial cache")
			return cached, nil
		}
		return nil, err
	}
	if err := s.store.SaveCoinGecko(ctx, fresh); err != nil {
		s.log.Warn().Err(err).Str("coin", coin).Msg("cache write failed")
	}
	return clip(fresh, from, to), nil
}

// covers reports whether points reach within a day of both range ends.
func covers(points []market.CoinGecko, from, to time.Time) bool {
	if len(points) == 0 {
		return false
	}
	const slack = 24 * time.Hour
	return points[0].Time.Sub(from) < slack && to.Sub(points[len(points)-1].Time) < slack
}
