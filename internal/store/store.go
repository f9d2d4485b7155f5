// Package store persists market-cap history, paper fills and universe selections in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/zerolog"

	"geckobot/internal/execution"
	"geckobot/internal/market"
)

// Store wraps a SQLite database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Selection is one persisted universe selection.
type Selection struct {
	Time    time.Time
	Symbols []string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS coingecko (
		coin TEXT NOT NULL,
		ts INTEGER NOT NULL,
		price REAL NOT NULL,
		market_cap REAL NOT NULL,
		volume REAL NOT NULL,
		PRIMARY KEY (coin, ts)
	);`,
	`CREATE TABLE IF NOT EXISTS fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		qty REAL NOT NULL,
		price REAL NOT NULL,
		fee REAL NOT NULL,
		ts INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS selections (
		ts INTEGER PRIMARY KEY,
		symbols TEXT NOT NULL
	);`,
}

// Open creates or opens the database at path. ":memory:" is accepted for tests.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db, log: log}, nil
}

// SaveCoinGecko upserts observations keyed by coin and timestamp.
func (s *Store) SaveCoinGecko(ctx context.Context, points []market.CoinGecko) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO coingecko (coin, ts, price, market_cap, volume) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(coin, ts) DO UPDATE SET price=excluded.price, market_cap=excluded.market_cap, volume=excluded.volume`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()
	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, strings.ToUpper(p.Coin), p.Time.UTC().UnixMilli(), p.Price, p.MarketCap, p.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert %s: %w", p.Coin, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadCoinGecko returns coin observations in [from, to] ordered by time.
func (s *Store) LoadCoinGecko(ctx context.Context, coin string, from, to time.Time) ([]market.CoinGecko, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT coin, ts, price, market_cap, volume FROM coingecko WHERE coin = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC",
		strings.ToUpper(coin), from.UTC().UnixMilli(), to.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query coingecko: %w", err)
	}
	defer rows.Close()

	var out []market.CoinGecko
	for rows.Next() {
		var p market.CoinGecko
		var ts int64
		if err := rows.Scan(&p.Coin, &ts, &p.Price, &p.MarketCap, &p.Volume); err != nil {
			return nil, fmt.Errorf("scan coingecko: %w", err)
		}
		p.Time = time.UnixMilli(ts).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// Coins lists every coin with cached observations.
func (s *Store) Coins(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT coin FROM coingecko ORDER BY coin ASC")
	if err != nil {
		return nil, fmt.Errorf("query coins: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var coin string
		if err := rows.Scan(&coin); err != nil {
			return nil, err
		}
		out = append(out, coin)
	}
	return out, rows.Err()
}

// SaveFill appends a paper fill.
func (s *Store) SaveFill(ctx context.Context, f execution.Fill) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO fills (order_id, symbol, side, qty, price, fee, ts) VALUES (?, ?, ?, ?, ?, ?, ?)",
		f.OrderID, f.Symbol, string(f.Side), f.Qty, f.Price, f.Fee, f.Ts.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// Fills returns every stored fill in insertion order.
func (s *Store) Fills(ctx context.Context) ([]execution.Fill, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT order_id, symbol, side, qty, price, fee, ts FROM fills ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()
	var out []execution.Fill
	for rows.Next() {
		var f execution.Fill
		var side string
		var ts int64
		if err := rows.Scan(&f.OrderID, &f.Symbol, &side, &f.Qty, &f.Price, &f.Fee, &ts); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.Side = execution.Side(side)
		f.Ts = time.UnixMilli(ts).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveSelection stores the universe chosen at ts, replacing any earlier selection at the same instant.
func (s *Store) SaveSelection(ctx context.Context, ts time.Time, symbols []string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO selections (ts, symbols) VALUES (?, ?) ON CONFLICT(ts) DO UPDATE SET symbols=excluded.symbols",
		ts.UTC().UnixMilli(), strings.Join(symbols, ","))
	if err != nil {
		return fmt.Errorf("insert selection: %w", err)
	}
	return nil
}

// Selections returns stored universe selections ordered by time.
func (s *Store) Selections(ctx context.Context) ([]Selection, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT ts, symbols FROM selections ORDER BY ts ASC")
	if err != nil {
		return nil, fmt.Errorf("query selections: %w", err)
	}
	defer rows.Close()
	var out []Selection
	for rows.Next() {
		var ts int64
		var joined string
		if err := rows.Scan(&ts, &joined); err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		sel := Selection{Time: time.UnixMilli(ts).UTC()}
		if joined != "" {
			sel.Symbols = strings.Split(joined, ",")
		}
		out = append(out, sel)
	}
	return out, rows.Err()
}

// FillRecorder adapts the store to the paper broker's recorder interface.
func (s *Store) FillRecorder() *FillRecorder {
	return &FillRecorder{store: s}
}

// FillRecorder writes fills with a background context and logs failures.
type FillRecorder struct {
	store *Store
}

// Record persists fill; errors are logged since the broker cannot act on them.
func (r *FillRecorder) Record(fill execution.Fill) {
	if err := r.store.SaveFill(context.Background(), fill); err != nil {
		r.store.log.Warn().Err(err).Int64("order", fill.OrderID).Msg("persist fill failed")
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}
