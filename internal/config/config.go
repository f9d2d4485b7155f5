// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DateLayout is the calendar date format used by the backtest section.
const DateLayout = "2006-01-02"

// APIKeyEnv is read when coingecko.api_key is empty.
const APIKeyEnv = "COINGECKO_API_KEY"

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Backtest bounds a historical replay.
type Backtest struct {
	Start string  `yaml:"start"`
	End   string  `yaml:"end"`
	Cash  float64 `yaml:"cash"`
}

// CoinGecko configures the market data API.
type CoinGecko struct {
	BaseURL         string            `yaml:"base_url"`
	APIKey          string            `yaml:"api_key"`
	Pro             bool              `yaml:"pro"`
	VsCurrency      string            `yaml:"vs_currency"`
	RateLimitPerMin int               `yaml:"rate_limit_per_min"`
	MaxRetries      int               `yaml:"max_retries"`
	CoinIDs         map[string]string `yaml:"coin_ids"`
	PollInterval    int               `yaml:"poll_interval_ms"`
}

// Data selects where historical observations come from.
type Data struct {
	Source    string   `yaml:"source"`   // csv|api|cached
	Upstream  string   `yaml:"upstream"` // csv|api, read through by the cached source
	Dir       string   `yaml:"dir"`
	StorePath string   `yaml:"store_path"`
	Coins     []string `yaml:"coins"`
}

// Exchange describes the live price feed the paper runner consumes.
type Exchange struct {
	Name      string    `yaml:"name"`
	Provider  string    `yaml:"provider"` // stub|binance|coingecko
	Symbols   []string  `yaml:"symbols"`
	Discovery Discovery `yaml:"discovery"`
}

// Discovery configures automatic symbol discovery.
type Discovery struct {
	Enabled         bool    `yaml:"enabled"`
	MaxCoins        int     `yaml:"max_coins"`
	RefreshInterval int     `yaml:"refresh_interval_ms"`
	MinMarketCapUSD float64 `yaml:"min_market_cap_usd"`
	MinVolumeUSD    float64 `yaml:"min_volume_usd"`
	Quote           string  `yaml:"quote"`
}

// Universe configures market-cap universe selection.
type Universe struct {
	Resolution string `yaml:"resolution"`
	TopN       int    `yaml:"top_n"`
	Market     string `yaml:"market"`
	Quote      string `yaml:"quote"`
}

// Risk encodes guard-rails for how much size the broker may take on.
type Risk struct {
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
	MaxLeverage         float64 `yaml:"max_leverage"`
	KillSwitchDrawdown  float64 `yaml:"kill_switch_drawdown"`
}

// StrategyParams groups tunable knobs for a strategy implementation.
type StrategyParams struct {
	Coin              string  `yaml:"coin"`
	Crypto            string  `yaml:"crypto"`
	Market            string  `yaml:"market"`
	WindowSize        int     `yaml:"window_size"`
	TopN              int     `yaml:"top_n"`
	TrendThreshold    float64 `yaml:"trend_threshold"`
	TrendWindowSecs   int     `yaml:"trend_window_secs"`
	TrendMinVolumeUSD float64 `yaml:"trend_min_volume_usd"`
}

// Strategy specifies which strategy is active along with the parameter bundle.
type Strategy struct {
	Mode   string         `yaml:"mode"`
	Params StrategyParams `yaml:"params"`
}

// Paper captures paper-trading account settings such as starting cash, per-symbol caps, and execution tuning.
type Paper struct {
	MaxPositionPerSymbol float64 `yaml:"max_position_per_symbol"`
	SlippageBps          float64 `yaml:"slippage_bps"`
	FeeBps               float64 `yaml:"fee_bps"`
	LotSize              float64 `yaml:"lot_size"`
	FillsPath            string  `yaml:"fills_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Backtest  Backtest  `yaml:"backtest"`
	CoinGecko CoinGecko `yaml:"coingecko"`
	Data      Data      `yaml:"data"`
	Exchange  Exchange  `yaml:"exchange"`
	Universe  Universe  `yaml:"universe"`
	Strategy  Strategy  `yaml:"strategy"`
	Risk      Risk      `yaml:"risk"`
	Paper     Paper     `yaml:"paper"`
}

// Defaults returns the configuration used when no file is supplied.
func Defaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "geckobot"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Backtest.Start == "" {
		c.Backtest.Start = "2018-04-04"
	}
	if c.Backtest.End == "" {
		c.Backtest.End = "2018-04-06"
	}
	if c.Backtest.Cash == 0 {
		c.Backtest.Cash = 100000
	}
	if c.CoinGecko.BaseURL == "" {
		c.CoinGecko.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if c.CoinGecko.VsCurrency == "" {
		c.CoinGecko.VsCurrency = "usd"
	}
	if c.CoinGecko.RateLimitPerMin == 0 {
		c.CoinGecko.RateLimitPerMin = 30
	}
	if c.CoinGecko.MaxRetries == 0 {
		c.CoinGecko.MaxRetries = 3
	}
	if c.Data.Source == "" {
		c.Data.Source = "csv"
	}
	if c.Data.Upstream == "" {
		c.Data.Upstream = "api"
	}
	if c.Data.Dir == "" {
		c.Data.Dir = "data/coingecko"
	}
	if c.Exchange.Provider == "" {
		c.Exchange.Provider = "stub"
	}
	if c.Universe.TopN == 0 {
		c.Universe.TopN = 3
	}
	if c.Universe.Market == "" {
		c.Universe.Market = "coinbase"
	}
	if c.Universe.Quote == "" {
		c.Universe.Quote = "USD"
	}
	if c.Strategy.Mode == "" {
		c.Strategy.Mode = "marketcap_trend"
	}
	if c.Paper.LotSize == 0 {
		c.Paper.LotSize = 0.00000001
	}
}

// Validate checks the fields the engine cannot run without.
func (c *Config) Validate() error {
	start, end, err := c.Backtest.Window()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("backtest end %s before start %s", c.Backtest.End, c.Backtest.Start)
	}
	if c.Backtest.Cash <= 0 {
		return errors.New("backtest cash must be positive")
	}
	if c.Universe.TopN < 0 {
		return errors.New("universe top_n must not be negative")
	}
	switch strings.ToLower(c.Data.Source) {
	case "csv", "api", "cached":
	default:
		return fmt.Errorf("unknown data source %q", c.Data.Source)
	}
	switch strings.ToLower(c.Data.Upstream) {
	case "csv", "api":
	default:
		return fmt.Errorf("unknown data upstream %q", c.Data.Upstream)
	}
	switch strings.ToLower(c.Universe.Resolution) {
	case "", "minute", "hour", "daily":
	default:
		return fmt.Errorf("unknown universe resolution %q", c.Universe.Resolution)
	}
	return nil
}

// Window parses the backtest start and end dates as UTC midnights.
func (b Backtest) Window() (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, b.Start, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse backtest start: %w", err)
	}
	end, err := time.ParseInLocation(DateLayout, b.End, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse backtest end: %w", err)
	}
	return start, end, nil
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

// LoadEnv pulls secrets from a .env file (best-effort) and the process environment.
func (c *Config) LoadEnv(files ...string) {
	_ = godotenv.Load(files...)
	if c.CoinGecko.APIKey == "" {
		c.CoinGecko.APIKey = os.Getenv(APIKeyEnv)
	}
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
