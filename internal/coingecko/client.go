// Package coingecko is a small client for the CoinGecko public and pro REST APIs.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"geckobot/internal/market"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	ProBaseURL     = "https://pro-api.coingecko.com/api/v3"

	demoKeyHeader = "x-cg-demo-api-key"
	proKeyHeader  = "x-cg-pro-api-key"
)

// ErrRateLimited is returned once every retry of a throttled request failed.
var ErrRateLimited = errors.New("coingecko: rate limited")

// ErrUnknownCoin is returned when a ticker cannot be mapped to a CoinGecko id.
var ErrUnknownCoin = errors.New("coingecko: unknown coin")

// APIError carries a non-success HTTP answer.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coingecko: unexpected status %d: %s", e.Status, e.Body)
}

// builtinIDs covers the coins the bundled strategies reference.
var builtinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"XRP":  "ripple",
	"BCH":  "bitcoin-cash",
	"LTC":  "litecoin",
	"EOS":  "eos",
	"ADA":  "cardano",
	"XLM":  "stellar",
	"USDT": "tether",
	"SOL":  "solana",
	"DOGE": "dogecoin",
}

// Client issues rate-limited requests against the CoinGecko API.
type Client struct {
	log        zerolog.Logger
	http       *http.Client
	baseURL    string
	apiKey     string
	pro        bool
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration

	mu   sync.Mutex
	ids  map[string]string
	list []CoinRef
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another host (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithAPIKey sets the demo or pro key. A pro key also switches the default host.
func WithAPIKey(key string, pro bool) Option {
	return func(c *Client) {
		c.apiKey = key
		c.pro = pro
		if pro && c.baseURL == DefaultBaseURL {
			c.baseURL = ProBaseURL
		}
	}
}

// WithHTTPClient swaps the transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRateLimit caps requests per minute; zero or negative disables limiting.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) {
		if perMinute <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// WithMaxRetries bounds retries of throttled and 5xx responses.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the first retry delay.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithCoinIDs adds ticker to id overrides.
func WithCoinIDs(ids map[string]string) Option {
	return func(c *Client) {
		for k, v := range ids {
			c.ids[strings.ToUpper(k)] = v
		}
	}
}

// NewClient builds a client with the public API defaults (30 requests per minute).
func NewClient(log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		log:        log,
		http:       &http.Client{Timeout: 15 * time.Second},
		baseURL:    DefaultBaseURL,
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 1),
		maxRetries: 3,
		backoff:    time.Second,
		ids:        make(map[string]string, len(builtinIDs)),
	}
	for k, v := range builtinIDs {
		c.ids[k] = v
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs a GET with rate limiting and retries, decoding JSON into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	backoff := c.backoff
	const maxBackoff = 30 * time.Second

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		retry, err := c.once(ctx, endpoint, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		c.log.Debug().Err(err).Str("path", path).Int("attempt", attempt+1).Msg("coingecko request retrying")
	}
	var apiErr *APIError
	if errors.As(lastErr, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, lastErr)
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, endpoint string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "geckobot/1.0")
	if c.apiKey != "" {
		if c.pro {
			req.Header.Set(proKeyHeader, c.apiKey)
		} else {
			req.Header.Set(demoKeyHeader, c.apiKey)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return retry, apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}

type marketChart struct {
	Prices       [][2]float64 `json:"prices"`
	MarketCaps   [][2]float64 `json:"market_caps"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// MarketChartRange returns observations for coinID between from and to, labelled with coin.
// CoinGecko picks the granularity from the range length (5-minute, hourly or daily).
func (c *Client) MarketChartRange(ctx context.Context, coin, coinID, vs string, from, to time.Time) ([]market.CoinGecko, error) {
	if vs == "" {
		vs = "usd"
	}
	q := url.Values{}
	q.Set("vs_currency", strings.ToLower(vs))
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))

	var chart marketChart
	if err := c.get(ctx, "/coins/"+url.PathEscape(coinID)+"/market_chart/range", q, &chart); err != nil {
		return nil, fmt.Errorf("market chart %s: %w", coinID, err)
	}
	return joinChart(strings.ToUpper(coin), chart), nil
}

func joinChart(coin string, chart marketChart) []market.CoinGecko {
	byTs := make(map[int64]*market.CoinGecko, len(chart.Prices))
	get := func(ms float64) *market.CoinGecko {
		key := int64(ms)
		p := byTs[key]
		if p == nil {
			p = &market.CoinGecko{Coin: coin, Time: time.UnixMilli(key).UTC()}
			byTs[key] = p
		}
		return p
	}
	for _, row := range chart.Prices {
		get(row[0]).Price = row[1]
	}
	for _, row := range chart.MarketCaps {
		get(row[0]).MarketCap = row[1]
	}
	for _, row := range chart.TotalVolumes {
		get(row[0]).Volume = row[1]
	}
	out := make([]market.CoinGecko, 0, len(byTs))
	for _, p := range byTs {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Market is one row of the /coins/markets ranking.
type Market struct {
	ID    string
	Name  string
	Datum market.CoinGecko
}

type marketRow struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	Name         string   `json:"name"`
	CurrentPrice *float64 `json:"current_price"`
	MarketCap    *float64 `json:"market_cap"`
	TotalVolume  *float64 `json:"total_volume"`
	LastUpdated  string   `json:"last_updated"`
}

// Markets returns coins ranked by market cap descending. ids optionally restricts the result.
func (c *Client) Markets(ctx context.Context, vs string, perPage, page int, ids ...string) ([]Market, error) {
	if vs == "" {
		vs = "usd"
	}
	if perPage <= 0 {
		perPage = 100
	}
	if page <= 0 {
		page = 1
	}
	q := url.Values{}
	q.Set("vs_currency", strings.ToLower(vs))
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	if len(ids) > 0 {
		q.Set("ids", strings.Join(ids, ","))
	}

	var rows []marketRow
	if err := c.get(ctx, "/coins/markets", q, &rows); err != nil {
		return nil, fmt.Errorf("markets: %w", err)
	}
	now := time.Now().UTC()
	out := make([]Market, 0, len(rows))
	for _, r := range rows {
		ts := now
		if r.LastUpdated != "" {
			if parsed, err := time.Parse(time.RFC3339, r.LastUpdated); err == nil {
				ts = parsed.UTC()
			}
		}
		out = append(out, Market{
			ID:   r.ID,
			Name: r.Name,
			Datum: market.CoinGecko{
				Coin:      strings.ToUpper(r.Symbol),
				Price:     deref(r.CurrentPrice),
				MarketCap: deref(r.MarketCap),
				Volume:    deref(r.TotalVolume),
				Time:      ts,
			},
		})
	}
	return out, nil
}

// SimplePrice returns the latest price, market cap and volume for ids.
func (c *Client) SimplePrice(ctx context.Context, vs string, ids ...string) (map[string]market.CoinGecko, error) {
	if len(ids) == 0 {
		return map[string]market.CoinGecko{}, nil
	}
	if vs == "" {
		vs = "usd"
	}
	vs = strings.ToLower(vs)
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", vs)
	q.Set("include_market_cap", "true")
	q.Set("include_24hr_vol", "true")
	q.Set("include_last_updated_at", "true")

	var payload map[string]map[string]float64
	if err := c.get(ctx, "/simple/price", q, &payload); err != nil {
		return nil, fmt.Errorf("simple price: %w", err)
	}
	out := make(map[string]market.CoinGecko, len(payload))
	for id, fields := range payload {
		ts := time.Now().UTC()
		if at := fields["last_updated_at"]; at > 0 {
			ts = time.Unix(int64(at), 0).UTC()
		}
		out[id] = market.CoinGecko{
			Price:     fields[vs],
			MarketCap: fields[vs+"_market_cap"],
			Volume:    fields[vs+"_24h_vol"],
			Time:      ts,
		}
	}
	return out, nil
}

// CoinRef is one entry of /coins/list.
type CoinRef struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// CoinsList fetches (once) and returns every coin CoinGecko knows about.
func (c *Client) CoinsList(ctx context.Context) ([]CoinRef, error) {
	c.mu.Lock()
	cached := c.list
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	var list []CoinRef
	if err := c.get(ctx, "/coins/list", nil, &list); err != nil {
		return nil, fmt.Errorf("coins list: %w", err)
	}
	c.mu.Lock()
	c.list = list
	c.mu.Unlock()
	return list, nil
}

// ResolveID maps a ticker such as BTC to its CoinGecko id. Overrides win; otherwise the
// coins list is searched, preferring ids without a hyphen (bridged and wrapped tokens
// usually carry one) and then the shortest id.
func (c *Client) ResolveID(ctx context.Context, coin string) (string, error) {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	c.mu.Lock()
	id, ok := c.ids[coin]
	c.mu.Unlock()
	if ok {
		return id, nil
	}
	list, err := c.CoinsList(ctx)
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, ref := range list {
		if strings.EqualFold(ref.Symbol, coin) {
			candidates = append(candidates, ref.ID)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownCoin, coin)
	}
	sort.Slice(candidates, func(i, j int) bool {
		hi, hj := strings.Contains(candidates[i], "-"), strings.Contains(candidates[j], "-")
		if hi != hj {
			return !hi
		}
		if len(candidates[i]) != len(candidates[j]) {
			return len(candidates[i]) < len(candidates[j])
		}
		return candidates[i] < candidates[j]
	})
	c.mu.Lock()
	c.ids[coin] = candidates[0]
	c.mu.Unlock()
	return candidates[0], nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
