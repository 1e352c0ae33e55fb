package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable is returned when no price can be served, fresh or stale.
var ErrUnavailable = errors.New("coingecko: price unavailable")

// Config holds price lookup settings.
type Config struct {
	BaseURL  string        `env:"COINGECKO_API_URL" envDefault:"https://api.coingecko.com/api/v3"`
	APIKey   string        `env:"COINGECKO_API_KEY"`
	Timeout  time.Duration `env:"COINGECKO_TIMEOUT" envDefault:"10s"`
	CacheTTL time.Duration `env:"BITCOIN_PRICE_CACHE_TTL" envDefault:"5m"`
}

type cachedPrice struct {
	value     float64
	fetchedAt time.Time
}

// Client fetches and caches Bitcoin spot prices.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cacheTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger sets the logger for lookup diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a CoinGecko price client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cacheTTL:   cfg.CacheTTL,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CurrentPrice returns the Bitcoin price in the given currency ("usd",
// "kes", ...). Served from cache while fresh; a stale cached value is
// preferred over failing when the upstream is unreachable.
func (c *Client) CurrentPrice(ctx context.Context, currency string) (float64, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}

	now := c.now()

	c.mu.Lock()
	cached, hasCached := c.cache[currency]
	c.mu.Unlock()

	if hasCached && now.Sub(cached.fetchedAt) <= c.cacheTTL {
		return cached.value, nil
	}

	price, err := c.fetch(ctx, currency)
	if err != nil {
		if hasCached {
			c.logger.WarnContext(ctx, "serving stale bitcoin price",
				slog.String("currency", currency),
				slog.Duration("age", now.Sub(cached.fetchedAt)),
				slog.String("error", err.Error()))
			return cached.value, nil
		}
		return 0, errors.Join(ErrUnavailable, err)
	}

	c.mu.Lock()
	if c.cache == nil {
		c.cache = make(map[string]cachedPrice)
	}
	c.cache[currency] = cachedPrice{value: price, fetchedAt: now}
	c.mu.Unlock()

	return price, nil
}

func (c *Client) fetch(ctx context.Context, currency string) (float64, error) {
	endpoint := c.baseURL + "/simple/price?ids=bitcoin&vs_currencies=" + url.QueryEscape(currency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, err
	}

	price, ok := payload["bitcoin"][currency]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("no %s quote in response", currency)
	}
	return price, nil
}
