// internal/pricefeed/http.go
package pricefeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultMaxTries       = 3
	maxBodySize           = 1 << 20
)

// HTTPConfig describes a JSON price endpoint.
type HTTPConfig struct {
	URL string `mapstructure:"url"`
	// Path is a gjson path to the price inside the response, e.g. "ethereum.usd".
	Path     string        `mapstructure:"path"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxTries uint          `mapstructure:"max_tries"`
}

// HTTP polls a JSON endpoint and caches the last good price for CacheTTL.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger

	mu        sync.Mutex
	last      decimal.Decimal
	fetchedAt time.Time
}

// NewHTTP создает фид цены поверх HTTP API
func NewHTTP(cfg HTTPConfig, logger *zap.Logger) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("price feed url is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("price feed path is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = defaultMaxTries
	}
	return &HTTP{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.Named("price_feed"),
	}, nil
}

func (h *HTTP) USDPerNative(ctx context.Context) (decimal.Decimal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg.CacheTTL > 0 && !h.fetchedAt.IsZero() && time.Since(h.fetchedAt) < h.cfg.CacheTTL {
		return h.last, nil
	}

	notify := func(err error, d time.Duration) {
		h.logger.Warn("Price fetch failed, retrying",
			zap.String("url", h.cfg.URL),
			zap.Duration("backoff", d),
			zap.Error(err))
	}

	price, err := backoff.Retry(ctx, func() (decimal.Decimal, error) {
		return h.fetch(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(h.cfg.MaxTries),
		backoff.WithNotify(notify))
	if err != nil {
		if !h.fetchedAt.IsZero() {
			h.logger.Warn("Using stale price",
				zap.String("price", h.last.String()),
				zap.Time("fetched_at", h.fetchedAt),
				zap.Error(err))
			return h.last, nil
		}
		return decimal.Zero, fmt.Errorf("failed to fetch native price: %w", err)
	}

	h.last = price
	h.fetchedAt = time.Now()
	return price, nil
}

func (h *HTTP) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.URL, nil)
	if err != nil {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return decimal.Zero, fmt.Errorf("read response: %w", err)
	}

	h.logger.Debug("price request completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("status", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return decimal.Zero, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return decimal.Zero, backoff.Permanent(fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
	}

	if !gjson.ValidBytes(body) {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("response is not valid json"))
	}
	result := gjson.GetBytes(body, h.cfg.Path)
	if !result.Exists() {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("path %q not found in response", h.cfg.Path))
	}

	// prices come back as numbers or strings depending on the provider
	price, err := decimal.NewFromString(result.String())
	if err != nil {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("parse price %q: %w", result.String(), err))
	}
	if !price.IsPositive() {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("price %s is not positive", price))
	}
	return price, nil
}
