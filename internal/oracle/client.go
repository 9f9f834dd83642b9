// Package oracle resolves token mints to USD prices using a Jupiter-style
// price API, fronted by the Redis price cache.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// maxBatch is the largest number of mints the price API accepts per request.
const maxBatch = 50

// staleAfter is how old a cached price may be before the oracle refuses to
// serve it and refetches.
const staleAfter = 2 * time.Minute

// Client is the HTTP price oracle. Lookups hit the cache first and fall back
// to the price API; fetched prices are written back so the next loop tick is
// a cache hit.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      domain.PriceCache
	logger     *slog.Logger
}

// New creates a price oracle client.
//
// baseURL is the price API root, e.g. "https://lite-api.jup.ag/price/v3".
// cache may be nil, in which case every lookup goes to the API.
func New(baseURL string, timeout time.Duration, cache domain.PriceCache, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:  cache,
		logger: logger.With(slog.String("component", "oracle")),
	}
}

// priceEntry is the per-mint payload in the price API response.
type priceEntry struct {
	UsdPrice   float64 `json:"usdPrice"`
	BlockID    int64   `json:"blockId"`
	Decimals   int     `json:"decimals"`
	PriceChg24 float64 `json:"priceChange24h"`
}

// GetPrice resolves a single mint to its USD price. It returns
// domain.ErrNoPrice when the oracle does not know the asset; callers skip
// pricing-dependent actions rather than guessing.
func (c *Client) GetPrice(ctx context.Context, mint string) (float64, error) {
	if mint == "" {
		return 0, domain.ErrNoPrice
	}

	if c.cache != nil {
		price, ts, err := c.cache.GetPrice(ctx, mint)
		if err == nil && time.Since(ts) < staleAfter {
			return price, nil
		}
	}

	prices, err := c.fetch(ctx, []string{mint})
	if err != nil {
		return 0, err
	}
	price, ok := prices[mint]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("oracle: mint %s: %w", mint, domain.ErrNoPrice)
	}
	return price, nil
}

// GetPrices resolves multiple mints in as few API calls as possible. Mints
// the oracle does not know are omitted from the result map; only transport
// failures are returned as errors.
func (c *Client) GetPrices(ctx context.Context, mints []string) (map[string]float64, error) {
	result := make(map[string]float64, len(mints))

	var missing []string
	if c.cache != nil {
		for _, mint := range mints {
			price, ts, err := c.cache.GetPrice(ctx, mint)
			if err == nil && time.Since(ts) < staleAfter {
				result[mint] = price
				continue
			}
			missing = append(missing, mint)
		}
	} else {
		missing = mints
	}

	for start := 0; start < len(missing); start += maxBatch {
		end := start + maxBatch
		if end > len(missing) {
			end = len(missing)
		}
		fetched, err := c.fetch(ctx, missing[start:end])
		if err != nil {
			return nil, err
		}
		for mint, price := range fetched {
			result[mint] = price
		}
	}

	return result, nil
}

// fetch queries the price API for the given mints and writes results back to
// the cache.
func (c *Client) fetch(ctx context.Context, mints []string) (map[string]float64, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(mints, ","))

	reqURL := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("oracle: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("oracle: %w", domain.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("oracle: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var entries map[string]priceEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("oracle: decode response: %w", err)
	}

	now := time.Now()
	result := make(map[string]float64, len(entries))
	for mint, entry := range entries {
		if entry.UsdPrice <= 0 {
			continue
		}
		result[mint] = entry.UsdPrice
		if c.cache != nil {
			if err := c.cache.SetPrice(ctx, mint, entry.UsdPrice, now); err != nil {
				c.logger.WarnContext(ctx, "price cache write failed",
					slog.String("mint", mint),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.PriceOracle = (*Client)(nil)
