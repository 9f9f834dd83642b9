package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// priceTTL bounds how long a cached price is served. Prices past the TTL
// disappear and force callers back to the oracle.
const priceTTL = 2 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes.
// Each mint's price is stored at key "price:{mint}" with fields "price" and
// "ts" (Unix nanosecond timestamp), expiring after priceTTL.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(mint string) string {
	return "price:" + mint
}

// SetPrice stores the latest USD price and observation time for a mint.
func (pc *PriceCache) SetPrice(ctx context.Context, mint string, price float64, ts time.Time) error {
	key := priceKey(mint)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", mint, err)
	}
	return nil
}

// GetPrice retrieves the latest USD price and observation time for a mint.
// It returns domain.ErrNoPrice when the key does not exist or has expired.
func (pc *PriceCache) GetPrice(ctx context.Context, mint string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(mint)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", mint, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNoPrice
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNoPrice
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", mint, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNoPrice
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", mint, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// GetPrices retrieves the latest prices for multiple mints using a pipeline.
// Mints with no cached price are omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, mints []string) (map[string]float64, error) {
	if len(mints) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(mints))
	for _, mint := range mints {
		cmds[mint] = pipe.HGetAll(ctx, priceKey(mint))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(mints))
	for mint, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		priceStr, ok := vals["price"]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		result[mint] = price
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
