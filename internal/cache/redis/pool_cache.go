package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// poolTTL keeps pool metadata fresh enough for bin-step and token-mint
// lookups while amortizing venue API calls across keeper loops.
const poolTTL = 5 * time.Minute

// PoolCache implements domain.PoolCache using Redis hashes with
// JSON-serialized pool data at key "pool:{address}".
type PoolCache struct {
	rdb *redis.Client
}

// NewPoolCache creates a PoolCache backed by the given Client.
func NewPoolCache(c *Client) *PoolCache {
	return &PoolCache{rdb: c.Underlying()}
}

func poolKey(address string) string { return "pool:" + address }

// Set stores a pool with a 5-minute TTL.
func (pc *PoolCache) Set(ctx context.Context, pool domain.Pool) error {
	data, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("redis: marshal pool %s: %w", pool.Address, err)
	}

	key := poolKey(pool.Address)

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, poolTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set pool %s: %w", pool.Address, err)
	}
	return nil
}

// Get retrieves a pool by its address.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PoolCache) Get(ctx context.Context, address string) (domain.Pool, error) {
	data, err := pc.rdb.HGet(ctx, poolKey(address), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("redis: get pool %s: %w", address, err)
	}

	var pool domain.Pool
	if err := json.Unmarshal(data, &pool); err != nil {
		return domain.Pool{}, fmt.Errorf("redis: unmarshal pool %s: %w", address, err)
	}
	return pool, nil
}

// Compile-time interface check.
var _ domain.PoolCache = (*PoolCache)(nil)
