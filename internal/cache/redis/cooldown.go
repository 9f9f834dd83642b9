package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// CooldownGate implements domain.CooldownGate using Redis SETNX with a TTL.
// Cooldowns armed here survive keeper restarts, which matters for the global
// risk cooldown: a breaker that tripped seconds before a crash must still be
// honored when the process comes back.
type CooldownGate struct {
	rdb *redis.Client
}

// NewCooldownGate creates a CooldownGate backed by the given Client.
func NewCooldownGate(c *Client) *CooldownGate {
	return &CooldownGate{rdb: c.Underlying()}
}

func cooldownKey(key string) string {
	return "cooldown:" + key
}

// Arm attempts to start a cooldown for key. It returns true when the key was
// idle and is now cooling down for ttl, false when a cooldown is already
// active. The existing cooldown's expiry is never extended by a failed Arm.
func (cg *CooldownGate) Arm(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := cg.rdb.SetNX(ctx, cooldownKey(key), time.Now().UnixNano(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: arm cooldown %s: %w", key, err)
	}
	return ok, nil
}

// Active reports whether a cooldown is currently in effect for key.
func (cg *CooldownGate) Active(ctx context.Context, key string) (bool, error) {
	err := cg.rdb.Get(ctx, cooldownKey(key)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis: check cooldown %s: %w", key, err)
	}
	return true, nil
}

// Clear removes an active cooldown ahead of its expiry.
func (cg *CooldownGate) Clear(ctx context.Context, key string) error {
	if err := cg.rdb.Del(ctx, cooldownKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: clear cooldown %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CooldownGate = (*CooldownGate)(nil)
