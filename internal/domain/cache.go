package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest USD prices by mint.
type PriceCache interface {
	SetPrice(ctx context.Context, mint string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, mint string) (float64, time.Time, error)
	GetPrices(ctx context.Context, mints []string) (map[string]float64, error)
}

// PoolCache caches pool metadata to amortize venue lookups. Entries expire
// on their own; a Set overwrites any stale value.
type PoolCache interface {
	Set(ctx context.Context, pool Pool) error
	Get(ctx context.Context, address string) (Pool, error)
}

// SignalBus publishes keeper lifecycle events (position opened, rebalanced,
// closed, breaker tripped, trigger fired) to interested subscribers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// PriceOracle resolves a token mint to its USD price. Implementations
// degrade to an error (never a bogus price) when the asset is unknown;
// callers treat a failed lookup as "skip pricing-dependent action".
type PriceOracle interface {
	GetPrice(ctx context.Context, mint string) (float64, error)
}

// CooldownGate provides check-and-set cooldown semantics. Arm returns true
// when the key was not on cooldown and is now armed for ttl; it returns
// false (and leaves the existing cooldown untouched) when the key is still
// cooling down. Clear removes an active cooldown early.
type CooldownGate interface {
	Arm(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Active(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, key string) error
}
