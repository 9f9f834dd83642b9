package keeper

import (
	"math"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// derivePoolPrice turns a pool's active-bin price (quote units per base
// token) plus both tokens' oracle USD prices into the price triggers compare
// against. When one side trades inside the stable band around $1.00 the bin
// price is already a USD price (directly for a stable quote, inverted for a
// stable base). Otherwise the cross-rate of the two USD prices is used. If
// nothing is derivable the pool is skipped rather than priced wrong.
func derivePoolPrice(binPrice, usdX, usdY, stableBand float64) (float64, error) {
	stable := func(p float64) bool {
		return p > 0 && math.Abs(p-1) <= stableBand
	}

	switch {
	case stable(usdY):
		if binPrice <= 0 {
			return 0, domain.ErrNoPrice
		}
		return binPrice, nil
	case stable(usdX):
		if binPrice <= 0 {
			return 0, domain.ErrNoPrice
		}
		return 1 / binPrice, nil
	case usdX > 0 && usdY > 0:
		return usdX / usdY, nil
	}
	return 0, domain.ErrNoPrice
}

// positionValueUSD computes a position's USD value from its raw token
// amounts and the pool tokens' oracle prices. It returns false when either
// needed price is missing; callers skip valuation-dependent actions rather
// than act on a partial number.
func positionValueUSD(pool domain.Pool, amountX, amountY uint64, prices map[string]float64) (float64, bool) {
	var value float64

	if amountX > 0 {
		px, ok := prices[pool.TokenX.Mint]
		if !ok || px <= 0 {
			return 0, false
		}
		value += rawToFloat(amountX, pool.TokenX.Decimals) * px
	}
	if amountY > 0 {
		py, ok := prices[pool.TokenY.Mint]
		if !ok || py <= 0 {
			return 0, false
		}
		value += rawToFloat(amountY, pool.TokenY.Decimals) * py
	}
	return value, true
}

// rawToFloat converts a raw token amount to its decimal representation.
func rawToFloat(amount uint64, decimals uint8) float64 {
	return float64(amount) / math.Pow10(int(decimals))
}

// drawdownPct is the sequential-delta drawdown between the previous
// observation and the current value, in percent. A zero or negative
// reference yields zero so fresh positions never trip the breaker.
func drawdownPct(prevSnapshot, current float64) float64 {
	if prevSnapshot <= 0 {
		return 0
	}
	return (prevSnapshot - current) / prevSnapshot * 100
}
