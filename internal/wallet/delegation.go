package wallet

import (
	"fmt"
	"time"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// Action identifies a class of wallet operation subject to delegation.
type Action uint8

// Delegated actions, encoded as a bitmap so the grant can be mirrored
// on-chain later.
const (
	ActionRebalance Action = 1 << iota
	ActionReduce
	ActionClose
	ActionClaim
	ActionCompound
)

var actionNames = map[string]Action{
	"rebalance": ActionRebalance,
	"reduce":    ActionReduce,
	"close":     ActionClose,
	"claim":     ActionClaim,
	"compound":  ActionCompound,
}

// ParseActions converts permission names into a bitmap. Unknown names are
// rejected so a typo in config fails loudly instead of silently granting
// nothing.
func ParseActions(names []string) (Action, error) {
	var mask Action
	for _, name := range names {
		a, ok := actionNames[name]
		if !ok {
			return 0, fmt.Errorf("wallet: unknown permission %q", name)
		}
		mask |= a
	}
	return mask, nil
}

// Guard enforces the delegation envelope on every operation the keeper
// performs with the wallet: the allowed action set, an optional expiry, and
// an optional per-transaction USD ceiling.
type Guard struct {
	allowed     Action
	expiry      time.Time // zero means no expiry
	maxValueUSD float64   // zero or negative means unbounded
}

// NewGuard creates a delegation guard. A zero expiry disables the time
// bound; a non-positive maxValueUSD disables the value ceiling.
func NewGuard(allowed Action, expiry time.Time, maxValueUSD float64) *Guard {
	return &Guard{
		allowed:     allowed,
		expiry:      expiry,
		maxValueUSD: maxValueUSD,
	}
}

// Authorize checks whether the guard permits performing action on a position
// worth valueUSD right now. It returns domain.ErrNotDelegated (wrapped with
// the reason) when the envelope is exceeded.
func (g *Guard) Authorize(action Action, valueUSD float64) error {
	if !g.expiry.IsZero() && time.Now().After(g.expiry) {
		return fmt.Errorf("wallet: delegation expired at %s: %w",
			g.expiry.Format(time.RFC3339), domain.ErrNotDelegated)
	}
	if g.allowed&action == 0 {
		return fmt.Errorf("wallet: action not granted: %w", domain.ErrNotDelegated)
	}
	if g.maxValueUSD > 0 && valueUSD > g.maxValueUSD {
		return fmt.Errorf("wallet: value %.2f exceeds delegated ceiling %.2f: %w",
			valueUSD, g.maxValueUSD, domain.ErrNotDelegated)
	}
	return nil
}

// Allows reports whether action is in the granted set, ignoring expiry and
// value bounds. Used for startup logging of the effective grant.
func (g *Guard) Allows(action Action) bool {
	return g.allowed&action != 0
}
