package wallet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

func TestParseActions(t *testing.T) {
	mask, err := ParseActions([]string{"rebalance", "claim"})
	require.NoError(t, err)
	assert.True(t, mask&ActionRebalance != 0)
	assert.True(t, mask&ActionClaim != 0)
	assert.True(t, mask&ActionClose == 0)

	_, err = ParseActions([]string{"rebalance", "format-disk"})
	assert.Error(t, err)

	mask, err = ParseActions(nil)
	require.NoError(t, err)
	assert.Zero(t, mask)
}

func TestGuardAuthorize(t *testing.T) {
	g := NewGuard(ActionRebalance|ActionClaim, time.Time{}, 1000)

	assert.NoError(t, g.Authorize(ActionRebalance, 500))
	assert.NoError(t, g.Authorize(ActionClaim, 0))

	err := g.Authorize(ActionClose, 0)
	assert.ErrorIs(t, err, domain.ErrNotDelegated)

	err = g.Authorize(ActionRebalance, 1500)
	assert.ErrorIs(t, err, domain.ErrNotDelegated, "value above the ceiling")
}

func TestGuardExpiry(t *testing.T) {
	expired := NewGuard(ActionRebalance, time.Now().Add(-time.Minute), 0)
	err := expired.Authorize(ActionRebalance, 0)
	assert.ErrorIs(t, err, domain.ErrNotDelegated)

	live := NewGuard(ActionRebalance, time.Now().Add(time.Hour), 0)
	assert.NoError(t, live.Authorize(ActionRebalance, 0))
}

func TestGuardUnboundedValue(t *testing.T) {
	g := NewGuard(ActionCompound, time.Time{}, 0)
	assert.NoError(t, g.Authorize(ActionCompound, 1e12), "zero ceiling means uncapped")
}

func TestGuardAllows(t *testing.T) {
	g := NewGuard(ActionReduce, time.Now().Add(-time.Minute), 0)
	assert.True(t, g.Allows(ActionReduce), "Allows ignores expiry")
	assert.False(t, g.Allows(ActionClose))
}
