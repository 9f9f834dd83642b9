package keeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

type passiveFixture struct {
	engine  *PassiveEngine
	tracker *Tracker
	venue   *fakeVenue
}

// newPassiveFixture holds positions in two pools. Every token is $1 at zero
// decimals so claimed amounts equal their USD value.
func newPassiveFixture(t *testing.T) *passiveFixture {
	t.Helper()

	tracker := NewTracker(newFakeStore(), nil, testLogger())
	ctx := context.Background()
	tracker.Upsert(ctx, domain.Position{Address: "a1", Pool: "poolA"})
	tracker.Upsert(ctx, domain.Position{Address: "b1", Pool: "poolB"})

	venue := &fakeVenue{
		pools: map[string]domain.Pool{
			"poolA": {
				Address: "poolA",
				TokenX:  domain.TokenInfo{Mint: "mintAX", Decimals: 0},
				TokenY:  domain.TokenInfo{Mint: "mintAY", Decimals: 0},
			},
			"poolB": {
				Address: "poolB",
				TokenX:  domain.TokenInfo{Mint: "mintBX", Decimals: 0},
				TokenY:  domain.TokenInfo{Mint: "mintBY", Decimals: 0},
			},
		},
		activeBin: map[string]domain.ActiveBin{
			"poolA": {BinID: 10},
			"poolB": {BinID: 20},
		},
		positions: []domain.OnChainPosition{
			{Address: "a1", Pool: "poolA", FeeX: 100, FeeY: 50},
			{Address: "b1", Pool: "poolB", FeeX: 30},
		},
		balances: map[string]uint64{},
		claimErr: map[string]error{},
	}

	prices := &fakePrices{prices: map[string]float64{
		"mintAX": 1.0, "mintAY": 1.0, "mintBX": 1.0, "mintBY": 1.0,
	}}

	engine := NewPassiveEngine(tracker, venue, &fakeSubmitter{}, prices, nil, nil, nil, nil,
		PassiveConfig{
			ClaimEnabled:     true,
			ClaimInterval:    3 * time.Hour,
			CompoundEnabled:  true,
			CompoundInterval: time.Hour,
			RangeWidth:       10,
		},
		"wallet1", testLogger(),
	)

	return &passiveFixture{engine: engine, tracker: tracker, venue: venue}
}

func TestClaimAllAccumulatesFees(t *testing.T) {
	ctx := context.Background()
	f := newPassiveFixture(t)

	require.NoError(t, f.engine.ClaimAll(ctx))
	assert.ElementsMatch(t, []string{"poolA", "poolB"}, f.venue.claimCalls)

	a, _ := f.tracker.Get("a1")
	assert.Equal(t, uint64(100), a.ClaimedFeeX)
	assert.Equal(t, uint64(50), a.ClaimedFeeY)
	assert.InDelta(t, 150.0, a.ClaimedFeeUSD, 1e-9)

	// Claims accumulate across ticks.
	require.NoError(t, f.engine.ClaimAll(ctx))
	a, _ = f.tracker.Get("a1")
	assert.Equal(t, uint64(200), a.ClaimedFeeX)
	assert.InDelta(t, 300.0, a.ClaimedFeeUSD, 1e-9)
}

func TestClaimAllIsolatesPoolFailures(t *testing.T) {
	ctx := context.Background()
	f := newPassiveFixture(t)
	f.venue.claimErr["poolA"] = assert.AnError

	require.NoError(t, f.engine.ClaimAll(ctx), "one pool failing must not fail the tick")
	assert.Equal(t, []string{"poolB"}, f.venue.claimCalls)

	b, _ := f.tracker.Get("b1")
	assert.Equal(t, uint64(30), b.ClaimedFeeX)
}

func TestClaimAllSkipsPositionsWithoutFees(t *testing.T) {
	ctx := context.Background()
	f := newPassiveFixture(t)
	for i := range f.venue.positions {
		f.venue.positions[i].FeeX = 0
		f.venue.positions[i].FeeY = 0
	}

	require.NoError(t, f.engine.ClaimAll(ctx))
	assert.Empty(t, f.venue.claimCalls)
}

func TestCompoundZeroBalanceIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newPassiveFixture(t)

	require.NoError(t, f.engine.Compound(ctx))
	assert.Empty(t, f.venue.openCalls, "nothing to deposit without a wallet balance")
}

func TestCompoundDepositsAboveActiveBin(t *testing.T) {
	ctx := context.Background()
	f := newPassiveFixture(t)
	f.venue.balances["mintAX"] = 500

	require.NoError(t, f.engine.Compound(ctx))

	require.Len(t, f.venue.openCalls, 1)
	open := f.venue.openCalls[0]
	assert.Equal(t, "poolA", open.pool)
	assert.Equal(t, domain.SideX, open.side)
	assert.Equal(t, int32(10), open.minBin)
	assert.Equal(t, int32(20), open.maxBin)
	assert.Equal(t, uint64(500), open.amount)
}
