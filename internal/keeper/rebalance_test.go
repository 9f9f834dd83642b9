package keeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

type rebalanceFixture struct {
	engine    *RebalanceEngine
	tracker   *Tracker
	venue     *fakeVenue
	submitter *fakeSubmitter
	cooldowns *fakeCooldowns
}

// newRebalanceFixture tracks one position over bins [100, 200] with width-10
// recreation.
func newRebalanceFixture(t *testing.T, activeBin int32) *rebalanceFixture {
	t.Helper()

	tracker := NewTracker(newFakeStore(), nil, testLogger())
	tracker.Upsert(context.Background(), domain.Position{
		Address:       "old",
		Pool:          "pool1",
		MinBinID:      100,
		MaxBinID:      200,
		StartingValue: 500,
		CurrentValue:  480,
	})

	venue := &fakeVenue{
		activeBin: map[string]domain.ActiveBin{
			"pool1": {BinID: activeBin, PricePerToken: 1.0},
		},
		positions: []domain.OnChainPosition{{
			Address:    "old",
			Pool:       "pool1",
			LowerBinID: 100,
			UpperBinID: 200,
			AmountX:    1000,
			AmountY:    2000,
			Bins:       []domain.BinLiquidity{{BinID: 150, AmountX: 1000, AmountY: 2000}},
		}},
	}

	submitter := &fakeSubmitter{}
	cooldowns := newFakeCooldowns()

	engine := NewRebalanceEngine(tracker, venue, submitter, cooldowns, nil, nil, nil, nil,
		RebalanceConfig{
			Cooldown:       5 * time.Minute,
			RangeWidth:     10,
			EdgeWarningPct: 30,
		},
		"wallet1", testLogger(),
	)

	return &rebalanceFixture{
		engine:    engine,
		tracker:   tracker,
		venue:     venue,
		submitter: submitter,
		cooldowns: cooldowns,
	}
}

// appendOnOpen makes the position created by a reopen visible to the next
// UserPositions call, the way the chain would.
func (f *rebalanceFixture) appendOnOpen(address string) {
	f.venue.onOpen = func(c openCall) {
		f.venue.positions = append(f.venue.positions, domain.OnChainPosition{
			Address:    address,
			Pool:       c.pool,
			LowerBinID: c.minBin,
			UpperBinID: c.maxBin,
		})
	}
}

func TestRebalanceBelowRangeReopensTokenXSide(t *testing.T) {
	ctx := context.Background()
	f := newRebalanceFixture(t, 90) // below MinBinID 100
	f.appendOnOpen("new")

	require.NoError(t, f.engine.CheckAndRebalance(ctx))

	// Full withdrawal with close.
	require.Len(t, f.venue.removeCalls, 1)
	assert.Equal(t, uint16(10000), f.venue.removeCalls[0].bps)
	assert.True(t, f.venue.removeCalls[0].closeAfter)

	// Reopened X-sided at [activeBin, activeBin+W] with the exact recovered
	// token X amount.
	require.Len(t, f.venue.openCalls, 1)
	open := f.venue.openCalls[0]
	assert.Equal(t, domain.SideX, open.side)
	assert.Equal(t, int32(90), open.minBin)
	assert.Equal(t, int32(100), open.maxBin)
	assert.Equal(t, uint64(1000), open.amount)

	// Provenance transferred to the new record.
	newPos, ok := f.tracker.Get("new")
	require.True(t, ok)
	assert.Equal(t, 500.0, newPos.StartingValue)
	assert.Equal(t, 1, newPos.RebalanceCount)
	assert.Equal(t, "old", newPos.PreviousAddress)
	assert.Equal(t, int32(90), newPos.OriginalActiveBin)
	_, ok = f.tracker.Get("old")
	assert.False(t, ok)
}

func TestRebalanceAboveRangeReopensTokenYSide(t *testing.T) {
	ctx := context.Background()
	f := newRebalanceFixture(t, 210) // above MaxBinID 200
	f.appendOnOpen("new")

	require.NoError(t, f.engine.CheckAndRebalance(ctx))

	require.Len(t, f.venue.openCalls, 1)
	open := f.venue.openCalls[0]
	assert.Equal(t, domain.SideY, open.side)
	assert.Equal(t, int32(200), open.minBin)
	assert.Equal(t, int32(210), open.maxBin)
	assert.Equal(t, uint64(2000), open.amount, "Y-sided reopen uses the recovered token Y amount")
}

func TestRebalanceCooldownAllowsOneExecution(t *testing.T) {
	ctx := context.Background()
	f := newRebalanceFixture(t, 90)

	// Two ticks inside one cooldown window: the second arm fails and the
	// position is left alone.
	require.NoError(t, f.engine.CheckAndRebalance(ctx))
	require.NoError(t, f.engine.CheckAndRebalance(ctx))

	assert.Len(t, f.venue.openCalls, 1)
	assert.Len(t, f.venue.removeCalls, 1)
	assert.Equal(t, []string{"rebalance:old", "rebalance:old"}, f.cooldowns.armCalls)
}

func TestRebalanceSkipsWhenPriceReturnsToRange(t *testing.T) {
	ctx := context.Background()
	f := newRebalanceFixture(t, 90)

	// First fetch (tick scan) sees the price out of range; the re-verify
	// right before execution sees it back inside.
	calls := 0
	f.venue.activeBinFn = func(string) (domain.ActiveBin, error) {
		calls++
		if calls == 1 {
			return domain.ActiveBin{BinID: 90}, nil
		}
		return domain.ActiveBin{BinID: 150}, nil
	}

	require.NoError(t, f.engine.CheckAndRebalance(ctx))

	assert.Empty(t, f.venue.removeCalls)
	assert.Empty(t, f.venue.openCalls)
	// The cooldown stays armed: the position had its chance this window.
	active, _ := f.cooldowns.Active(ctx, "rebalance:old")
	assert.True(t, active)
}

func TestRebalanceInRangeWarnsNearEdge(t *testing.T) {
	ctx := context.Background()
	alerter := &fakeAlerter{}
	f := newRebalanceFixture(t, 110) // 10% through [100, 200]
	f.engine.alerter = alerter

	require.NoError(t, f.engine.CheckAndRebalance(ctx))

	assert.Empty(t, f.venue.removeCalls)
	assert.Empty(t, f.venue.openCalls)
	require.Len(t, alerter.alerts, 1, "10%% through the range is inside the 30%% warning band")
}

func TestRebalanceInRangeCenterIsQuiet(t *testing.T) {
	ctx := context.Background()
	alerter := &fakeAlerter{}
	f := newRebalanceFixture(t, 150)
	f.engine.alerter = alerter

	require.NoError(t, f.engine.CheckAndRebalance(ctx))
	assert.Empty(t, alerter.alerts)
	assert.Empty(t, f.venue.removeCalls)
}

func TestRebalanceSeedsUntrackedPosition(t *testing.T) {
	ctx := context.Background()
	f := newRebalanceFixture(t, 90)
	f.venue.positions = append(f.venue.positions, domain.OnChainPosition{
		Address:    "unknown",
		Pool:       "pool1",
		LowerBinID: 300,
		UpperBinID: 400,
	})
	f.appendOnOpen("new")

	require.NoError(t, f.engine.CheckAndRebalance(ctx))

	seeded, ok := f.tracker.Get("unknown")
	require.True(t, ok, "unknown on-chain position gets tracked")
	assert.Equal(t, int32(300), seeded.MinBinID)
	assert.Equal(t, int32(400), seeded.MaxBinID)
}

func TestRebalanceNothingRecoveredDoesNotReopen(t *testing.T) {
	ctx := context.Background()
	f := newRebalanceFixture(t, 90)
	f.venue.positions[0].AmountX = 0

	require.NoError(t, f.engine.CheckAndRebalance(ctx))

	assert.Len(t, f.venue.removeCalls, 1)
	assert.Empty(t, f.venue.openCalls, "zero recovered amount means no reopen")
}
