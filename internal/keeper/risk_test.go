package keeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// riskFixture wires a RiskEngine over a single pool whose token X is worth
// $1 with zero decimals, so a position's USD value equals its raw AmountX.
type riskFixture struct {
	engine    *RiskEngine
	tracker   *Tracker
	venue     *fakeVenue
	submitter *fakeSubmitter
	cooldowns *fakeCooldowns
	alerter   *fakeAlerter
}

func newRiskFixture(t *testing.T, amountX uint64, snapshot float64) *riskFixture {
	t.Helper()

	tracker := NewTracker(newFakeStore(), nil, testLogger())
	tracker.Upsert(context.Background(), domain.Position{
		Address:       "pos1",
		Pool:          "pool1",
		MinBinID:      0,
		MaxBinID:      100,
		SnapshotValue: snapshot,
	})

	venue := &fakeVenue{
		pools: map[string]domain.Pool{
			"pool1": {
				Address: "pool1",
				TokenX:  domain.TokenInfo{Mint: "mintX", Symbol: "X", Decimals: 0},
				TokenY:  domain.TokenInfo{Mint: "mintY", Symbol: "Y", Decimals: 0},
			},
		},
		positions: []domain.OnChainPosition{{
			Address:    "pos1",
			Pool:       "pool1",
			LowerBinID: 0,
			UpperBinID: 100,
			AmountX:    amountX,
			Bins:       []domain.BinLiquidity{{BinID: 50, AmountX: amountX}},
		}},
	}

	submitter := &fakeSubmitter{}
	cooldowns := newFakeCooldowns()
	alerter := &fakeAlerter{}
	prices := &fakePrices{prices: map[string]float64{"mintX": 1.0, "mintY": 1.0}}

	engine := NewRiskEngine(tracker, venue, submitter, prices, cooldowns, nil, nil, alerter, nil,
		RiskConfig{
			Cooldown:             10 * time.Minute,
			DrawdownThresholdPct: 15,
			ReductionBps:         5000,
			VolumeWindow:         12,
			VolumeCollapseRatio:  0.5,
		},
		"wallet1", testLogger(),
	)

	return &riskFixture{
		engine:    engine,
		tracker:   tracker,
		venue:     venue,
		submitter: submitter,
		cooldowns: cooldowns,
		alerter:   alerter,
	}
}

func TestManageRiskReducesOnDrawdown(t *testing.T) {
	ctx := context.Background()
	// 100 -> 84 is a 16% single-interval drop, past the 15% threshold.
	f := newRiskFixture(t, 84, 100)

	require.NoError(t, f.engine.ManageRisk(ctx))

	require.Len(t, f.venue.removeCalls, 1)
	call := f.venue.removeCalls[0]
	assert.Equal(t, "pos1", call.address)
	assert.Equal(t, uint16(5000), call.bps)
	assert.False(t, call.closeAfter, "a reduction must not close the account")
	assert.Equal(t, 1, f.submitter.calls)

	// Global cooldown armed and the breaker alert sent.
	active, _ := f.cooldowns.Active(ctx, "risk:global")
	assert.True(t, active)
	assert.NotEmpty(t, f.alerter.alerts)

	// Snapshot re-baselined at the post-reduction value: 84 * (1 - 0.5).
	got, _ := f.tracker.Get("pos1")
	assert.InDelta(t, 42.0, got.SnapshotValue, 1e-9)
}

func TestManageRiskBelowThresholdTakesNoAction(t *testing.T) {
	ctx := context.Background()
	// 100 -> 86 is 14%, under the threshold.
	f := newRiskFixture(t, 86, 100)

	require.NoError(t, f.engine.ManageRisk(ctx))

	assert.Empty(t, f.venue.removeCalls)
	assert.Zero(t, f.submitter.calls)
	active, _ := f.cooldowns.Active(ctx, "risk:global")
	assert.False(t, active)

	// The observation still refreshes the drawdown reference.
	got, _ := f.tracker.Get("pos1")
	assert.InDelta(t, 86.0, got.SnapshotValue, 1e-9)
}

func TestManageRiskSlowBleedNeverTrips(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t, 100, 100)

	// 10% down per tick: each tick re-baselines, so no single interval ever
	// exceeds the threshold even though the cumulative loss does.
	for _, amount := range []uint64{90, 81, 73, 66} {
		f.venue.positions[0].AmountX = amount
		f.venue.positions[0].Bins[0].AmountX = amount
		require.NoError(t, f.engine.ManageRisk(ctx))
	}

	assert.Empty(t, f.venue.removeCalls)
	got, _ := f.tracker.Get("pos1")
	assert.InDelta(t, 66.0, got.SnapshotValue, 1e-9)
}

func TestManageRiskCooldownSkipsTick(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t, 50, 100)

	_, err := f.cooldowns.Arm(ctx, "risk:global", time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.engine.ManageRisk(ctx))
	assert.Zero(t, f.venue.listCalls, "a cooled-down tick must not touch the venue")
	assert.Empty(t, f.venue.removeCalls)
}

func TestManageRiskMissingPriceSkipsValuation(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t, 10, 100)
	f.engine.prices = &fakePrices{prices: map[string]float64{}}

	require.NoError(t, f.engine.ManageRisk(ctx))
	assert.Empty(t, f.venue.removeCalls, "no price means no verdict")

	// Snapshot untouched; the stale reference stays until a price arrives.
	got, _ := f.tracker.Get("pos1")
	assert.InDelta(t, 100.0, got.SnapshotValue, 1e-9)
}

func TestCloseAllPositions(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t, 80, 100)
	archiver := &fakeArchiver{}
	f.tracker.archiver = archiver

	require.NoError(t, f.engine.CloseAllPositions(ctx, true))

	require.Len(t, f.venue.removeCalls, 1)
	assert.Equal(t, uint16(10000), f.venue.removeCalls[0].bps)
	assert.True(t, f.venue.removeCalls[0].closeAfter)

	_, ok := f.tracker.Get("pos1")
	assert.False(t, ok, "permanent close drops the record")
	require.Len(t, archiver.archived, 1)
	assert.Equal(t, "close_all", archiver.archived[0].reason)
}

func TestCloseAllPositionsReportsFailures(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t, 80, 100)
	f.submitter.err = assert.AnError

	err := f.engine.CloseAllPositions(ctx, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1")

	_, ok := f.tracker.Get("pos1")
	assert.True(t, ok, "a failed close keeps the record")
}

func TestVolumeMonitorObserve(t *testing.T) {
	m := NewVolumeMonitor(3, 0.5)
	token := domain.TokenInfo{Mint: "mintX", Volume24h: 100, MarketCap: 100}

	// Before the window fills the verdict is always false.
	for i := 0; i < 3; i++ {
		assert.False(t, m.Observe(token))
	}

	// Ratio drops to 0.4 against a moving average of 1.0: below 1.0 * 0.5.
	token.Volume24h = 40
	assert.True(t, m.Observe(token))

	// Tokens without market cap data never collapse.
	assert.False(t, m.Observe(domain.TokenInfo{Mint: "mintY", Volume24h: 0, MarketCap: 0}))
}
