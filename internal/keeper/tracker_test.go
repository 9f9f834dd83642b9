package keeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

func TestTrackerUpsertPreservesProvenance(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(newFakeStore(), nil, testLogger())

	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	tp := 12.0
	tracker.Upsert(ctx, domain.Position{
		Address:           "pos1",
		Pool:              "pool1",
		StartingValue:     100,
		OriginalStartDate: start,
		ClaimedFeeX:       5,
		ClaimedFeeUSD:     1.5,
		RebalanceCount:    2,
		PreviousAddress:   "pos0",
		TakeProfitPrice:   &tp,
	})

	// A refresh that carries none of the provenance fields must not erase them.
	tracker.Upsert(ctx, domain.Position{
		Address:      "pos1",
		Pool:         "pool1",
		MinBinID:     10,
		MaxBinID:     20,
		CurrentValue: 95,
	})

	got, ok := tracker.Get("pos1")
	require.True(t, ok)
	assert.Equal(t, 100.0, got.StartingValue)
	assert.Equal(t, start, got.OriginalStartDate)
	assert.Equal(t, uint64(5), got.ClaimedFeeX)
	assert.Equal(t, 1.5, got.ClaimedFeeUSD)
	assert.Equal(t, 2, got.RebalanceCount)
	assert.Equal(t, "pos0", got.PreviousAddress)
	require.NotNil(t, got.TakeProfitPrice)
	assert.Equal(t, 12.0, *got.TakeProfitPrice)
	assert.Equal(t, 95.0, got.CurrentValue)
	assert.Equal(t, int32(10), got.MinBinID)
}

func TestTrackerTransferHistory(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	tracker := NewTracker(store, nil, testLogger())

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sl := 4.0
	tracker.Upsert(ctx, domain.Position{
		Address:           "old",
		Pool:              "pool1",
		StartingValue:     250,
		OriginalStartDate: start,
		ClaimedFeeX:       7,
		ClaimedFeeY:       3,
		ClaimedFeeUSD:     2.2,
		RebalanceCount:    1,
		StopLossPrice:     &sl,
	})

	got := tracker.TransferHistory(ctx, "old", domain.Position{
		Address:      "new",
		Pool:         "pool1",
		MinBinID:     50,
		MaxBinID:     60,
		CurrentValue: 240,
	})

	assert.Equal(t, 250.0, got.StartingValue)
	assert.Equal(t, start, got.OriginalStartDate)
	assert.Equal(t, uint64(7), got.ClaimedFeeX)
	assert.Equal(t, uint64(3), got.ClaimedFeeY)
	assert.Equal(t, 2.2, got.ClaimedFeeUSD)
	assert.Equal(t, 2, got.RebalanceCount)
	assert.Equal(t, "old", got.PreviousAddress)
	require.NotNil(t, got.StopLossPrice)
	assert.Equal(t, 4.0, *got.StopLossPrice)

	_, ok := tracker.Get("old")
	assert.False(t, ok, "old record must be gone")
	_, ok = tracker.Get("new")
	assert.True(t, ok)

	// Durable mirror followed: old deleted, new upserted.
	assert.Contains(t, store.deletes, "old")
	_, err := store.GetByAddress(ctx, "new")
	assert.NoError(t, err)
}

func TestTrackerTransferHistoryUnknownOldSeedsFresh(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(newFakeStore(), nil, testLogger())

	got := tracker.TransferHistory(ctx, "never-seen", domain.Position{
		Address:      "new",
		Pool:         "pool1",
		CurrentValue: 80,
	})

	assert.Equal(t, 80.0, got.StartingValue)
	assert.Equal(t, 0, got.RebalanceCount)
	assert.Empty(t, got.PreviousAddress)
	assert.False(t, got.OriginalStartDate.IsZero())
}

func TestTrackerReconcile(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	tracker := NewTracker(store, nil, testLogger())

	tracker.Upsert(ctx, domain.Position{Address: "a", Pool: "pool1", StartingValue: 10})
	tracker.Upsert(ctx, domain.Position{Address: "b", Pool: "pool1", StartingValue: 20})

	onChain := []domain.OnChainPosition{
		{Address: "b", Pool: "pool1", LowerBinID: 1, UpperBinID: 9},
		{Address: "c", Pool: "pool2", LowerBinID: 100, UpperBinID: 169, AmountX: 42},
	}
	tracker.Reconcile(ctx, onChain)

	_, ok := tracker.Get("a")
	assert.False(t, ok, "stale record must be dropped")
	assert.Contains(t, store.deletes, "a")

	b, ok := tracker.Get("b")
	require.True(t, ok)
	assert.Equal(t, 20.0, b.StartingValue, "known record untouched")

	c, ok := tracker.Get("c")
	require.True(t, ok)
	assert.Equal(t, int32(100), c.MinBinID)
	assert.Equal(t, int32(169), c.MaxBinID)
	assert.Equal(t, uint64(42), c.AmountX)

	// Second pass with the same input changes nothing.
	before := tracker.All()
	tracker.Reconcile(ctx, onChain)
	assert.ElementsMatch(t, before, tracker.All())
}

func TestTrackerRemoveArchives(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	archiver := &fakeArchiver{}
	tracker := NewTracker(store, archiver, testLogger())

	tracker.Upsert(ctx, domain.Position{Address: "pos1", Pool: "pool1"})
	tracker.Remove(ctx, "pos1", "take_profit")

	_, ok := tracker.Get("pos1")
	assert.False(t, ok)
	require.Len(t, archiver.archived, 1)
	assert.Equal(t, "pos1", archiver.archived[0].address)
	assert.Equal(t, "take_profit", archiver.archived[0].reason)
	assert.Contains(t, store.deletes, "pos1")

	// Removing an unknown address is a no-op.
	tracker.Remove(ctx, "ghost", "whatever")
	assert.Len(t, archiver.archived, 1)
}

func TestTrackerSetTriggers(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(nil, nil, testLogger())
	tracker.Upsert(ctx, domain.Position{Address: "pos1", Pool: "pool1"})

	tp, sl := 10.0, 8.0
	require.NoError(t, tracker.SetTriggers(ctx, "pos1", &tp, &sl))

	got, _ := tracker.Get("pos1")
	require.NotNil(t, got.TakeProfitPrice)
	require.NotNil(t, got.StopLossPrice)
	assert.Equal(t, 10.0, *got.TakeProfitPrice)

	badTP, badSL := 5.0, 8.0
	err := tracker.SetTriggers(ctx, "pos1", &badTP, &badSL)
	assert.ErrorIs(t, err, domain.ErrInvalidTrigger)

	err = tracker.SetTriggers(ctx, "ghost", &tp, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTrackerLoad(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.records["pos1"] = domain.Position{Address: "pos1", Pool: "pool1"}
	store.records["pos2"] = domain.Position{Address: "pos2", Pool: "pool2"}

	tracker := NewTracker(store, nil, testLogger())
	require.NoError(t, tracker.Load(ctx))
	assert.Len(t, tracker.All(), 2)
}
