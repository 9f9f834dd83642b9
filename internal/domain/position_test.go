package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionInRange(t *testing.T) {
	p := Position{MinBinID: 100, MaxBinID: 200}

	assert.True(t, p.InRange(150))
	assert.False(t, p.InRange(100), "range edges count as out")
	assert.False(t, p.InRange(200))
	assert.False(t, p.InRange(99))
	assert.False(t, p.InRange(201))
}

func TestPctThroughRange(t *testing.T) {
	p := Position{MinBinID: 100, MaxBinID: 200}

	assert.InDelta(t, 0.0, p.PctThroughRange(100), 1e-9)
	assert.InDelta(t, 50.0, p.PctThroughRange(150), 1e-9)
	assert.InDelta(t, 100.0, p.PctThroughRange(200), 1e-9)
	assert.InDelta(t, 10.0, p.PctThroughRange(110), 1e-9)

	degenerate := Position{MinBinID: 5, MaxBinID: 5}
	assert.Zero(t, degenerate.PctThroughRange(5))
}

func TestValidateTriggers(t *testing.T) {
	tp, sl := 12.0, 8.0
	zero, negative := 0.0, -3.0

	assert.NoError(t, ValidateTriggers(&tp, &sl))
	assert.NoError(t, ValidateTriggers(&tp, nil))
	assert.NoError(t, ValidateTriggers(nil, &sl))
	assert.NoError(t, ValidateTriggers(nil, nil))

	assert.ErrorIs(t, ValidateTriggers(&zero, nil), ErrInvalidTrigger)
	assert.ErrorIs(t, ValidateTriggers(nil, &negative), ErrInvalidTrigger)
	assert.ErrorIs(t, ValidateTriggers(&sl, &tp), ErrInvalidTrigger, "take-profit at or below stop-loss")
	same := 10.0
	assert.ErrorIs(t, ValidateTriggers(&same, &same), ErrInvalidTrigger)
}

func TestPopulatedBinIDs(t *testing.T) {
	p := OnChainPosition{Bins: []BinLiquidity{
		{BinID: 1, AmountX: 10},
		{BinID: 2},
		{BinID: 3, AmountY: 5},
	}}
	assert.Equal(t, []int32{1, 3}, p.PopulatedBinIDs())

	empty := OnChainPosition{}
	assert.Empty(t, empty.PopulatedBinIDs())
}
