package dlmm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The API quotes raw token amounts as strings to avoid JSON number precision
// loss; decoding must survive amounts beyond 2^53.
func TestAPIPositionDecodesStringAmounts(t *testing.T) {
	payload := `{
		"address": "pos1",
		"pool": "pool1",
		"lowerBinId": -10,
		"upperBinId": 59,
		"amountX": "18014398509481984",
		"amountY": "0",
		"feeX": "12",
		"feeY": "34",
		"bins": [{"binId": -3, "amountX": "100", "amountY": "200"}]
	}`

	var p apiPosition
	require.NoError(t, json.Unmarshal([]byte(payload), &p))

	got := p.toDomain()
	assert.Equal(t, int32(-10), got.LowerBinID)
	assert.Equal(t, uint64(18014398509481984), got.AmountX)
	assert.Equal(t, uint64(12), got.FeeX)
	require.Len(t, got.Bins, 1)
	assert.Equal(t, int32(-3), got.Bins[0].BinID)
	assert.Equal(t, []int32{-3}, got.PopulatedBinIDs())
}
