package domain

import (
	"fmt"
	"time"
)

// Side identifies which of a pool's two tokens funds a single-sided position.
type Side string

const (
	SideX Side = "x"
	SideY Side = "y"
)

// TriggerType identifies which configured trigger fired on a position.
type TriggerType string

const (
	TriggerTakeProfit TriggerType = "take_profit"
	TriggerStopLoss   TriggerType = "stop_loss"
)

// Position is the tracked record of a single on-chain liquidity deposit.
//
// StartingValue, OriginalStartDate and the cumulative claimed fees are
// provenance fields: they survive every rebalance and are only reset when a
// position is opened fresh. SnapshotValue is the drawdown reference and is
// refreshed on every risk-engine observation.
type Position struct {
	Address string // position account, base58
	Pool    string // pool account, base58

	MinBinID          int32
	MaxBinID          int32
	OriginalActiveBin int32

	AmountX uint64 // raw token X amount deposited
	AmountY uint64 // raw token Y amount deposited

	SnapshotValue     float64 // quote value at last observation
	StartingValue     float64 // quote value at first open, carried across rebalances
	CurrentValue      float64
	OriginalStartDate time.Time

	ClaimedFeeX   uint64
	ClaimedFeeY   uint64
	ClaimedFeeUSD float64

	RebalanceCount  int
	PreviousAddress string // position this one replaced; empty for fresh opens

	TakeProfitPrice *float64
	StopLossPrice   *float64

	UpdatedAt time.Time
}

// HasTriggers reports whether at least one of TP/SL is configured.
func (p Position) HasTriggers() bool {
	return p.TakeProfitPrice != nil || p.StopLossPrice != nil
}

// InRange reports whether the given active bin lies strictly inside the
// position's bin range.
func (p Position) InRange(activeBin int32) bool {
	return activeBin > p.MinBinID && activeBin < p.MaxBinID
}

// PctThroughRange returns how far the active bin sits through the range, in
// percent: 0 at MinBinID, 100 at MaxBinID. Degenerate ranges return 0.
func (p Position) PctThroughRange(activeBin int32) float64 {
	width := p.MaxBinID - p.MinBinID
	if width <= 0 {
		return 0
	}
	return float64(activeBin-p.MinBinID) / float64(width) * 100
}

// ValidateTriggers checks a take-profit / stop-loss pair. Prices must be
// strictly positive, and when both are set the take-profit must exceed the
// stop-loss. A nil pointer means the trigger is not being set.
func ValidateTriggers(takeProfit, stopLoss *float64) error {
	if takeProfit != nil && *takeProfit <= 0 {
		return fmt.Errorf("%w: take-profit price must be positive, got %v", ErrInvalidTrigger, *takeProfit)
	}
	if stopLoss != nil && *stopLoss <= 0 {
		return fmt.Errorf("%w: stop-loss price must be positive, got %v", ErrInvalidTrigger, *stopLoss)
	}
	if takeProfit != nil && stopLoss != nil && *takeProfit <= *stopLoss {
		return fmt.Errorf("%w: take-profit %v must exceed stop-loss %v", ErrInvalidTrigger, *takeProfit, *stopLoss)
	}
	return nil
}
