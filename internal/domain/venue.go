package domain

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// BinLiquidity is the share of a position's liquidity sitting in one bin.
type BinLiquidity struct {
	BinID   int32
	AmountX uint64
	AmountY uint64
}

// OnChainPosition is the venue's view of a live position. It is the
// reconciliation source of truth: anything the tracker holds that the venue
// does not enumerate is stale.
type OnChainPosition struct {
	Address    string
	Pool       string
	LowerBinID int32
	UpperBinID int32
	AmountX    uint64
	AmountY    uint64
	FeeX       uint64
	FeeY       uint64
	Bins       []BinLiquidity
}

// PopulatedBinIDs returns the ids of bins that actually hold liquidity.
func (p OnChainPosition) PopulatedBinIDs() []int32 {
	ids := make([]int32, 0, len(p.Bins))
	for _, b := range p.Bins {
		if b.AmountX > 0 || b.AmountY > 0 {
			ids = append(ids, b.BinID)
		}
	}
	return ids
}

// VenueClient is the liquidity-venue boundary. Every transaction-returning
// call yields one or more unsigned transactions, already normalized to a
// slice; the keeper signs, submits and confirms them via a TxSubmitter.
type VenueClient interface {
	// PoolInfo returns pool metadata including both tokens and the current
	// active bin.
	PoolInfo(ctx context.Context, pool string) (Pool, error)

	// GetActiveBin returns the pool's current active bin.
	GetActiveBin(ctx context.Context, pool string) (ActiveBin, error)

	// UserPositions enumerates every live position owned by the wallet.
	UserPositions(ctx context.Context, wallet string) ([]OnChainPosition, error)

	// RemoveLiquidity withdraws bps basis points of liquidity from the given
	// bins. When closeAfter is set and the venue supports it, the position
	// account is closed in the same operation.
	RemoveLiquidity(ctx context.Context, pos OnChainPosition, binIDs []int32, bps uint16, closeAfter bool) ([]*solana.Transaction, error)

	// ClosePosition closes an empty position account.
	ClosePosition(ctx context.Context, pos OnChainPosition) ([]*solana.Transaction, error)

	// OpenSingleSided creates a new position over [minBin, maxBin] funded
	// entirely by one token, using exactly amount raw units.
	OpenSingleSided(ctx context.Context, pool string, minBin, maxBin int32, side Side, amount uint64) ([]*solana.Transaction, error)

	// ClaimAllRewards builds claim transactions for all fees and rewards
	// accrued by the given positions in one pool.
	ClaimAllRewards(ctx context.Context, pool string, positions []OnChainPosition) ([]*solana.Transaction, error)

	// WalletBalance returns the wallet's raw balance of the given mint.
	WalletBalance(ctx context.Context, wallet, mint string) (uint64, error)
}

// TxSubmitter signs, sends and confirms transactions. Implementations retry
// transient RPC failures with a fixed backoff; acting on an already-closed
// position surfaces as ErrStalePosition so callers can log and skip.
type TxSubmitter interface {
	SignAndSend(ctx context.Context, txs []*solana.Transaction) error
}
