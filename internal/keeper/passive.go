package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solwheel/dlmmkeeper/internal/domain"
	"github.com/solwheel/dlmmkeeper/internal/notify"
	"github.com/solwheel/dlmmkeeper/internal/wallet"
)

// PassiveConfig tunes the passive scheduler.
type PassiveConfig struct {
	ClaimEnabled     bool
	ClaimInterval    time.Duration
	CompoundEnabled  bool
	CompoundInterval time.Duration

	// RangeWidth is the bin width of positions opened by auto-compound.
	RangeWidth int32
}

// PassiveEngine collects fees and rewards on a slow cadence and optionally
// redeploys claimed token-X balances into fresh single-sided positions. One
// pool's failure never blocks collection on the others.
type PassiveEngine struct {
	tracker   *Tracker
	venue     domain.VenueClient
	submitter domain.TxSubmitter
	prices    PriceSource
	guard     *wallet.Guard
	bus       domain.SignalBus
	alerter   Alerter
	audit     domain.AuditStore
	cfg       PassiveConfig
	wallet    string
	logger    *slog.Logger
}

// NewPassiveEngine creates a PassiveEngine.
func NewPassiveEngine(
	tracker *Tracker,
	venue domain.VenueClient,
	submitter domain.TxSubmitter,
	prices PriceSource,
	guard *wallet.Guard,
	bus domain.SignalBus,
	alerter Alerter,
	audit domain.AuditStore,
	cfg PassiveConfig,
	walletAddr string,
	logger *slog.Logger,
) *PassiveEngine {
	return &PassiveEngine{
		tracker:   tracker,
		venue:     venue,
		submitter: submitter,
		prices:    prices,
		guard:     guard,
		bus:       bus,
		alerter:   alerter,
		audit:     audit,
		cfg:       cfg,
		wallet:    walletAddr,
		logger:    logger.With(slog.String("component", "passive")),
	}
}

// ClaimAll claims accrued fees and rewards across every pool, one claim
// batch per pool. Per-pool failures are logged and skipped.
func (e *PassiveEngine) ClaimAll(ctx context.Context) error {
	onChain, err := e.venue.UserPositions(ctx, e.wallet)
	if err != nil {
		return fmt.Errorf("keeper: claim tick list positions: %w", err)
	}

	for pool, positions := range groupByPool(onChain) {
		if err := e.claimPool(ctx, pool, positions); err != nil {
			e.logger.WarnContext(ctx, "pool claim failed",
				slog.String("pool", pool),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (e *PassiveEngine) claimPool(ctx context.Context, pool string, positions []domain.OnChainPosition) error {
	var pending []domain.OnChainPosition
	for _, p := range positions {
		if p.FeeX > 0 || p.FeeY > 0 {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if e.guard != nil {
		if err := e.guard.Authorize(wallet.ActionClaim, 0); err != nil {
			return err
		}
	}

	txs, err := e.venue.ClaimAllRewards(ctx, pool, pending)
	if err != nil {
		return fmt.Errorf("build claim: %w", err)
	}
	if err := e.submitter.SignAndSend(ctx, txs); err != nil {
		return fmt.Errorf("submit claim: %w", err)
	}

	e.recordClaimed(ctx, pool, pending)

	e.logger.InfoContext(ctx, "fees claimed",
		slog.String("pool", pool),
		slog.Int("positions", len(pending)),
	)
	publishEvent(ctx, e.bus, e.audit, notify.EventFeesClaimed, map[string]any{
		"pool":      pool,
		"positions": len(pending),
	}, e.logger)
	return nil
}

// recordClaimed accumulates the claimed fee amounts (and their USD value
// when prices are available) onto the tracked records.
func (e *PassiveEngine) recordClaimed(ctx context.Context, pool string, claimed []domain.OnChainPosition) {
	info, err := e.venue.PoolInfo(ctx, pool)
	if err != nil {
		e.logger.WarnContext(ctx, "pool info unavailable, fee accounting skipped",
			slog.String("pool", pool),
			slog.String("error", err.Error()),
		)
		return
	}
	prices, err := e.prices.GetPrices(ctx, []string{info.TokenX.Mint, info.TokenY.Mint})
	if err != nil {
		prices = map[string]float64{}
	}

	for _, ocp := range claimed {
		stored, ok := e.tracker.Get(ocp.Address)
		if !ok {
			continue
		}
		stored.ClaimedFeeX += ocp.FeeX
		stored.ClaimedFeeY += ocp.FeeY
		if usd, ok := positionValueUSD(info, ocp.FeeX, ocp.FeeY, prices); ok {
			stored.ClaimedFeeUSD += usd
		}
		e.tracker.Upsert(ctx, stored)
	}
}

// Compound claims pending rewards, then deposits the wallet's resulting
// token-X balance of each pool into a brand-new single-sided position above
// the active bin. A zero balance is a no-op.
func (e *PassiveEngine) Compound(ctx context.Context) error {
	if err := e.ClaimAll(ctx); err != nil {
		return err
	}

	onChain, err := e.venue.UserPositions(ctx, e.wallet)
	if err != nil {
		return fmt.Errorf("keeper: compound tick list positions: %w", err)
	}

	for pool := range groupByPool(onChain) {
		if err := e.compoundPool(ctx, pool); err != nil {
			e.logger.WarnContext(ctx, "pool compound failed",
				slog.String("pool", pool),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (e *PassiveEngine) compoundPool(ctx context.Context, pool string) error {
	info, err := e.venue.PoolInfo(ctx, pool)
	if err != nil {
		return fmt.Errorf("pool info: %w", err)
	}

	balance, err := e.venue.WalletBalance(ctx, e.wallet, info.TokenX.Mint)
	if err != nil {
		return fmt.Errorf("wallet balance: %w", err)
	}
	if balance == 0 {
		return nil
	}

	var valueUSD float64
	if price, err := e.prices.GetPrice(ctx, info.TokenX.Mint); err == nil {
		valueUSD = rawToFloat(balance, info.TokenX.Decimals) * price
	}
	if e.guard != nil {
		if err := e.guard.Authorize(wallet.ActionCompound, valueUSD); err != nil {
			return err
		}
	}

	ab, err := e.venue.GetActiveBin(ctx, pool)
	if err != nil {
		return fmt.Errorf("active bin: %w", err)
	}

	txs, err := e.venue.OpenSingleSided(ctx, pool, ab.BinID, ab.BinID+e.cfg.RangeWidth, domain.SideX, balance)
	if err != nil {
		return fmt.Errorf("build deposit: %w", err)
	}
	if err := e.submitter.SignAndSend(ctx, txs); err != nil {
		return fmt.Errorf("submit deposit: %w", err)
	}

	e.logger.InfoContext(ctx, "rewards compounded",
		slog.String("pool", pool),
		slog.Uint64("amount", balance),
		slog.Float64("value_usd", valueUSD),
	)
	publishEvent(ctx, e.bus, e.audit, notify.EventCompounded, map[string]any{
		"pool":      pool,
		"amount":    balance,
		"value_usd": valueUSD,
	}, e.logger)
	return nil
}
