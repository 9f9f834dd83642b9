package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solwheel/dlmmkeeper/internal/domain"
	"github.com/solwheel/dlmmkeeper/internal/notify"
	"github.com/solwheel/dlmmkeeper/internal/wallet"
)

// RebalanceConfig tunes the rebalance engine.
type RebalanceConfig struct {
	// Cooldown is the per-position minimum spacing between rebalances.
	Cooldown time.Duration

	// RangeWidth is the bin width W of recreated positions.
	RangeWidth int32

	// EdgeWarningPct logs an early warning when the active bin is within
	// this percentage of either range edge.
	EdgeWarningPct float64
}

// RebalanceEngine recenters positions whose pool's active bin has left their
// range: withdraw everything, close, and reopen single-sided on the side the
// price moved to. The per-position cooldown is checked and armed in one step
// before any transaction is issued, so a slow confirmation cannot let a
// second rebalance slip through.
type RebalanceEngine struct {
	tracker   *Tracker
	venue     domain.VenueClient
	submitter domain.TxSubmitter
	cooldowns domain.CooldownGate
	guard     *wallet.Guard
	bus       domain.SignalBus
	alerter   Alerter
	audit     domain.AuditStore
	cfg       RebalanceConfig
	wallet    string
	logger    *slog.Logger
}

// NewRebalanceEngine creates a RebalanceEngine.
func NewRebalanceEngine(
	tracker *Tracker,
	venue domain.VenueClient,
	submitter domain.TxSubmitter,
	cooldowns domain.CooldownGate,
	guard *wallet.Guard,
	bus domain.SignalBus,
	alerter Alerter,
	audit domain.AuditStore,
	cfg RebalanceConfig,
	walletAddr string,
	logger *slog.Logger,
) *RebalanceEngine {
	return &RebalanceEngine{
		tracker:   tracker,
		venue:     venue,
		submitter: submitter,
		cooldowns: cooldowns,
		guard:     guard,
		bus:       bus,
		alerter:   alerter,
		audit:     audit,
		cfg:       cfg,
		wallet:    walletAddr,
		logger:    logger.With(slog.String("component", "rebalance")),
	}
}

func rebalanceCooldownKey(address string) string {
	return "rebalance:" + address
}

// CheckAndRebalance runs one rebalance tick over every on-chain position.
// Per-position failures are logged and skipped; a half-done rebalance leaves
// the stale position on-chain for the next reconciliation to repair.
func (e *RebalanceEngine) CheckAndRebalance(ctx context.Context) error {
	onChain, err := e.venue.UserPositions(ctx, e.wallet)
	if err != nil {
		return fmt.Errorf("keeper: rebalance tick list positions: %w", err)
	}

	// One active-bin fetch per pool per tick.
	activeBins := make(map[string]domain.ActiveBin)
	for pool := range groupByPool(onChain) {
		ab, err := e.venue.GetActiveBin(ctx, pool)
		if err != nil {
			e.logger.WarnContext(ctx, "active bin fetch failed",
				slog.String("pool", pool),
				slog.String("error", err.Error()),
			)
			continue
		}
		activeBins[pool] = ab
	}

	for _, ocp := range onChain {
		ab, ok := activeBins[ocp.Pool]
		if !ok {
			continue
		}
		if err := e.checkPosition(ctx, ocp, ab); err != nil {
			e.logger.WarnContext(ctx, "rebalance check failed",
				slog.String("address", ocp.Address),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (e *RebalanceEngine) checkPosition(ctx context.Context, ocp domain.OnChainPosition, ab domain.ActiveBin) error {
	stored, ok := e.tracker.Get(ocp.Address)
	if !ok {
		// Unknown position: seed its range from the chain and act next tick.
		e.tracker.Upsert(ctx, domain.Position{
			Address:           ocp.Address,
			Pool:              ocp.Pool,
			MinBinID:          ocp.LowerBinID,
			MaxBinID:          ocp.UpperBinID,
			AmountX:           ocp.AmountX,
			AmountY:           ocp.AmountY,
			OriginalStartDate: time.Now(),
		})
		return nil
	}

	if stored.InRange(ab.BinID) {
		e.warnNearEdge(ctx, stored, ab.BinID)
		return nil
	}

	// Out of range. Arm the cooldown before building anything; if it is
	// already armed another recent rebalance owns this position.
	if e.cooldowns != nil {
		armed, err := e.cooldowns.Arm(ctx, rebalanceCooldownKey(ocp.Address), e.cfg.Cooldown)
		if err != nil {
			return fmt.Errorf("arm cooldown: %w", err)
		}
		if !armed {
			e.logger.DebugContext(ctx, "rebalance cooldown active",
				slog.String("address", ocp.Address),
			)
			return nil
		}
	}

	// Re-verify right before execution; the price may have returned while
	// the tick was working through other positions.
	fresh, err := e.venue.GetActiveBin(ctx, ocp.Pool)
	if err != nil {
		return fmt.Errorf("re-verify active bin: %w", err)
	}
	if stored.InRange(fresh.BinID) {
		e.logger.InfoContext(ctx, "price returned to range, skipping rebalance",
			slog.String("address", ocp.Address),
		)
		return nil
	}

	return e.rebalance(ctx, stored, ocp, fresh)
}

// warnNearEdge logs an early warning when the active bin drifts within the
// configured percentage of either range edge.
func (e *RebalanceEngine) warnNearEdge(ctx context.Context, pos domain.Position, activeBin int32) {
	if e.cfg.EdgeWarningPct <= 0 {
		return
	}
	pct := pos.PctThroughRange(activeBin)
	if pct > e.cfg.EdgeWarningPct && pct < 100-e.cfg.EdgeWarningPct {
		return
	}

	e.logger.InfoContext(ctx, "position nearing range edge",
		slog.String("address", pos.Address),
		slog.String("pool", pos.Pool),
		slog.Float64("pct_through_range", pct),
	)
	if e.alerter != nil {
		_ = e.alerter.Notify(ctx, notify.EventEarlyWarning, "Position nearing range edge",
			fmt.Sprintf("Position %s is %.0f%% through its range.", pos.Address, pct))
	}
}

// rebalance withdraws everything from the out-of-range position and reopens
// a single-sided position of width RangeWidth on the side the price moved
// to, funded with the exact recovered amount.
func (e *RebalanceEngine) rebalance(ctx context.Context, stored domain.Position, ocp domain.OnChainPosition, ab domain.ActiveBin) error {
	var side domain.Side
	var minBin, maxBin int32
	var amount uint64

	switch {
	case ab.BinID <= stored.MinBinID:
		// Price fell below the range: the position is entirely token X.
		side = domain.SideX
		minBin = ab.BinID
		maxBin = ab.BinID + e.cfg.RangeWidth
		amount = ocp.AmountX
	default:
		// Price rose above the range: the position is entirely token Y.
		side = domain.SideY
		minBin = ab.BinID - e.cfg.RangeWidth
		maxBin = ab.BinID
		amount = ocp.AmountY
	}

	if e.guard != nil {
		if err := e.guard.Authorize(wallet.ActionRebalance, stored.CurrentValue); err != nil {
			return err
		}
	}

	// Withdraw 100% from every populated bin, closing the account in the
	// same operation when possible.
	binIDs := ocp.PopulatedBinIDs()
	var withdrawErr error
	if len(binIDs) > 0 {
		built, err := e.venue.RemoveLiquidity(ctx, ocp, binIDs, 10000, true)
		if err == nil {
			withdrawErr = e.submitter.SignAndSend(ctx, built)
		} else {
			withdrawErr = err
		}
	} else {
		built, err := e.venue.ClosePosition(ctx, ocp)
		if err == nil {
			withdrawErr = e.submitter.SignAndSend(ctx, built)
		} else {
			withdrawErr = err
		}
	}
	if withdrawErr != nil {
		if errors.Is(withdrawErr, domain.ErrStalePosition) {
			e.logger.WarnContext(ctx, "position gone mid-rebalance, skipping",
				slog.String("address", ocp.Address),
			)
			return nil
		}
		return fmt.Errorf("withdraw: %w", withdrawErr)
	}

	if amount == 0 {
		// Nothing recovered to redeploy; the old record just goes away on
		// the next reconciliation.
		e.logger.WarnContext(ctx, "no liquidity recovered, not reopening",
			slog.String("address", ocp.Address),
		)
		return nil
	}

	openTxs, err := e.venue.OpenSingleSided(ctx, ocp.Pool, minBin, maxBin, side, amount)
	if err != nil {
		return fmt.Errorf("build reopen: %w", err)
	}
	if err := e.submitter.SignAndSend(ctx, openTxs); err != nil {
		return fmt.Errorf("submit reopen: %w", err)
	}

	newAddr, err := e.findNewPosition(ctx, ocp, minBin, maxBin)
	if err != nil {
		// Provenance is lost but the position is live; reconciliation will
		// seed a fresh record.
		e.logger.WarnContext(ctx, "new position not found after reopen, history not transferred",
			slog.String("old_address", ocp.Address),
			slog.String("error", err.Error()),
		)
		return nil
	}

	newPos := e.tracker.TransferHistory(ctx, ocp.Address, domain.Position{
		Address:           newAddr,
		Pool:              ocp.Pool,
		MinBinID:          minBin,
		MaxBinID:          maxBin,
		OriginalActiveBin: ab.BinID,
		CurrentValue:      stored.CurrentValue,
		SnapshotValue:     stored.CurrentValue,
	})

	e.logger.InfoContext(ctx, "position rebalanced",
		slog.String("old_address", ocp.Address),
		slog.String("new_address", newAddr),
		slog.String("pool", ocp.Pool),
		slog.String("side", string(side)),
		slog.Int("min_bin", int(minBin)),
		slog.Int("max_bin", int(maxBin)),
		slog.Int("rebalance_count", newPos.RebalanceCount),
	)
	publishEvent(ctx, e.bus, e.audit, notify.EventRebalanced, map[string]any{
		"old_address":     ocp.Address,
		"new_address":     newAddr,
		"pool":            ocp.Pool,
		"side":            string(side),
		"min_bin":         minBin,
		"max_bin":         maxBin,
		"rebalance_count": newPos.RebalanceCount,
	}, e.logger)
	if e.alerter != nil {
		_ = e.alerter.Notify(ctx, notify.EventRebalanced, "Position rebalanced",
			fmt.Sprintf("Pool %s: %s recreated %s-sided over bins [%d, %d].",
				ocp.Pool, newAddr, side, minBin, maxBin))
	}
	return nil
}

// findNewPosition locates the position created by the reopen: the wallet
// position in the same pool covering exactly the new range that we were not
// tracking before.
func (e *RebalanceEngine) findNewPosition(ctx context.Context, old domain.OnChainPosition, minBin, maxBin int32) (string, error) {
	positions, err := e.venue.UserPositions(ctx, e.wallet)
	if err != nil {
		return "", err
	}
	for _, p := range positions {
		if p.Pool != old.Pool || p.Address == old.Address {
			continue
		}
		if p.LowerBinID == minBin && p.UpperBinID == maxBin {
			if _, tracked := e.tracker.Get(p.Address); !tracked {
				return p.Address, nil
			}
		}
	}
	return "", fmt.Errorf("keeper: no untracked position over [%d, %d] in pool %s", minBin, maxBin, old.Pool)
}
