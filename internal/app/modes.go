package app

import (
	"context"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solwheel/dlmmkeeper/internal/domain"
	"github.com/solwheel/dlmmkeeper/internal/keeper"
)

// buildKeeper assembles the tracker, engines, and orchestrator from the
// wired dependencies.
func (a *App) buildKeeper(deps *Dependencies) *keeper.Keeper {
	var archiver keeper.ClosedArchiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	tracker := keeper.NewTracker(deps.PositionStore, archiver, a.logger)

	risk := keeper.NewRiskEngine(
		tracker, deps.Venue, deps.Submitter, deps.Oracle, deps.Cooldowns,
		deps.Guard, deps.SignalBus, deps.Notifier, deps.AuditStore,
		keeper.RiskConfig{
			Cooldown:             a.cfg.Risk.Cooldown.Duration,
			DrawdownThresholdPct: a.cfg.Risk.DrawdownThresholdPct,
			ReductionBps:         a.cfg.Risk.ReductionBps,
			VolumeWindow:         a.cfg.Risk.VolumeWindow,
			VolumeCollapseRatio:  a.cfg.Risk.VolumeCollapseRatio,
		},
		deps.Wallet, a.logger,
	)

	rebalance := keeper.NewRebalanceEngine(
		tracker, deps.Venue, deps.Submitter, deps.Cooldowns,
		deps.Guard, deps.SignalBus, deps.Notifier, deps.AuditStore,
		keeper.RebalanceConfig{
			Cooldown:       a.cfg.Rebalance.Cooldown.Duration,
			RangeWidth:     a.cfg.Rebalance.RangeWidth,
			EdgeWarningPct: a.cfg.Rebalance.EdgeWarningPct,
		},
		deps.Wallet, a.logger,
	)

	triggers := keeper.NewTriggerMonitor(
		tracker, deps.Venue, deps.Submitter, deps.Oracle,
		deps.Guard, deps.SignalBus, deps.Notifier, deps.AuditStore,
		keeper.TriggerConfig{
			Interval:   a.cfg.Triggers.Interval.Duration,
			StableBand: a.cfg.Oracle.StableBand,
		},
		deps.Wallet, a.logger,
	)

	passive := keeper.NewPassiveEngine(
		tracker, deps.Venue, deps.Submitter, deps.Oracle,
		deps.Guard, deps.SignalBus, deps.Notifier, deps.AuditStore,
		keeper.PassiveConfig{
			ClaimEnabled:     a.cfg.Passive.ClaimEnabled,
			ClaimInterval:    a.cfg.Passive.ClaimInterval.Duration,
			CompoundEnabled:  a.cfg.Passive.CompoundEnabled,
			CompoundInterval: a.cfg.Passive.CompoundInterval.Duration,
			RangeWidth:       a.cfg.Rebalance.RangeWidth,
		},
		deps.Wallet, a.logger,
	)

	return keeper.New(
		tracker, risk, rebalance, triggers, passive, deps.Venue,
		keeper.Config{
			RiskInterval:      a.cfg.Risk.Interval.Duration,
			RebalanceInterval: a.cfg.Rebalance.Interval.Duration,
			TriggersEnabled:   a.cfg.Triggers.Enabled,
		},
		deps.Wallet, a.logger,
	)
}

// KeeperMode runs the full keeper: all engine loops plus the live price
// stream for every mint the wallet's pools touch.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode", slog.String("wallet", deps.Wallet))

	k := a.buildKeeper(deps)
	a.watchPoolMints(ctx, deps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return k.Run(ctx)
	})
	g.Go(func() error {
		return deps.Feed.Run(ctx)
	})
	if retention := a.cfg.Postgres.AuditRetention.Duration; retention > 0 {
		g.Go(func() error {
			return a.pruneAuditLoop(ctx, deps, retention)
		})
	}
	return g.Wait()
}

// pruneAuditLoop trims audit entries past the retention window twice a day.
// When the archive is enabled, the doomed rows are exported to cold storage
// before the delete.
func (a *App) pruneAuditLoop(ctx context.Context, deps *Dependencies, retention time.Duration) error {
	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.pruneAudit(ctx, deps, retention); err != nil {
				a.logger.WarnContext(ctx, "audit prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *App) pruneAudit(ctx context.Context, deps *Dependencies, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)

	if deps.Archiver != nil {
		var expiring []domain.AuditEntry
		const pageSize = 1000
		for offset := 0; ; offset += pageSize {
			page, err := deps.AuditLog.List(ctx, domain.ListOpts{
				Limit:  pageSize,
				Offset: offset,
				Until:  &cutoff,
			})
			if err != nil {
				return err
			}
			expiring = append(expiring, page...)
			if len(page) < pageSize {
				break
			}
		}
		if err := deps.Archiver.ArchiveAudit(ctx, expiring, cutoff); err != nil {
			return err
		}
	}

	removed, err := deps.AuditLog.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		a.logger.InfoContext(ctx, "audit log pruned", slog.Int64("removed", removed))
	}
	return nil
}

// watchPoolMints subscribes the price feed to both token mints of every pool
// the wallet currently holds positions in. Best-effort: the HTTP oracle
// covers whatever the stream misses.
func (a *App) watchPoolMints(ctx context.Context, deps *Dependencies) {
	positions, err := deps.Venue.UserPositions(ctx, deps.Wallet)
	if err != nil {
		a.logger.WarnContext(ctx, "initial position listing failed, price feed starts with defaults",
			slog.String("error", err.Error()),
		)
		return
	}
	seen := make(map[string]bool)
	for _, p := range positions {
		if seen[p.Pool] {
			continue
		}
		seen[p.Pool] = true
		info, err := deps.Venue.PoolInfo(ctx, p.Pool)
		if err != nil {
			a.logger.WarnContext(ctx, "pool info unavailable for price feed",
				slog.String("pool", p.Pool),
				slog.String("error", err.Error()),
			)
			continue
		}
		deps.Feed.Watch(info.TokenX.Mint, info.TokenY.Mint)
	}
}

// MonitorMode observes without transacting: it reconciles the tracked set
// against the chain and logs each position's valuation on the risk cadence.
// No transaction is ever built or signed in this mode.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode", slog.String("wallet", deps.Wallet))

	var archiver keeper.ClosedArchiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	tracker := keeper.NewTracker(deps.PositionStore, archiver, a.logger)
	if err := tracker.Load(ctx); err != nil {
		return err
	}

	a.watchPoolMints(ctx, deps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Feed.Run(ctx)
	})
	g.Go(func() error {
		return a.tailEvents(ctx, deps)
	})
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Risk.Interval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := a.monitorTick(ctx, deps, tracker); err != nil {
					a.logger.WarnContext(ctx, "monitor tick failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})
	return g.Wait()
}

// tailEvents surfaces lifecycle events published by a keeper instance
// sharing the same Redis, so a monitor can follow actions it does not take
// itself.
func (a *App) tailEvents(ctx context.Context, deps *Dependencies) error {
	events, err := deps.SignalBus.Subscribe(ctx, keeper.EventChannel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			a.logger.InfoContext(ctx, "keeper event", slog.String("payload", string(payload)))
		}
	}
}

// monitorTick reconciles and logs a valuation line per position.
func (a *App) monitorTick(ctx context.Context, deps *Dependencies, tracker *keeper.Tracker) error {
	onChain, err := deps.Venue.UserPositions(ctx, deps.Wallet)
	if err != nil {
		return err
	}
	tracker.Reconcile(ctx, onChain)

	byPool := make(map[string][]domain.OnChainPosition)
	for _, p := range onChain {
		byPool[p.Pool] = append(byPool[p.Pool], p)
	}

	for pool, positions := range byPool {
		info, err := deps.Venue.PoolInfo(ctx, pool)
		if err != nil {
			a.logger.WarnContext(ctx, "pool info unavailable",
				slog.String("pool", pool),
				slog.String("error", err.Error()),
			)
			continue
		}
		prices, err := deps.Oracle.GetPrices(ctx, []string{info.TokenX.Mint, info.TokenY.Mint})
		if err != nil {
			prices = map[string]float64{}
		}
		for _, ocp := range positions {
			usdX := prices[info.TokenX.Mint]
			usdY := prices[info.TokenY.Mint]
			value := rawValue(ocp.AmountX, info.TokenX.Decimals)*usdX +
				rawValue(ocp.AmountY, info.TokenY.Decimals)*usdY
			a.logger.InfoContext(ctx, "position",
				slog.String("address", ocp.Address),
				slog.String("pool", pool),
				slog.Int("lower_bin", int(ocp.LowerBinID)),
				slog.Int("upper_bin", int(ocp.UpperBinID)),
				slog.Float64("value_usd", value),
			)
		}
	}
	return nil
}

func rawValue(amount uint64, decimals uint8) float64 {
	return float64(amount) / math.Pow10(int(decimals))
}

// CloseAllMode withdraws and closes every position, then exits. Records are
// removed permanently, with archive snapshots when the archive is enabled.
func (a *App) CloseAllMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting close-all mode", slog.String("wallet", deps.Wallet))

	k := a.buildKeeper(deps)
	if err := k.LoadTracked(ctx); err != nil {
		return err
	}
	if err := k.ReconcileOnce(ctx); err != nil {
		return err
	}
	if err := k.CloseAllPositions(ctx, true); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "all positions closed")
	return nil
}
