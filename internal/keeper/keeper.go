package keeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// Config holds the orchestrator's loop intervals and toggles.
type Config struct {
	RiskInterval      time.Duration
	RebalanceInterval time.Duration
	TriggersEnabled   bool
}

// Keeper runs the engines as independent ticker loops under one errgroup.
// Each tick runs to completion before its own ticker can fire again;
// different engines interleave freely. No tick error escapes its loop.
type Keeper struct {
	tracker   *Tracker
	risk      *RiskEngine
	rebalance *RebalanceEngine
	triggers  *TriggerMonitor
	passive   *PassiveEngine
	venue     domain.VenueClient
	cfg       Config
	wallet    string
	logger    *slog.Logger
}

// New assembles a Keeper from its engines.
func New(
	tracker *Tracker,
	risk *RiskEngine,
	rebalance *RebalanceEngine,
	triggers *TriggerMonitor,
	passive *PassiveEngine,
	venue domain.VenueClient,
	cfg Config,
	walletAddr string,
	logger *slog.Logger,
) *Keeper {
	return &Keeper{
		tracker:   tracker,
		risk:      risk,
		rebalance: rebalance,
		triggers:  triggers,
		passive:   passive,
		venue:     venue,
		cfg:       cfg,
		wallet:    walletAddr,
		logger:    logger.With(slog.String("component", "keeper")),
	}
}

// Run starts every enabled loop and blocks until the context is cancelled.
// Startup loads the durable mirror and reconciles it against the chain
// before any engine ticks; whatever a previous crash left half-done gets
// repaired here.
func (k *Keeper) Run(ctx context.Context) error {
	if err := k.tracker.Load(ctx); err != nil {
		return err
	}
	if err := k.ReconcileOnce(ctx); err != nil {
		// The keeper still starts: the first risk tick reconciles again.
		k.logger.WarnContext(ctx, "startup reconciliation failed",
			slog.String("error", err.Error()),
		)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(k.loop(ctx, "risk", k.cfg.RiskInterval, k.risk.ManageRisk))
	g.Go(k.loop(ctx, "rebalance", k.cfg.RebalanceInterval, k.rebalance.CheckAndRebalance))

	if k.cfg.TriggersEnabled {
		k.triggers.Start(ctx)
		g.Go(func() error {
			<-ctx.Done()
			k.triggers.Stop()
			return ctx.Err()
		})
	}

	k.StartPassive(ctx, g)

	k.logger.Info("keeper running", slog.String("wallet", k.wallet))
	return g.Wait()
}

// StartPassive registers the enabled passive loops (claiming, compounding)
// on the group.
func (k *Keeper) StartPassive(ctx context.Context, g *errgroup.Group) {
	if k.passive.cfg.ClaimEnabled {
		g.Go(k.loop(ctx, "claim", k.passive.cfg.ClaimInterval, k.passive.ClaimAll))
	}
	if k.passive.cfg.CompoundEnabled {
		g.Go(k.loop(ctx, "compound", k.passive.cfg.CompoundInterval, k.passive.Compound))
	}
}

// LoadTracked seeds the tracker from the durable store without starting any
// loop. Run does this itself; one-shot callers use it directly.
func (k *Keeper) LoadTracked(ctx context.Context) error {
	return k.tracker.Load(ctx)
}

// ReconcileOnce aligns the tracker with the venue's current enumeration.
func (k *Keeper) ReconcileOnce(ctx context.Context) error {
	onChain, err := k.venue.UserPositions(ctx, k.wallet)
	if err != nil {
		return err
	}
	k.tracker.Reconcile(ctx, onChain)
	return nil
}

// ManageRisk runs one risk tick.
func (k *Keeper) ManageRisk(ctx context.Context) error {
	return k.risk.ManageRisk(ctx)
}

// CheckAndRebalance runs one rebalance tick.
func (k *Keeper) CheckAndRebalance(ctx context.Context) error {
	return k.rebalance.CheckAndRebalance(ctx)
}

// MonitorTriggers runs one trigger evaluation pass.
func (k *Keeper) MonitorTriggers(ctx context.Context) error {
	return k.triggers.MonitorTriggers(ctx)
}

// SetTriggers applies a TP/SL pair to a tracked position.
func (k *Keeper) SetTriggers(ctx context.Context, address string, takeProfit, stopLoss *float64) error {
	return k.triggers.SetTriggers(ctx, address, takeProfit, stopLoss)
}

// CloseAllPositions closes every position in every pool.
func (k *Keeper) CloseAllPositions(ctx context.Context, permanent bool) error {
	return k.risk.CloseAllPositions(ctx, permanent)
}

// loop wraps an engine tick in a ticker, tagging each run with a
// correlation id. Tick errors are logged, never returned: only context
// cancellation ends a loop.
func (k *Keeper) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) func() error {
	return func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger := k.logger.With(slog.String("loop", name))
		logger.Info("loop started", slog.Duration("interval", interval))

		for {
			select {
			case <-ctx.Done():
				logger.Info("loop stopped")
				return ctx.Err()
			case <-ticker.C:
				tickID := uuid.New().String()
				start := time.Now()
				if err := tick(ctx); err != nil {
					logger.ErrorContext(ctx, "tick failed",
						slog.String("tick_id", tickID),
						slog.String("error", err.Error()),
					)
					continue
				}
				logger.DebugContext(ctx, "tick completed",
					slog.String("tick_id", tickID),
					slog.Duration("elapsed", time.Since(start)),
				)
			}
		}
	}
}
