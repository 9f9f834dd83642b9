package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/solwheel/dlmmkeeper/internal/domain"
	"github.com/solwheel/dlmmkeeper/internal/notify"
	"github.com/solwheel/dlmmkeeper/internal/wallet"
)

// riskCooldownKey is the cooldown-gate key for the global risk cooldown. One
// key for all pools: a breaker trip anywhere pauses drawdown management
// everywhere.
const riskCooldownKey = "risk:global"

// PriceSource resolves mints to USD prices, singly or in batch.
type PriceSource interface {
	domain.PriceOracle
	GetPrices(ctx context.Context, mints []string) (map[string]float64, error)
}

// Alerter pushes operator notifications. Satisfied by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
	NotifyAll(ctx context.Context, title, message string) error
}

// RiskConfig tunes the risk engine.
type RiskConfig struct {
	Cooldown             time.Duration
	DrawdownThresholdPct float64
	ReductionBps         uint16
	VolumeWindow         int
	VolumeCollapseRatio  float64
}

// RiskEngine watches tracked positions for drawdown between consecutive
// observations and cuts exposure when the move exceeds the threshold. The
// drawdown reference is the previous snapshot, not a rolling peak: a slow
// bleed re-baselines every tick and never trips, a sharp single-interval
// move does.
type RiskEngine struct {
	tracker   *Tracker
	venue     domain.VenueClient
	submitter domain.TxSubmitter
	prices    PriceSource
	cooldowns domain.CooldownGate
	guard     *wallet.Guard
	bus       domain.SignalBus
	alerter   Alerter
	audit     domain.AuditStore
	volume    *VolumeMonitor
	cfg       RiskConfig
	wallet    string
	logger    *slog.Logger
}

// NewRiskEngine creates a RiskEngine. bus, alerter and audit may be nil.
func NewRiskEngine(
	tracker *Tracker,
	venue domain.VenueClient,
	submitter domain.TxSubmitter,
	prices PriceSource,
	cooldowns domain.CooldownGate,
	guard *wallet.Guard,
	bus domain.SignalBus,
	alerter Alerter,
	audit domain.AuditStore,
	cfg RiskConfig,
	walletAddr string,
	logger *slog.Logger,
) *RiskEngine {
	return &RiskEngine{
		tracker:   tracker,
		venue:     venue,
		submitter: submitter,
		prices:    prices,
		cooldowns: cooldowns,
		guard:     guard,
		bus:       bus,
		alerter:   alerter,
		audit:     audit,
		volume:    NewVolumeMonitor(cfg.VolumeWindow, cfg.VolumeCollapseRatio),
		cfg:       cfg,
		wallet:    walletAddr,
		logger:    logger.With(slog.String("component", "risk")),
	}
}

// ManageRisk runs one risk tick: reconcile, value every position, reduce
// those whose sequential drawdown exceeds the threshold, and arm the global
// cooldown if anything tripped. Per-position failures are logged and
// skipped.
func (e *RiskEngine) ManageRisk(ctx context.Context) error {
	if e.cooldowns != nil {
		active, err := e.cooldowns.Active(ctx, riskCooldownKey)
		if err != nil {
			e.logger.WarnContext(ctx, "cooldown check failed", slog.String("error", err.Error()))
		} else if active {
			e.logger.DebugContext(ctx, "risk cooldown active, skipping tick")
			return nil
		}
	}

	onChain, err := e.venue.UserPositions(ctx, e.wallet)
	if err != nil {
		return fmt.Errorf("keeper: risk tick list positions: %w", err)
	}
	e.tracker.Reconcile(ctx, onChain)

	tripped := false
	for pool, positions := range groupByPool(onChain) {
		poolTripped, err := e.managePool(ctx, pool, positions)
		if err != nil {
			e.logger.WarnContext(ctx, "pool risk pass failed",
				slog.String("pool", pool),
				slog.String("error", err.Error()),
			)
			continue
		}
		tripped = tripped || poolTripped
	}

	if tripped && e.cooldowns != nil {
		if _, err := e.cooldowns.Arm(ctx, riskCooldownKey, e.cfg.Cooldown); err != nil {
			e.logger.WarnContext(ctx, "arming risk cooldown failed", slog.String("error", err.Error()))
		}
		if e.alerter != nil {
			_ = e.alerter.NotifyAll(ctx, "Drawdown breaker tripped",
				fmt.Sprintf("Exposure reduced by %d bps; risk management paused for %s.",
					e.cfg.ReductionBps, e.cfg.Cooldown))
		}
	}
	return nil
}

// managePool values and risk-checks every position in one pool. Returns
// whether any position tripped the breaker.
func (e *RiskEngine) managePool(ctx context.Context, pool string, positions []domain.OnChainPosition) (bool, error) {
	info, err := e.venue.PoolInfo(ctx, pool)
	if err != nil {
		return false, fmt.Errorf("pool info: %w", err)
	}

	prices, err := e.prices.GetPrices(ctx, []string{info.TokenX.Mint, info.TokenY.Mint})
	if err != nil {
		return false, fmt.Errorf("prices: %w", err)
	}

	for _, token := range []domain.TokenInfo{info.TokenX, info.TokenY} {
		if collapsed := e.volume.Observe(token); collapsed {
			e.logger.WarnContext(ctx, "volume collapse detected",
				slog.String("pool", pool),
				slog.String("mint", token.Mint),
				slog.String("symbol", token.Symbol),
			)
			if e.alerter != nil {
				_ = e.alerter.Notify(ctx, notify.EventBreakerTripped, "Volume collapse",
					fmt.Sprintf("Token %s volume fell below its moving average in pool %s.", token.Symbol, pool))
			}
		}
	}

	tripped := false
	for _, ocp := range positions {
		if err := e.managePosition(ctx, info, ocp, prices, &tripped); err != nil {
			e.logger.WarnContext(ctx, "position risk pass failed",
				slog.String("address", ocp.Address),
				slog.String("error", err.Error()),
			)
		}
	}
	return tripped, nil
}

func (e *RiskEngine) managePosition(ctx context.Context, pool domain.Pool, ocp domain.OnChainPosition, prices map[string]float64, tripped *bool) error {
	current, ok := positionValueUSD(pool, ocp.AmountX, ocp.AmountY, prices)
	if !ok {
		e.logger.DebugContext(ctx, "price unavailable, skipping valuation",
			slog.String("address", ocp.Address),
		)
		return nil
	}

	stored, _ := e.tracker.Get(ocp.Address)
	dd := drawdownPct(stored.SnapshotValue, current)

	if dd >= e.cfg.DrawdownThresholdPct {
		if err := e.reduce(ctx, ocp, current, dd); err != nil {
			if errors.Is(err, domain.ErrStalePosition) {
				e.logger.WarnContext(ctx, "position gone mid-reduction, skipping",
					slog.String("address", ocp.Address),
				)
				return nil
			}
			return err
		}
		// Re-baseline at the post-reduction value so the next tick measures
		// from what is actually still deployed.
		current *= 1 - float64(e.cfg.ReductionBps)/10000
		*tripped = true
	}

	stored.Address = ocp.Address
	stored.Pool = ocp.Pool
	stored.MinBinID = ocp.LowerBinID
	stored.MaxBinID = ocp.UpperBinID
	stored.AmountX = ocp.AmountX
	stored.AmountY = ocp.AmountY
	stored.SnapshotValue = current
	stored.CurrentValue = current
	e.tracker.Upsert(ctx, stored)
	return nil
}

// reduce removes the configured fraction of liquidity from a position.
func (e *RiskEngine) reduce(ctx context.Context, ocp domain.OnChainPosition, valueUSD, dd float64) error {
	if e.guard != nil {
		if err := e.guard.Authorize(wallet.ActionReduce, valueUSD); err != nil {
			return err
		}
	}

	binIDs := ocp.PopulatedBinIDs()
	if len(binIDs) == 0 {
		return nil
	}

	txs, err := e.venue.RemoveLiquidity(ctx, ocp, binIDs, e.cfg.ReductionBps, false)
	if err != nil {
		return fmt.Errorf("build reduction: %w", err)
	}
	if err := e.submitter.SignAndSend(ctx, txs); err != nil {
		return fmt.Errorf("submit reduction: %w", err)
	}

	e.logger.InfoContext(ctx, "exposure reduced",
		slog.String("address", ocp.Address),
		slog.String("pool", ocp.Pool),
		slog.Float64("drawdown_pct", dd),
		slog.Int("reduction_bps", int(e.cfg.ReductionBps)),
	)
	e.emit(ctx, notify.EventBreakerTripped, map[string]any{
		"address":       ocp.Address,
		"pool":          ocp.Pool,
		"drawdown_pct":  dd,
		"reduction_bps": e.cfg.ReductionBps,
	})
	return nil
}

// CloseAllPositions closes every position in every pool. With permanent set
// the records are dropped (and archived); otherwise the tracked history is
// kept so positions can be recreated later.
func (e *RiskEngine) CloseAllPositions(ctx context.Context, permanent bool) error {
	onChain, err := e.venue.UserPositions(ctx, e.wallet)
	if err != nil {
		return fmt.Errorf("keeper: close all list positions: %w", err)
	}

	var failed int
	for _, ocp := range onChain {
		if err := e.closeOne(ctx, ocp, permanent); err != nil {
			failed++
			e.logger.ErrorContext(ctx, "close failed",
				slog.String("address", ocp.Address),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.alerter != nil {
		_ = e.alerter.NotifyAll(ctx, "Close-all executed",
			fmt.Sprintf("%d positions closed, %d failed, permanent=%v.",
				len(onChain)-failed, failed, permanent))
	}
	if failed > 0 {
		return fmt.Errorf("keeper: close all: %d of %d positions failed", failed, len(onChain))
	}
	return nil
}

func (e *RiskEngine) closeOne(ctx context.Context, ocp domain.OnChainPosition, permanent bool) error {
	if e.guard != nil {
		if err := e.guard.Authorize(wallet.ActionClose, 0); err != nil {
			return err
		}
	}

	binIDs := ocp.PopulatedBinIDs()

	var txs []*solana.Transaction
	var err error
	if len(binIDs) > 0 {
		txs, err = e.venue.RemoveLiquidity(ctx, ocp, binIDs, 10000, true)
	} else {
		txs, err = e.venue.ClosePosition(ctx, ocp)
	}
	if err != nil {
		return fmt.Errorf("build close: %w", err)
	}
	if err := e.submitter.SignAndSend(ctx, txs); err != nil {
		return fmt.Errorf("submit close: %w", err)
	}

	if permanent {
		e.tracker.Remove(ctx, ocp.Address, "close_all")
	}
	e.emit(ctx, notify.EventPositionClosed, map[string]any{
		"address":   ocp.Address,
		"pool":      ocp.Pool,
		"permanent": permanent,
		"cause":     "close_all",
	})
	return nil
}

// emit mirrors a lifecycle event to the signal bus and the audit log.
func (e *RiskEngine) emit(ctx context.Context, event string, detail map[string]any) {
	publishEvent(ctx, e.bus, e.audit, event, detail, e.logger)
}

// groupByPool buckets on-chain positions by their pool address.
func groupByPool(positions []domain.OnChainPosition) map[string][]domain.OnChainPosition {
	out := make(map[string][]domain.OnChainPosition)
	for _, p := range positions {
		out[p.Pool] = append(out[p.Pool], p)
	}
	return out
}

// VolumeMonitor keeps a short moving average of each token's
// volume-to-market-cap ratio and flags tokens whose live ratio falls below
// the average by more than the collapse threshold.
type VolumeMonitor struct {
	mu        sync.Mutex
	window    int
	threshold float64
	history   map[string][]float64
}

// NewVolumeMonitor creates a monitor with the given window length and
// collapse threshold (live ratio below MA*threshold counts as collapsed).
func NewVolumeMonitor(window int, threshold float64) *VolumeMonitor {
	if window <= 0 {
		window = 12
	}
	if threshold <= 0 {
		threshold = 0.5
	}
	return &VolumeMonitor{
		window:    window,
		threshold: threshold,
		history:   make(map[string][]float64),
	}
}

// Observe records the token's current volume/mcap ratio and reports whether
// it has collapsed relative to the moving average of prior observations.
// The verdict only becomes meaningful once the window has filled; before
// that it is always false.
func (m *VolumeMonitor) Observe(token domain.TokenInfo) bool {
	if token.Mint == "" || token.MarketCap <= 0 {
		return false
	}
	ratio := token.Volume24h / token.MarketCap

	m.mu.Lock()
	defer m.mu.Unlock()

	hist := m.history[token.Mint]
	collapsed := false
	if len(hist) >= m.window {
		var sum float64
		for _, r := range hist {
			sum += r
		}
		ma := sum / float64(len(hist))
		collapsed = ratio < ma*m.threshold
	}

	hist = append(hist, ratio)
	if len(hist) > m.window {
		hist = hist[len(hist)-m.window:]
	}
	m.history[token.Mint] = hist
	return collapsed
}
