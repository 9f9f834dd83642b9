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

// TriggerConfig tunes the trigger monitor.
type TriggerConfig struct {
	Interval   time.Duration
	StableBand float64
}

// TriggerMonitor watches pool prices and closes positions whose take-profit
// or stop-loss level has been crossed. It runs independently of the risk and
// rebalance engines and can be started and stopped at runtime.
type TriggerMonitor struct {
	tracker   *Tracker
	venue     domain.VenueClient
	submitter domain.TxSubmitter
	prices    PriceSource
	guard     *wallet.Guard
	bus       domain.SignalBus
	alerter   Alerter
	audit     domain.AuditStore
	cfg       TriggerConfig
	wallet    string
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTriggerMonitor creates a TriggerMonitor.
func NewTriggerMonitor(
	tracker *Tracker,
	venue domain.VenueClient,
	submitter domain.TxSubmitter,
	prices PriceSource,
	guard *wallet.Guard,
	bus domain.SignalBus,
	alerter Alerter,
	audit domain.AuditStore,
	cfg TriggerConfig,
	walletAddr string,
	logger *slog.Logger,
) *TriggerMonitor {
	return &TriggerMonitor{
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
		logger:    logger.With(slog.String("component", "triggers")),
	}
}

// SetTriggers validates and applies a TP/SL pair to a tracked position.
func (m *TriggerMonitor) SetTriggers(ctx context.Context, address string, takeProfit, stopLoss *float64) error {
	return m.tracker.SetTriggers(ctx, address, takeProfit, stopLoss)
}

// Start launches the monitor loop. Starting an already-running monitor is a
// no-op.
func (m *TriggerMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	done := make(chan struct{})
	m.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.logger.Info("trigger monitor started",
			slog.Duration("interval", m.cfg.Interval),
		)
		for {
			select {
			case <-loopCtx.Done():
				m.logger.Info("trigger monitor stopped")
				return
			case <-ticker.C:
				if err := m.MonitorTriggers(loopCtx); err != nil {
					m.logger.WarnContext(loopCtx, "trigger tick failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
}

// Stop halts the monitor loop and waits for the in-flight tick to finish.
// Stopping a stopped monitor is a no-op.
func (m *TriggerMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// MonitorTriggers runs one evaluation pass: derive each relevant pool's USD
// price once and fire any crossed trigger. A fired trigger closes the
// position permanently, so it can fire at most once.
func (m *TriggerMonitor) MonitorTriggers(ctx context.Context) error {
	tracked := m.tracker.WithTriggers()
	if len(tracked) == 0 {
		return nil
	}

	byPool := make(map[string][]domain.Position)
	for _, p := range tracked {
		byPool[p.Pool] = append(byPool[p.Pool], p)
	}

	onChain, err := m.venue.UserPositions(ctx, m.wallet)
	if err != nil {
		return fmt.Errorf("keeper: trigger tick list positions: %w", err)
	}
	live := make(map[string]domain.OnChainPosition, len(onChain))
	for _, p := range onChain {
		live[p.Address] = p
	}

	for pool, positions := range byPool {
		price, err := m.poolPrice(ctx, pool)
		if err != nil {
			m.logger.WarnContext(ctx, "pool price underivable, skipping",
				slog.String("pool", pool),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, pos := range positions {
			fired, ok := firedTrigger(pos, price)
			if !ok {
				continue
			}
			ocp, exists := live[pos.Address]
			if !exists {
				m.logger.WarnContext(ctx, "triggered position not on-chain, dropping",
					slog.String("address", pos.Address),
				)
				m.tracker.Remove(ctx, pos.Address, string(fired))
				continue
			}
			if err := m.fire(ctx, pos, ocp, fired, price); err != nil {
				m.logger.ErrorContext(ctx, "trigger execution failed",
					slog.String("address", pos.Address),
					slog.String("trigger", string(fired)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

// poolPrice derives the USD price triggers compare against for one pool.
func (m *TriggerMonitor) poolPrice(ctx context.Context, pool string) (float64, error) {
	info, err := m.venue.PoolInfo(ctx, pool)
	if err != nil {
		return 0, err
	}
	ab, err := m.venue.GetActiveBin(ctx, pool)
	if err != nil {
		return 0, err
	}

	prices, err := m.prices.GetPrices(ctx, []string{info.TokenX.Mint, info.TokenY.Mint})
	if err != nil {
		return 0, err
	}
	return derivePoolPrice(ab.PricePerToken, prices[info.TokenX.Mint], prices[info.TokenY.Mint], m.cfg.StableBand)
}

// firedTrigger reports which trigger, if any, the price crosses. Take-profit
// wins when both would fire on a degenerate configuration.
func firedTrigger(pos domain.Position, price float64) (domain.TriggerType, bool) {
	if pos.TakeProfitPrice != nil && price >= *pos.TakeProfitPrice {
		return domain.TriggerTakeProfit, true
	}
	if pos.StopLossPrice != nil && price <= *pos.StopLossPrice {
		return domain.TriggerStopLoss, true
	}
	return "", false
}

// fire closes a triggered position: withdraw everything with a combined
// claim-and-close, then remove it permanently.
func (m *TriggerMonitor) fire(ctx context.Context, pos domain.Position, ocp domain.OnChainPosition, trigger domain.TriggerType, price float64) error {
	if m.guard != nil {
		if err := m.guard.Authorize(wallet.ActionClose, pos.CurrentValue); err != nil {
			return err
		}
	}

	binIDs := ocp.PopulatedBinIDs()

	var txs []*solana.Transaction
	var err error
	if len(binIDs) > 0 {
		txs, err = m.venue.RemoveLiquidity(ctx, ocp, binIDs, 10000, true)
	} else {
		txs, err = m.venue.ClosePosition(ctx, ocp)
	}
	if err != nil {
		return fmt.Errorf("build close: %w", err)
	}
	if err := m.submitter.SignAndSend(ctx, txs); err != nil {
		if errors.Is(err, domain.ErrStalePosition) {
			m.tracker.Remove(ctx, pos.Address, string(trigger))
			return nil
		}
		return fmt.Errorf("submit close: %w", err)
	}

	m.tracker.Remove(ctx, pos.Address, string(trigger))

	m.logger.InfoContext(ctx, "trigger fired",
		slog.String("address", pos.Address),
		slog.String("pool", pos.Pool),
		slog.String("trigger", string(trigger)),
		slog.Float64("price", price),
	)
	publishEvent(ctx, m.bus, m.audit, notify.EventTriggerFired, map[string]any{
		"address": pos.Address,
		"pool":    pos.Pool,
		"trigger": string(trigger),
		"price":   price,
	}, m.logger)
	if m.alerter != nil {
		_ = m.alerter.Notify(ctx, notify.EventTriggerFired,
			fmt.Sprintf("%s fired", trigger),
			fmt.Sprintf("Position %s closed at pool price %.6f.", pos.Address, price))
	}
	return nil
}
