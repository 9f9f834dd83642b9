// Package keeper contains the position lifecycle engines: tracking, risk,
// rebalancing, triggers and passive reward collection, plus the orchestrator
// that runs them as independent loops.
package keeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// ClosedArchiver writes a final snapshot of a permanently closed position to
// cold storage. Satisfied by the s3 archiver; nil disables archiving.
type ClosedArchiver interface {
	ArchiveClosed(ctx context.Context, pos domain.Position, reason string, closedAt time.Time) error
}

// Tracker is the authoritative in-process record of tracked positions. The
// in-memory map is the source of truth for the process lifetime; every
// mutation is mirrored best-effort to the durable store. A mirror failure is
// logged and never propagated: the keeper must keep managing positions even
// with the database down.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]domain.Position

	store    domain.PositionStore
	archiver ClosedArchiver
	logger   *slog.Logger
}

// NewTracker creates a Tracker. store and archiver may be nil.
func NewTracker(store domain.PositionStore, archiver ClosedArchiver, logger *slog.Logger) *Tracker {
	return &Tracker{
		positions: make(map[string]domain.Position),
		store:     store,
		archiver:  archiver,
		logger:    logger.With(slog.String("component", "tracker")),
	}
}

// Load seeds the in-memory map from the durable store. Called once at
// startup, before the first reconciliation.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	stored, err := t.store.ListAll(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range stored {
		t.positions[p.Address] = p
	}
	t.logger.InfoContext(ctx, "positions loaded", slog.Int("count", len(stored)))
	return nil
}

// Range returns the stored bin range for a position.
func (t *Tracker) Range(address string) (minBin, maxBin int32, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[address]
	if !ok {
		return 0, 0, false
	}
	return p.MinBinID, p.MaxBinID, true
}

// Get returns the tracked record for a position.
func (t *Tracker) Get(address string) (domain.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[address]
	return p, ok
}

// All returns a snapshot of every tracked position.
func (t *Tracker) All() []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	return out
}

// WithTriggers returns tracked positions that have a TP and/or SL set.
func (t *Tracker) WithTriggers() []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.Position
	for _, p := range t.positions {
		if p.HasTriggers() {
			out = append(out, p)
		}
	}
	return out
}

// Upsert merges pos into the tracked record. Provenance fields
// (StartingValue, OriginalStartDate, cumulative claimed fees, rebalance
// lineage) are preserved from the existing record unless pos explicitly
// carries them; everything else is replaced.
func (t *Tracker) Upsert(ctx context.Context, pos domain.Position) {
	t.mu.Lock()
	if existing, ok := t.positions[pos.Address]; ok {
		if pos.StartingValue == 0 {
			pos.StartingValue = existing.StartingValue
		}
		if pos.OriginalStartDate.IsZero() {
			pos.OriginalStartDate = existing.OriginalStartDate
		}
		if pos.ClaimedFeeX == 0 {
			pos.ClaimedFeeX = existing.ClaimedFeeX
		}
		if pos.ClaimedFeeY == 0 {
			pos.ClaimedFeeY = existing.ClaimedFeeY
		}
		if pos.ClaimedFeeUSD == 0 {
			pos.ClaimedFeeUSD = existing.ClaimedFeeUSD
		}
		if pos.RebalanceCount == 0 {
			pos.RebalanceCount = existing.RebalanceCount
		}
		if pos.PreviousAddress == "" {
			pos.PreviousAddress = existing.PreviousAddress
		}
		if pos.TakeProfitPrice == nil {
			pos.TakeProfitPrice = existing.TakeProfitPrice
		}
		if pos.StopLossPrice == nil {
			pos.StopLossPrice = existing.StopLossPrice
		}
	}
	pos.UpdatedAt = time.Now()
	t.positions[pos.Address] = pos
	t.mu.Unlock()

	t.mirror(ctx, pos)
}

// Remove drops a position permanently: map, durable store, and (when
// configured) a final snapshot to cold storage. reason records why the
// position closed.
func (t *Tracker) Remove(ctx context.Context, address, reason string) {
	t.mu.Lock()
	pos, ok := t.positions[address]
	delete(t.positions, address)
	t.mu.Unlock()

	if !ok {
		return
	}

	if t.archiver != nil {
		if err := t.archiver.ArchiveClosed(ctx, pos, reason, time.Now()); err != nil {
			t.logger.WarnContext(ctx, "closed-position archive failed",
				slog.String("address", address),
				slog.String("error", err.Error()),
			)
		}
	}

	if t.store != nil {
		if err := t.store.Delete(ctx, address); err != nil {
			t.logger.WarnContext(ctx, "store delete failed",
				slog.String("address", address),
				slog.String("error", err.Error()),
			)
		}
	}
}

// TransferHistory moves a position's provenance from oldAddress to the new
// record created by a rebalance: StartingValue, OriginalStartDate and
// cumulative claimed fees carry over, the rebalance count increments, and
// the lineage pointer records the replaced address. If oldAddress is
// unknown the new record is seeded fresh, with its current value as its
// starting value.
func (t *Tracker) TransferHistory(ctx context.Context, oldAddress string, newPos domain.Position) domain.Position {
	t.mu.Lock()
	old, ok := t.positions[oldAddress]
	if ok {
		newPos.StartingValue = old.StartingValue
		newPos.OriginalStartDate = old.OriginalStartDate
		newPos.ClaimedFeeX = old.ClaimedFeeX
		newPos.ClaimedFeeY = old.ClaimedFeeY
		newPos.ClaimedFeeUSD = old.ClaimedFeeUSD
		newPos.RebalanceCount = old.RebalanceCount + 1
		newPos.PreviousAddress = oldAddress
		newPos.TakeProfitPrice = old.TakeProfitPrice
		newPos.StopLossPrice = old.StopLossPrice
		delete(t.positions, oldAddress)
	} else {
		newPos.StartingValue = newPos.CurrentValue
		newPos.OriginalStartDate = time.Now()
		newPos.RebalanceCount = 0
		newPos.PreviousAddress = ""
	}
	newPos.UpdatedAt = time.Now()
	t.positions[newPos.Address] = newPos
	t.mu.Unlock()

	if ok && t.store != nil {
		if err := t.store.Delete(ctx, oldAddress); err != nil {
			t.logger.WarnContext(ctx, "store delete failed",
				slog.String("address", oldAddress),
				slog.String("error", err.Error()),
			)
		}
	}
	t.mirror(ctx, newPos)
	return newPos
}

// SetTriggers validates and stores a TP/SL pair on a tracked position.
func (t *Tracker) SetTriggers(ctx context.Context, address string, takeProfit, stopLoss *float64) error {
	if err := domain.ValidateTriggers(takeProfit, stopLoss); err != nil {
		return err
	}

	t.mu.Lock()
	pos, ok := t.positions[address]
	if !ok {
		t.mu.Unlock()
		return domain.ErrNotFound
	}
	pos.TakeProfitPrice = takeProfit
	pos.StopLossPrice = stopLoss
	pos.UpdatedAt = time.Now()
	t.positions[address] = pos
	t.mu.Unlock()

	t.mirror(ctx, pos)
	return nil
}

// Reconcile aligns the tracker with the venue's enumeration of live
// positions: tracked records absent on-chain are dropped, unknown on-chain
// positions are seeded with defaults derived from their on-chain range.
// Idempotent: a second call with the same input changes nothing.
func (t *Tracker) Reconcile(ctx context.Context, onChain []domain.OnChainPosition) {
	live := make(map[string]domain.OnChainPosition, len(onChain))
	for _, p := range onChain {
		live[p.Address] = p
	}

	var removed, added []string

	t.mu.Lock()
	for addr := range t.positions {
		if _, ok := live[addr]; !ok {
			delete(t.positions, addr)
			removed = append(removed, addr)
		}
	}
	var seeded []domain.Position
	for addr, ocp := range live {
		if _, ok := t.positions[addr]; ok {
			continue
		}
		pos := domain.Position{
			Address:           addr,
			Pool:              ocp.Pool,
			MinBinID:          ocp.LowerBinID,
			MaxBinID:          ocp.UpperBinID,
			AmountX:           ocp.AmountX,
			AmountY:           ocp.AmountY,
			OriginalStartDate: time.Now(),
			UpdatedAt:         time.Now(),
		}
		t.positions[addr] = pos
		seeded = append(seeded, pos)
		added = append(added, addr)
	}
	t.mu.Unlock()

	for _, addr := range removed {
		if t.store != nil {
			if err := t.store.Delete(ctx, addr); err != nil {
				t.logger.WarnContext(ctx, "store delete failed",
					slog.String("address", addr),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	for _, pos := range seeded {
		t.mirror(ctx, pos)
	}

	if len(removed) > 0 || len(added) > 0 {
		t.logger.InfoContext(ctx, "reconciled positions",
			slog.Int("removed", len(removed)),
			slog.Int("added", len(added)),
		)
	}
}

// mirror writes a record to the durable store, logging failures instead of
// returning them.
func (t *Tracker) mirror(ctx context.Context, pos domain.Position) {
	if t.store == nil {
		return
	}
	if err := t.store.Upsert(ctx, pos); err != nil {
		t.logger.WarnContext(ctx, "store upsert failed",
			slog.String("address", pos.Address),
			slog.String("error", err.Error()),
		)
	}
}
