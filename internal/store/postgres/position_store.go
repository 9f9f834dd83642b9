package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. It is the
// durable mirror of the keeper's in-memory tracker: writes are best-effort
// from the tracker's point of view, reads happen at startup reconciliation.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `address, pool, min_bin_id, max_bin_id, original_active_bin,
	amount_x, amount_y, snapshot_value, starting_value, current_value,
	original_start_date, claimed_fee_x, claimed_fee_y, claimed_fee_usd,
	rebalance_count, previous_address, take_profit_price, stop_loss_price, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var amountX, amountY, feeX, feeY int64

	err := row.Scan(
		&p.Address, &p.Pool, &p.MinBinID, &p.MaxBinID, &p.OriginalActiveBin,
		&amountX, &amountY, &p.SnapshotValue, &p.StartingValue, &p.CurrentValue,
		&p.OriginalStartDate, &feeX, &feeY, &p.ClaimedFeeUSD,
		&p.RebalanceCount, &p.PreviousAddress, &p.TakeProfitPrice, &p.StopLossPrice, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.AmountX = uint64(amountX)
	p.AmountY = uint64(amountY)
	p.ClaimedFeeX = uint64(feeX)
	p.ClaimedFeeY = uint64(feeY)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Upsert inserts or fully replaces a position record. Field merging is the
// tracker's responsibility; the store persists whatever it is handed.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			address, pool, min_bin_id, max_bin_id, original_active_bin,
			amount_x, amount_y, snapshot_value, starting_value, current_value,
			original_start_date, claimed_fee_x, claimed_fee_y, claimed_fee_usd,
			rebalance_count, previous_address, take_profit_price, stop_loss_price, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, NOW()
		)
		ON CONFLICT (address) DO UPDATE SET
			pool                = EXCLUDED.pool,
			min_bin_id          = EXCLUDED.min_bin_id,
			max_bin_id          = EXCLUDED.max_bin_id,
			original_active_bin = EXCLUDED.original_active_bin,
			amount_x            = EXCLUDED.amount_x,
			amount_y            = EXCLUDED.amount_y,
			snapshot_value      = EXCLUDED.snapshot_value,
			starting_value      = EXCLUDED.starting_value,
			current_value       = EXCLUDED.current_value,
			original_start_date = EXCLUDED.original_start_date,
			claimed_fee_x       = EXCLUDED.claimed_fee_x,
			claimed_fee_y       = EXCLUDED.claimed_fee_y,
			claimed_fee_usd     = EXCLUDED.claimed_fee_usd,
			rebalance_count     = EXCLUDED.rebalance_count,
			previous_address    = EXCLUDED.previous_address,
			take_profit_price   = EXCLUDED.take_profit_price,
			stop_loss_price     = EXCLUDED.stop_loss_price,
			updated_at          = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.Address, p.Pool, p.MinBinID, p.MaxBinID, p.OriginalActiveBin,
		int64(p.AmountX), int64(p.AmountY), p.SnapshotValue, p.StartingValue, p.CurrentValue,
		p.OriginalStartDate, int64(p.ClaimedFeeX), int64(p.ClaimedFeeY), p.ClaimedFeeUSD,
		p.RebalanceCount, p.PreviousAddress, p.TakeProfitPrice, p.StopLossPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.Address, err)
	}
	return nil
}

// Delete removes a position record. Used only for permanent closure.
func (s *PositionStore) Delete(ctx context.Context, address string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByAddress retrieves a single position by its address.
func (s *PositionStore) GetByAddress(ctx context.Context, address string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE address = $1`, address)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", address, err)
	}
	return p, nil
}

// ListAll returns every tracked position.
func (s *PositionStore) ListAll(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions ORDER BY pool, address`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListWithTriggers returns positions that have a take-profit and/or stop-loss
// configured.
func (s *PositionStore) ListWithTriggers(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE take_profit_price IS NOT NULL OR stop_loss_price IS NOT NULL
		 ORDER BY pool, address`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions with triggers: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions with triggers: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
