package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore is the durable mirror of the tracker's in-memory state,
// keyed by position address and scoped to the single controlled wallet.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Delete(ctx context.Context, address string) error
	GetByAddress(ctx context.Context, address string) (Position, error)
	ListAll(ctx context.Context) ([]Position, error)
	ListWithTriggers(ctx context.Context) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of keeper actions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
