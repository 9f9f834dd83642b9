package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// Archiver writes final snapshots of permanently closed positions to cold
// storage. The snapshot captures the lifecycle totals (starting value, final
// value, claimed fees, rebalance count, lineage) that the primary store
// loses once the row is deleted.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewArchiver creates a new Archiver. reader may be nil, in which case the
// pre-upload existence check is skipped.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, reader: reader, audit: audit}
}

// closedSnapshot is the JSON shape written to cold storage for a closed
// position.
type closedSnapshot struct {
	Address         string    `json:"address"`
	Pool            string    `json:"pool"`
	MinBinID        int32     `json:"min_bin_id"`
	MaxBinID        int32     `json:"max_bin_id"`
	StartingValue   float64   `json:"starting_value"`
	FinalValue      float64   `json:"final_value"`
	ClaimedFeeX     uint64    `json:"claimed_fee_x"`
	ClaimedFeeY     uint64    `json:"claimed_fee_y"`
	ClaimedFeeUSD   float64   `json:"claimed_fee_usd"`
	RebalanceCount  int       `json:"rebalance_count"`
	PreviousAddress string    `json:"previous_address,omitempty"`
	OpenedAt        time.Time `json:"opened_at"`
	ClosedAt        time.Time `json:"closed_at"`
	Reason          string    `json:"reason"`
}

// ArchiveClosed uploads a final snapshot of a permanently closed position to
// positions/closed/YYYY-MM-DD/{address}.json and records the event in the
// audit log. Reason describes why the position closed (trigger, breaker,
// operator).
func (a *Archiver) ArchiveClosed(ctx context.Context, pos domain.Position, reason string, closedAt time.Time) error {
	snap := closedSnapshot{
		Address:         pos.Address,
		Pool:            pos.Pool,
		MinBinID:        pos.MinBinID,
		MaxBinID:        pos.MaxBinID,
		StartingValue:   pos.StartingValue,
		FinalValue:      pos.CurrentValue,
		ClaimedFeeX:     pos.ClaimedFeeX,
		ClaimedFeeY:     pos.ClaimedFeeY,
		ClaimedFeeUSD:   pos.ClaimedFeeUSD,
		RebalanceCount:  pos.RebalanceCount,
		PreviousAddress: pos.PreviousAddress,
		OpenedAt:        pos.OriginalStartDate,
		ClosedAt:        closedAt,
		Reason:          reason,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal closed position %s: %w", pos.Address, err)
	}

	path := closedPath(pos.Address, closedAt)

	// A retried close-all must not duplicate the snapshot or its audit row.
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return fmt.Errorf("s3blob: archive existence check %s: %w", pos.Address, err)
		}
		if exists {
			return nil
		}
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive closed position %s: %w", pos.Address, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.position_closed", map[string]any{
			"path":    path,
			"address": pos.Address,
			"pool":    pos.Pool,
			"reason":  reason,
		}); err != nil {
			return fmt.Errorf("s3blob: archive audit log %s: %w", pos.Address, err)
		}
	}

	return nil
}

// ArchiveAudit uploads audit entries that are about to be pruned from the
// primary store as a JSON Lines object. The upload goes through the
// multipart path since a long retention window can accumulate a large
// backlog.
func (a *Archiver) ArchiveAudit(ctx context.Context, entries []domain.AuditEntry, cutoff time.Time) error {
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		row := map[string]any{
			"id":         e.ID,
			"event":      e.Event,
			"detail":     e.Detail,
			"created_at": e.CreatedAt,
		}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("s3blob: encode audit entry %d: %w", e.ID, err)
		}
	}

	path := fmt.Sprintf("audit/pruned/%s/%d.jsonl", cutoff.Format("2006-01-02"), time.Now().UnixNano())
	if err := a.writer.PutMultipart(ctx, path, &buf, 8*1024*1024); err != nil {
		return fmt.Errorf("s3blob: archive audit entries: %w", err)
	}
	return nil
}

// closedPath builds the S3 key for a closed position snapshot, partitioned
// by closure date.
//
//	positions/closed/2026-08-28/9xQe...fM2h.json
func closedPath(address string, closedAt time.Time) string {
	return fmt.Sprintf("positions/closed/%s/%s.json", closedAt.Format("2006-01-02"), address)
}
