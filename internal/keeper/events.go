package keeper

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// EventChannel is the redis pub/sub channel lifecycle events are published
// on. External consumers (and monitor mode) subscribe here.
const EventChannel = "keeper:events"

// publishEvent mirrors a lifecycle event to the signal bus (for live
// consumers) and the audit log (durably). Both are best-effort: event
// plumbing must never fail an engine tick.
func publishEvent(ctx context.Context, bus domain.SignalBus, audit domain.AuditStore, event string, detail map[string]any, logger *slog.Logger) {
	if bus != nil {
		payload := map[string]any{"event": event}
		for k, v := range detail {
			payload[k] = v
		}
		if data, err := json.Marshal(payload); err == nil {
			if err := bus.Publish(ctx, EventChannel, data); err != nil {
				logger.WarnContext(ctx, "event publish failed",
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if audit != nil {
		if err := audit.Log(ctx, event, detail); err != nil {
			logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}
