// Package notify delivers operator alerts over one or more channels
// (Telegram, Discord). Alerts carry an event kind so operators can subscribe
// to the subset they care about; a breaker trip matters at 3am, a routine
// fee claim does not.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event kinds emitted by the keeper.
const (
	EventRebalanced     = "rebalanced"
	EventEarlyWarning   = "early_warning"
	EventBreakerTripped = "breaker_tripped"
	EventTriggerFired   = "trigger_fired"
	EventPositionClosed = "position_closed"
	EventFeesClaimed    = "fees_claimed"
	EventCompounded     = "compounded"
	EventError          = "error"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans an alert out to every configured sender, filtered by event
// kind. An empty event allowlist means everything is forwarded.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only
// events listed in events pass the filter; an empty list allows all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers an alert to all senders if the event kind passes the
// configured filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers an alert to all senders regardless of event kind. Used
// for breaker trips and close-all, which must never be silenced by filter
// misconfiguration.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender, collecting per-sender failures so one dead
// channel does not block the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
