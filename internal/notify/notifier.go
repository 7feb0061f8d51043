// Package notify fans bot alerts out to the configured channels. The
// scheduler emits a small, fixed event vocabulary; operators pick which
// events reach them, except emergencies, which are always delivered.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Events the scheduler emits. These are the values accepted by the
// notify.events config list.
const (
	// EventTrade fires on every executed order: entries, averaged rungs,
	// protective and strategy exits.
	EventTrade = "trade"
	// EventBotStatus fires when a bot starts or stops.
	EventBotStatus = "bot_status"
	// EventEmergency fires when the drawdown kill-switch halts a bot. It
	// bypasses the event filter.
	EventEmergency = "emergency"
)

// Sender delivers one formatted alert over a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs and aggregated errors.
	Name() string
}

// Notifier fans alerts out to every configured sender, filtered by event.
type Notifier struct {
	senders []Sender
	events  map[string]bool // empty means every event passes
	logger  *slog.Logger
}

// NewNotifier builds a fan-out over senders. events lists the event names to
// forward; an empty list forwards everything.
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

// Notify delivers the alert to every sender if the event passes the filter.
// EventEmergency is never filtered: a halted bot must reach the operator no
// matter how the filter is configured.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if event != EventEmergency && len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.fanOut(ctx, title, message)
}

// NotifyAll delivers the alert regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.fanOut(ctx, title, message)
}

// fanOut tries every sender; one channel failing never blocks the others.
// All failures are joined into the returned error.
func (n *Notifier) fanOut(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
