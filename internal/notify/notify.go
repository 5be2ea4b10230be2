// Package notify delivers operator notifications (trades, settlements,
// emergency stops) to configured sinks.
//
// Delivery is strictly best-effort: a sink that is down, slow or broken
// must never stall or fail the trading path. The Notifier interface
// therefore returns nothing; sinks log their own failures.
package notify

import (
	"context"
	"time"

	"github.com/jm31-art/ultraflashbot/internal/logger"
)

// Severity of an operator notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Event is one operator notification.
type Event struct {
	Severity Severity
	Title    string
	Body     string
	At       time.Time
}

// Notifier delivers events. Implementations must return quickly and
// swallow their own failures.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Multi fans out one event to several sinks in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		n.Notify(ctx, e)
	}
}

// LogNotifier writes events to the structured log. It is the always-on
// fallback sink when no external channel is configured.
type LogNotifier struct {
	log logger.LoggerInterface
}

func NewLogNotifier(log logger.LoggerInterface) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, e Event) {
	switch e.Severity {
	case SeverityCritical:
		n.log.Error(ctx, "NOTIFY: "+e.Title, "body", e.Body)
	case SeverityWarn:
		n.log.Warn(ctx, "NOTIFY: "+e.Title, "body", e.Body)
	default:
		n.log.Info(ctx, "NOTIFY: "+e.Title, "body", e.Body)
	}
}
