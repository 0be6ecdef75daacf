// Package notify delivers operator alerts for proposals, executions, and risk
// events. Delivery is best-effort; the trading cycle never blocks on it.
package notify

import (
	"context"

	"github.com/delphi-lab/delphi-trading/internal/types"
)

// Notifier delivers alerts to an external channel.
type Notifier interface {
	Notify(ctx context.Context, alert types.Alert) error
}

// NoopNotifier drops all alerts. Used when no webhook is configured.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier {
	return &NoopNotifier{}
}

func (n *NoopNotifier) Notify(_ context.Context, _ types.Alert) error {
	return nil
}
