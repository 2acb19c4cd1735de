package notify

import (
	"context"

	"github.com/inboxpilot/usagecap/internal/logging"
)

// Sink delivers tenant notifications.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// AdminSink delivers operator alerts.
type AdminSink interface {
	SendAdmin(ctx context.Context, a AdminAlert) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// LogSink writes notifications to the log instead of delivering them. It is
// used when delivery is disabled.
type LogSink struct {
	Logger *logging.Logger
}

// Send logs the notification.
func (s LogSink) Send(ctx context.Context, n Notification) error {
	s.Logger.InfoWithContext(ctx, "notification (delivery disabled)",
		"kind", string(n.Kind),
		"tenant_id", n.TenantID,
		"address", n.Address,
		"used", n.Usage.Used,
		"cap", n.Usage.Cap,
		"month", string(n.Month),
	)
	return nil
}

// SendAdmin logs the admin alert.
func (s LogSink) SendAdmin(ctx context.Context, a AdminAlert) error {
	s.Logger.WarnWithContext(ctx, "tenant reached monthly cap",
		"tenant_id", a.TenantID,
		"used", a.Used,
		"cap", a.Cap,
		"percentage", a.RawPercentage,
		"estimated_cost_usd", a.EstimatedCost,
	)
	return nil
}
