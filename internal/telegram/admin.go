package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/notify"
)

// AdminNotifier posts cap alerts to the operator chat.
type AdminNotifier struct {
	api    BotAPI
	chatID int64
	rate   *RateLimiter
	dedup  *DedupLimiter
	logger *logging.Logger
}

// NewAdminNotifier creates a notifier that writes to chatID.
func NewAdminNotifier(api BotAPI, chatID int64, messagesPerMinute int, logger *logging.Logger) *AdminNotifier {
	if logger == nil {
		logger = logging.Nop()
	}
	return &AdminNotifier{
		api:    api,
		chatID: chatID,
		rate:   NewRateLimiter(messagesPerMinute),
		dedup:  NewDedupLimiter(24 * time.Hour),
		logger: logger,
	}
}

// SendAdmin delivers one alert. Repeats for the same tenant and month are dropped.
func (n *AdminNotifier) SendAdmin(ctx context.Context, alert notify.AdminAlert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := fmt.Sprintf("limit:%s:%s", alert.TenantID, alert.Month)
	if !n.dedup.CanSend(key) {
		n.logger.DebugWithContext(ctx, "duplicate admin alert dropped", "tenant_id", alert.TenantID)
		return nil
	}

	if !n.rate.Allow() {
		n.dedup.Forget(key)
		return fmt.Errorf("telegram rate limit exceeded")
	}

	if err := sendHTML(n.api, n.chatID, formatAdminAlert(alert)); err != nil {
		n.dedup.Forget(key)
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}
	return nil
}

func sendHTML(api BotAPI, chatID int64, text string) error {
	if sender, ok := api.(ParseModeSender); ok {
		return sender.SendMessageWithParseMode(chatID, text, "HTML")
	}
	return api.SendMessage(chatID, text)
}

var _ notify.AdminSink = (*AdminNotifier)(nil)
