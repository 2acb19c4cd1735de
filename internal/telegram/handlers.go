package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/inboxpilot/usagecap/internal/errors"
)

// commandTimeout bounds a single command, including a manual pass.
const commandTimeout = 10 * time.Minute

// handleMessage processes an incoming message
func (b *Bot) handleMessage(msg Message) {
	if msg.ChatID != b.chatID {
		b.logger.Warn("ignoring message from unknown chat", "chat_id", msg.ChatID)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	b.handleCommand(ctx, msg.ChatID, text)
}

// handleCommand dispatches a slash command
func (b *Bot) handleCommand(ctx context.Context, chatID int64, text string) {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return
	}

	// Commands may arrive as /cmd@BotName in group chats.
	command := strings.ToLower(strings.SplitN(parts[0], "@", 2)[0])
	args := parts[1:]

	switch command {
	case "/start", "/help":
		b.sendMessage(chatID, formatHelpMessage())
	case "/status":
		b.handleStatus(ctx, chatID)
	case "/usage":
		b.handleUsage(ctx, chatID, args)
	case "/pass":
		b.handlePass(ctx, chatID)
	case "/pause":
		b.handlePause(chatID, true)
	case "/resume":
		b.handlePause(chatID, false)
	default:
		b.sendMessage(chatID, "Unknown command. Type /help to see available commands.")
	}
}

// handleStatus handles the /status command
func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	if b.onGetStatus == nil {
		b.sendErrorMessage(chatID, "Status callback not configured")
		return
	}

	status, err := b.onGetStatus(ctx)
	if err != nil {
		b.sendErrorMessage(chatID, fmt.Sprintf("Failed to get status: %s", html.EscapeString(err.Error())))
		return
	}

	b.sendMessage(chatID, formatStatus(status))
}

// handleUsage handles the /usage command
func (b *Bot) handleUsage(ctx context.Context, chatID int64, args []string) {
	if b.onGetUsage == nil {
		b.sendErrorMessage(chatID, "Usage callback not configured")
		return
	}
	if len(args) != 1 {
		b.sendMessage(chatID, "Usage: /usage &lt;tenant_id&gt;")
		return
	}

	snap, err := b.onGetUsage(ctx, args[0])
	if err != nil {
		var notFound *errors.ErrTenantNotFound
		if errors.As(err, &notFound) {
			b.sendErrorMessage(chatID, fmt.Sprintf("Tenant <code>%s</code> not found", html.EscapeString(args[0])))
			return
		}
		b.sendErrorMessage(chatID, fmt.Sprintf("Failed to get usage: %s", html.EscapeString(err.Error())))
		return
	}

	b.sendMessage(chatID, formatUsage(snap))
}

// handlePass handles the /pass command
func (b *Bot) handlePass(ctx context.Context, chatID int64) {
	if b.onRunPass == nil {
		b.sendErrorMessage(chatID, "Pass callback not configured")
		return
	}

	result, err := b.onRunPass(ctx)
	if err != nil {
		var locked *errors.ErrPassLocked
		if errors.As(err, &locked) {
			b.sendMessage(chatID, "⏳ A pass is already running")
			return
		}
		b.sendErrorMessage(chatID, fmt.Sprintf("Pass failed: %s", html.EscapeString(err.Error())))
		return
	}

	b.sendMessage(chatID, formatPassResult(result))
}

// handlePause handles the /pause and /resume commands
func (b *Bot) handlePause(chatID int64, paused bool) {
	if b.onSetPaused == nil {
		b.sendErrorMessage(chatID, "Pause callback not configured")
		return
	}

	if err := b.onSetPaused(paused); err != nil {
		b.sendErrorMessage(chatID, fmt.Sprintf("Failed to update pause state: %s", html.EscapeString(err.Error())))
		return
	}

	if paused {
		b.sendMessage(chatID, "⏸ Tenant notifications paused")
		return
	}
	b.sendMessage(chatID, "▶️ Tenant notifications resumed")
}
