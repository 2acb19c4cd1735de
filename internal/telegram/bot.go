// Package telegram provides the operator channel: cap alerts pushed to an
// admin chat and a small command bot for inspecting and steering passes.
package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/models"
)

// Status is the engine state reported by /status.
type Status struct {
	Paused   bool
	LastPass *models.PassResult
	NextRun  time.Time
	Now      time.Time
}

// BotOptions contains optional configuration for the bot
type BotOptions struct {
	RateLimiter *RateLimiter
	Logger      *logging.Logger
	// PollInterval is the pause between empty update polls.
	PollInterval time.Duration
}

// Bot answers operator commands from the admin chat.
type Bot struct {
	chatID       int64
	api          BotAPI
	rateLimiter  *RateLimiter
	logger       *logging.Logger
	pollInterval time.Duration

	// Context for graceful shutdown
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	msgChan chan Message

	// Callbacks for command handlers
	onGetStatus func(ctx context.Context) (*Status, error)
	onGetUsage  func(ctx context.Context, tenantID string) (models.UsageSnapshot, error)
	onRunPass   func(ctx context.Context) (*models.PassResult, error)
	onSetPaused func(paused bool) error
}

// NewBot creates a bot bound to the admin chat. Messages from other chats are ignored.
func NewBot(api BotAPI, chatID int64, opts *BotOptions) *Bot {
	if opts == nil {
		opts = &BotOptions{}
	}
	rl := opts.RateLimiter
	if rl == nil {
		rl = NewRateLimiter(30)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}

	return &Bot{
		chatID:       chatID,
		api:          api,
		rateLimiter:  rl,
		logger:       logger,
		pollInterval: poll,
		ctx:          context.Background(),
		msgChan:      make(chan Message, 100),
	}
}

// SetStatusCallback sets the callback for /status
func (b *Bot) SetStatusCallback(cb func(ctx context.Context) (*Status, error)) {
	b.onGetStatus = cb
}

// SetUsageCallback sets the callback for /usage
func (b *Bot) SetUsageCallback(cb func(ctx context.Context, tenantID string) (models.UsageSnapshot, error)) {
	b.onGetUsage = cb
}

// SetPassCallback sets the callback for /pass
func (b *Bot) SetPassCallback(cb func(ctx context.Context) (*models.PassResult, error)) {
	b.onRunPass = cb
}

// SetPauseCallback sets the callback for /pause and /resume
func (b *Bot) SetPauseCallback(cb func(paused bool) error) {
	b.onSetPaused = cb
}

// Start starts polling and command processing.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}
	if b.api == nil {
		return fmt.Errorf("bot API is required")
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.running = true

	b.wg.Add(2)
	go b.processMessages()
	go b.pollUpdates()

	return nil
}

// Stop gracefully stops the bot
func (b *Bot) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.cancel()
	b.running = false
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for bot to stop")
	}
}

// processMessages processes incoming messages
func (b *Bot) processMessages() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.msgChan:
			b.handleMessage(msg)
		}
	}
}

// pollUpdates polls the Telegram API for updates and forwards them to the message channel.
func (b *Bot) pollUpdates() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		updates, err := b.api.GetUpdates()
		if err != nil {
			b.logger.Warn("telegram poll failed", "error", err)
			b.sleep(8 * b.pollInterval)
			continue
		}

		if len(updates) == 0 {
			b.sleep(b.pollInterval)
			continue
		}

		for _, msg := range updates {
			select {
			case <-b.ctx.Done():
				return
			case b.msgChan <- msg:
			default:
				// Drop if buffer is full to avoid blocking
			}
		}
	}
}

func (b *Bot) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-b.ctx.Done():
	case <-t.C:
	}
}

// sendMessage sends an HTML message to a chat
func (b *Bot) sendMessage(chatID int64, text string) {
	if !b.rateLimiter.Allow() {
		b.logger.Warn("telegram reply dropped by rate limit", "chat_id", chatID)
		return
	}
	if err := sendHTML(b.api, chatID, text); err != nil {
		b.logger.Error("failed to send telegram reply", "chat_id", chatID, "error", err)
	}
}

// sendErrorMessage sends an error message to a chat
func (b *Bot) sendErrorMessage(chatID int64, text string) {
	b.sendMessage(chatID, "❌ <b>Error</b>\n\n"+text)
}
