package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/inboxpilot/usagecap/internal/config"
	"github.com/inboxpilot/usagecap/internal/ingest"
	"github.com/inboxpilot/usagecap/internal/lock"
	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/metrics"
	"github.com/inboxpilot/usagecap/internal/notify"
	"github.com/inboxpilot/usagecap/internal/store"
	"github.com/inboxpilot/usagecap/internal/telegram"
	"github.com/inboxpilot/usagecap/internal/usage"
)

var stderr io.Writer = os.Stderr

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   store.Store
	acct    *usage.Accountant
	metrics *metrics.Metrics
	gate    *notify.Gate
	ingest  *ingest.Service
	tgAPI   telegram.BotAPI

	closers []func() error
}

// appOptions replaces components, mainly in tests.
type appOptions struct {
	store    store.Store
	sink     notify.Sink
	admin    notify.AdminSink
	locker   lock.Locker
	tgClient telegram.BotAPI
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewMetrics("usagecap"),
	}

	st := opts.store
	if st == nil {
		var err error
		if st, err = openStore(cfg.Store, logger); err != nil {
			return nil, err
		}
	}
	a.store = st

	a.acct = usage.NewAccountant(st, st, usageConfig(cfg), logger)

	sink := opts.sink
	if sink == nil {
		var err error
		if sink, err = buildSink(cfg, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.tgAPI = opts.tgClient
	admin := opts.admin
	if admin == nil {
		admin = notify.LogSink{Logger: logger}
		if cfg.Notifications.Telegram.Enabled {
			if a.tgAPI == nil {
				client, err := telegram.NewTGBotAPIClient(cfg.Notifications.Telegram.BotToken)
				if err != nil {
					logger.Warn("telegram disabled: client setup failed", "error", err)
				} else {
					a.tgAPI = client
				}
			}
			if a.tgAPI != nil {
				admin = telegram.NewAdminNotifier(a.tgAPI, cfg.Notifications.Telegram.ChatID, 20, logger)
			}
		}
	}

	locker := opts.locker
	if locker == nil {
		var err error
		if locker, err = a.buildLocker(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.gate = notify.NewGate(a.acct, st, sink, gateConfig(cfg),
		notify.WithAdminSink(admin),
		notify.WithLocker(locker),
		notify.WithMetrics(a.metrics),
		notify.WithSettings(st.Settings()),
		notify.WithLogger(logger),
	)
	a.ingest = ingest.NewService(a.acct, st, st, ingest.TemplateGenerator{}, a.metrics, logger)

	return a, nil
}

func openStore(cfg config.StoreConfig, logger *logging.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on exit")
		return store.NewMemoryStore(), nil
	case "", "sqlite":
		st, err := store.NewSQLiteStore(cfg.Path,
			store.WithRetentionMonths(cfg.RetentionMonths),
			store.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// buildSink picks email delivery when configured and falls back to logging.
// Either way sends are throttled and bounded by the send timeout.
func buildSink(cfg *config.Config, logger *logging.Logger) (notify.Sink, error) {
	var inner notify.Sink = notify.LogSink{Logger: logger}
	if cfg.Notifications.Enabled && cfg.Notifications.Email.Enabled {
		email, err := notify.NewEmailSink(smtpConfig(cfg.Notifications.Email), logger)
		if err != nil {
			return nil, fmt.Errorf("email sink: %w", err)
		}
		inner = email
	} else if !cfg.Notifications.Enabled {
		logger.Warn("notifications disabled: tenant notices are logged only")
	}
	return notify.NewThrottledSink(inner, cfg.Notifications.RateLimitPerMinute, cfg.Notifications.SendTimeout), nil
}

func (a *app) buildLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.Lock.Driver != "redis" {
		return lock.NewLocalLocker(), nil
	}
	r := a.cfg.Lock.Redis
	locker, err := lock.NewRedisLocker(ctx, lock.RedisConfig{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
		Prefix:   r.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("redis lock: %w", err)
	}
	a.closers = append(a.closers, locker.Close)
	return locker, nil
}

// closeAux releases everything except the store.
func (a *app) closeAux() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// Close releases every component including the store.
func (a *app) Close() error {
	a.closeAux()
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
