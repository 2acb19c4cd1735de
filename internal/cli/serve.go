package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/inboxpilot/usagecap/internal/api"
	"github.com/inboxpilot/usagecap/internal/config"
	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/models"
	"github.com/inboxpilot/usagecap/internal/scheduler"
	"github.com/inboxpilot/usagecap/internal/telegram"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the usagecap server",
	Long: `Start the HTTP API and, when enabled, the daily notification scheduler
and the Telegram admin bot.

Example:
  usagecap serve --config config.yaml

The configuration file is watched and quota settings are reloaded on change.`,
	RunE: runServe,
}

var serveFlags struct {
	Host       string
	Port       int
	Timeout    time.Duration
	TLS        bool
	TLSCert    string
	TLSKey     string
	TLSVersion string
	NoSchedule bool
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", 0, "Shutdown timeout (overrides config)")
	serveCmd.Flags().BoolVar(&serveFlags.TLS, "tls", false, "Enable TLS/HTTPS")
	serveCmd.Flags().StringVar(&serveFlags.TLSCert, "cert", "", "TLS certificate file path")
	serveCmd.Flags().StringVar(&serveFlags.TLSKey, "key", "", "TLS key file path")
	serveCmd.Flags().StringVar(&serveFlags.TLSVersion, "tls-version", "", "Minimum TLS version (1.2 or 1.3)")
	serveCmd.Flags().BoolVar(&serveFlags.NoSchedule, "no-schedule", false, "Do not run the daily pass scheduler")

	RootCmd.AddCommand(serveCmd)
}

func applyServeFlags(cfg *config.Config) {
	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}
	if serveFlags.Timeout > 0 {
		cfg.Server.ShutdownTimeout = serveFlags.Timeout
	}
	if serveFlags.TLS {
		cfg.Server.TLS.Enabled = true
	}
	if serveFlags.TLSCert != "" {
		cfg.Server.TLS.CertFile = serveFlags.TLSCert
	}
	if serveFlags.TLSKey != "" {
		cfg.Server.TLS.KeyFile = serveFlags.TLSKey
	}
	if serveFlags.TLSVersion != "" {
		cfg.Server.TLS.MinVersion = serveFlags.TLSVersion
	}
	if serveFlags.NoSchedule {
		cfg.Scheduler.Enabled = false
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyServeFlags(cfg)

	logger := newLogger(cfg)
	loader.SetLogger(logger)

	if cfg.Server.TLS.Enabled {
		if err := validateTLSConfig(cfg.Server.TLS); err != nil {
			return fmt.Errorf("TLS validation failed: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.closeAux()

	server := api.NewServer(cfg.Server, cfg.API, api.Dependencies{
		Store:      a.store,
		Accountant: a.acct,
		Gate:       a.gate,
		Ingest:     a.ingest,
		Metrics:    a.metrics,
		Logger:     logger,
	})

	if cfg.API.Auth.Enabled {
		logger.Info("API key authentication enabled",
			"header", cfg.API.Auth.HeaderName,
			"keys", api.MaskAPIKeys(cfg.API.Auth.APIKeys),
			"tenant_keys", len(cfg.API.Auth.TenantKeys),
		)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(cfg.Scheduler.Timezone, cfg.Scheduler.RunAt, a.gate.RunDailyPass, logger)
		if err != nil {
			a.store.Close()
			return fmt.Errorf("scheduler: %w", err)
		}
		sched.Start(ctx)
	}

	bot := startAdminBot(ctx, a, sched)

	loader.SetOnChange(func(next *config.Config) {
		reloadConfig(a, next, logger)
	})
	if err := loader.Watch(ctx); err != nil {
		logger.Warn("config hot reload disabled", "path", loader.Path(), "error", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run()
	}()

	sigCh := api.SetupSignalHandler()
	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("server stopped", "error", err)
		}
		shutdown(a, server, sched, bot, cfg.Server.ShutdownTimeout, logger)
		return err
	}

	cancel()
	shutdown(a, server, sched, bot, cfg.Server.ShutdownTimeout, logger)
	return nil
}

// reloadConfig applies a changed file to the accountant and the gate.
// Scheduler timing and transport settings only take effect on restart.
func reloadConfig(a *app, next *config.Config, logger *logging.Logger) {
	a.acct.UpdateConfig(usageConfig(next))
	a.gate.UpdateConfig(gateConfig(next))
	logger.Info("quota configuration reloaded",
		"monthly_cap", next.Quota.MonthlyCap,
		"plans", len(next.Quota.Plans),
		"timezone", next.Quota.Timezone,
		"followup_delay", next.Quota.FollowUpDelay.String(),
		"draft_cost_usd", next.Quota.DraftCostUSD,
		"workers", next.Scheduler.Workers,
	)
	if next.Scheduler.RunAt != a.cfg.Scheduler.RunAt || next.Scheduler.Timezone != a.cfg.Scheduler.Timezone {
		logger.Warn("scheduler run time changed, restart to apply",
			"run_at", next.Scheduler.RunAt,
			"timezone", next.Scheduler.Timezone,
		)
	}
}

// shutdown stops the producers first so no pass starts while the store closes.
func shutdown(a *app, server *api.Server, sched *scheduler.Scheduler, bot *telegram.Bot, timeout time.Duration, logger *logging.Logger) {
	if sched != nil {
		sched.Stop()
	}
	if bot != nil {
		if err := bot.Stop(); err != nil {
			logger.Warn("error stopping telegram bot", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("error during server shutdown", "error", err)
	}
	a.closeAux()
	logger.Info("graceful shutdown completed")
}

// startAdminBot runs the Telegram command bot when it is enabled and a client exists.
func startAdminBot(ctx context.Context, a *app, sched *scheduler.Scheduler) *telegram.Bot {
	tg := a.cfg.Notifications.Telegram
	if !tg.Enabled || !tg.Commands || a.tgAPI == nil {
		return nil
	}

	bot := telegram.NewBot(a.tgAPI, tg.ChatID, &telegram.BotOptions{Logger: a.logger})
	wireBot(bot, a, sched)
	if err := bot.Start(ctx); err != nil {
		a.logger.Warn("telegram bot not started", "error", err)
		return nil
	}
	return bot
}

func wireBot(bot *telegram.Bot, a *app, sched *scheduler.Scheduler) {
	bot.SetStatusCallback(func(ctx context.Context) (*telegram.Status, error) {
		now := time.Now()
		status := &telegram.Status{Paused: a.gate.Paused(), Now: now}
		if last, ok := a.gate.LastPass(); ok {
			status.LastPass = last
		}
		if sched != nil {
			status.NextRun = sched.NextRun(now)
		}
		return status, nil
	})
	bot.SetUsageCallback(func(ctx context.Context, tenantID string) (models.UsageSnapshot, error) {
		tenant, err := a.store.GetTenant(ctx, tenantID)
		if err != nil {
			return models.UsageSnapshot{}, err
		}
		return a.acct.Snapshot(ctx, tenant, time.Now())
	})
	bot.SetPassCallback(func(ctx context.Context) (*models.PassResult, error) {
		return a.gate.RunDailyPass(ctx, time.Now())
	})
	bot.SetPauseCallback(a.gate.SetPaused)
}

// validateTLSConfig validates TLS configuration
func validateTLSConfig(tls config.TLSConfig) error {
	if tls.CertFile == "" {
		return fmt.Errorf("TLS certificate file is required when TLS is enabled")
	}
	if tls.KeyFile == "" {
		return fmt.Errorf("TLS key file is required when TLS is enabled")
	}

	if _, err := os.Stat(tls.CertFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS certificate file does not exist: %s", tls.CertFile)
	}
	if _, err := os.Stat(tls.KeyFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS key file does not exist: %s", tls.KeyFile)
	}

	if tls.MinVersion != "" && tls.MinVersion != "1.2" && tls.MinVersion != "1.3" {
		return fmt.Errorf("TLS min_version must be either \"1.2\" or \"1.3\", got: %s", tls.MinVersion)
	}

	return nil
}
