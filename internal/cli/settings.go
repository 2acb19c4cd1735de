package cli

import (
	"github.com/inboxpilot/usagecap/internal/config"
	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/notify"
	"github.com/inboxpilot/usagecap/internal/usage"
)

func usageConfig(cfg *config.Config) usage.Config {
	return usage.Config{
		DefaultCap: cfg.Quota.MonthlyCap,
		Plans:      cfg.Quota.Plans,
		Location:   cfg.Quota.Location(),
		Thresholds: usage.Thresholds{
			Warning:  cfg.Quota.Thresholds.Warning,
			Critical: cfg.Quota.Thresholds.Critical,
			Limit:    cfg.Quota.Thresholds.Limit,
		},
	}
}

func gateConfig(cfg *config.Config) notify.GateConfig {
	return notify.GateConfig{
		Policy:       notify.Policy{FollowUpDelay: cfg.Quota.FollowUpDelay},
		Workers:      cfg.Scheduler.Workers,
		DraftCostUSD: cfg.Quota.DraftCostUSD,
		LockTTL:      cfg.Lock.TTL,
	}
}

func smtpConfig(cfg config.EmailConfig) notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		FromName: cfg.FromName,
		BaseURL:  cfg.BaseURL,
	}
}

// newLogger writes to stderr so that table and JSON output stay clean on stdout.
func newLogger(cfg *config.Config) *logging.Logger {
	level := logging.ParseLevel(cfg.Server.LogLevel)
	if globalFlags.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(
		logging.WithOutput(stderr),
		logging.WithLevel(level),
		logging.WithService("usagecap"),
	)
}

// loadConfig reads the file named by --config and applies --db.
func loadConfig() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if globalFlags.DBPath != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path = globalFlags.DBPath
	}
	return loader, cfg, nil
}
