package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/inboxpilot/usagecap/internal/config"
	"github.com/inboxpilot/usagecap/internal/lock"
	"github.com/inboxpilot/usagecap/internal/store"
	"github.com/inboxpilot/usagecap/internal/telegram"
	"github.com/spf13/cobra"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"c", "doctor"},
	Short:   "Validate configuration and connectivity",
	Long: `Check that usagecap can run with the current configuration.

This command checks:
- Configuration validity
- Datastore access and tenant count
- Redis connectivity when the redis pass lock is selected
- SMTP reachability when email delivery is enabled
- Telegram bot token when the admin channel is enabled

Example:
  usagecap check --config config.yaml`,
	RunE: runCheck,
}

func init() {
	RootCmd.AddCommand(checkCmd)
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

const (
	statusOK      = "OK"
	statusWarning = "WARNING"
	statusFail    = "FAIL"
	statusSkipped = "SKIPPED"
)

// dialTimeout bounds every connectivity check.
var dialTimeout = 5 * time.Second

func runCheck(cmd *cobra.Command, args []string) error {
	results := []CheckResult{}

	_, cfg, err := loadConfig()
	results = append(results, checkConfig(cfg, err))
	if err != nil {
		return outputCheckResults(cmd.OutOrStdout(), results)
	}

	ctx := context.Background()
	results = append(results,
		checkDatabase(ctx, cfg.Store),
		checkLock(ctx, cfg.Lock),
		checkEmail(cfg.Notifications),
		checkTelegram(cfg.Notifications.Telegram, func(token string) error {
			_, err := telegram.NewTGBotAPIClient(token)
			return err
		}),
	)
	return outputCheckResults(cmd.OutOrStdout(), results)
}

func checkConfig(cfg *config.Config, loadErr error) CheckResult {
	result := CheckResult{Name: "Configuration", Status: statusOK}
	if loadErr != nil {
		result.Status = statusFail
		result.Message = fmt.Sprintf("Failed to load configuration: %v", loadErr)
		return result
	}

	result.Message = fmt.Sprintf("Configuration valid (version: %s)", cfg.Version)
	result.Details = fmt.Sprintf("cap=%d plans=%d tz=%s thresholds=%d/%d/%d",
		cfg.Quota.MonthlyCap, len(cfg.Quota.Plans), cfg.Quota.Timezone,
		cfg.Quota.Thresholds.Warning, cfg.Quota.Thresholds.Critical, cfg.Quota.Thresholds.Limit)
	return result
}

func checkDatabase(ctx context.Context, cfg config.StoreConfig) CheckResult {
	result := CheckResult{Name: "Database", Status: statusOK}
	if cfg.Driver == "memory" {
		result.Status = statusWarning
		result.Message = "In-memory store: data does not survive restarts"
		return result
	}

	st, err := store.NewSQLiteStore(cfg.Path)
	if err != nil {
		result.Status = statusFail
		result.Message = fmt.Sprintf("Failed to open database: %v", err)
		return result
	}
	defer st.Close()

	tenants, err := st.ListTenants(ctx)
	if err != nil {
		result.Status = statusFail
		result.Message = fmt.Sprintf("Failed to query tenants: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("Database connected at: %s", cfg.Path)
	result.Details = fmt.Sprintf("%d tenants", len(tenants))
	if len(tenants) == 0 {
		result.Status = statusWarning
		result.Details = "no tenants configured"
	}
	return result
}

func checkLock(ctx context.Context, cfg config.LockConfig) CheckResult {
	result := CheckResult{Name: "Pass lock", Status: statusOK}
	if cfg.Driver != "redis" {
		result.Message = "Local lock (single instance)"
		return result
	}

	locker, err := lock.NewRedisLocker(ctx, lock.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		result.Status = statusFail
		result.Message = err.Error()
		return result
	}
	defer locker.Close()

	result.Message = fmt.Sprintf("Redis reachable at %s", cfg.Redis.Addr)
	return result
}

func checkEmail(cfg config.NotificationsConfig) CheckResult {
	result := CheckResult{Name: "Email", Status: statusOK}
	if !cfg.Enabled || !cfg.Email.Enabled {
		result.Status = statusSkipped
		result.Message = "Email delivery disabled; notices are logged"
		return result
	}

	addr := net.JoinHostPort(cfg.Email.Host, strconv.Itoa(cfg.Email.Port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		result.Status = statusFail
		result.Message = fmt.Sprintf("SMTP server unreachable: %v", err)
		return result
	}
	conn.Close()

	result.Message = fmt.Sprintf("SMTP server reachable at %s", addr)
	result.Details = "from: " + cfg.Email.From
	return result
}

func checkTelegram(cfg config.TelegramConfig, verify func(token string) error) CheckResult {
	result := CheckResult{Name: "Telegram", Status: statusOK}
	if !cfg.Enabled {
		result.Status = statusSkipped
		result.Message = "Admin channel disabled"
		return result
	}

	if err := verify(cfg.BotToken); err != nil {
		result.Status = statusFail
		result.Message = fmt.Sprintf("Bot token rejected: %v", err)
		return result
	}

	result.Message = "Bot token valid"
	result.Details = fmt.Sprintf("chat_id=%d commands=%t", cfg.ChatID, cfg.Commands)
	return result
}

func outputCheckResults(out io.Writer, results []CheckResult) error {
	failed := false
	for _, r := range results {
		if r.Status == statusFail {
			failed = true
		}
	}

	if globalFlags.JSON {
		if err := writeJSON(out, results); err != nil {
			return err
		}
	} else {
		outputCheckResultsTable(out, results)
	}

	if failed {
		return fmt.Errorf("health check failed")
	}
	return nil
}

func outputCheckResultsTable(out io.Writer, results []CheckResult) {
	w := newTable(out)
	fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE\tDETAILS")

	allPassed := true
	for _, r := range results {
		statusIcon := "✓"
		switch r.Status {
		case statusFail:
			statusIcon = "✗"
			allPassed = false
		case statusWarning:
			statusIcon = "!"
		case statusSkipped:
			statusIcon = "-"
		}

		details := r.Details
		if details == "" {
			details = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, statusIcon+" "+r.Status, r.Message, details)
	}
	_ = w.Flush()

	fmt.Fprintln(out)
	if allPassed {
		fmt.Fprintln(out, "✓ All checks passed!")
	} else {
		fmt.Fprintln(out, "✗ Some checks failed. Please review the output above.")
	}
}
