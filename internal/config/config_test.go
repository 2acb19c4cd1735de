package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inboxpilot/usagecap/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
version: "1"
server:
  host: "127.0.0.1"
  http_port: 8320
`

func validConfig() Config {
	return Config{
		Version: "1",
		Server: ServerConfig{
			Host:            "127.0.0.1",
			HTTPPort:        8320,
			ShutdownTimeout: 30 * time.Second,
			LogLevel:        "info",
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing version",
			mutate:  func(c *Config) { c.Version = "" },
			wantErr: true,
			errMsg:  "version is required",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: true,
			errMsg:  "http_port must be between 1 and 65535",
		},
		{
			name: "tls without cert",
			mutate: func(c *Config) {
				c.Server.TLS.Enabled = true
				c.Server.TLS.KeyFile = "key.pem"
			},
			wantErr: true,
			errMsg:  "tls cert_file is required",
		},
		{
			name: "auth without keys",
			mutate: func(c *Config) {
				c.API.Auth.Enabled = true
			},
			wantErr: true,
			errMsg:  "api_keys is required",
		},
		{
			name: "tenant key without tenant",
			mutate: func(c *Config) {
				c.API.Auth.Enabled = true
				c.API.Auth.TenantKeys = map[string][]string{"": {"k"}}
			},
			wantErr: true,
			errMsg:  "tenant_keys entries",
		},
		{
			name: "tenant keys only",
			mutate: func(c *Config) {
				c.API.Auth.Enabled = true
				c.API.Auth.TenantKeys = map[string][]string{"t1": {"webhook-key"}}
			},
		},
		{
			name:    "unknown store driver",
			mutate:  func(c *Config) { c.Store.Driver = "postgres" },
			wantErr: true,
			errMsg:  "store: driver must be",
		},
		{
			name:    "non-positive plan cap",
			mutate:  func(c *Config) { c.Quota.Plans = map[string]int64{"free": 0} },
			wantErr: true,
			errMsg:  `plan "free": cap must be positive`,
		},
		{
			name:    "unknown timezone",
			mutate:  func(c *Config) { c.Quota.Timezone = "Mars/Olympus" },
			wantErr: true,
			errMsg:  "invalid timezone",
		},
		{
			name: "unordered thresholds",
			mutate: func(c *Config) {
				c.Quota.Thresholds = ThresholdsConfig{Warning: 90, Critical: 75, Limit: 100}
			},
			wantErr: true,
			errMsg:  "thresholds must satisfy",
		},
		{
			name: "email without host",
			mutate: func(c *Config) {
				c.Notifications.Email = EmailConfig{Enabled: true, From: "quota@example.com"}
			},
			wantErr: true,
			errMsg:  "email: host is required",
		},
		{
			name: "telegram without chat",
			mutate: func(c *Config) {
				c.Notifications.Telegram = TelegramConfig{Enabled: true, BotToken: "token"}
			},
			wantErr: true,
			errMsg:  "chat_id is required",
		},
		{
			name:    "bad run_at",
			mutate:  func(c *Config) { c.Scheduler.RunAt = "25:00" },
			wantErr: true,
			errMsg:  "run_at must be HH:MM",
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.Lock.Driver = "redis" },
			wantErr: true,
			errMsg:  "redis: addr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_ValidateAppliesDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/api/v1", cfg.API.BasePath)
	assert.Equal(t, "X-API-Key", cfg.API.Auth.HeaderName)
	assert.Equal(t, 120, cfg.API.RateLimit.IngestPerMinute)
	assert.Equal(t, 20, cfg.API.RateLimit.IngestBurst)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/usagecap.db", cfg.Store.Path)
	assert.Equal(t, int64(200), cfg.Quota.MonthlyCap)
	assert.Equal(t, "UTC", cfg.Quota.Timezone)
	assert.Equal(t, ThresholdsConfig{Warning: 75, Critical: 90, Limit: 100}, cfg.Quota.Thresholds)
	assert.Equal(t, 72*time.Hour, cfg.Quota.FollowUpDelay)
	assert.Equal(t, 10*time.Second, cfg.Notifications.SendTimeout)
	assert.Equal(t, 60, cfg.Notifications.RateLimitPerMinute)
	assert.Equal(t, "06:00", cfg.Scheduler.RunAt)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, "local", cfg.Lock.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, "usagecap:", cfg.Lock.Redis.Prefix)
}

func TestConfig_SchedulerInheritsQuotaTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.Timezone = "Europe/Berlin"
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Timezone)
	assert.Equal(t, "Europe/Berlin", cfg.Quota.Location().String())
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test_value")
	t.Setenv("ANOTHER_VAR", "another_value")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no substitution", "plain text", "plain text"},
		{"braced", "value: ${TEST_VAR}", "value: test_value"},
		{"bare", "value: $TEST_VAR", "value: test_value"},
		{"missing var", "value: ${NONEXISTENT_VAR}", "value: "},
		{"multiple", "${TEST_VAR} and ${ANOTHER_VAR}", "test_value and another_value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(substituteEnvVars([]byte(tt.input))))
		})
	}
}

func TestParse(t *testing.T) {
	configYAML := `
version: "1"
server:
  host: "0.0.0.0"
  http_port: 9000
  log_level: "debug"
store:
  driver: "memory"
quota:
  monthly_cap: 250
  plans:
    starter: 200
    growth: 1000
  timezone: "America/New_York"
  followup_delay: "48h"
  draft_cost_usd: 0.02
notifications:
  send_timeout: "5s"
  rate_limit_per_minute: 30
  email:
    enabled: true
    host: "smtp.example.com"
    from: "quota@example.com"
    base_url: "https://app.example.com"
  telegram:
    enabled: true
    bot_token: "123:abc"
    chat_id: -100200
scheduler:
  enabled: true
  run_at: "07:30"
  workers: 8
lock:
  driver: "redis"
  redis:
    addr: "localhost:6379"
  ttl: "10m"
`

	config, err := Parse([]byte(configYAML))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 9000, config.Server.HTTPPort)
	assert.Equal(t, "debug", config.Server.LogLevel)
	assert.Equal(t, "memory", config.Store.Driver)
	assert.Equal(t, int64(250), config.Quota.MonthlyCap)
	assert.Equal(t, int64(1000), config.Quota.Plans["growth"])
	assert.Equal(t, 48*time.Hour, config.Quota.FollowUpDelay)
	assert.InDelta(t, 0.02, config.Quota.DraftCostUSD, 1e-9)
	assert.True(t, config.Notifications.Enabled)
	assert.Equal(t, 5*time.Second, config.Notifications.SendTimeout)
	assert.Equal(t, 587, config.Notifications.Email.Port)
	assert.Equal(t, int64(-100200), config.Notifications.Telegram.ChatID)
	assert.Equal(t, "07:30", config.Scheduler.RunAt)
	assert.Equal(t, "America/New_York", config.Scheduler.Timezone)
	assert.Equal(t, 8, config.Scheduler.Workers)
	assert.Equal(t, "redis", config.Lock.Driver)
	assert.Equal(t, 10*time.Minute, config.Lock.TTL)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("version: \"1\"\nserver:\n  http_port: not_a_number\n"))
	require.Error(t, err)

	var parseErr *errors.ErrConfigParse
	assert.True(t, errors.As(err, &parseErr))
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParse_InvalidConfig(t *testing.T) {
	_, err := Parse([]byte("version: \"\"\n"))
	require.Error(t, err)

	var validationErr *errors.ErrConfigValidation
	assert.True(t, errors.As(err, &validationErr))
	assert.Contains(t, err.Error(), "validation failed")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8320, cfg.Server.HTTPPort)
	assert.Equal(t, int64(200), cfg.Quota.MonthlyCap)
	assert.True(t, cfg.Notifications.Enabled)
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("TEST_SMTP_PASSWORD", "s3cret")

	writeConfig(t, configPath, minimalYAML+`
notifications:
  email:
    enabled: true
    host: "smtp.example.com"
    from: "quota@example.com"
    password: "${TEST_SMTP_PASSWORD}"
`)

	loader := NewLoader(configPath)
	config, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "1", config.Version)
	assert.Equal(t, "s3cret", config.Notifications.Email.Password)
	assert.Equal(t, config, loader.Get())
}

func TestLoad_FileNotFound(t *testing.T) {
	loader := NewLoader("/nonexistent/path/config.yaml")
	_, err := loader.Load()
	require.Error(t, err)

	var notFound *errors.ErrConfigNotFound
	assert.True(t, errors.As(err, &notFound))
}

func TestLoader_OnChange(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, minimalYAML)

	loader := NewLoader(configPath)

	changeCalled := false
	loader.SetOnChange(func(c *Config) {
		changeCalled = true
	})

	_, err := loader.Load()
	require.NoError(t, err)

	_, err = loader.Reload()
	require.NoError(t, err)
	assert.True(t, changeCalled)
}

func TestLoader_WatchReloadsOnWrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, minimalYAML)

	loader := NewLoader(configPath)
	_, err := loader.Load()
	require.NoError(t, err)

	var reloaded atomic.Int64
	loader.SetOnChange(func(c *Config) {
		reloaded.Store(c.Quota.MonthlyCap)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, loader.Watch(ctx))

	// Ensure the new mtime is strictly later than the loaded one.
	future := time.Now().Add(2 * time.Second)
	writeConfig(t, configPath, minimalYAML+"quota:\n  monthly_cap: 500\n")
	require.NoError(t, os.Chtimes(configPath, future, future))

	assert.Eventually(t, func() bool {
		return reloaded.Load() == 500
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(500), loader.Get().Quota.MonthlyCap)
}

func TestLoader_WatchKeepsConfigOnInvalidReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, minimalYAML)

	loader := NewLoader(configPath)
	_, err := loader.Load()
	require.NoError(t, err)

	loader.checkFileChange()
	assert.Equal(t, int64(200), loader.Get().Quota.MonthlyCap)

	writeConfig(t, configPath, "version: \"\"\n")
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(configPath, future, future))

	loader.checkFileChange()
	assert.Equal(t, "1", loader.Get().Version)
}

func TestLoadFromEnv(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, minimalYAML)
	t.Setenv(EnvConfigPath, configPath)

	config, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "1", config.Version)
}

func TestLoadFromEnv_NotFound(t *testing.T) {
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestMustLoad_Panic(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad("/nonexistent/path/config.yaml")
	})
}
