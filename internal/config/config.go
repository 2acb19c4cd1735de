package config

import (
	"fmt"
	"regexp"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version       string              `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	API           APIConfig           `yaml:"api"`
	Store         StoreConfig         `yaml:"store"`
	Quota         QuotaConfig         `yaml:"quota"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Lock          LockConfig          `yaml:"lock"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"` // "1.2" or "1.3"
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	BasePath  string          `yaml:"base_path"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig contains authentication configuration.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// APIKeys grant access to every route.
	APIKeys []string `yaml:"api_keys"`
	// TenantKeys maps a tenant ID to keys that may only reach that
	// tenant's routes, typically the lead webhook of one account.
	TenantKeys map[string][]string `yaml:"tenant_keys"`
	HeaderName string              `yaml:"header_name"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
	// IngestPerMinute limits lead ingest per tenant, whichever client sends.
	// Default: 120
	IngestPerMinute int `yaml:"ingest_per_minute"`
	// Default: 20
	IngestBurst int `yaml:"ingest_burst"`
}

// StoreConfig selects the datastore.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	// RetentionMonths purges lead events older than this many whole months.
	// Zero keeps everything.
	RetentionMonths int `yaml:"retention_months"`
}

// QuotaConfig contains monthly cap configuration.
type QuotaConfig struct {
	// MonthlyCap is the cap for tenants without a plan override.
	// Default: 200
	MonthlyCap int64 `yaml:"monthly_cap"`
	// Plans maps a plan name to its monthly cap.
	Plans map[string]int64 `yaml:"plans"`
	// Timezone is the zone calendar months are computed in.
	// Default: "UTC"
	Timezone   string           `yaml:"timezone"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	// FollowUpDelay is the wait after the limit notice before the follow-up.
	// Default: 72h
	FollowUpDelay time.Duration `yaml:"followup_delay"`
	// DraftCostUSD is the estimated cost of one generated draft, used in admin alerts.
	DraftCostUSD float64 `yaml:"draft_cost_usd"`
}

// ThresholdsConfig contains the usage level boundaries in percent.
type ThresholdsConfig struct {
	Warning  int `yaml:"warning"`
	Critical int `yaml:"critical"`
	Limit    int `yaml:"limit"`
}

// NotificationsConfig contains delivery configuration.
type NotificationsConfig struct {
	Enabled bool `yaml:"enabled"`
	// SendTimeout bounds each individual send.
	// Default: 10s
	SendTimeout time.Duration `yaml:"send_timeout"`
	// RateLimitPerMinute limits tenant sends across a pass.
	// Default: 60
	RateLimitPerMinute int            `yaml:"rate_limit_per_minute"`
	Email              EmailConfig    `yaml:"email"`
	Telegram           TelegramConfig `yaml:"telegram"`
}

// EmailConfig contains SMTP settings.
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
	BaseURL  string `yaml:"base_url"`
}

// TelegramConfig contains the admin Telegram channel configuration.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	// Commands enables the /status, /usage, /pass, /pause and /resume bot commands.
	Commands bool `yaml:"commands"`
}

// SchedulerConfig contains daily pass scheduling.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// RunAt is the local time of day for the pass (format: "HH:MM").
	// Default: "06:00"
	RunAt string `yaml:"run_at"`
	// Timezone for RunAt. Defaults to the quota timezone.
	Timezone string `yaml:"timezone"`
	// Workers bounds per-tenant parallelism within a pass.
	// Default: 4
	Workers int `yaml:"workers"`
}

// LockConfig selects the pass lock backend.
type LockConfig struct {
	// Driver is "local" or "redis".
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
	// TTL bounds how long a crashed pass can hold the lock.
	// Default: 30m
	TTL time.Duration `yaml:"ttl"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

var runAtPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if err := c.Quota.Validate(); err != nil {
		return fmt.Errorf("quota: %w", err)
	}

	if err := c.Notifications.Validate(); err != nil {
		return fmt.Errorf("notifications: %w", err)
	}

	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = c.Quota.Timezone
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if err := c.Lock.Validate(); err != nil {
		return fmt.Errorf("lock: %w", err)
	}

	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("host is required")
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.TLS.Enabled {
		if s.TLS.CertFile == "" {
			return fmt.Errorf("tls cert_file is required when TLS is enabled")
		}
		if s.TLS.KeyFile == "" {
			return fmt.Errorf("tls key_file is required when TLS is enabled")
		}
		if s.TLS.MinVersion != "" && s.TLS.MinVersion != "1.2" && s.TLS.MinVersion != "1.3" {
			return fmt.Errorf("tls min_version must be either \"1.2\" or \"1.3\"")
		}
		if s.TLS.MinVersion == "" {
			s.TLS.MinVersion = "1.3"
		}
	}
	return nil
}

// Validate validates API configuration.
func (a *APIConfig) Validate() error {
	if a.BasePath == "" {
		a.BasePath = "/api/v1"
	}
	if a.Auth.Enabled && len(a.Auth.APIKeys) == 0 && len(a.Auth.TenantKeys) == 0 {
		return fmt.Errorf("auth: api_keys is required when auth is enabled")
	}
	for tenantID, keys := range a.Auth.TenantKeys {
		if tenantID == "" || len(keys) == 0 {
			return fmt.Errorf("auth: tenant_keys entries need a tenant ID and at least one key")
		}
	}
	if a.Auth.HeaderName == "" {
		a.Auth.HeaderName = "X-API-Key"
	}
	if a.RateLimit.RequestsPerMinute <= 0 {
		a.RateLimit.RequestsPerMinute = 1000
	}
	// Cap rate limit to prevent abuse
	if a.RateLimit.RequestsPerMinute > 100000 {
		a.RateLimit.RequestsPerMinute = 100000
	}
	if a.RateLimit.Burst <= 0 {
		a.RateLimit.Burst = 100
	}
	if a.RateLimit.Burst > 10000 {
		a.RateLimit.Burst = 10000
	}
	if a.RateLimit.IngestPerMinute <= 0 {
		a.RateLimit.IngestPerMinute = 120
	}
	if a.RateLimit.IngestBurst <= 0 {
		a.RateLimit.IngestBurst = 20
	}
	return nil
}

// Validate validates store configuration.
func (s *StoreConfig) Validate() error {
	if s.Driver == "" {
		s.Driver = "sqlite"
	}
	switch s.Driver {
	case "sqlite":
		if s.Path == "" {
			s.Path = "data/usagecap.db"
		}
	case "memory":
	default:
		return fmt.Errorf("driver must be \"sqlite\" or \"memory\", got %q", s.Driver)
	}
	if s.RetentionMonths < 0 {
		return fmt.Errorf("retention_months must not be negative")
	}
	return nil
}

// Validate validates quota configuration.
func (q *QuotaConfig) Validate() error {
	if q.MonthlyCap < 0 {
		return fmt.Errorf("monthly_cap must be positive")
	}
	if q.MonthlyCap == 0 {
		q.MonthlyCap = 200
	}
	for plan, limit := range q.Plans {
		if limit <= 0 {
			return fmt.Errorf("plan %q: cap must be positive", plan)
		}
	}
	if q.Timezone == "" {
		q.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(q.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", q.Timezone, err)
	}

	th := &q.Thresholds
	if th.Warning == 0 {
		th.Warning = 75
	}
	if th.Critical == 0 {
		th.Critical = 90
	}
	if th.Limit == 0 {
		th.Limit = 100
	}
	if !(0 < th.Warning && th.Warning < th.Critical && th.Critical < th.Limit) {
		return fmt.Errorf("thresholds must satisfy 0 < warning < critical < limit")
	}

	if q.FollowUpDelay < 0 {
		return fmt.Errorf("followup_delay must be positive")
	}
	if q.FollowUpDelay == 0 {
		q.FollowUpDelay = 72 * time.Hour
	}
	if q.DraftCostUSD < 0 {
		return fmt.Errorf("draft_cost_usd must not be negative")
	}
	return nil
}

// Location returns the configured quota time zone.
func (q *QuotaConfig) Location() *time.Location {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate validates notification configuration.
func (n *NotificationsConfig) Validate() error {
	if n.SendTimeout < 0 {
		return fmt.Errorf("send_timeout must be positive")
	}
	if n.SendTimeout == 0 {
		n.SendTimeout = 10 * time.Second
	}
	if n.RateLimitPerMinute <= 0 {
		n.RateLimitPerMinute = 60
	}
	if n.Email.Enabled {
		if n.Email.Host == "" {
			return fmt.Errorf("email: host is required when email is enabled")
		}
		if n.Email.From == "" {
			return fmt.Errorf("email: from is required when email is enabled")
		}
		if n.Email.Port == 0 {
			n.Email.Port = 587
		}
	}
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" {
			return fmt.Errorf("telegram: bot_token is required when telegram is enabled")
		}
		if n.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram: chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// Validate validates scheduler configuration.
func (s *SchedulerConfig) Validate() error {
	if s.RunAt == "" {
		s.RunAt = "06:00"
	}
	if !runAtPattern.MatchString(s.RunAt) {
		return fmt.Errorf("run_at must be HH:MM, got %q", s.RunAt)
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be positive")
	}
	if s.Workers == 0 {
		s.Workers = 4
	}
	return nil
}

// Validate validates lock configuration.
func (l *LockConfig) Validate() error {
	if l.Driver == "" {
		l.Driver = "local"
	}
	switch l.Driver {
	case "local":
	case "redis":
		if l.Redis.Addr == "" {
			return fmt.Errorf("redis: addr is required when driver is redis")
		}
	default:
		return fmt.Errorf("driver must be \"local\" or \"redis\", got %q", l.Driver)
	}
	if l.Redis.Prefix == "" {
		l.Redis.Prefix = "usagecap:"
	}
	if l.TTL < 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if l.TTL == 0 {
		l.TTL = 30 * time.Minute
	}
	return nil
}
