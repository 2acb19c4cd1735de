// Package usage computes per-tenant monthly consumption against a cap.
package usage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/inboxpilot/usagecap/internal/errors"
	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/models"
	"github.com/inboxpilot/usagecap/internal/store"
)

// DefaultMonthlyCap applies to tenants whose plan has no configured cap.
const DefaultMonthlyCap int64 = 200

// Thresholds are the lower bounds, in percent, of each non-ok level.
type Thresholds struct {
	Warning  int
	Critical int
	Limit    int
}

// DefaultThresholds returns the 75/90/100 tiers.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 75, Critical: 90, Limit: 100}
}

// Classify maps a percentage to a level. Thresholds are checked from the
// highest down and the first match wins.
func (th Thresholds) Classify(percentage int) models.Level {
	switch {
	case percentage >= th.Limit:
		return models.LevelLimit
	case percentage >= th.Critical:
		return models.LevelCritical
	case percentage >= th.Warning:
		return models.LevelWarning
	default:
		return models.LevelOK
	}
}

// ClassifyUsage maps an exact used/cap ratio to a level. It compares
// used*100 against threshold*cap in integers, so 149 of 200 stays ok even
// though its rounded percentage is 75.
func (th Thresholds) ClassifyUsage(used, limit int64) models.Level {
	if limit <= 0 {
		return models.LevelLimit
	}
	scaled := used * 100
	switch {
	case scaled >= int64(th.Limit)*limit:
		return models.LevelLimit
	case scaled >= int64(th.Critical)*limit:
		return models.LevelCritical
	case scaled >= int64(th.Warning)*limit:
		return models.LevelWarning
	default:
		return models.LevelOK
	}
}

// Config holds the accountant's policy.
type Config struct {
	DefaultCap int64
	Plans      map[string]int64
	Location   *time.Location
	Thresholds Thresholds
}

// TenantGetter resolves a tenant by ID.
type TenantGetter interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
}

// Accountant derives usage snapshots from stored event counts. Nothing it
// computes is persisted.
type Accountant struct {
	mu      sync.RWMutex
	cfg     Config
	events  store.EventCounter
	tenants TenantGetter
	logger  *logging.Logger
}

// NewAccountant creates an accountant.
func NewAccountant(events store.EventCounter, tenants TenantGetter, cfg Config, logger *logging.Logger) *Accountant {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Accountant{
		cfg:     normalize(cfg),
		events:  events,
		tenants: tenants,
		logger:  logger,
	}
}

func normalize(cfg Config) Config {
	if cfg.DefaultCap == 0 {
		cfg.DefaultCap = DefaultMonthlyCap
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	return cfg
}

// UpdateConfig swaps the policy, e.g. after a config reload.
func (a *Accountant) UpdateConfig(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = normalize(cfg)
}

func (a *Accountant) config() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Location returns the time zone month boundaries are computed in.
func (a *Accountant) Location() *time.Location {
	return a.config().Location
}

// CapFor returns the monthly cap for the tenant's plan.
func (a *Accountant) CapFor(t *models.Tenant) int64 {
	cfg := a.config()
	if t != nil {
		if c, ok := cfg.Plans[t.Plan]; ok {
			return c
		}
	}
	return cfg.DefaultCap
}

// ClassifyTier maps a percentage to a level using the configured thresholds.
func (a *Accountant) ClassifyTier(percentage int) models.Level {
	return a.config().Thresholds.Classify(percentage)
}

// ComputeUsage loads the tenant and returns its snapshot for the month containing now.
func (a *Accountant) ComputeUsage(ctx context.Context, tenantID string, now time.Time) (models.UsageSnapshot, error) {
	t, err := a.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return models.UsageSnapshot{TenantID: tenantID}, err
	}
	return a.Snapshot(ctx, t, now)
}

// Snapshot computes usage for an already loaded tenant. Count failures are
// returned as errors and never read as zero usage.
func (a *Accountant) Snapshot(ctx context.Context, t *models.Tenant, now time.Time) (models.UsageSnapshot, error) {
	cfg := a.config()
	snap := models.UsageSnapshot{TenantID: t.ID}

	limit := a.CapFor(t)
	if limit <= 0 {
		return snap, &errors.ErrInvalidCap{TenantID: t.ID, Cap: limit}
	}

	local := now.In(cfg.Location)
	from, to := models.MonthWindow(local)

	used, err := a.events.CountEvents(ctx, t.ID, models.EventKindLead, from, to)
	if err != nil {
		return snap, err
	}

	raw := Percentage(used, limit)
	snap.Used = used
	snap.Cap = limit
	snap.Remaining = max(limit-used, 0)
	snap.RawPercentage = raw
	snap.Percentage = min(raw, 100)
	snap.Level = cfg.Thresholds.ClassifyUsage(used, limit)
	snap.ResetDate = to
	snap.Month = models.MonthStampOf(local)
	return snap, nil
}

// IsAtCap reports whether the tenant has used its whole monthly cap. It
// compares raw counts, so a rounded 100% below the cap is not at cap.
// Levels are classified on the same exact ratio, so the limit level and
// the hard gate agree.
func (a *Accountant) IsAtCap(ctx context.Context, tenantID string, now time.Time) (bool, error) {
	snap, err := a.ComputeUsage(ctx, tenantID, now)
	if err != nil {
		return false, err
	}
	return snap.AtCap(), nil
}

// Percentage returns round(used/cap*100), rounding halves away from zero.
func Percentage(used, limit int64) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Round(float64(used) * 100 / float64(limit)))
}
