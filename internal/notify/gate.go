// Package notify decides which usage notifications each tenant receives
// and delivers them at most once per calendar month.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inboxpilot/usagecap/internal/errors"
	"github.com/inboxpilot/usagecap/internal/lock"
	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/models"
	"github.com/inboxpilot/usagecap/internal/store"
)

// Pass stages recorded on tenant errors.
const (
	StageUsage        = "usage"
	StageReadMarkers  = "read_markers"
	StageSend         = "send"
	StageWriteMarkers = "write_markers"
	StageCancelled    = "cancelled"
)

// Accountant supplies usage snapshots.
type Accountant interface {
	Snapshot(ctx context.Context, t *models.Tenant, now time.Time) (models.UsageSnapshot, error)
	Location() *time.Location
}

// GateStore is the persistence the gate needs.
type GateStore interface {
	store.TenantLister
	store.MarkerStore
}

// Metrics receives pass instrumentation.
type Metrics interface {
	RecordNotification(kind models.NotificationKind, ok bool)
	RecordTenantError(stage string)
	SetTenantUsage(snap models.UsageSnapshot)
	RecordPass(result *models.PassResult, err error)
}

// GateConfig holds gate settings.
type GateConfig struct {
	Policy          Policy
	Workers         int
	DraftCostUSD    float64
	LockKey         string
	LockTTL         time.Duration
	MaxWriteRetries int
}

// Gate runs the per-tenant notification sub-machines.
type Gate struct {
	mu       sync.RWMutex
	cfg      GateConfig
	acct     Accountant
	store    GateStore
	sink     Sink
	admin    AdminSink
	locker   lock.Locker
	metrics  Metrics
	settings store.SettingsStore
	logger   *logging.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithAdminSink sets the operator alert channel.
func WithAdminSink(a AdminSink) GateOption {
	return func(g *Gate) {
		g.admin = a
	}
}

// WithLocker sets the pass lock.
func WithLocker(l lock.Locker) GateOption {
	return func(g *Gate) {
		g.locker = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) GateOption {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithSettings sets the store used for the pause switch and last pass summary.
func WithSettings(s store.SettingsStore) GateOption {
	return func(g *Gate) {
		g.settings = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) GateOption {
	return func(g *Gate) {
		g.logger = l
	}
}

// NewGate creates a gate.
func NewGate(acct Accountant, st GateStore, sink Sink, cfg GateConfig, opts ...GateOption) *Gate {
	g := &Gate{
		cfg:     normalizeGateConfig(cfg),
		acct:    acct,
		store:   st,
		sink:    sink,
		locker:  lock.NewLocalLocker(),
		metrics: nopMetrics{},
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func normalizeGateConfig(cfg GateConfig) GateConfig {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "daily-pass"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.MaxWriteRetries <= 0 {
		cfg.MaxWriteRetries = 3
	}
	return cfg
}

// UpdateConfig swaps the gate settings. A pass already running keeps the
// settings it started with.
func (g *Gate) UpdateConfig(cfg GateConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = normalizeGateConfig(cfg)
}

func (g *Gate) config() GateConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// RunDailyPass evaluates every tenant once. Per-tenant failures are
// recorded in the result; only lock and enumeration failures are returned.
func (g *Gate) RunDailyPass(ctx context.Context, now time.Time) (*models.PassResult, error) {
	ctx, passID := logging.EnsureCorrelationID(ctx)
	result := &models.PassResult{
		PassID:      passID,
		EvaluatedAt: now,
		StartedAt:   time.Now().UTC(),
	}

	if g.settings != nil && g.settings.GetBool(store.SettingNotificationsPaused, false) {
		g.logger.WarnWithContext(ctx, "notifications paused, skipping daily pass")
		result.Paused = true
		result.FinishedAt = time.Now().UTC()
		return result, nil
	}

	cfg := g.config()
	release, err := g.locker.Acquire(ctx, cfg.LockKey, cfg.LockTTL)
	if err != nil {
		g.metrics.RecordPass(nil, err)
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			g.logger.ErrorWithContext(ctx, "failed to release pass lock", "error", err)
		}
	}()

	tenants, err := g.store.ListTenants(ctx)
	if err != nil {
		err = fmt.Errorf("list tenants: %w", err)
		g.logger.ErrorWithContext(ctx, "daily pass aborted", "error", err)
		g.metrics.RecordPass(nil, err)
		return nil, err
	}

	g.logger.InfoWithContext(ctx, "daily pass started",
		"tenants", len(tenants),
		"workers", cfg.Workers,
		"now", now.Format(time.RFC3339),
	)

	outcomes := make([]models.TenantOutcome, len(tenants))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(cfg.Workers)
	for i, t := range tenants {
		eg.Go(func() error {
			outcomes[i] = g.evaluate(egctx, cfg, t, now)
			return nil
		})
	}
	_ = eg.Wait()

	for _, o := range outcomes {
		result.Add(o)
	}
	result.FinishedAt = time.Now().UTC()

	g.logger.InfoWithContext(ctx, "daily pass finished",
		"tenants_checked", result.TenantsChecked,
		"warnings_sent", result.WarningsSent,
		"limits_sent", result.LimitsSent,
		"followups_sent", result.FollowUpsSent,
		"resets_sent", result.ResetsSent,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	)
	g.metrics.RecordPass(result, nil)
	g.saveLastPass(ctx, result)
	return result, nil
}

// EvaluateTenant runs the four sub-machines for one tenant in order,
// dispatching before persisting each marker. It never returns an error;
// failures are reported in the outcome.
func (g *Gate) EvaluateTenant(ctx context.Context, t *models.Tenant, now time.Time) models.TenantOutcome {
	return g.evaluate(ctx, g.config(), t, now)
}

func (g *Gate) evaluate(ctx context.Context, cfg GateConfig, t *models.Tenant, now time.Time) models.TenantOutcome {
	out := models.TenantOutcome{TenantID: t.ID}
	log := g.logger.With("tenant_id", t.ID)

	if err := ctx.Err(); err != nil {
		g.fail(ctx, log, &out, "", StageCancelled, err)
		return out
	}

	if !t.HasContact() {
		log.InfoWithContext(ctx, "tenant has no contact address, skipping")
		out.Skipped = true
		return out
	}

	now = now.In(g.acct.Location())

	snap, err := g.acct.Snapshot(ctx, t, now)
	if err != nil {
		g.fail(ctx, log, &out, "", StageUsage, err)
		return out
	}
	g.metrics.SetTenantUsage(snap)

	state, err := g.store.ReadMarkers(ctx, t.ID)
	if err != nil {
		g.fail(ctx, log, &out, "", StageReadMarkers, err)
		return out
	}

	for _, check := range cfg.Policy.Checks() {
		_, d := check(state, snap, now)
		if !d.Send {
			continue
		}

		// The limit check stamps the hit date of this cycle. A follow-up
		// refers back to the stamp persisted with the limit email.
		hitAt := d.Update.LimitHitDate
		if hitAt == nil && d.Kind == models.NotificationFollowUp {
			hitAt = state.LimitHitDate
		}
		n := Notification{
			Kind:      d.Kind,
			TenantID:  t.ID,
			Address:   t.Email,
			Name:      t.DisplayName(),
			Usage:     snap,
			Month:     models.MonthStampOf(now),
			HitAt:     hitAt,
			Timestamp: now,
		}
		if err := g.sink.Send(ctx, n); err != nil {
			g.metrics.RecordNotification(d.Kind, false)
			g.fail(ctx, log, &out, d.Kind, StageSend,
				&errors.ErrNotificationSend{Kind: string(d.Kind), TenantID: t.ID, Err: err})
			continue
		}
		g.metrics.RecordNotification(d.Kind, true)
		out.Sent = append(out.Sent, d.Kind)
		log.InfoWithContext(ctx, "notification sent",
			"kind", string(d.Kind),
			"used", snap.Used,
			"cap", snap.Cap,
			"percentage", snap.Percentage,
		)

		state, err = g.persist(ctx, cfg, t.ID, state, d.Update)
		if err != nil {
			g.fail(ctx, log, &out, d.Kind, StageWriteMarkers, err)
			return out
		}

		if d.Kind == models.NotificationLimit {
			g.alertAdmin(ctx, log, t, snap, cfg.DraftCostUSD, now)
		}
	}
	return out
}

// persist writes update against state's version, re-reading and retrying
// when another writer got there first. The partial merge keeps the other
// writer's fields.
func (g *Gate) persist(ctx context.Context, cfg GateConfig, tenantID string, state models.NotificationState, update models.MarkerUpdate) (models.NotificationState, error) {
	for attempt := 0; ; attempt++ {
		written, err := g.store.WriteMarkers(ctx, tenantID, update, state.Version)
		if err == nil {
			return written, nil
		}
		var conflict *errors.ErrMarkerConflict
		if !errors.As(err, &conflict) || attempt >= cfg.MaxWriteRetries {
			return state, err
		}
		g.logger.WarnWithContext(ctx, "marker write conflict, retrying",
			"tenant_id", tenantID,
			"attempt", attempt+1,
		)
		state, err = g.store.ReadMarkers(ctx, tenantID)
		if err != nil {
			return state, err
		}
	}
}

func (g *Gate) alertAdmin(ctx context.Context, log *logging.Logger, t *models.Tenant, snap models.UsageSnapshot, draftCost float64, now time.Time) {
	if g.admin == nil {
		return
	}
	alert := AdminAlert{
		TenantID:      t.ID,
		TenantName:    t.DisplayName(),
		Email:         t.Email,
		Plan:          t.Plan,
		Used:          snap.Used,
		Cap:           snap.Cap,
		RawPercentage: snap.RawPercentage,
		EstimatedCost: float64(snap.Used) * draftCost,
		Month:         snap.Month,
		Timestamp:     now,
	}
	if err := g.admin.SendAdmin(ctx, alert); err != nil {
		log.WarnWithContext(ctx, "admin alert failed", "error", err)
	}
}

func (g *Gate) fail(ctx context.Context, log *logging.Logger, out *models.TenantOutcome, kind models.NotificationKind, stage string, err error) {
	g.metrics.RecordTenantError(stage)
	log.ErrorWithContext(ctx, "tenant evaluation failed",
		"stage", stage,
		"kind", string(kind),
		"error", err,
	)
	out.Failures = append(out.Failures, models.TenantError{
		TenantID: out.TenantID,
		Kind:     kind,
		Stage:    stage,
		Message:  err.Error(),
	})
}

// Preview reports what a pass would send for t without dispatching or
// persisting anything.
func (g *Gate) Preview(ctx context.Context, t *models.Tenant, now time.Time) (models.UsageSnapshot, models.NotificationState, []Decision, error) {
	now = now.In(g.acct.Location())
	snap, err := g.acct.Snapshot(ctx, t, now)
	if err != nil {
		return snap, models.NotificationState{}, nil, err
	}
	state, err := g.store.ReadMarkers(ctx, t.ID)
	if err != nil {
		return snap, state, nil, err
	}
	_, decisions := g.config().Policy.Fold(state, snap, now)
	return snap, state, decisions, nil
}

// SetPaused toggles the notification pause switch.
func (g *Gate) SetPaused(paused bool) error {
	if g.settings == nil {
		return fmt.Errorf("settings store not configured")
	}
	return g.settings.SetBool(store.SettingNotificationsPaused, paused)
}

// Paused reports whether passes are currently skipped.
func (g *Gate) Paused() bool {
	return g.settings != nil && g.settings.GetBool(store.SettingNotificationsPaused, false)
}

// LastPass returns the summary of the most recent completed pass.
func (g *Gate) LastPass() (*models.PassResult, bool) {
	if g.settings == nil {
		return nil, false
	}
	raw, ok := g.settings.Get(store.SettingLastPassResult)
	if !ok {
		return nil, false
	}
	var result models.PassResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (g *Gate) saveLastPass(ctx context.Context, result *models.PassResult) {
	if g.settings == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err == nil {
		err = g.settings.Set(store.SettingLastPassResult, string(raw))
	}
	if err == nil {
		err = g.settings.SetTime(store.SettingLastPassAt, result.FinishedAt)
	}
	if err == nil {
		err = g.settings.Set(store.SettingLastPassCorrelationID, result.PassID)
	}
	if err != nil {
		g.logger.WarnWithContext(ctx, "failed to save last pass summary", "error", err)
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordNotification(models.NotificationKind, bool) {}
func (nopMetrics) RecordTenantError(string)                         {}
func (nopMetrics) SetTenantUsage(models.UsageSnapshot)              {}
func (nopMetrics) RecordPass(*models.PassResult, error)             {}
