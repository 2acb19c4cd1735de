package usage

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/inboxpilot/usagecap/internal/errors"
	"github.com/inboxpilot/usagecap/internal/models"
	"github.com/inboxpilot/usagecap/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *store.MemoryStore, tenant *models.Tenant, n int, at time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertTenant(ctx, tenant))
	for i := 0; i < n; i++ {
		require.NoError(t, s.RecordEvent(ctx, &models.LeadEvent{
			ID:        fmt.Sprintf("%s-%d-%d", tenant.ID, at.Unix(), i),
			TenantID:  tenant.ID,
			Kind:      models.EventKindLead,
			Status:    models.LeadAccepted,
			CreatedAt: at,
		}))
	}
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		pct  int
		want models.Level
	}{
		{0, models.LevelOK},
		{74, models.LevelOK},
		{75, models.LevelWarning},
		{89, models.LevelWarning},
		{90, models.LevelCritical},
		{99, models.LevelCritical},
		{100, models.LevelLimit},
		{150, models.LevelLimit},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.pct), func(t *testing.T) {
			assert.Equal(t, tt.want, th.Classify(tt.pct))
		})
	}
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0, Percentage(0, 200))
	assert.Equal(t, 75, Percentage(150, 200))
	assert.Equal(t, 100, Percentage(199, 200)) // 99.5 rounds up
	assert.Equal(t, 99, Percentage(198, 200))
	assert.Equal(t, 105, Percentage(210, 200))
	assert.Equal(t, 0, Percentage(10, 0))
}

func TestComputeUsage(t *testing.T) {
	now := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		used      int
		wantPct   int
		wantRaw   int
		wantLevel models.Level
		wantRem   int64
		wantAtCap bool
	}{
		{"empty", 0, 0, 0, models.LevelOK, 200, false},
		{"rounds to 75 but below three quarters", 149, 75, 75, models.LevelOK, 51, false},
		{"warning", 150, 75, 75, models.LevelWarning, 50, false},
		{"rounds to 90 but below critical", 179, 90, 90, models.LevelWarning, 21, false},
		{"critical", 180, 90, 90, models.LevelCritical, 20, false},
		{"rounds to 100 below cap", 199, 100, 100, models.LevelCritical, 1, false},
		{"at cap", 200, 100, 100, models.LevelLimit, 0, true},
		{"over cap", 210, 100, 105, models.LevelLimit, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			seed(t, s, &models.Tenant{ID: "t1", Email: "a@example.com"}, tt.used, now.Add(-time.Hour))
			a := NewAccountant(s, s, Config{}, nil)

			snap, err := a.ComputeUsage(context.Background(), "t1", now)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.used), snap.Used)
			assert.Equal(t, int64(200), snap.Cap)
			assert.Equal(t, tt.wantPct, snap.Percentage)
			assert.Equal(t, tt.wantRaw, snap.RawPercentage)
			assert.Equal(t, tt.wantLevel, snap.Level)
			assert.Equal(t, tt.wantRem, snap.Remaining)
			assert.Equal(t, models.MonthStamp("2026-2"), snap.Month)
			assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), snap.ResetDate)

			atCap, err := a.IsAtCap(context.Background(), "t1", now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAtCap, atCap)
		})
	}
}

func TestComputeUsageIgnoresOtherMonths(t *testing.T) {
	s := store.NewMemoryStore()
	tenant := &models.Tenant{ID: "t1"}
	seed(t, s, tenant, 5, time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC))
	seed(t, s, tenant, 3, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	seed(t, s, tenant, 4, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	a := NewAccountant(s, s, Config{}, nil)
	snap, err := a.ComputeUsage(context.Background(), "t1", time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Used)
}

func TestComputeUsageInConfiguredLocation(t *testing.T) {
	s := store.NewMemoryStore()
	tenant := &models.Tenant{ID: "t1"}
	// Feb 1 01:00 in UTC+3, still Jan 31 in UTC
	seed(t, s, tenant, 2, time.Date(2026, 1, 31, 22, 0, 0, 0, time.UTC))

	tz := time.FixedZone("UTC+3", 3*3600)
	a := NewAccountant(s, s, Config{Location: tz}, nil)

	snap, err := a.ComputeUsage(context.Background(), "t1", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Used)
	assert.True(t, snap.ResetDate.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, tz)))
}

func TestClassifyUsageMatchesHardGate(t *testing.T) {
	th := DefaultThresholds()
	for limit := int64(1); limit <= 250; limit++ {
		for used := int64(0); used <= limit+5; used++ {
			level := th.ClassifyUsage(used, limit)
			assert.Equal(t, used >= limit, level == models.LevelLimit, "used=%d cap=%d", used, limit)
			if 4*used < 3*limit {
				assert.Equal(t, models.LevelOK, level, "used=%d cap=%d", used, limit)
			}
		}
	}
}

func TestCapForPlans(t *testing.T) {
	a := NewAccountant(store.NewMemoryStore(), store.NewMemoryStore(), Config{
		DefaultCap: 100,
		Plans:      map[string]int64{"pro": 1000},
	}, nil)

	assert.Equal(t, int64(1000), a.CapFor(&models.Tenant{Plan: "pro"}))
	assert.Equal(t, int64(100), a.CapFor(&models.Tenant{Plan: "unknown"}))
	assert.Equal(t, int64(100), a.CapFor(nil))

	a.UpdateConfig(Config{Plans: map[string]int64{"pro": 500}})
	assert.Equal(t, int64(500), a.CapFor(&models.Tenant{Plan: "pro"}))
	assert.Equal(t, DefaultMonthlyCap, a.CapFor(&models.Tenant{}))
}

func TestComputeUsageInvalidCap(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, &models.Tenant{ID: "t1", Plan: "broken"}, 0, time.Now())

	a := NewAccountant(s, s, Config{Plans: map[string]int64{"broken": 0}}, nil)
	_, err := a.ComputeUsage(context.Background(), "t1", time.Now())

	var invalid *errors.ErrInvalidCap
	require.True(t, stderrors.As(err, &invalid))
	assert.Equal(t, "t1", invalid.TenantID)
}

type failingCounter struct{ err error }

func (f failingCounter) CountEvents(context.Context, string, models.EventKind, time.Time, time.Time) (int64, error) {
	return 0, f.err
}

func TestComputeUsagePropagatesCountErrors(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, &models.Tenant{ID: "t1"}, 0, time.Now())

	boom := stderrors.New("count failed")
	a := NewAccountant(failingCounter{err: boom}, s, Config{}, nil)

	_, err := a.ComputeUsage(context.Background(), "t1", time.Now())
	assert.ErrorIs(t, err, boom)

	_, err = a.IsAtCap(context.Background(), "t1", time.Now())
	assert.ErrorIs(t, err, boom)
}

func TestComputeUsageUnknownTenant(t *testing.T) {
	s := store.NewMemoryStore()
	a := NewAccountant(s, s, Config{}, nil)

	_, err := a.ComputeUsage(context.Background(), "nope", time.Now())
	var notFound *errors.ErrTenantNotFound
	assert.True(t, stderrors.As(err, &notFound))
}
