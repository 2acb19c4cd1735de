package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inboxpilot/usagecap/internal/config"
	"github.com/inboxpilot/usagecap/internal/ingest"
	"github.com/inboxpilot/usagecap/internal/lock"
	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/metrics"
	"github.com/inboxpilot/usagecap/internal/models"
	"github.com/inboxpilot/usagecap/internal/notify"
	"github.com/inboxpilot/usagecap/internal/notify/notifytest"
	"github.com/inboxpilot/usagecap/internal/store"
	"github.com/inboxpilot/usagecap/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	server *Server
	store  *store.MemoryStore
	sink   *notifytest.RecordingSink
	locker *lock.LocalLocker
}

func setupTestServer(t *testing.T, apiCfg config.APIConfig) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStore()
	logger := logging.Nop()
	m := metrics.NewMetrics("apitest")

	acct := usage.NewAccountant(st, st, usage.Config{
		DefaultCap: 10,
		Plans:      map[string]int64{"growth": 100},
		Location:   time.UTC,
	}, logger)

	sink := &notifytest.RecordingSink{}
	locker := lock.NewLocalLocker()
	gate := notify.NewGate(acct, st, sink, notify.GateConfig{Workers: 2},
		notify.WithAdminSink(sink),
		notify.WithLocker(locker),
		notify.WithSettings(st.Settings()),
		notify.WithMetrics(m),
	)
	ingestSvc := ingest.NewService(acct, st, st, ingest.TemplateGenerator{}, m, logger)

	server := NewServer(
		config.ServerConfig{Host: "localhost", HTTPPort: 8080},
		apiCfg,
		Dependencies{
			Store:      st,
			Accountant: acct,
			Gate:       gate,
			Ingest:     ingestSvc,
			Metrics:    m,
			Logger:     logger,
		},
	)
	server.nowFn = func() time.Time { return testNow }

	return &testEnv{server: server, store: st, sink: sink, locker: locker}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedTenant(t *testing.T, id, email string, leads int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.UpsertTenant(ctx, &models.Tenant{ID: id, Email: email, Name: id}))
	for i := 0; i < leads; i++ {
		require.NoError(t, e.store.RecordEvent(ctx, &models.LeadEvent{
			ID:        fmt.Sprintf("%s-lead-%d", id, i),
			TenantID:  id,
			Kind:      models.EventKindLead,
			Status:    models.LeadAccepted,
			Sender:    "buyer@example.com",
			CreatedAt: testNow.Add(-time.Duration(i+1) * time.Hour),
		}))
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})

	w := env.do(t, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})

	env.do(t, "GET", "/health", nil)
	w := env.do(t, "GET", "/metrics", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "apitest_http_requests_total")
}

func TestAuthRequiredOnAPIRoutes(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{
		Auth: config.AuthConfig{Enabled: true, APIKeys: []string{"secret-key"}},
	})

	w := env.do(t, "GET", "/api/v1/tenants", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/api/v1/tenants", nil)
	req.Header.Set(DefaultAPIKeyHeader, "secret-key")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open.
	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/health", nil).Code)
}

func TestTenantKeyReachesOnlyItsTenant(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{
		Auth: config.AuthConfig{
			Enabled:    true,
			APIKeys:    []string{"secret-key"},
			TenantKeys: map[string][]string{"acme": {"acme-webhook"}},
		},
	})
	env.seedTenant(t, "acme", "owner@acme.io", 0)
	env.seedTenant(t, "globex", "owner@globex.io", 0)

	send := func(method, path, key string) int {
		var body bytes.Buffer
		require.NoError(t, json.NewEncoder(&body).Encode(IngestRequest{Sender: "lead@example.com", Body: "Hi"}))
		req := httptest.NewRequest(method, path, &body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(DefaultAPIKeyHeader, key)
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, send("POST", "/api/v1/tenants/acme/leads", "acme-webhook"))
	assert.Equal(t, http.StatusForbidden, send("POST", "/api/v1/tenants/globex/leads", "acme-webhook"))
	assert.Equal(t, http.StatusForbidden, send("POST", "/api/v1/passes", "acme-webhook"))
	assert.Equal(t, http.StatusCreated, send("POST", "/api/v1/tenants/globex/leads", "secret-key"))
}

func TestIngestRateLimitedPerTenant(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{
		RateLimit: config.RateLimitConfig{IngestPerMinute: 1, IngestBurst: 2},
	})
	env.seedTenant(t, "acme", "owner@acme.io", 0)
	env.seedTenant(t, "globex", "owner@globex.io", 0)

	lead := IngestRequest{Sender: "lead@example.com", Body: "Hi"}
	assert.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/tenants/acme/leads", lead).Code)
	assert.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/tenants/acme/leads", lead).Code)

	w := env.do(t, "POST", "/api/v1/tenants/acme/leads", lead)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limited")
	assert.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/tenants/globex/leads", lead).Code)

	// Reads are not throttled by the ingest bucket
	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/tenants/acme/usage", nil).Code)

	// Throttled ingest is not recorded in the ledger
	events, err := env.store.ListEvents(context.Background(), "acme", testNow.AddDate(0, -1, 0), testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 2)

	metricsBody := env.do(t, "GET", "/metrics", nil).Body.String()
	assert.Contains(t, metricsBody, `apitest_tenant_requests_total{endpoint="/api/v1/tenants/:id/leads",method="POST",status="429",tenant_id="acme"} 1`)
	assert.Contains(t, metricsBody, `apitest_errors_total{endpoint="/api/v1/tenants/:id/leads",method="POST",type="rate_limited"} 1`)
}

func TestTenantCRUD(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})

	w := env.do(t, "PUT", "/api/v1/tenants/acme", TenantRequest{Email: "owner@acme.io", Name: "Acme", Plan: "growth"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, "PUT", "/api/v1/tenants/acme", TenantRequest{Email: "sales@acme.io", Name: "Acme", Plan: "growth"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/api/v1/tenants/acme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tenant := decode[models.Tenant](t, w)
	assert.Equal(t, "sales@acme.io", tenant.Email)
	assert.Equal(t, "growth", tenant.Plan)

	w = env.do(t, "GET", "/api/v1/tenants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = env.do(t, "PUT", "/api/v1/tenants/bad", TenantRequest{Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, "DELETE", "/api/v1/tenants/acme", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "DELETE", "/api/v1/tenants/acme", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/tenants/acme", nil).Code)
}

func TestHandleGetUsage(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.seedTenant(t, "acme", "owner@acme.io", 8)

	w := env.do(t, "GET", "/api/v1/tenants/acme/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[UsageResponse](t, w)
	assert.Equal(t, int64(8), resp.Used)
	assert.Equal(t, int64(10), resp.Cap)
	assert.Equal(t, int64(2), resp.Remaining)
	assert.Equal(t, 80, resp.Percentage)
	assert.Equal(t, models.LevelWarning, resp.Level)
	assert.False(t, resp.AtCap)
	assert.True(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Equal(resp.ResetDate))
}

func TestHandleGetUsage_NotFound(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})

	w := env.do(t, "GET", "/api/v1/tenants/ghost/usage", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestHandleGetUsage_OverCapClampsDisplay(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.seedTenant(t, "acme", "owner@acme.io", 12)

	resp := decode[UsageResponse](t, env.do(t, "GET", "/api/v1/tenants/acme/usage", nil))
	assert.Equal(t, 100, resp.Percentage)
	assert.Equal(t, 120, resp.RawPercentage)
	assert.Equal(t, int64(0), resp.Remaining)
	assert.True(t, resp.AtCap)
}

func TestHandleIngestLead(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.seedTenant(t, "acme", "owner@acme.io", 9)

	w := env.do(t, "POST", "/api/v1/tenants/acme/leads", IngestRequest{
		Sender:  "Jane Buyer <jane@example.com>",
		Subject: "Pricing",
		Body:    "How much for ten seats?",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	lead := decode[models.LeadEvent](t, w)
	assert.Equal(t, models.LeadAccepted, lead.Status)
	assert.NotEmpty(t, lead.Draft)

	// Tenth lead reached the cap; the next one is denied but still stored.
	w = env.do(t, "POST", "/api/v1/tenants/acme/leads", IngestRequest{Sender: "late@example.com", Body: "Hello?"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	denial := decode[CapReachedResponse](t, w)
	assert.Equal(t, "cap_reached", denial.Error)
	assert.Equal(t, int64(10), denial.Used)
	assert.Equal(t, int64(10), denial.Cap)
	assert.True(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Equal(denial.ResetDate))
	require.NotNil(t, denial.Lead)
	assert.Equal(t, models.LeadCapped, denial.Lead.Status)
	assert.Empty(t, denial.Lead.Draft)

	used, err := env.store.CountEvents(context.Background(), "acme", models.EventKindLead,
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(11), used)
}

func TestHandleIngestLead_Validation(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.seedTenant(t, "acme", "owner@acme.io", 0)

	assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/api/v1/tenants/acme/leads", IngestRequest{Subject: "only a subject"}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "POST", "/api/v1/tenants/ghost/leads", IngestRequest{Body: "hi"}).Code)
}

func TestHandleListLeads(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.seedTenant(t, "acme", "owner@acme.io", 3)

	w := env.do(t, "GET", "/api/v1/tenants/acme/leads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":3`)

	w = env.do(t, "GET", "/api/v1/tenants/acme/leads?from=2026-03-01T00:00:00Z&to=2026-04-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/api/v1/tenants/acme/leads?from=yesterday", nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, "GET", "/api/v1/tenants/acme/leads?from=2026-03-01T00:00:00Z&to=2026-02-01T00:00:00Z", nil).Code)
}

func TestHandlePreviewNotifications(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.seedTenant(t, "acme", "owner@acme.io", 10)

	w := env.do(t, "GET", "/api/v1/tenants/acme/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[PreviewResponse](t, w)
	assert.True(t, resp.Usage.AtCap)
	require.Len(t, resp.Decisions, 4)

	sends := map[models.NotificationKind]bool{}
	for _, d := range resp.Decisions {
		sends[d.Kind] = d.Send
	}
	// At the cap the tier is limit, so the warning stays quiet.
	assert.False(t, sends[models.NotificationWarning])
	assert.True(t, sends[models.NotificationLimit])
	assert.False(t, sends[models.NotificationFollowUp])
	assert.False(t, sends[models.NotificationReset])

	// Preview never dispatches.
	assert.Empty(t, env.sink.Sent())
}

func TestHandleRunPassAndLastPass(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.seedTenant(t, "acme", "owner@acme.io", 8)
	env.seedTenant(t, "globex", "ops@globex.io", 10)
	env.seedTenant(t, "initech", "", 10)

	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/passes/last", nil).Code)

	w := env.do(t, "POST", "/api/v1/passes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[models.PassResult](t, w)
	assert.Equal(t, 3, result.TenantsChecked)
	assert.Equal(t, 1, result.WarningsSent)
	assert.Equal(t, 1, result.LimitsSent)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Errors)

	// Same day again sends nothing new.
	w = env.do(t, "POST", "/api/v1/passes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	again := decode[models.PassResult](t, w)
	assert.Equal(t, 0, again.Sent())
	assert.Len(t, env.sink.Sent(), 2)

	w = env.do(t, "GET", "/api/v1/passes/last", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[models.PassResult](t, w).TenantsChecked)
}

func TestHandleRunPass_Locked(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})

	release, err := env.locker.Acquire(context.Background(), "daily-pass", time.Minute)
	require.NoError(t, err)
	defer release(context.Background())

	w := env.do(t, "POST", "/api/v1/passes", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "pass_locked")
}

func TestHandlePauseResume(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.seedTenant(t, "acme", "owner@acme.io", 10)

	w := env.do(t, "POST", "/api/v1/notifications/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"paused":true}`, w.Body.String())
	assert.JSONEq(t, `{"paused":true}`, env.do(t, "GET", "/api/v1/notifications/state", nil).Body.String())

	w = env.do(t, "POST", "/api/v1/passes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.PassResult](t, w).Paused)
	assert.Empty(t, env.sink.Sent())

	require.Equal(t, http.StatusOK, env.do(t, "POST", "/api/v1/notifications/resume", nil).Code)
	w = env.do(t, "POST", "/api/v1/passes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resumed := decode[models.PassResult](t, w)
	assert.Equal(t, 1, resumed.Sent())
}

func TestMethodNotAllowed(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})

	w := env.do(t, "DELETE", "/api/v1/passes", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
