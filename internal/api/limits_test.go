package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLimiterRefillsOverTime(t *testing.T) {
	clock := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	l := newKeyedLimiter(60, 2)
	l.now = func() time.Time { return clock }

	assert.True(t, l.allow("t1"))
	assert.True(t, l.allow("t1"))
	assert.False(t, l.allow("t1"))
	assert.True(t, l.allow("t2"), "keys have separate buckets")

	clock = clock.Add(500 * time.Millisecond)
	assert.False(t, l.allow("t1"), "half a token is not enough")

	clock = clock.Add(500 * time.Millisecond)
	assert.True(t, l.allow("t1"))
	assert.False(t, l.allow("t1"))

	clock = clock.Add(time.Hour)
	assert.True(t, l.allow("t1"))
	assert.True(t, l.allow("t1"))
	assert.False(t, l.allow("t1"), "refill stops at the burst size")
	assert.Equal(t, 1, l.retryAfter())
}

func TestRateLimitPerTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.WithOutput(&buf))

	l := newKeyedLimiter(1, 2)
	r := gin.New()
	r.POST("/tenants/:id/leads", rateLimit(l, "tenant", tenantKey, logger), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	post := func(tenantID, ip string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/tenants/"+tenantID+"/leads", nil)
		req.RemoteAddr = ip + ":1234"
		r.ServeHTTP(w, req)
		return w
	}

	// Spreading requests over addresses does not escape the tenant bucket
	assert.Equal(t, http.StatusCreated, post("t1", "10.0.0.1").Code)
	assert.Equal(t, http.StatusCreated, post("t1", "10.0.0.2").Code)
	w := post("t1", "10.0.0.3")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limited")
	assert.Contains(t, buf.String(), "rate limit exceeded")

	assert.Equal(t, http.StatusCreated, post("t2", "10.0.0.3").Code)
}

func TestRateLimitPerClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := newKeyedLimiter(1, 1)
	r := gin.New()
	r.Use(rateLimit(l, "client", clientKey, logging.Nop()))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(ip string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = ip + ":1234"
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, get("10.0.0.1"))
	assert.Equal(t, http.StatusOK, get("10.0.0.2"))
}

func TestBindJSONRejectsOversizedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(bodyLimitMiddleware(64))
	r.POST("/leads", func(c *gin.Context) {
		var req IngestRequest
		if !bindJSON(c, &req) {
			return
		}
		c.Status(http.StatusCreated)
	})

	send := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/leads", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := send(`{"sender":"lead@example.com","body":"` + strings.Repeat("x", 200) + `"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "request_too_large")

	assert.Equal(t, http.StatusBadRequest, send(`{"sender":`).Code)
	assert.Equal(t, http.StatusCreated, send(`{"sender":"a@b.c"}`).Code)
}
