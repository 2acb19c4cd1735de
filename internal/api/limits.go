package api

import (
	stderrors "errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inboxpilot/usagecap/internal/logging"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// keyedLimiter keeps one token bucket per key. The API keys it by client IP
// for every route and by tenant ID for lead ingest, so a tenant's webhook
// cannot flood the ledger by spreading requests over many addresses.
type keyedLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	interval time.Duration
	burst    float64
	now      func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newKeyedLimiter(perMinute, burst int) *keyedLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &keyedLimiter{
		buckets:  make(map[string]*bucket),
		interval: time.Minute / time.Duration(perMinute),
		burst:    float64(burst),
		now:      time.Now,
	}
}

// allow takes a token for key. Buckets refill continuously at one token per
// interval up to the burst size.
func (l *keyedLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.last)
		b.tokens = math.Min(l.burst, b.tokens+float64(elapsed)/float64(l.interval))
		b.last = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// retryAfter is the wait until the next token, rounded up to whole seconds
// for the Retry-After header.
func (l *keyedLimiter) retryAfter() int {
	return int(math.Ceil(l.interval.Seconds()))
}

// clientKey and tenantKey select what a limiter is keyed by.
func clientKey(c *gin.Context) string { return c.ClientIP() }
func tenantKey(c *gin.Context) string { return c.Param("id") }

// rateLimit rejects requests once the bucket for the request's key is empty.
// Requests without a key pass.
func rateLimit(l *keyedLimiter, scope string, key func(*gin.Context) string, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		k := key(c)
		if k == "" || l.allow(k) {
			c.Next()
			return
		}

		logger.WarnWithContext(c.Request.Context(), "rate limit exceeded",
			"scope", scope,
			"key", k,
			"path", c.Request.URL.Path,
		)
		_ = c.Error(stderrors.New("rate limit exceeded")).SetMeta("rate_limited")
		c.Header("Retry-After", strconv.Itoa(l.retryAfter()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error:   "rate_limited",
			Message: "Too many requests for this " + scope + ". Please try again later.",
			Code:    http.StatusTooManyRequests,
		})
	}
}

// bodyLimitMiddleware caps request bodies. Handlers see the overflow as a
// *http.MaxBytesError when they bind.
func bodyLimitMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil && c.Request.Body != http.NoBody {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}
		c.Next()
	}
}

// bindJSON decodes the body into dst and answers 400 or 413 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "request_too_large",
			Message: "Request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			Code:    http.StatusRequestEntityTooLarge,
		})
		return false
	}
	badRequest(c, err.Error())
	return false
}
