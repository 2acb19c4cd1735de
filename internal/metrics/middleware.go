package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inboxpilot/usagecap/internal/logging"
)

// Middleware records HTTP metrics for each request. Requests to routes with
// a tenant :id are also counted per tenant. Errors attached to the context
// are counted by the type string in their Meta, or "handler" without one.
func Middleware(m *Metrics, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.IncHTTPRequestsInFlight()
		defer m.DecHTTPRequestsInFlight()

		c.Next()

		status := c.Writer.Status()
		code := strconv.Itoa(status)
		method := c.Request.Method
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		m.RecordRequestLatency(endpoint, method, code, time.Since(start).Seconds())
		m.RecordHTTPRequest(endpoint, method, code)

		tenantID := c.Param("id")
		if tenantID != "" {
			m.RecordTenantRequest(tenantID, endpoint, method, code)
		}

		for _, e := range c.Errors {
			errType, ok := e.Meta.(string)
			if !ok || errType == "" {
				errType = "handler"
			}
			m.RecordError(errType, endpoint, method)
		}
		if len(c.Errors) == 0 {
			return
		}

		fields := []any{
			"endpoint", endpoint,
			"status", status,
			"error", c.Errors.String(),
		}
		if tenantID != "" {
			fields = append(fields, "tenant_id", tenantID)
		}
		if status >= 500 {
			logger.ErrorWithContext(c.Request.Context(), "request error", fields...)
		} else {
			logger.WarnWithContext(c.Request.Context(), "request rejected", fields...)
		}
	}
}
