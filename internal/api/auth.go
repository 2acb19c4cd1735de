package api

import (
	"crypto/subtle"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/inboxpilot/usagecap/internal/logging"
)

const (
	// DefaultAPIKeyHeader is the default header name for API key authentication
	DefaultAPIKeyHeader = "X-API-Key"

	// Context keys set by APIKeyAuth.
	ctxCaller      = "caller"
	ctxTenantScope = "tenant_scope"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// credential is one accepted key. An empty tenant means the key reaches
// every route.
type credential struct {
	key    []byte
	tenant string
}

// Keyring holds the keys APIKeyAuth accepts.
type Keyring struct {
	creds []credential
}

// NewKeyring builds a keyring from operator keys and per-tenant keys.
func NewKeyring(adminKeys []string, tenantKeys map[string][]string) *Keyring {
	k := &Keyring{}
	for _, key := range adminKeys {
		k.creds = append(k.creds, credential{key: []byte(key)})
	}
	for tenant, keys := range tenantKeys {
		for _, key := range keys {
			k.creds = append(k.creds, credential{key: []byte(key), tenant: tenant})
		}
	}
	return k
}

// Empty reports whether no key is configured.
func (k *Keyring) Empty() bool {
	return k == nil || len(k.creds) == 0
}

// lookup compares against every key so timing does not reveal which one matched.
func (k *Keyring) lookup(presented string) (credential, bool) {
	var match credential
	found := false
	for _, cred := range k.creds {
		if subtle.ConstantTimeCompare([]byte(presented), cred.key) == 1 && !found {
			match, found = cred, true
		}
	}
	return match, found
}

// APIKeyAuth validates the key in headerName. Operator keys reach every
// route. A tenant key only reaches routes whose :id is that tenant and is
// refused elsewhere with 403. An empty keyring disables authentication.
func APIKeyAuth(keys *Keyring, headerName string, logger *logging.Logger) gin.HandlerFunc {
	if headerName == "" {
		headerName = DefaultAPIKeyHeader
	}

	if keys.Empty() {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		presented := c.GetHeader(headerName)

		if presented == "" {
			logger.WarnWithContext(ctx, "API authentication failed: missing API key",
				"header_name", headerName,
				"client_ip", c.ClientIP(),
				"path", c.Request.URL.Path,
			)
			abortAuth(c, http.StatusUnauthorized, "unauthorized",
				"API key is required. Provide it in the '"+headerName+"' header")
			return
		}

		cred, ok := keys.lookup(presented)
		if !ok {
			logger.WarnWithContext(ctx, "API authentication failed: invalid API key",
				"client_ip", c.ClientIP(),
				"path", c.Request.URL.Path,
			)
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "Invalid API key")
			return
		}

		caller := maskKey(presented)
		if cred.tenant != "" && c.Param("id") != cred.tenant {
			logger.WarnWithContext(ctx, "API key used outside its tenant",
				"caller", caller,
				"key_tenant", cred.tenant,
				"tenant_id", c.Param("id"),
				"path", c.Request.URL.Path,
			)
			abortAuth(c, http.StatusForbidden, "forbidden", "API key is scoped to another tenant")
			return
		}

		c.Set(ctxCaller, caller)
		c.Set(ctxTenantScope, cred.tenant)
		c.Next()
	}
}

func abortAuth(c *gin.Context, status int, code, message string) {
	_ = c.Error(stderrors.New(message)).SetMeta(code)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: message, Code: status})
}

// MaskAPIKeys masks API keys for logging (shows only first 4 characters)
func MaskAPIKeys(keys []string) []string {
	masked := make([]string, len(keys))
	for i, key := range keys {
		masked[i] = maskKey(key)
	}
	return masked
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}
