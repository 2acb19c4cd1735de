// Package api exposes usage, lead ingest and pass control over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inboxpilot/usagecap/internal/config"
	"github.com/inboxpilot/usagecap/internal/errors"
	"github.com/inboxpilot/usagecap/internal/ingest"
	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/metrics"
	"github.com/inboxpilot/usagecap/internal/notify"
	"github.com/inboxpilot/usagecap/internal/store"
	"github.com/inboxpilot/usagecap/internal/usage"
)

// Dependencies are the services the API serves from.
type Dependencies struct {
	Store      store.Store
	Accountant *usage.Accountant
	Gate       *notify.Gate
	Ingest     *ingest.Service
	Metrics    *metrics.Metrics
	Logger     *logging.Logger
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	config      config.ServerConfig
	apiConfig   config.APIConfig
	store       store.Store
	acct        *usage.Accountant
	gate        *notify.Gate
	ingest      *ingest.Service
	metrics     *metrics.Metrics
	logger      *logging.Logger
	clientLimit *keyedLimiter
	ingestLimit *keyedLimiter
	httpServer  *http.Server
	tlsConfig   config.TLSConfig
	nowFn       func() time.Time
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)

	m := deps.Metrics
	if m == nil {
		m = metrics.NewMetrics("usagecap")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}

	rl := apiCfg.RateLimit
	if rl.RequestsPerMinute <= 0 {
		rl.RequestsPerMinute = 1000
	}
	if rl.Burst <= 0 {
		rl.Burst = 100
	}
	if rl.IngestPerMinute <= 0 {
		rl.IngestPerMinute = 120
	}
	if rl.IngestBurst <= 0 {
		rl.IngestBurst = 20
	}

	server := &Server{
		router:      gin.New(),
		config:      cfg,
		apiConfig:   apiCfg,
		store:       deps.Store,
		acct:        deps.Accountant,
		gate:        deps.Gate,
		ingest:      deps.Ingest,
		metrics:     m,
		logger:      logger,
		clientLimit: newKeyedLimiter(rl.RequestsPerMinute, rl.Burst),
		ingestLimit: newKeyedLimiter(rl.IngestPerMinute, rl.IngestBurst),
		tlsConfig:   cfg.TLS,
		nowFn:       time.Now,
	}
	server.router.HandleMethodNotAllowed = true

	// Metrics and logging run first so rejected requests are still observed.
	server.router.Use(gin.Recovery())
	server.router.Use(metrics.Middleware(m, logger))
	server.router.Use(loggingMiddleware(logger))
	server.router.Use(rateLimit(server.clientLimit, "client", clientKey, logger))
	server.router.Use(bodyLimitMiddleware(maxRequestBody))

	server.setupRoutes()
	return server
}

// loggingMiddleware provides structured logging for all requests
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Get or generate correlation ID
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}

		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-ID", correlationID)

		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		}
		if tenantID := c.Param("id"); tenantID != "" {
			fields = append(fields, "tenant_id", tenantID)
		}
		if caller := c.GetString(ctxCaller); caller != "" {
			fields = append(fields, "caller", caller)
		}
		logger.InfoWithContext(ctx, "request completed", fields...)
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint - NO authentication required
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Health check - NO authentication required
	s.router.GET("/health", s.handleHealth)

	var keys *Keyring
	if s.apiConfig.Auth.Enabled {
		keys = NewKeyring(s.apiConfig.Auth.APIKeys, s.apiConfig.Auth.TenantKeys)
	}
	authMiddleware := APIKeyAuth(keys, s.apiConfig.Auth.HeaderName, s.logger)

	basePath := s.apiConfig.BasePath
	if basePath == "" {
		basePath = "/api/v1"
	}
	v1 := s.router.Group(basePath)
	v1.Use(authMiddleware)

	tenants := v1.Group("/tenants")
	{
		tenants.GET("", s.handleListTenants)
		tenants.GET("/:id", s.handleGetTenant)
		tenants.PUT("/:id", s.handleUpsertTenant)
		tenants.DELETE("/:id", s.handleDeleteTenant)
		tenants.GET("/:id/usage", s.handleGetUsage)
		tenants.GET("/:id/notifications", s.handlePreviewNotifications)
		tenants.GET("/:id/leads", s.handleListLeads)
		tenants.POST("/:id/leads", rateLimit(s.ingestLimit, "tenant", tenantKey, s.logger), s.handleIngestLead)
	}

	passes := v1.Group("/passes")
	{
		passes.POST("", s.handleRunPass)
		passes.GET("/last", s.handleLastPass)
	}

	notifications := v1.Group("/notifications")
	{
		notifications.GET("/state", s.handleNotificationState)
		notifications.POST("/pause", s.handlePause(true))
		notifications.POST("/resume", s.handlePause(false))
	}
}

// Run starts the HTTP or HTTPS server based on TLS configuration
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	if s.tlsConfig.Enabled {
		return s.RunTLS()
	}

	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	return nil
}

// RunTLS starts the HTTPS server with TLS configuration
func (s *Server) RunTLS() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	s.logger.Info("starting HTTPS server", "addr", addr, "cert_file", s.tlsConfig.CertFile, "min_version", s.tlsConfig.MinVersion)

	srv, err := NewHTTPSServerWithConfig(addr, s.tlsConfig.CertFile, s.tlsConfig.KeyFile, s.tlsConfig.MinVersion, s.router)
	if err != nil {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	s.httpServer = srv

	// Certificates are already loaded into TLSConfig.
	if err := s.httpServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	return nil
}

// Shutdown gracefully shuts down the server and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	if s.httpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logger.Info("shutting down HTTP server")
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.logger.Error("HTTP server shutdown error", "error", err.Error())
				errs <- &errors.ErrServerShutdown{Err: err}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Close the store only once in-flight requests have drained.
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs <- fmt.Errorf("store close: %w", err)
		}
	}

	close(errs)
	var errList []error
	for err := range errs {
		errList = append(errList, err)
	}
	if len(errList) > 0 {
		return fmt.Errorf("shutdown errors: %v", errList)
	}

	s.logger.Info("graceful shutdown completed")
	return nil
}

// handleHealth returns health status
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"timestamp": s.nowFn().UTC(),
	}
	if s.gate != nil {
		resp["notifications_paused"] = s.gate.Paused()
	}
	c.JSON(http.StatusOK, resp)
}
