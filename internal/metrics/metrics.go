package metrics

import (
	"net/http"

	"github.com/inboxpilot/usagecap/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// TenantRequestsTotal counts requests to tenant routes by tenant and status
	TenantRequestsTotal *prometheus.CounterVec
	// ErrorCounter counts errors by type and endpoint
	ErrorCounter *prometheus.CounterVec
	// TenantUsagePercent tracks the unclamped monthly usage percentage by tenant
	TenantUsagePercent *prometheus.GaugeVec
	// TenantLeadsUsed tracks leads counted this month by tenant
	TenantLeadsUsed *prometheus.GaugeVec
	// NotificationsTotal counts notification dispatches by kind and result
	NotificationsTotal *prometheus.CounterVec
	// TenantErrorsTotal counts per-tenant pass failures by stage
	TenantErrorsTotal *prometheus.CounterVec
	// PassesTotal counts daily passes by result
	PassesTotal *prometheus.CounterVec
	// PassDuration tracks daily pass wall time
	PassDuration prometheus.Histogram
	// LastPassTimestamp is the unix time the last successful pass finished
	LastPassTimestamp prometheus.Gauge
	// LeadsTotal counts ingested leads by status
	LeadsTotal *prometheus.CounterVec
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		TenantRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_requests_total",
				Help:      "Total number of requests to tenant routes",
			},
			[]string{"tenant_id", "endpoint", "method", "status"},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "endpoint", "method"},
		),
		TenantUsagePercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tenant_usage_percent",
				Help:      "Unclamped monthly usage percentage",
			},
			[]string{"tenant_id"},
		),
		TenantLeadsUsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tenant_leads_used",
				Help:      "Leads counted toward the current month",
			},
			[]string{"tenant_id"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of tenant notification dispatches",
			},
			[]string{"kind", "result"},
		),
		TenantErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_errors_total",
				Help:      "Total number of per-tenant failures during daily passes",
			},
			[]string{"stage"},
		),
		PassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_total",
				Help:      "Total number of daily passes",
			},
			[]string{"result"},
		),
		PassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Daily pass duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
			},
		),
		LastPassTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_pass_timestamp_seconds",
				Help:      "Unix time the last completed daily pass finished",
			},
		),
		LeadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "leads_total",
				Help:      "Total number of ingested leads",
			},
			[]string{"status"},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.TenantRequestsTotal,
		m.ErrorCounter,
		m.TenantUsagePercent,
		m.TenantLeadsUsed,
		m.NotificationsTotal,
		m.TenantErrorsTotal,
		m.PassesTotal,
		m.PassDuration,
		m.LastPassTimestamp,
		m.LeadsTotal,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordTenantRequest records a request made to one tenant's routes
func (m *Metrics) RecordTenantRequest(tenantID, endpoint, method, status string) {
	m.TenantRequestsTotal.WithLabelValues(tenantID, endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, endpoint, method string) {
	m.ErrorCounter.WithLabelValues(errorType, endpoint, method).Inc()
}

// SetTenantUsage records a tenant's current usage
func (m *Metrics) SetTenantUsage(snap models.UsageSnapshot) {
	m.TenantUsagePercent.WithLabelValues(snap.TenantID).Set(float64(snap.RawPercentage))
	m.TenantLeadsUsed.WithLabelValues(snap.TenantID).Set(float64(snap.Used))
}

// RecordNotification records a dispatch attempt
func (m *Metrics) RecordNotification(kind models.NotificationKind, ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.NotificationsTotal.WithLabelValues(string(kind), result).Inc()
}

// RecordTenantError records a per-tenant failure
func (m *Metrics) RecordTenantError(stage string) {
	m.TenantErrorsTotal.WithLabelValues(stage).Inc()
}

// RecordPass records a finished or aborted daily pass
func (m *Metrics) RecordPass(result *models.PassResult, err error) {
	if err != nil || result == nil {
		m.PassesTotal.WithLabelValues("failed").Inc()
		return
	}
	m.PassesTotal.WithLabelValues("completed").Inc()
	m.PassDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
	m.LastPassTimestamp.Set(float64(result.FinishedAt.Unix()))
}

// RecordLead records an ingested lead
func (m *Metrics) RecordLead(status models.LeadStatus) {
	m.LeadsTotal.WithLabelValues(string(status)).Inc()
}
