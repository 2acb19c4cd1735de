// Package ingest records inbound leads and enforces the monthly hard cap
// before any draft is generated.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inboxpilot/usagecap/internal/errors"
	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/models"
	"github.com/inboxpilot/usagecap/internal/store"
	"github.com/inboxpilot/usagecap/internal/usage"
)

// Accountant supplies the usage snapshot used by the hard gate.
type Accountant interface {
	Snapshot(ctx context.Context, t *models.Tenant, now time.Time) (models.UsageSnapshot, error)
}

// Metrics receives ingest instrumentation.
type Metrics interface {
	RecordLead(status models.LeadStatus)
}

// Lead is an inbound message to be recorded.
type Lead struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Service ingests leads.
type Service struct {
	acct      Accountant
	tenants   usage.TenantGetter
	events    store.EventRecorder
	generator Generator
	metrics   Metrics
	logger    *logging.Logger
}

// NewService creates an ingest service. A nil metrics recorder is allowed.
func NewService(acct Accountant, tenants usage.TenantGetter, events store.EventRecorder, generator Generator, metrics Metrics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		acct:      acct,
		tenants:   tenants,
		events:    events,
		generator: generator,
		metrics:   metrics,
		logger:    logger,
	}
}

// Ingest durably records the lead and, if the tenant is under its cap,
// generates a draft for it. A lead arriving at or over the cap is still
// recorded, with status capped, and *errors.ErrCapReached is returned
// together with the stored event.
func (s *Service) Ingest(ctx context.Context, tenantID string, lead Lead, now time.Time) (*models.LeadEvent, error) {
	if strings.TrimSpace(lead.Sender) == "" && strings.TrimSpace(lead.Body) == "" {
		return nil, fmt.Errorf("lead must have a sender or a body")
	}

	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	snap, err := s.acct.Snapshot(ctx, tenant, now)
	if err != nil {
		return nil, err
	}

	event := &models.LeadEvent{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		Kind:      models.EventKindLead,
		Status:    models.LeadAccepted,
		Sender:    lead.Sender,
		Subject:   lead.Subject,
		Body:      lead.Body,
		CreatedAt: now,
	}

	if snap.AtCap() {
		event.Status = models.LeadCapped
		if err := s.record(ctx, event); err != nil {
			return nil, err
		}
		s.logger.InfoWithContext(ctx, "lead captured over cap, generation skipped",
			"tenant_id", tenant.ID,
			"lead_id", event.ID,
			"used", snap.Used,
			"cap", snap.Cap,
		)
		s.observe(models.LeadCapped)
		return event, &errors.ErrCapReached{
			TenantID:  tenant.ID,
			Used:      snap.Used,
			Cap:       snap.Cap,
			ResetDate: snap.ResetDate,
		}
	}

	if err := s.record(ctx, event); err != nil {
		return nil, err
	}

	draft, err := s.generator.Generate(ctx, DraftRequest{
		TenantID:   tenant.ID,
		TenantName: tenant.DisplayName(),
		Sender:     lead.Sender,
		Subject:    lead.Subject,
		Body:       lead.Body,
	})
	if err != nil {
		event.Status = models.LeadFailed
		if rerr := s.record(ctx, event); rerr != nil {
			s.logger.ErrorWithContext(ctx, "failed to mark lead as failed", "lead_id", event.ID, "error", rerr)
		}
		s.logger.ErrorWithContext(ctx, "draft generation failed",
			"tenant_id", tenant.ID,
			"lead_id", event.ID,
			"error", err,
		)
		s.observe(models.LeadFailed)
		return event, fmt.Errorf("generate draft: %w", err)
	}

	event.Draft = draft
	if err := s.record(ctx, event); err != nil {
		return nil, err
	}
	s.observe(models.LeadAccepted)
	return event, nil
}

func (s *Service) record(ctx context.Context, event *models.LeadEvent) error {
	if err := s.events.RecordEvent(ctx, event); err != nil {
		return fmt.Errorf("record lead: %w", err)
	}
	return nil
}

func (s *Service) observe(status models.LeadStatus) {
	if s.metrics != nil {
		s.metrics.RecordLead(status)
	}
}
