package store

import (
	"context"
	"time"

	"github.com/inboxpilot/usagecap/internal/models"
)

// EventCounter counts metered events in a half-open window [from, to).
type EventCounter interface {
	CountEvents(ctx context.Context, tenantID string, kind models.EventKind, from, to time.Time) (int64, error)
}

// TenantLister enumerates every tenant evaluated by the daily pass.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
}

// MarkerStore persists per-tenant notification markers.
//
// ReadMarkers returns a zero-valued state (Version 0) for tenants that have
// never been written. WriteMarkers merges only the non-nil fields of update
// and succeeds only if the stored version still equals expectedVersion; it
// returns the state as written.
type MarkerStore interface {
	ReadMarkers(ctx context.Context, tenantID string) (models.NotificationState, error)
	WriteMarkers(ctx context.Context, tenantID string, update models.MarkerUpdate, expectedVersion int64) (models.NotificationState, error)
}

// EventRecorder durably stores lead events.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event *models.LeadEvent) error
}

// Store is the full persistence surface used by the service.
type Store interface {
	EventCounter
	TenantLister
	MarkerStore
	EventRecorder

	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	UpsertTenant(ctx context.Context, tenant *models.Tenant) error
	DeleteTenant(ctx context.Context, id string) (bool, error)
	ListEvents(ctx context.Context, tenantID string, from, to time.Time) ([]*models.LeadEvent, error)

	Settings() SettingsStore
	Close() error
}
