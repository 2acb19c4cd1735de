package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/inboxpilot/usagecap/internal/errors"
	"github.com/inboxpilot/usagecap/internal/models"
)

// MemoryStore is an in-memory Store used by tests and dry runs.
type MemoryStore struct {
	mu       sync.RWMutex
	tenants  map[string]*models.Tenant
	events   map[string][]*models.LeadEvent
	markers  map[string]models.NotificationState
	settings *MemorySettingsStore
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:  make(map[string]*models.Tenant),
		events:   make(map[string][]*models.LeadEvent),
		markers:  make(map[string]models.NotificationState),
		settings: NewMemorySettingsStore(),
	}
}

// GetTenant retrieves a tenant by ID.
func (s *MemoryStore) GetTenant(_ context.Context, id string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, &errors.ErrTenantNotFound{TenantID: id}
	}
	cp := *t
	return &cp, nil
}

// UpsertTenant stores or updates a tenant.
func (s *MemoryStore) UpsertTenant(_ context.Context, t *models.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.tenants[t.ID]; ok {
		t.CreatedAt = existing.CreatedAt
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

// DeleteTenant removes a tenant with its events and markers.
func (s *MemoryStore) DeleteTenant(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[id]; !ok {
		return false, nil
	}
	delete(s.tenants, id)
	delete(s.events, id)
	delete(s.markers, id)
	return true, nil
}

// ListTenants returns all tenants ordered by ID.
func (s *MemoryStore) ListTenants(_ context.Context) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenants := make([]*models.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		cp := *t
		tenants = append(tenants, &cp)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].ID < tenants[j].ID })
	return tenants, nil
}

// RecordEvent stores a lead event, replacing one with the same ID.
func (s *MemoryStore) RecordEvent(_ context.Context, e *models.LeadEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	events := s.events[e.TenantID]
	for i, existing := range events {
		if existing.ID == e.ID {
			events[i] = &cp
			return nil
		}
	}
	s.events[e.TenantID] = append(events, &cp)
	return nil
}

// CountEvents counts events of kind created in [from, to).
func (s *MemoryStore) CountEvents(_ context.Context, tenantID string, kind models.EventKind, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, e := range s.events[tenantID] {
		if e.Kind == kind && inWindow(e.CreatedAt, from, to) {
			count++
		}
	}
	return count, nil
}

// ListEvents returns a tenant's events created in [from, to), oldest first.
func (s *MemoryStore) ListEvents(_ context.Context, tenantID string, from, to time.Time) ([]*models.LeadEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*models.LeadEvent
	for _, e := range s.events[tenantID] {
		if inWindow(e.CreatedAt, from, to) {
			cp := *e
			events = append(events, &cp)
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

// ReadMarkers returns the tenant's notification state, zero-valued if absent.
func (s *MemoryStore) ReadMarkers(_ context.Context, tenantID string) (models.NotificationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.markers[tenantID]
	if !ok {
		return models.NotificationState{TenantID: tenantID}, nil
	}
	return state, nil
}

// WriteMarkers merges update under an optimistic version check.
func (s *MemoryStore) WriteMarkers(_ context.Context, tenantID string, update models.MarkerUpdate, expectedVersion int64) (models.NotificationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.markers[tenantID]
	if !ok {
		current = models.NotificationState{TenantID: tenantID}
	}
	if current.Version != expectedVersion {
		return current, &errors.ErrMarkerConflict{TenantID: tenantID, Expected: expectedVersion}
	}
	if update.IsEmpty() {
		return current, nil
	}

	next := current.Apply(update)
	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.markers[tenantID] = next
	return next, nil
}

// Settings returns the settings store.
func (s *MemoryStore) Settings() SettingsStore {
	return s.settings
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

var _ Store = (*MemoryStore)(nil)
