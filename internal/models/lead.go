package models

import (
	"fmt"
	"time"
)

// EventKind identifies a class of metered events.
type EventKind string

// EventKindLead is the only quota-consuming event kind.
const EventKindLead EventKind = "lead"

// LeadStatus is the processing outcome recorded on a lead event.
type LeadStatus string

const (
	// LeadAccepted means the lead was under the cap and a draft was generated.
	LeadAccepted LeadStatus = "accepted"
	// LeadCapped means the lead was stored but generation was skipped.
	LeadCapped LeadStatus = "capped"
	// LeadFailed means generation was attempted and failed.
	LeadFailed LeadStatus = "failed"
)

// LeadEvent is a captured inbound lead. Every stored lead counts toward the
// month it was created in, whatever its status.
type LeadEvent struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Kind      EventKind  `json:"kind"`
	Status    LeadStatus `json:"status"`
	Sender    string     `json:"sender"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	Draft     string     `json:"draft,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Validate checks if the lead event is valid.
func (e *LeadEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event ID is required")
	}
	if e.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if e.Kind == "" {
		return fmt.Errorf("event kind is required")
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	switch e.Status {
	case LeadAccepted, LeadCapped, LeadFailed:
	default:
		return fmt.Errorf("invalid lead status: %q", e.Status)
	}
	return nil
}
