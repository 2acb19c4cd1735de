package models

import "time"

// TenantError records a failure isolated to one tenant during a pass.
type TenantError struct {
	TenantID string           `json:"tenant_id"`
	Kind     NotificationKind `json:"kind,omitempty"`
	Stage    string           `json:"stage"`
	Message  string           `json:"message"`
}

// PassResult aggregates one daily evaluation over all tenants.
type PassResult struct {
	PassID         string        `json:"pass_id,omitempty"`
	EvaluatedAt    time.Time     `json:"evaluated_at"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	TenantsChecked int           `json:"tenants_checked"`
	WarningsSent   int           `json:"warnings_sent"`
	LimitsSent     int           `json:"limits_sent"`
	FollowUpsSent  int           `json:"followups_sent"`
	ResetsSent     int           `json:"resets_sent"`
	Skipped        int           `json:"skipped"`
	Errors         int           `json:"errors"`
	Failures       []TenantError `json:"failures,omitempty"`
	// Paused is set when the pass was skipped because notifications are paused.
	Paused bool `json:"paused,omitempty"`
}

// Sent returns the total number of notifications dispatched.
func (r *PassResult) Sent() int {
	return r.WarningsSent + r.LimitsSent + r.FollowUpsSent + r.ResetsSent
}

// CountSent increments the counter matching kind.
func (r *PassResult) CountSent(kind NotificationKind) {
	switch kind {
	case NotificationWarning:
		r.WarningsSent++
	case NotificationLimit:
		r.LimitsSent++
	case NotificationFollowUp:
		r.FollowUpsSent++
	case NotificationReset:
		r.ResetsSent++
	}
}

// Add folds a per-tenant outcome into the aggregate.
func (r *PassResult) Add(o TenantOutcome) {
	r.TenantsChecked++
	if o.Skipped {
		r.Skipped++
	}
	for _, kind := range o.Sent {
		r.CountSent(kind)
	}
	r.Errors += len(o.Failures)
	r.Failures = append(r.Failures, o.Failures...)
}

// TenantOutcome is the result of evaluating one tenant.
type TenantOutcome struct {
	TenantID string
	Sent     []NotificationKind
	Skipped  bool
	Failures []TenantError
}
