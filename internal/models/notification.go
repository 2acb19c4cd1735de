package models

import "time"

// NotificationKind names one of the four tenant notification templates.
type NotificationKind string

const (
	NotificationWarning  NotificationKind = "warning"
	NotificationLimit    NotificationKind = "limit"
	NotificationFollowUp NotificationKind = "followup"
	NotificationReset    NotificationKind = "reset"
)

// NotificationKinds lists every tenant notification kind in evaluation order.
var NotificationKinds = []NotificationKind{
	NotificationReset,
	NotificationWarning,
	NotificationLimit,
	NotificationFollowUp,
}

// NotificationState is the per-tenant marker record. Empty stamps mean
// "never sent". Markers are never deleted; a stale stamp simply stops
// matching the current month.
type NotificationState struct {
	TenantID          string     `json:"tenant_id"`
	Warned75Month     MonthStamp `json:"warned_75_month,omitempty"`
	LimitEmailMonth   MonthStamp `json:"limit_email_month,omitempty"`
	LimitHitDate      *time.Time `json:"limit_hit_date,omitempty"`
	FollowupSentMonth MonthStamp `json:"followup_sent_month,omitempty"`
	LastLimitMonth    MonthStamp `json:"last_limit_month,omitempty"`
	ResetSentMonth    MonthStamp `json:"reset_sent_month,omitempty"`
	// Version increases on every write and guards concurrent merges.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MarkerUpdate is a partial write: nil fields are left untouched.
type MarkerUpdate struct {
	Warned75Month     *MonthStamp
	LimitEmailMonth   *MonthStamp
	LimitHitDate      *time.Time
	FollowupSentMonth *MonthStamp
	LastLimitMonth    *MonthStamp
	ResetSentMonth    *MonthStamp
}

// IsEmpty reports whether the update changes nothing.
func (u MarkerUpdate) IsEmpty() bool {
	return u.Warned75Month == nil &&
		u.LimitEmailMonth == nil &&
		u.LimitHitDate == nil &&
		u.FollowupSentMonth == nil &&
		u.LastLimitMonth == nil &&
		u.ResetSentMonth == nil
}

// Merge returns a copy of u overlaid with the non-nil fields of other.
func (u MarkerUpdate) Merge(other MarkerUpdate) MarkerUpdate {
	if other.Warned75Month != nil {
		u.Warned75Month = other.Warned75Month
	}
	if other.LimitEmailMonth != nil {
		u.LimitEmailMonth = other.LimitEmailMonth
	}
	if other.LimitHitDate != nil {
		u.LimitHitDate = other.LimitHitDate
	}
	if other.FollowupSentMonth != nil {
		u.FollowupSentMonth = other.FollowupSentMonth
	}
	if other.LastLimitMonth != nil {
		u.LastLimitMonth = other.LastLimitMonth
	}
	if other.ResetSentMonth != nil {
		u.ResetSentMonth = other.ResetSentMonth
	}
	return u
}

// Apply returns a copy of the state with the update applied. Version and
// UpdatedAt are left to the store.
func (s NotificationState) Apply(u MarkerUpdate) NotificationState {
	if u.Warned75Month != nil {
		s.Warned75Month = *u.Warned75Month
	}
	if u.LimitEmailMonth != nil {
		s.LimitEmailMonth = *u.LimitEmailMonth
	}
	if u.LimitHitDate != nil {
		t := *u.LimitHitDate
		s.LimitHitDate = &t
	}
	if u.FollowupSentMonth != nil {
		s.FollowupSentMonth = *u.FollowupSentMonth
	}
	if u.LastLimitMonth != nil {
		s.LastLimitMonth = *u.LastLimitMonth
	}
	if u.ResetSentMonth != nil {
		s.ResetSentMonth = *u.ResetSentMonth
	}
	return s
}

// StampPtr returns a pointer to a copy of m.
func StampPtr(m MonthStamp) *MonthStamp {
	return &m
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
