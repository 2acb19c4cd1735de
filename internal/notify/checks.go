package notify

import (
	"time"

	"github.com/inboxpilot/usagecap/internal/models"
)

// DefaultFollowUpDelay is the minimum elapsed time between the limit notice
// and the upgrade follow-up.
const DefaultFollowUpDelay = 72 * time.Hour

// Check is one sub-machine. It returns the state that would hold after a
// successful dispatch together with the decision. It performs no I/O.
type Check func(state models.NotificationState, snap models.UsageSnapshot, now time.Time) (models.NotificationState, Decision)

// Policy parameterizes the sub-machines.
type Policy struct {
	FollowUpDelay time.Duration
}

// Checks returns the sub-machines in evaluation order: reset, warning,
// limit, follow-up.
func (p Policy) Checks() []Check {
	return []Check{
		CheckReset,
		CheckWarning,
		CheckLimit,
		p.CheckFollowUp,
	}
}

func skip(kind models.NotificationKind, state models.NotificationState) (models.NotificationState, Decision) {
	return state, Decision{Kind: kind}
}

func fire(kind models.NotificationKind, state models.NotificationState, u models.MarkerUpdate) (models.NotificationState, Decision) {
	return state.Apply(u), Decision{Kind: kind, Send: true, Update: u}
}

// CheckReset fires on day 1 for tenants that hit their limit in the previous
// month, once per month.
func CheckReset(state models.NotificationState, _ models.UsageSnapshot, now time.Time) (models.NotificationState, Decision) {
	current := models.MonthStampOf(now)
	if !models.IsFirstDayOfMonth(now) ||
		state.LastLimitMonth != models.PreviousMonthStamp(now) ||
		state.ResetSentMonth == current {
		return skip(models.NotificationReset, state)
	}
	return fire(models.NotificationReset, state, models.MarkerUpdate{
		ResetSentMonth: models.StampPtr(current),
	})
}

// CheckWarning fires once per month while usage is in the warning or critical tier.
func CheckWarning(state models.NotificationState, snap models.UsageSnapshot, now time.Time) (models.NotificationState, Decision) {
	current := models.MonthStampOf(now)
	if (snap.Level != models.LevelWarning && snap.Level != models.LevelCritical) ||
		state.Warned75Month == current {
		return skip(models.NotificationWarning, state)
	}
	return fire(models.NotificationWarning, state, models.MarkerUpdate{
		Warned75Month: models.StampPtr(current),
	})
}

// CheckLimit fires once per month when usage reaches the limit tier and
// records when the limit was hit.
func CheckLimit(state models.NotificationState, snap models.UsageSnapshot, now time.Time) (models.NotificationState, Decision) {
	current := models.MonthStampOf(now)
	if snap.Level != models.LevelLimit || state.LimitEmailMonth == current {
		return skip(models.NotificationLimit, state)
	}
	return fire(models.NotificationLimit, state, models.MarkerUpdate{
		LimitEmailMonth: models.StampPtr(current),
		LimitHitDate:    models.TimePtr(now),
		LastLimitMonth:  models.StampPtr(current),
	})
}

// CheckFollowUp fires once per month when the tenant is still at its limit
// at least FollowUpDelay after the limit was hit. Elapsed time is measured
// in absolute time, not calendar days.
func (p Policy) CheckFollowUp(state models.NotificationState, snap models.UsageSnapshot, now time.Time) (models.NotificationState, Decision) {
	delay := p.FollowUpDelay
	if delay <= 0 {
		delay = DefaultFollowUpDelay
	}
	current := models.MonthStampOf(now)
	if state.LimitHitDate == nil ||
		state.FollowupSentMonth == current ||
		now.Sub(*state.LimitHitDate) < delay ||
		snap.Level != models.LevelLimit {
		return skip(models.NotificationFollowUp, state)
	}
	return fire(models.NotificationFollowUp, state, models.MarkerUpdate{
		FollowupSentMonth: models.StampPtr(current),
	})
}

// Fold runs every check against state, threading each check's resulting
// state into the next, and returns the final state with all decisions. It
// assumes every dispatch succeeds and is used for previews and tests.
func (p Policy) Fold(state models.NotificationState, snap models.UsageSnapshot, now time.Time) (models.NotificationState, []Decision) {
	decisions := make([]Decision, 0, 4)
	for _, check := range p.Checks() {
		var d Decision
		state, d = check(state, snap, now)
		decisions = append(decisions, d)
	}
	return state, decisions
}
