package models

import "time"

// Level is the severity tier derived from percentage of quota used.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
	LevelLimit    Level = "limit"
)

// UsageSnapshot is a tenant's consumption for the current cycle. It is
// recomputed on every read and never persisted.
type UsageSnapshot struct {
	TenantID string `json:"tenant_id"`
	Used     int64  `json:"used"`
	Cap      int64  `json:"cap"`
	// Remaining never goes below zero.
	Remaining int64 `json:"remaining"`
	// Percentage is clamped to 100 for display.
	Percentage int `json:"percentage"`
	// RawPercentage is the unclamped rounded percentage.
	RawPercentage int        `json:"raw_percentage"`
	Level         Level      `json:"level"`
	ResetDate     time.Time  `json:"reset_date"`
	Month         MonthStamp `json:"month"`
}

// AtCap reports whether the hard gate applies to this snapshot.
func (u UsageSnapshot) AtCap() bool {
	return u.Used >= u.Cap
}
