package models

import (
	"fmt"
	"time"
)

// MonthStamp identifies one calendar month, e.g. "2026-2".
type MonthStamp string

// MonthStampOf returns the stamp of the calendar month containing t, in t's location.
func MonthStampOf(t time.Time) MonthStamp {
	return MonthStamp(fmt.Sprintf("%d-%d", t.Year(), int(t.Month())))
}

// PreviousMonthStamp returns the stamp of the month before the one containing t.
func PreviousMonthStamp(t time.Time) MonthStamp {
	return MonthStampOf(StartOfMonth(t).AddDate(0, -1, 0))
}

// StartOfMonth returns the first instant of the month containing t.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// StartOfNextMonth returns the first instant of the month after the one containing t.
func StartOfNextMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, 0)
}

// MonthWindow returns the half-open window [start, end) of the month containing t.
func MonthWindow(t time.Time) (start, end time.Time) {
	start = StartOfMonth(t)
	return start, start.AddDate(0, 1, 0)
}

// IsFirstDayOfMonth reports whether t falls on day 1 of its month.
func IsFirstDayOfMonth(t time.Time) bool {
	return t.Day() == 1
}
