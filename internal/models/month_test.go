package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonthStampOf(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want MonthStamp
	}{
		{"february no padding", time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC), "2026-2"},
		{"december", time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC), "2025-12"},
		{"first instant", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), "2026-3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MonthStampOf(tt.t))
		})
	}
}

func TestPreviousMonthStamp(t *testing.T) {
	assert.Equal(t, MonthStamp("2026-2"), PreviousMonthStamp(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, MonthStamp("2025-12"), PreviousMonthStamp(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)))
	// March 31 minus a month must not normalize into March.
	assert.Equal(t, MonthStamp("2026-2"), PreviousMonthStamp(time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)))
}

func TestMonthWindow(t *testing.T) {
	now := time.Date(2026, 1, 31, 18, 30, 0, 0, time.UTC)
	start, end := MonthWindow(now)

	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, end, StartOfNextMonth(now))
}

func TestMonthWindowKeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2026, 4, 30, 22, 0, 0, 0, loc)

	start, end := MonthWindow(now)
	assert.Equal(t, loc, start.Location())
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, loc), end)
}

func TestIsFirstDayOfMonth(t *testing.T) {
	assert.True(t, IsFirstDayOfMonth(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)))
	assert.False(t, IsFirstDayOfMonth(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
}
