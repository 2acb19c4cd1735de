package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/inboxpilot/usagecap/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, strings.Repeat("⬛", 10), renderProgressBar(0, 10))
	assert.Equal(t, strings.Repeat("🟩", 5)+strings.Repeat("⬛", 5), renderProgressBar(50, 10))
	assert.Equal(t, strings.Repeat("🟨", 8)+strings.Repeat("⬛", 2), renderProgressBar(80, 10))
	assert.Equal(t, strings.Repeat("🟥", 10), renderProgressBar(130, 10))
}

func TestMaskEmail(t *testing.T) {
	tests := map[string]string{
		"owner@acme.io":  "o***@a***.io",
		"a@b.co.uk":      "a***@b***.co.uk",
		"":               "none",
		"not-an-address": "not-an-address",
		"jo@localhost":   "j***@l***",
	}
	for in, want := range tests {
		assert.Equal(t, want, maskEmail(in), in)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "500ms", formatDuration(500*time.Millisecond))
	assert.Equal(t, "12.0s", formatDuration(12*time.Second))
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 30m", formatDuration(150*time.Minute))
	assert.Equal(t, "3d", formatDuration(72*time.Hour))
	assert.Equal(t, "0ms", formatDuration(-time.Second))
}

func TestFormatPassResult(t *testing.T) {
	assert.Contains(t, formatPassResult(&models.PassResult{Paused: true}), "paused")

	failures := make([]models.TenantError, 7)
	for i := range failures {
		failures[i] = models.TenantError{TenantID: "t", Stage: "usage", Message: "boom"}
	}
	text := formatPassResult(&models.PassResult{TenantsChecked: 7, Errors: 7, Failures: failures})
	assert.Contains(t, text, "Errors:</b> 7")
	assert.Contains(t, text, "and 2 more")
}

func TestFormatStatusWithoutPass(t *testing.T) {
	text := formatStatus(&Status{NextRun: time.Date(2026, 2, 15, 6, 0, 0, 0, time.UTC)})
	assert.Contains(t, text, "active")
	assert.Contains(t, text, "No pass has run yet")
	assert.Contains(t, text, "2026-02-15 06:00")
}
