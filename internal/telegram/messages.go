package telegram

import (
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"github.com/inboxpilot/usagecap/internal/models"
	"github.com/inboxpilot/usagecap/internal/notify"
)

// formatAdminAlert formats the operator notice for a tenant at its cap
func formatAdminAlert(alert notify.AdminAlert) string {
	name := alert.TenantName
	if name == "" {
		name = alert.TenantID
	}
	plan := alert.Plan
	if plan == "" {
		plan = "default"
	}

	return fmt.Sprintf(
		"🔴 <b>Tenant reached monthly cap</b>\n\n"+
			"🏢 <b>Tenant:</b> %s (<code>%s</code>)\n"+
			"📧 <b>Contact:</b> %s\n"+
			"📦 <b>Plan:</b> %s\n"+
			"📊 <b>Usage:</b> %d / %d (%d%%)\n"+
			"%s\n"+
			"💵 <b>Est. draft cost:</b> $%.2f\n"+
			"🗓 <b>Month:</b> %s\n\n"+
			"🕒 %s",
		html.EscapeString(name),
		html.EscapeString(alert.TenantID),
		html.EscapeString(maskEmail(alert.Email)),
		html.EscapeString(plan),
		alert.Used,
		alert.Cap,
		alert.RawPercentage,
		renderProgressBar(float64(alert.RawPercentage), 10),
		alert.EstimatedCost,
		html.EscapeString(string(alert.Month)),
		alert.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"),
	)
}

// formatStatus formats the engine status message
func formatStatus(status *Status) string {
	var sb strings.Builder

	stateEmoji, state := "🟢", "active"
	if status.Paused {
		stateEmoji, state = "⏸", "paused"
	}
	fmt.Fprintf(&sb, "%s <b>Usage notifications:</b> %s\n\n", stateEmoji, state)

	if status.LastPass == nil {
		sb.WriteString("📭 No pass has run yet\n")
	} else {
		p := status.LastPass
		fmt.Fprintf(&sb, "🕒 <b>Last pass:</b> %s (%s ago, took %s)\n",
			p.FinishedAt.UTC().Format("2006-01-02 15:04"),
			formatDuration(status.Now.Sub(p.FinishedAt)),
			formatDuration(p.FinishedAt.Sub(p.StartedAt)),
		)
		sb.WriteString(formatPassCounts(p))
	}

	if !status.NextRun.IsZero() {
		fmt.Fprintf(&sb, "\n⏭ <b>Next run:</b> %s\n", status.NextRun.Format("2006-01-02 15:04 MST"))
	}
	return sb.String()
}

// formatPassResult formats the outcome of a manually triggered pass
func formatPassResult(result *models.PassResult) string {
	if result.Paused {
		return "⏸ Pass skipped: notifications are paused"
	}
	return "✅ <b>Pass completed</b>\n\n" + formatPassCounts(result)
}

func formatPassCounts(p *models.PassResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 <b>Tenants checked:</b> %d\n", p.TenantsChecked)
	fmt.Fprintf(&sb, "🟡 Warnings: %d\n", p.WarningsSent)
	fmt.Fprintf(&sb, "🔴 Limits: %d\n", p.LimitsSent)
	fmt.Fprintf(&sb, "🔁 Follow-ups: %d\n", p.FollowUpsSent)
	fmt.Fprintf(&sb, "🔄 Resets: %d\n", p.ResetsSent)
	if p.Skipped > 0 {
		fmt.Fprintf(&sb, "📭 Skipped (no contact): %d\n", p.Skipped)
	}
	if p.Errors > 0 {
		fmt.Fprintf(&sb, "❌ <b>Errors:</b> %d\n", p.Errors)
		for i, f := range p.Failures {
			if i == 5 {
				fmt.Fprintf(&sb, "  … and %d more\n", len(p.Failures)-5)
				break
			}
			fmt.Fprintf(&sb, "  • <code>%s</code> %s: %s\n",
				html.EscapeString(f.TenantID),
				html.EscapeString(f.Stage),
				html.EscapeString(f.Message),
			)
		}
	}
	return sb.String()
}

// formatUsage formats one tenant's usage with a progress bar
func formatUsage(snap models.UsageSnapshot) string {
	return fmt.Sprintf(
		"%s <b>%s</b>\n\n"+
			"%s %d%%\n"+
			"📊 %d / %d leads used, %d remaining\n"+
			"🏷 <b>Level:</b> %s\n"+
			"🔄 <b>Resets:</b> %s",
		levelEmoji(snap.Level),
		html.EscapeString(snap.TenantID),
		renderProgressBar(float64(snap.Percentage), 10),
		snap.Percentage,
		snap.Used,
		snap.Cap,
		snap.Remaining,
		snap.Level,
		snap.ResetDate.Format("2006-01-02"),
	)
}

// renderProgressBar creates a text-based progress bar
func renderProgressBar(percent float64, width int) string {
	if width <= 0 {
		width = 10
	}
	percent = clampPercent(percent)
	filled := int(math.Floor(percent / 100.0 * float64(width)))

	empty := width - filled
	filledBlock := progressFillBlock(percent)
	emptyBlock := "⬛"

	var sb strings.Builder
	for i := 0; i < filled; i++ {
		sb.WriteString(filledBlock)
	}
	for i := 0; i < empty; i++ {
		sb.WriteString(emptyBlock)
	}
	return sb.String()
}

func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

func progressFillBlock(percent float64) string {
	switch {
	case percent >= 90:
		return "🟥"
	case percent >= 75:
		return "🟨"
	default:
		return "🟩"
	}
}

func levelEmoji(level models.Level) string {
	switch level {
	case models.LevelLimit:
		return "🔴"
	case models.LevelCritical:
		return "🟠"
	case models.LevelWarning:
		return "🟡"
	default:
		return "🟢"
	}
}

func maskEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return "none"
	}
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return email
	}
	user := maskSegment(parts[0], 1)
	domain := parts[1]
	domainParts := strings.Split(domain, ".")
	first := maskSegment(domainParts[0], 1)
	tld := strings.Join(domainParts[1:], ".")
	if tld != "" {
		return fmt.Sprintf("%s@%s.%s", user, first, tld)
	}
	return fmt.Sprintf("%s@%s", user, first)
}

func maskSegment(value string, keep int) string {
	if value == "" {
		return value
	}
	runes := []rune(value)
	if keep <= 0 || len(runes) <= keep {
		return string(runes[0]) + "***"
	}
	return string(runes[:keep]) + "***"
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		if minutes > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// formatHelpMessage returns the help message
func formatHelpMessage() string {
	return `📖 <b>Available Commands</b>

<b>Status</b>
/status - Last pass and pause state
/usage &lt;tenant_id&gt; - Current month usage for a tenant

<b>Control</b>
/pass - Run the daily pass now
/pause - Stop sending tenant notifications
/resume - Resume tenant notifications

/help - Show this help message`
}
