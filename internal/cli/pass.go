package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/inboxpilot/usagecap/internal/models"
	"github.com/spf13/cobra"
)

// passCmd represents the pass command
var passCmd = &cobra.Command{
	Use:   "pass",
	Short: "Run one daily notification pass",
	Long: `Evaluate every tenant once and dispatch the notifications that are due.

Use this from cron when the built-in scheduler is disabled. Running it more
than once a day is safe: each notice is sent at most once per month.

Examples:
  # Run a pass now
  usagecap pass

  # Show what would be sent without sending or recording anything
  usagecap pass --dry-run

  # Evaluate as of a given instant
  usagecap pass --at 2026-03-01T06:00:00Z`,
	RunE: runPass,
}

var passFlags struct {
	DryRun bool
	At     string
}

func init() {
	passCmd.Flags().BoolVar(&passFlags.DryRun, "dry-run", false, "Print decisions without sending or recording")
	passCmd.Flags().StringVar(&passFlags.At, "at", "", "Evaluation instant (RFC3339); defaults to now")

	RootCmd.AddCommand(passCmd)
}

func passTime() (time.Time, error) {
	if passFlags.At == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, passFlags.At)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at: %w", err)
	}
	return t, nil
}

func runPass(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	now, err := passTime()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, newLogger(cfg), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if passFlags.DryRun {
		return previewPass(ctx, cmd.OutOrStdout(), a, now)
	}
	return executePass(ctx, cmd.OutOrStdout(), a, now)
}

func executePass(ctx context.Context, out io.Writer, a *app, now time.Time) error {
	result, err := a.gate.RunDailyPass(ctx, now)
	if err != nil {
		return fmt.Errorf("daily pass failed: %w", err)
	}
	if globalFlags.JSON {
		return writeJSON(out, result)
	}
	printPassResult(out, result)
	return nil
}

func printPassResult(out io.Writer, r *models.PassResult) {
	if r.Paused {
		fmt.Fprintln(out, "Notifications are paused; no tenants were evaluated.")
		return
	}

	w := newTable(out)
	fmt.Fprintln(w, "TENANTS\tWARNINGS\tLIMITS\tFOLLOW-UPS\tRESETS\tSKIPPED\tERRORS")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		r.TenantsChecked, r.WarningsSent, r.LimitsSent, r.FollowUpsSent, r.ResetsSent, r.Skipped, r.Errors)
	_ = w.Flush()

	for _, f := range r.Failures {
		kind := string(f.Kind)
		if kind == "" {
			kind = "-"
		}
		fmt.Fprintf(out, "  ✗ %s [%s/%s]: %s\n", f.TenantID, f.Stage, kind, f.Message)
	}
}

// PreviewRow is one tenant's would-be notifications.
type PreviewRow struct {
	TenantID string                    `json:"tenant_id"`
	Used     int64                     `json:"used"`
	Cap      int64                     `json:"cap"`
	Level    models.Level              `json:"level"`
	Due      []models.NotificationKind `json:"due"`
	Error    string                    `json:"error,omitempty"`
}

func previewPass(ctx context.Context, out io.Writer, a *app, now time.Time) error {
	tenants, err := a.store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	rows := make([]PreviewRow, 0, len(tenants))
	for _, t := range tenants {
		row := PreviewRow{TenantID: t.ID, Due: []models.NotificationKind{}}
		snap, _, decisions, err := a.gate.Preview(ctx, t, now)
		if err != nil {
			row.Error = err.Error()
			rows = append(rows, row)
			continue
		}
		row.Used, row.Cap, row.Level = snap.Used, snap.Cap, snap.Level
		if t.HasContact() {
			for _, d := range decisions {
				if d.Send {
					row.Due = append(row.Due, d.Kind)
				}
			}
		}
		rows = append(rows, row)
	}

	if globalFlags.JSON {
		return writeJSON(out, rows)
	}

	w := newTable(out)
	fmt.Fprintln(w, "TENANT\tUSED\tCAP\tLEVEL\tDUE")
	for _, r := range rows {
		due := "-"
		if r.Error != "" {
			due = "error: " + r.Error
		} else if len(r.Due) > 0 {
			due = fmt.Sprint(r.Due)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", r.TenantID, r.Used, r.Cap, r.Level, due)
	}
	return w.Flush()
}
