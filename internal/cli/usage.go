package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/inboxpilot/usagecap/internal/models"
	"github.com/spf13/cobra"
)

// usageCmd represents the usage command
var usageCmd = &cobra.Command{
	Use:     "usage [tenant-id...]",
	Aliases: []string{"u", "quota"},
	Short:   "Show current-month usage for tenants",
	Long: `Display leads used, cap, remaining and level for the current month.

Examples:
  # All tenants
  usagecap usage

  # One tenant as JSON
  usagecap usage acme --json

  # Only tenants at their cap
  usagecap usage --at-cap`,
	RunE: runUsage,
}

var usageFlags struct {
	AtCap bool
}

func init() {
	usageCmd.Flags().BoolVar(&usageFlags.AtCap, "at-cap", false, "Show only tenants at or over their cap")

	RootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, newLogger(cfg), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	snaps, err := collectUsage(ctx, a, args, time.Now())
	if err != nil {
		return err
	}
	return outputUsage(cmd.OutOrStdout(), snaps)
}

func collectUsage(ctx context.Context, a *app, ids []string, now time.Time) ([]models.UsageSnapshot, error) {
	var tenants []*models.Tenant
	if len(ids) == 0 {
		all, err := a.store.ListTenants(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tenants: %w", err)
		}
		tenants = all
	} else {
		for _, id := range ids {
			t, err := a.store.GetTenant(ctx, id)
			if err != nil {
				return nil, err
			}
			tenants = append(tenants, t)
		}
	}

	snaps := make([]models.UsageSnapshot, 0, len(tenants))
	for _, t := range tenants {
		snap, err := a.acct.Snapshot(ctx, t, now)
		if err != nil {
			return nil, fmt.Errorf("usage for %s: %w", t.ID, err)
		}
		if usageFlags.AtCap && !snap.AtCap() {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func outputUsage(out io.Writer, snaps []models.UsageSnapshot) error {
	if globalFlags.JSON {
		return writeJSON(out, snaps)
	}
	if len(snaps) == 0 {
		fmt.Fprintln(out, "No tenants found matching the criteria.")
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "TENANT\tUSED\tCAP\tREMAINING\tPERCENT\tLEVEL\tRESETS")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d%%\t%s\t%s\n",
			s.TenantID, s.Used, s.Cap, s.Remaining, s.Percentage, s.Level, s.ResetDate.Format("2006-01-02"))
	}
	return w.Flush()
}
