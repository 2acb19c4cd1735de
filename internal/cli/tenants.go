package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/inboxpilot/usagecap/internal/models"
	"github.com/spf13/cobra"
)

var tenantsCmd = &cobra.Command{
	Use:     "tenants",
	Aliases: []string{"t", "tenant"},
	Short:   "List, add and remove tenants",
}

var tenantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return listTenants(ctx, cmd.OutOrStdout(), a)
		})
	},
}

var tenantsAddCmd = &cobra.Command{
	Use:   "add <tenant-id>",
	Short: "Create or update a tenant",
	Long: `Create a tenant, or update its contact details and plan.

Example:
  usagecap tenants add acme --email owner@acme.io --name "Acme" --plan growth`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return addTenant(ctx, cmd.OutOrStdout(), a, args[0])
		})
	},
}

var tenantsRemoveCmd = &cobra.Command{
	Use:     "remove <tenant-id>",
	Aliases: []string{"rm", "delete"},
	Short:   "Remove a tenant",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return removeTenant(ctx, cmd.OutOrStdout(), a, args[0])
		})
	},
}

var tenantFlags struct {
	Email string
	Name  string
	Plan  string
}

func init() {
	tenantsAddCmd.Flags().StringVar(&tenantFlags.Email, "email", "", "Notification address")
	tenantsAddCmd.Flags().StringVar(&tenantFlags.Name, "name", "", "Display name used in greetings")
	tenantsAddCmd.Flags().StringVar(&tenantFlags.Plan, "plan", "", "Plan name (selects the monthly cap)")

	tenantsCmd.AddCommand(tenantsListCmd, tenantsAddCmd, tenantsRemoveCmd)
	RootCmd.AddCommand(tenantsCmd)
}

func withApp(fn func(ctx context.Context, a *app) error) error {
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
	return fn(ctx, a)
}

func listTenants(ctx context.Context, out io.Writer, a *app) error {
	tenants, err := a.store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	if globalFlags.JSON {
		return writeJSON(out, tenants)
	}
	if len(tenants) == 0 {
		fmt.Fprintln(out, "No tenants configured.")
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tPLAN")
	for _, t := range tenants {
		email := t.Email
		if email == "" {
			email = "-"
		}
		plan := t.Plan
		if plan == "" {
			plan = "default"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.DisplayName(), email, plan)
	}
	return w.Flush()
}

func addTenant(ctx context.Context, out io.Writer, a *app, id string) error {
	tenant := &models.Tenant{ID: id}
	if existing, err := a.store.GetTenant(ctx, id); err == nil {
		tenant = existing
	}
	if tenantFlags.Email != "" {
		tenant.Email = tenantFlags.Email
	}
	if tenantFlags.Name != "" {
		tenant.Name = tenantFlags.Name
	}
	if tenantFlags.Plan != "" {
		tenant.Plan = tenantFlags.Plan
	}
	if err := tenant.Validate(); err != nil {
		return err
	}
	if err := a.store.UpsertTenant(ctx, tenant); err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}
	if !tenant.HasContact() {
		fmt.Fprintf(out, "! tenant %s has no email; notifications will be skipped\n", id)
	}
	fmt.Fprintf(out, "✓ tenant %s saved\n", id)
	return nil
}

func removeTenant(ctx context.Context, out io.Writer, a *app, id string) error {
	deleted, err := a.store.DeleteTenant(ctx, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if !deleted {
		return fmt.Errorf("tenant %s not found", id)
	}
	fmt.Fprintf(out, "✓ tenant %s removed\n", id)
	return nil
}
