package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/teresa-solution/tenant-provisioning-service/internal/app"
	"github.com/teresa-solution/tenant-provisioning-service/internal/blueprint"
	"github.com/teresa-solution/tenant-provisioning-service/internal/config"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

// withApp loads configuration, wires the service and runs fn. Without Redis
// there is no shared queue, so jobs fn queued are run before returning.
func withApp(fn func(ctx context.Context, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := fn(ctx, a, args); err != nil {
			return err
		}
		if !a.Durable {
			n, err := a.Runner.ProcessDue(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				fmt.Printf("Processed %d job(s) inline\n", n)
			}
		}
		return nil
	}
}

func parseID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid tenant id %q", arg)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listCmd() *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants, optionally filtered by status",
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			filter := make([]model.Status, 0, len(statuses))
			for _, s := range statuses {
				filter = append(filter, model.Status(strings.ToUpper(s)))
			}
			tenants, err := a.Tenants.ListTenants(ctx, filter...)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSLUG\tNAME\tSTATUS\tRESOURCES\tUPDATED")
			for _, t := range tenants {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					t.ID, t.Slug, t.Name, t.Status, len(t.ResourceIDs), t.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		}),
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only show tenants in these statuses")
	return cmd
}

func statusCmd() *cobra.Command {
	var withHealth bool
	cmd := &cobra.Command{
		Use:   "status [tenant-id]",
		Short: "Show a tenant's lifecycle state and provisioning history",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			tenant, err := a.Tenants.GetTenant(ctx, id)
			if err != nil {
				return err
			}
			history, err := a.Tenants.ProvisioningHistory(ctx, id)
			if err != nil {
				return err
			}
			out := map[string]any{"tenant": tenant, "history": history}
			if withHealth {
				health, err := a.Tenants.TenantHealth(ctx, id)
				if err != nil {
					return err
				}
				out["health"] = health
			}
			return printJSON(out)
		}),
	}
	cmd.Flags().BoolVar(&withHealth, "health", false, "Also query the platform for resource health")
	return cmd
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [tenant-id]",
		Short: "Re-run provisioning for a tenant in ERROR",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			tenant, err := a.Tenants.RetryProvisioning(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("Tenant %s is %s\n", tenant.Slug, tenant.Status)
			return nil
		}),
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup [tenant-id]",
		Short: "Tear down a tenant's platform resources and suspend it",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			tenant, err := a.Tenants.DeleteTenant(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("Tenant %s is %s\n", tenant.Slug, tenant.Status)
			return nil
		}),
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Re-queue work for tenants stuck in PROVISIONING or DELETING",
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			n, err := a.Reconciler.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Queued %d tenant(s)\n", n)
			return nil
		}),
	}
}

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Work with deployment templates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Parse and validate a deployment template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := blueprint.NewFileStore(args[0]).Load(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d service(s) OK\n", args[0], len(tmpl.Services))
			for _, svc := range tmpl.Services {
				fmt.Printf("  %-20s %s\n", svc.Name, svc.Kind)
			}
			return nil
		},
	})
	return cmd
}
