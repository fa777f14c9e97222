package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/verifier"
)

var jsonOutput bool

func init() {
	for _, c := range []*cobra.Command{plansCmd, usageCmd, reconcileCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
	}
	signCmd.Flags().String("secret", "", "signing secret (defaults to ENTITLE_SIGNING_SECRET)")
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Migrate the store and create any missing default plans",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Start migrates and seeds; nothing else to do.
		return withEngine(cmd.Context(), func(context.Context, *runtime) error {
			fmt.Fprintln(cmd.OutOrStdout(), "plans seeded")
			return nil
		})
	},
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List plans with prices and limits",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, rt *runtime) error {
			plans, err := rt.engine.ListPlans(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), plans)
			}
			return writePlans(cmd.OutOrStdout(), plans)
		})
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage <user-id>",
	Short: "Show a user's plan and usage for the current month",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, rt *runtime) error {
			stats, err := rt.engine.GetUsageStats(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			return writeStats(cmd.OutOrStdout(), stats)
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run the subscription expiry sweep once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, rt *runtime) error {
			report, err := rt.engine.ReconcileExpired(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return writeReport(cmd.OutOrStdout(), report)
		})
	},
}

var signCmd = &cobra.Command{
	Use:   "sign <order-id> <payment-id>",
	Short: "Print the callback signature for a payment, for testing checkout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			cfg, err := loadConfig(envFiles...)
			if err != nil {
				return err
			}
			secret = cfg.SigningSecret
		}
		if secret == "" {
			return fmt.Errorf("no signing secret: pass --secret or set ENTITLE_SIGNING_SECRET")
		}
		fmt.Fprintln(cmd.OutOrStdout(), verifier.NewHMAC(secret).Sign(args[0], args[1]))
		return nil
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writePlans(w io.Writer, plans []*plan.Plan) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "TIER\tNAME\tMONTHLY\tYEARLY")
	for _, f := range plan.AllFeatures() {
		fmt.Fprintf(tw, "\t%s", f)
	}
	fmt.Fprintln(tw)
	for _, p := range plans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s", p.Tier, p.Name, p.MonthlyPrice, p.YearlyPrice)
		for _, f := range plan.AllFeatures() {
			l, _ := p.Limit(f)
			fmt.Fprintf(tw, "\t%s", l)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func writeStats(w io.Writer, stats *entitlement.Stats) error {
	fmt.Fprintf(w, "%s (%s)\n", stats.PlanName, stats.Tier)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FEATURE\tUSED\tLIMIT\tREMAINING\tPERCENT")
	for _, f := range stats.Features {
		remaining := fmt.Sprint(f.Remaining)
		if f.Limit.IsUnlimited() {
			remaining = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%.0f%%\n", f.Feature, f.Used, f.Limit, remaining, f.PercentUsed)
	}
	return tw.Flush()
}

func writeReport(w io.Writer, r *entitle.ReconcileReport) error {
	_, err := fmt.Fprintf(w, "scanned %d, expired %d, past due %d, skipped %d\n",
		r.Scanned, r.Expired, r.PastDue, r.Skipped)
	return err
}
