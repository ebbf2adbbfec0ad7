package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"vizdots/api/internal/config"
)

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute health snapshots for an org and evaluate alerts",
	Long: `Run one health cycle for an org: compute org-wide and per-department
snapshots for the window that ends at the reference date, evaluate every
snapshot against the alert thresholds, and email admins about new critical
alerts when SMTP is configured.

The result is printed as JSON.`,
	Example: `  vizdots compute --org org_123 --window month
  vizdots compute --org org_123 --date 2024-06-17`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, _ := cmd.Flags().GetString("org")
		window, _ := cmd.Flags().GetString("window")
		date, _ := cmd.Flags().GetString("date")

		cfg := config.Load()
		rt, err := newRuntime(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		exists, err := rt.store.OrgExists(cmd.Context(), orgID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("org %s not found", orgID)
		}

		result, err := rt.service.ComputeHealth(cmd.Context(), orgID, window, date)
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	},
}

func init() {
	computeCmd.Flags().String("org", "", "Org ID to compute (required)")
	computeCmd.Flags().String("window", "week", "Window type: week, month or quarter")
	computeCmd.Flags().String("date", "", "Reference date YYYY-MM-DD (default today, UTC)")
	_ = computeCmd.MarkFlagRequired("org")
}
