package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vizdots",
		Short: "VizDots API - team health metrics, pattern alerts and workflow resolution",
		Long: `VizDots turns conversational check-in answers into team health snapshots,
raises pattern alerts when metrics cross thresholds, and serves the
effective (admin-corrected) view of discovered workflows.

Configuration is read from the environment (DATABASE_URL, REDIS_URL,
MEILI_URL, SMTP_*, VIZDOTS_*).`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(computeCmd)
	rootCmd.AddCommand(tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
