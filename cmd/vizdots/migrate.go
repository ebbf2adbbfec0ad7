package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vizdots/api/internal/config"
	"vizdots/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply every *.up.sql file in VIZDOTS_MIGRATIONS_DIR that is not yet
recorded in schema_migrations, in file-name order.

Use --dry-run to list the pending versions without applying them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		cfg := config.Load()
		ctx := cmd.Context()

		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if dryRun {
			pending, err := store.PendingMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations")
				return nil
			}
			for _, version := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "pending  %s\n", version)
			}
			return nil
		}

		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date")
			return nil
		}
		for _, version := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "applied  %s\n", version)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("dry-run", false, "List pending migrations without applying them")
}
