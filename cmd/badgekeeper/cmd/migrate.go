package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/badgekeeper/internal/core/db"
)

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the rule database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			database, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			applied, err := db.MigrateUp(cmd.Context(), database)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "database is up to date")
				return nil
			}
			for _, id := range applied {
				fmt.Fprintf(out, "applied %s\n", id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			database, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			statuses, err := db.MigrateStatus(cmd.Context(), database)
			if err != nil {
				return fmt.Errorf("failed to read migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, s := range statuses {
				if !s.Applied {
					fmt.Fprintf(out, "%s\tpending\n", s.ID)
					continue
				}
				appliedAt := "unknown"
				if s.AppliedAt != nil {
					appliedAt = s.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%s\tapplied\t%s\t%dms\n", s.ID, appliedAt, s.ExecutionMs)
			}
			return nil
		},
	})

	return cmd
}
