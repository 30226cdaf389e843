package cmd

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/badgekeeper/internal/core/db"
)

func newRuleCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage persisted rules and their gating",
	}
	cmd.AddCommand(newRulePutCmd(opts), newRuleListCmd(opts), newRuleGrantCmd(opts))
	return cmd
}

// gatingFlags are the operator-controlled columns of a rule row.
type gatingFlags struct {
	disabled    bool
	start       string
	end         string
	userQuota   int64
	globalQuota int64
}

// apply copies flags the user set onto row.
func (g *gatingFlags) apply(cmd *cobra.Command, row *db.RuleRow) error {
	row.Enabled = !g.disabled
	var err error
	if row.StartTime, err = parseWindowFlag("start", g.start); err != nil {
		return err
	}
	if row.EndTime, err = parseWindowFlag("end", g.end); err != nil {
		return err
	}
	if cmd.Flags().Changed("user-quota") {
		row.UserQuota = sql.NullInt64{Int64: g.userQuota, Valid: true}
	}
	if cmd.Flags().Changed("global-quota") {
		row.GlobalQuota = sql.NullInt64{Int64: g.globalQuota, Valid: true}
	}
	return nil
}

func parseWindowFlag(name, value string) (sql.NullTime, error) {
	if value == "" {
		return sql.NullTime{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return sql.NullTime{}, fmt.Errorf("--%s must be RFC 3339: %w", name, err)
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}, nil
}

func newRulePutCmd(opts *globalOptions) *cobra.Command {
	var gating gatingFlags

	cmd := &cobra.Command{
		Use:   "put <rule.json>",
		Short: "Compile a rule file and store it with its gating settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			compiled, err := compileFile(args[0])
			if err != nil {
				return err
			}
			row, err := db.NewRuleRow(compiled.Rule)
			if err != nil {
				return err
			}
			if err := gating.apply(cmd, row); err != nil {
				return err
			}

			queries, closeDB, err := opts.openQueries(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := db.NewRuleRepository(queries).Upsert(cmd.Context(), row); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", row.RuleID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&gating.disabled, "disabled", false, "store the rule disabled")
	cmd.Flags().StringVar(&gating.start, "start", "", "window start (RFC 3339, inclusive)")
	cmd.Flags().StringVar(&gating.end, "end", "", "window end (RFC 3339, exclusive)")
	cmd.Flags().Int64Var(&gating.userQuota, "user-quota", 0, "grants allowed per user")
	cmd.Flags().Int64Var(&gating.globalQuota, "global-quota", 0, "grants allowed in total")
	return cmd
}

func newRuleListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, closeDB, err := opts.openQueries(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			rows, err := db.NewRuleRepository(queries).List(cmd.Context())
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			out := cmd.OutOrStdout()
			for _, row := range rows {
				state := "inactive"
				if row.EligibleAt(now) {
					state = "active"
				}
				quota := "-"
				if row.GlobalQuota.Valid {
					quota = fmt.Sprintf("%d", row.GlobalQuota.Int64)
				}
				fmt.Fprintf(out, "%s\t%s\t%d/%s\t%s\n", row.RuleID, state, row.GrantedCount, quota, row.Name)
			}
			return nil
		},
	}
}

func newRuleGrantCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <rule-id>",
		Short: "Record one grant against a rule's global quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, closeDB, err := opts.openQueries(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := db.NewRuleRepository(queries).IncrementGranted(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s\n", args[0])
			return nil
		},
	}
}
