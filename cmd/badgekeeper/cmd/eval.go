package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/badgekeeper/internal/rules"
	"github.com/solatis/badgekeeper/internal/types"
)

// evalReport is the eval command's output.
type evalReport struct {
	RuleID         string   `json:"rule_id"`
	RuleName       string   `json:"rule_name"`
	Matched        bool     `json:"matched"`
	MatchedPaths   []string `json:"matched_paths"`
	CompileVersion uint64   `json:"compile_version"`
	DurationUs     int64    `json:"duration_us"`
}

func newEvalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval <rule.json> <context.json>",
		Short: "Evaluate a rule file against a context file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			compiled, err := compileFile(args[0])
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read context: %w", err)
			}
			ctx, err := types.ParseContext(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[1], err)
			}

			result := rules.Evaluate(compiled, ctx)
			paths := result.MatchedPaths
			if paths == nil {
				paths = []string{}
			}
			return writeJSON(cmd, evalReport{
				RuleID:         result.RuleID,
				RuleName:       result.RuleName,
				Matched:        result.Matched,
				MatchedPaths:   paths,
				CompileVersion: result.CompileVersion,
				DurationUs:     result.Duration.Microseconds(),
			})
		},
	}
}
