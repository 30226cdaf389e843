package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/badgekeeper/internal/rules"
)

// compileReport is the validate command's output.
type compileReport struct {
	RuleID         string   `json:"rule_id"`
	RuleName       string   `json:"rule_name"`
	CompileVersion uint64   `json:"compile_version"`
	Cost           int      `json:"cost"`
	RequiredFields []string `json:"required_fields"`
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <rule.json>",
		Short: "Compile a rule file and report its required fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			compiled, err := compileFile(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, compileReport{
				RuleID:         compiled.Rule.ID,
				RuleName:       compiled.Rule.Name,
				CompileVersion: compiled.CompileVersion,
				Cost:           compiled.Cost,
				RequiredFields: compiled.RequiredFields,
			})
		},
	}
}

// compileFile reads and compiles one rule file with a fresh compiler.
func compileFile(path string) (*rules.CompiledRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule: %w", err)
	}
	compiled, err := rules.NewCompiler().CompileJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return compiled, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
