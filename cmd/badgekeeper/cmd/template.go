package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/badgekeeper/internal/core/db"
	"github.com/solatis/badgekeeper/internal/types"
)

// templateFile is the on-disk form accepted by template create.
type templateFile struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Template    json.RawMessage        `json:"template"`
	Parameters  []db.TemplateParameter `json:"parameters"`
	IsSystem    bool                   `json:"is_system"`
}

func newTemplateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage rule templates",
	}
	cmd.AddCommand(
		newTemplateCreateCmd(opts),
		newTemplateListCmd(opts),
		newTemplateShowCmd(opts),
		newTemplateUpdateCmd(opts),
		newTemplateDeleteCmd(opts),
	)
	return cmd
}

// readTemplateFile decodes a template file.
func readTemplateFile(path string) (*templateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	var f templateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

func newTemplateCreateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <template.json>",
		Short: "Store a template from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := readTemplateFile(args[0])
			if err != nil {
				return err
			}

			queries, closeDB, err := opts.openQueries(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			created, err := db.NewTemplateRepository(queries).Create(cmd.Context(), &db.Template{
				Name:        f.Name,
				Description: f.Description,
				Template:    f.Template,
				Parameters:  f.Parameters,
				IsSystem:    f.IsSystem,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", created.ID)
			return nil
		},
	}
}

func newTemplateListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, closeDB, err := opts.openQueries(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			templates, err := db.NewTemplateRepository(queries).List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range templates {
				kind := "user"
				if t.IsSystem {
					kind = "system"
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", t.ID, kind, t.Name)
			}
			return nil
		},
	}
}

func newTemplateShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Print a template as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseTemplateID(args[0])
			if err != nil {
				return fmt.Errorf("invalid template id %q: %w", args[0], err)
			}
			queries, closeDB, err := opts.openQueries(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			t, err := db.NewTemplateRepository(queries).Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeJSON(cmd, templateFile{
				Name:        t.Name,
				Description: t.Description,
				Template:    t.Template,
				Parameters:  t.Parameters,
				IsSystem:    t.IsSystem,
			})
		},
	}
}

func newTemplateUpdateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <template-id> <template.json>",
		Short: "Replace a user template's contents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseTemplateID(args[0])
			if err != nil {
				return fmt.Errorf("invalid template id %q: %w", args[0], err)
			}
			f, err := readTemplateFile(args[1])
			if err != nil {
				return err
			}

			queries, closeDB, err := opts.openQueries(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			err = db.NewTemplateRepository(queries).Update(cmd.Context(), &db.Template{
				ID:          id,
				Name:        f.Name,
				Description: f.Description,
				Template:    f.Template,
				Parameters:  f.Parameters,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", id)
			return nil
		},
	}
}

func newTemplateDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <template-id>",
		Short: "Delete a user template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseTemplateID(args[0])
			if err != nil {
				return fmt.Errorf("invalid template id %q: %w", args[0], err)
			}
			queries, closeDB, err := opts.openQueries(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := db.NewTemplateRepository(queries).Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	}
}
