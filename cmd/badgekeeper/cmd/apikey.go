package cmd

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/solatis/badgekeeper/internal/core/auth"
	"github.com/solatis/badgekeeper/internal/core/config"
	"github.com/solatis/badgekeeper/internal/core/db"
)

func newAPIKeyCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the rule service",
	}
	cmd.AddCommand(newAPIKeyCreateCmd(opts), newAPIKeyRevokeCmd(opts))
	return cmd
}

func newAPIKeyCreateCmd(opts *globalOptions) *cobra.Command {
	var name, secretID string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets, err := config.HMACSecrets()
			if err != nil {
				return fmt.Errorf("failed to load HMAC secrets: %w", err)
			}
			id, secret, err := pickSecret(secrets, secretID)
			if err != nil {
				return err
			}

			queries, closeDB, err := opts.openQueries(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			key, hash, err := auth.GenerateAPIKey(id, secret)
			if err != nil {
				return err
			}
			keyID, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate key id: %w", err)
			}
			if err := db.NewAPIKeyRepository(queries).Create(cmd.Context(), keyID.String(), name, hash); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:  %s\n", keyID)
			fmt.Fprintf(out, "key: %s\n", key)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringVar(&secretID, "secret-id", "", "HMAC secret id to sign with (default: only configured secret)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAPIKeyRevokeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, closeDB, err := opts.openQueries(cmd)
			if err != nil {
				return err
			}
			defer closeDB()
			if err := db.NewAPIKeyRepository(queries).Revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		},
	}
}

// pickSecret selects the signing secret. Without an explicit id exactly one
// secret must be configured.
func pickSecret(secrets map[string][]byte, id string) (string, []byte, error) {
	if len(secrets) == 0 {
		return "", nil, fmt.Errorf("no HMAC secret configured (set BK_HMAC_SECRET)")
	}
	if id != "" {
		secret, ok := secrets[id]
		if !ok {
			return "", nil, fmt.Errorf("unknown secret id '%s'", id)
		}
		return id, secret, nil
	}
	if len(secrets) > 1 {
		ids := make([]string, 0, len(secrets))
		for k := range secrets {
			ids = append(ids, k)
		}
		sort.Strings(ids)
		return "", nil, fmt.Errorf("multiple HMAC secrets configured, choose one with --secret-id (%v)", ids)
	}
	for k, v := range secrets {
		return k, v, nil
	}
	return "", nil, nil
}
