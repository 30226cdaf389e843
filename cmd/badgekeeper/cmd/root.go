// Package cmd implements the badgekeeper command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/badgekeeper/internal/core/config"
	"github.com/solatis/badgekeeper/internal/core/db"
	"github.com/solatis/badgekeeper/internal/core/logging"
)

// Version is the badgekeeper release.
const Version = "0.1.0"

// globalOptions holds persistent flags shared by every command.
type globalOptions struct {
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:          "badgekeeper",
		Short:        "badgekeeper badge eligibility rule engine",
		Long:         `badgekeeper compiles badge rules and evaluates them against user activity contexts.`,
		Version:      Version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path")
	root.PersistentFlags().StringVar(&opts.dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "log format (json, text)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newValidateCmd(),
		newEvalCmd(),
		newAPIKeyCmd(opts),
		newRuleCmd(opts),
		newTemplateCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// load reads configuration with cmd's changed flags applied on top.
func (o *globalOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfigWithFlags(o.configFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (o *globalOptions) logger() (*zap.Logger, error) {
	return logging.New(o.logLevel, o.logFormat)
}

// openDatabase opens cfg's database or fails if none is configured.
func openDatabase(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("--db-url required (or BK_DATABASE_URL)")
	}
	database, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// openQueries loads config, opens the database and its named queries.
// The returned close func releases the connection.
func (o *globalOptions) openQueries(cmd *cobra.Command) (*db.Queries, func(), error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return nil, nil, err
	}
	database, err := openDatabase(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return queries, func() { database.Close() }, nil
}
