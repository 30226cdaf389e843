package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/badgekeeper/internal/core/api"
	"github.com/solatis/badgekeeper/internal/core/auth"
	"github.com/solatis/badgekeeper/internal/core/config"
	"github.com/solatis/badgekeeper/internal/core/db"
	"github.com/solatis/badgekeeper/internal/core/reload"
	"github.com/solatis/badgekeeper/internal/core/server"
	"github.com/solatis/badgekeeper/internal/rules"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gRPC rule service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	cmd.Flags().Int("port", 50061, "gRPC server port")
	return cmd
}

func runServe(cmd *cobra.Command, opts *globalOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.load(cmd)
	if err != nil {
		return err
	}
	logger, err := opts.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	rules.SetRegexCacheSize(cfg.Engine.RegexCacheSize)
	store := rules.NewStore(rules.WithShards(cfg.Engine.Shards), rules.WithLogger(logger))
	engine := rules.NewEngine(store, logger)

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}

	serviceOpts := []api.Option{
		api.WithMaxBatchSize(cfg.Engine.MaxBatchSize),
		api.WithLogger(logger),
	}
	var authenticator *auth.Authenticator

	if cfg.Database.URL != "" {
		database, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := requireMigrated(ctx, database); err != nil {
			return err
		}
		queries, err := db.LoadQueries(database)
		if err != nil {
			return fmt.Errorf("failed to load queries: %w", err)
		}

		repo := db.NewRuleRepository(queries)
		serviceOpts = append(serviceOpts, api.WithRepository(repo))

		// Rules are present before the listener opens
		reloader := reload.New(repo, store, cfg.Reload.Interval, logger)
		serviceOpts = append(serviceOpts, api.WithWriteLock(reloader))
		if err := reloader.RefreshOnce(ctx); err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		if cfg.Reload.Enabled {
			go func() { _ = reloader.Run(ctx) }()
		}

		if len(secrets) > 0 {
			authenticator = auth.NewAuthenticator(secrets, db.NewAPIKeyRepository(queries), logger)
		}
	} else if len(secrets) > 0 {
		return fmt.Errorf("HMAC secrets are set but no database is configured to hold API keys")
	}

	if authenticator == nil {
		logger.Warn("authentication disabled (set BK_HMAC_SECRET and a database to enable)")
	}

	service, err := api.NewRuleService(engine, serviceOpts...)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg, service, authenticator, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("starting badgekeeper",
		zap.String("version", Version),
		zap.String("addr", cfg.Address()),
		zap.Int("rules", store.Len()))

	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout)
		defer cancel()
		return grpcServer.Shutdown(shutdownCtx)
	}
}

// requireMigrated fails if any embedded migration is not yet applied.
func requireMigrated(ctx context.Context, database *sqlx.DB) error {
	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			return fmt.Errorf("migration %s not applied - run 'badgekeeper migrate up' first", s.ID)
		}
	}
	return nil
}
