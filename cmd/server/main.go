package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskcal-go/internal/app"
	"taskcal-go/internal/config"
	"taskcal-go/internal/logging"
	"taskcal-go/internal/storage"
)

const defaultConfigPath = "./configs/config.json"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "taskcal",
		Short:         "Task list with Google and Outlook calendar sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the JSON config file")

	runServe := func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), configPath)
	}
	// Without a subcommand the root serves.
	root.RunE = runServe

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server, scheduler and workers",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate(cmd.Context(), configPath)
			},
		},
	)
	return root
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func serve(ctx context.Context, configPath string) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	application, err := app.New(context.Background(), cfg, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		application.Stop(context.Background())
		return fmt.Errorf("application failed to start: %w", err)
	}

	// Set up signal handling for graceful shutdown
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received, initiating graceful shutdown")
	case runErr = <-application.Errors():
		logger.Error("server failed, shutting down", zap.Error(runErr))
	}

	if err := application.Stop(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func migrate(ctx context.Context, configPath string) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	dbCfg := storage.DefaultConfig()
	dbCfg.Path = cfg.DBPath
	db, err := storage.OpenDatabase(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	defer db.Close()

	status, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return err
	}
	logger.Info("database is up to date",
		zap.String("path", cfg.DBPath),
		zap.Uint("version", status.Version),
		zap.Bool("dirty", status.Dirty))
	return nil
}
