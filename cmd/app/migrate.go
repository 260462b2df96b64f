package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/migrations"
)

var steps int

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		RunE:  runMigrate(func(ctx context.Context, m migrateEnv) error { return migrations.Down(ctx, m.pool, steps, m.log) }),
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to rollback")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			RunE:  runMigrate(func(ctx context.Context, m migrateEnv) error { return migrations.Up(ctx, m.pool, m.log) }),
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			RunE:  runMigrate(runStatus),
		},
	)
	return cmd
}

type migrateEnv struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func runMigrate(fn func(ctx context.Context, m migrateEnv) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx := cmd.Context()
		pool, err := initDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := fn(ctx, migrateEnv{pool: pool, log: log}); err != nil {
			log.Error("migration failed", zap.Error(err))
			return err
		}
		return nil
	}
}

func runStatus(ctx context.Context, m migrateEnv) error {
	version, err := migrations.Version(ctx, m.pool)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	fmt.Printf("Current Version: %d\n", version)
	return migrations.Status(ctx, m.pool)
}
