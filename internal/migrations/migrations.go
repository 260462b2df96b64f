// Package migrations схема БД; миграции goose встроены в бинарник.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var embedMigrations embed.FS

const dir = "sql"

func setup() error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return nil
}

// open оборачивает пул в *sql.DB для goose; соединения остаются во владении пула
func open(pool *pgxpool.Pool) *sql.DB {
	return stdlib.OpenDBFromPool(pool)
}

// Up применяет все новые миграции
func Up(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if err := setup(); err != nil {
		return err
	}
	db := open(pool)

	from, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	to, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get final version: %w", err)
	}

	logger.Info("Migrations applied", zap.Int64("from_version", from), zap.Int64("to_version", to))
	return nil
}

// Down откатывает steps последних миграций
func Down(ctx context.Context, pool *pgxpool.Pool, steps int, logger *zap.Logger) error {
	if err := setup(); err != nil {
		return err
	}
	db := open(pool)

	for i := 0; i < steps; i++ {
		if err := goose.DownContext(ctx, db, dir); err != nil {
			return fmt.Errorf("failed to run down migration: %w", err)
		}
	}

	logger.Info("Migrations rolled back", zap.Int("steps", steps))
	return nil
}

// Status печатает состояние миграций через логгер goose
func Status(ctx context.Context, pool *pgxpool.Pool) error {
	if err := setup(); err != nil {
		return err
	}
	db := open(pool)

	if err := goose.StatusContext(ctx, db, dir); err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	return nil
}

// Version текущая версия схемы
func Version(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	if err := setup(); err != nil {
		return 0, err
	}
	db := open(pool)

	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}
