package db

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/aegishook/aegishook/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending schema migrations from the embedded SQL files.
// goose needs a database/sql handle, so the pgx pool is bridged through stdlib.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *logging.Logger) error {
	// The goose version table lives inside the application schema, so the
	// schema has to exist before goose touches anything.
	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS aegishook`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetLogger(gooseLogger{logger: logger})
	goose.SetBaseFS(migrationsFS)
	goose.SetTableName("aegishook.schema_migrations")
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through the structured logger instead of stdout.
type gooseLogger struct {
	logger *logging.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.logger.Plain().Infof(format, v...)
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.logger.Plain().Fatalf(format, v...)
}
