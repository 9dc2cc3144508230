package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations applies embedded SQL migrations via goose. If database is nil, it's a no-op.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	return RunMigrationCommand(ctx, database, "up")
}

// RunMigrationCommand runs one goose command: up, down, status or reset.
func RunMigrationCommand(ctx context.Context, database *sql.DB, command string) error {
	if database == nil {
		return nil
	}
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	switch command {
	case "", "up":
		return goose.UpContext(ctx, database, "migrations")
	case "down":
		return goose.DownContext(ctx, database, "migrations")
	case "status":
		return goose.StatusContext(ctx, database, "migrations")
	case "reset":
		return goose.ResetContext(ctx, database, "migrations")
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
}
