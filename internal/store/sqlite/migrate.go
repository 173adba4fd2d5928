package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/muz"
)

//go:embed migrations/*
var migrationFS embed.FS

// MigrateCfg mirrors config.Store.Migrate; kept narrow so this package
// does not import internal/config (avoids an import cycle with callers
// that build a config before opening the store).
type MigrateCfg struct {
	Datasource string
	Table      string
	Values     map[string]string
}

func migrate(ctx context.Context, cfg MigrateCfg) error {
	if err := lintMigrations(); err != nil {
		return fmt.Errorf("migration lint: %w", err)
	}

	if err := backupDatasource(ctx, cfg.Datasource); err != nil {
		return fmt.Errorf("backup before migrate: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return fmt.Errorf("open sqlite connection for migration: %w", err)
	}
	defer db.Close()

	m := muz.Migrate{
		Path:      "migrations",
		FS:        migrationFS,
		Extension: ".sql",
		Values:    cfg.Values,
	}

	driver := muz.NewSQLiteDriver(db, cfg.Table, slog.Default())

	if err := m.Migrate(ctx, driver); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
