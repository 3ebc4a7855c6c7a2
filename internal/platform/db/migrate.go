package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL
)`

// Migration is one versioned schema file. Version is the file name without
// the .sql suffix.
type Migration struct {
	Version    string
	Statements []string
}

// Migrations returns the embedded schema files in apply order.
func Migrations() ([]Migration, error) {
	return loadMigrations(migrationFiles, "migrations")
}

func loadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		migrations = append(migrations, Migration{
			Version:    strings.TrimSuffix(name, ".sql"),
			Statements: splitStatements(string(raw)),
		})
	}
	return migrations, nil
}

// splitStatements cuts a file on semicolons. Schema files must not carry
// semicolons inside literals.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		if statement := strings.TrimSpace(part); statement != "" {
			statements = append(statements, statement)
		}
	}
	return statements
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations. Each version runs in its own transaction.
func (p *Postgres) Migrate(ctx context.Context, logger *slog.Logger) error {
	if p == nil || p.DB == nil {
		return errors.New("postgres is not connected")
	}
	migrations, err := Migrations()
	if err != nil {
		return err
	}
	return apply(ctx, p.DB, migrations, logger)
}

func apply(ctx context.Context, db *gorm.DB, migrations []Migration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	db = db.WithContext(ctx)
	if err := db.Exec(migrationsTable).Error; err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, migration := range migrations {
		applied := false
		err := db.Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Raw(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, migration.Version).
				Scan(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return nil
			}
			for _, statement := range migration.Statements {
				if err := tx.Exec(statement).Error; err != nil {
					return err
				}
			}
			applied = true
			return tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
				migration.Version, time.Now().UTC()).Error
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", migration.Version, err)
		}
		if applied {
			logger.Info("schema migration applied",
				"event", "postgres_migration_applied",
				"module", "internal/platform/db",
				"layer", "platform",
				"version", migration.Version,
				"statements", len(migration.Statements),
			)
		}
	}
	return nil
}
