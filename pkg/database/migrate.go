package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"vivarium/pkg/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrationsTable records applied schema versions.
const MigrationsTable = "vivarium_schema_migrations"

// RunMigrations applies ("up") or reverts ("down") the embedded schema.
// The migrator uses its own connection because closing the migrate
// instance closes the handle it was given.
func RunMigrations(ctx context.Context, cfg *Config, direction string, logger logging.Logger) error {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database for migration: %w", err)
	}

	m, err := newMigrator(db)
	if err != nil {
		db.Close()
		return err
	}
	defer m.Close()

	logger.Info(ctx, "[MIGRATE_START] Applying schema migrations", logging.Fields{
		"direction": direction,
		"database":  cfg.Database,
		"table":     MigrationsTable,
	})

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if version, dirty, verr := m.Version(); verr == nil {
			logger.Error(ctx, "[MIGRATE_ERROR] Migration failed", logging.Fields{
				"version": version,
				"dirty":   dirty,
			}, err)
		}
		return fmt.Errorf("migration %s failed: %w", direction, err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info(ctx, "[MIGRATE_NOOP] Schema already up to date", logging.Fields{})
		return nil
	}

	logger.Info(ctx, "[MIGRATE_COMPLETE] Schema migrations applied", logging.Fields{
		"direction": direction,
	})
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		MigrationsTable: MigrationsTable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}
