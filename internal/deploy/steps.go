package deploy

import (
	"context"
	"fmt"

	"vivarium/internal/services"
	"vivarium/pkg/database"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

// openDB connects to a target database.
var openDB = database.NewPostgresDB

// NewSteps builds the real setup and load actions for t. JSON loads archive
// files as ingest says.
func NewSteps(t *Target, ingest services.IngestionOptions, logger logging.Logger, m *metrics.Collector) Steps {
	return Steps{
		Setup: func(ctx context.Context) error {
			return setup(ctx, t, logger, m)
		},
		LoadJSON: func(ctx context.Context, dir string) error {
			return loadJSON(ctx, t, dir, ingest, logger, m)
		},
		LoadDump: func(ctx context.Context, path string) error {
			return loadDump(ctx, t, path, logger, m)
		},
	}
}

// setup recreates the application database and role (Postgres only) and
// applies the schema as the application user.
func setup(ctx context.Context, t *Target, logger logging.Logger, m *metrics.Collector) error {
	if t.Type == Postgres {
		super, err := database.NewPostgresDB(t.Super.ToDatabase(), logger, m)
		if err != nil {
			return fmt.Errorf("failed to connect as superuser: %w", err)
		}
		err = database.NewProvisioner(super, logger).Reset(ctx, database.AppAccount{
			Database: t.App.DBName,
			User:     t.App.User,
			Password: t.App.Password,
		})
		super.Close()
		if err != nil {
			return err
		}
	}
	return database.RunMigrations(ctx, t.App.ToDatabase(), "up", logger)
}

func loadJSON(ctx context.Context, t *Target, dir string, ingest services.IngestionOptions, logger logging.Logger, m *metrics.Collector) error {
	db, err := openDB(t.App.ToDatabase(), logger, m)
	if err != nil {
		return err
	}
	defer db.Close()

	ingester := services.NewIngestionService(db, ingest, logger, m)
	result, err := ingester.IngestDirectory(ctx, dir)
	if result != nil {
		logger.Info(ctx, "[DEPLOY_LOAD_JSON_RESULT] Weather files loaded", logging.Fields{
			"total":    result.TotalFiles,
			"archived": result.Archived,
			"failed":   result.Failed,
			"skipped":  result.Skipped,
		})
	}
	return err
}

func loadDump(ctx context.Context, t *Target, path string, logger logging.Logger, m *metrics.Collector) error {
	db, err := openDB(t.App.ToDatabase(), logger, m)
	if err != nil {
		return err
	}
	defer db.Close()

	s := db.NewSession()
	defer s.Close(ctx)

	result, err := database.ApplyScriptFile(ctx, s, path, logger)
	if result != nil {
		logger.Info(ctx, "[DEPLOY_LOAD_DUMP_RESULT] Dump applied", logging.Fields{
			"executed": result.Executed,
			"skipped":  result.Skipped,
		})
	}
	return err
}
