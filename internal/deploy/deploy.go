// Package deploy prepares a database for the vivarium services: it
// provisions the application database and role, applies the schema and
// optionally loads stored weather files or a SQL dump.
package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vivarium/internal/config"
	"vivarium/pkg/logging"
)

// DatabaseType selects the kind of server being set up.
type DatabaseType string

const (
	Postgres DatabaseType = "postgres"
	Supabase DatabaseType = "supabase"
)

// Options are the dbsetup command line choices.
type Options struct {
	Type         DatabaseType
	Remote       bool
	Skip         bool
	JSONDir      string
	DumpFile     string
	MaxRetries   int
	InitialDelay time.Duration
}

// Target holds the connections a setup run uses. Super is the
// administrative connection; for Supabase it is the application
// connection itself.
type Target struct {
	Type   DatabaseType
	Remote bool
	App    config.DatabaseConfig
	Super  config.DatabaseConfig
}

// ResolveTarget picks the connection sections for opts. Supabase is always
// remote and always uses TLS.
func ResolveTarget(cfg *config.Config, opts Options, logger logging.Logger) (*Target, error) {
	switch opts.Type {
	case Postgres:
		t := &Target{Type: Postgres, Remote: opts.Remote, App: cfg.Database, Super: cfg.DatabaseSuper}
		section := "database"
		if opts.Remote {
			t.App = cfg.DatabaseRemote
			section = "database_remote"
		}
		if err := t.App.Require(section); err != nil {
			return nil, err
		}
		if err := t.Super.Require("database_super"); err != nil {
			return nil, err
		}
		return t, nil

	case Supabase:
		if !opts.Remote {
			logger.Warn(context.Background(), "[DEPLOY_SUPABASE_REMOTE] Supabase requires a remote connection, overriding", logging.Fields{})
		}
		app := cfg.Supabase
		if err := app.Require("supabase"); err != nil {
			return nil, err
		}
		app.SSLMode = "require"
		return &Target{Type: Supabase, Remote: true, App: app, Super: app}, nil
	}
	return nil, fmt.Errorf("unsupported database type %q", opts.Type)
}

// ValidatePaths checks the data load arguments before anything touches
// the database. Relative paths are made absolute in place.
func ValidatePaths(opts *Options, logger logging.Logger) error {
	ctx := context.Background()

	if opts.DumpFile != "" {
		abs, err := filepath.Abs(opts.DumpFile)
		if err != nil {
			return fmt.Errorf("failed to resolve dump path %s: %w", opts.DumpFile, err)
		}
		opts.DumpFile = abs

		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("database dump file not found: %w", err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("database dump path is not a file: %s", abs)
		}
		if info.Size() == 0 {
			return fmt.Errorf("database dump file is empty: %s", abs)
		}
		ext := strings.ToLower(filepath.Ext(abs))
		if ext != ".sql" && ext != ".dump" {
			logger.Warn(ctx, "[DEPLOY_DUMP_EXTENSION] Dump file has an unexpected extension", logging.Fields{"path": abs})
		}
	}

	if opts.JSONDir != "" {
		abs, err := filepath.Abs(opts.JSONDir)
		if err != nil {
			return fmt.Errorf("failed to resolve JSON directory %s: %w", opts.JSONDir, err)
		}
		opts.JSONDir = abs

		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("JSON data directory not found: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("JSON data path is not a directory: %s", abs)
		}
		matches, _ := filepath.Glob(filepath.Join(abs, "*.json"))
		if len(matches) == 0 {
			logger.Warn(ctx, "[DEPLOY_JSON_EMPTY] No JSON files in directory", logging.Fields{"dir": abs})
		}
	}
	return nil
}

// Steps are the actions a deployment runs. Nil loaders are skipped.
type Steps struct {
	Setup    func(ctx context.Context) error
	LoadJSON func(ctx context.Context, dir string) error
	LoadDump func(ctx context.Context, path string) error
}

// Deployer runs setup with retries followed by the requested data loads.
type Deployer struct {
	opts   Options
	steps  Steps
	sleep  func(ctx context.Context, d time.Duration) error
	logger logging.Logger
}

func NewDeployer(opts Options, steps Steps, logger logging.Logger) *Deployer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 2 * time.Second
	}
	return &Deployer{
		opts:   opts,
		steps:  steps,
		sleep:  sleepContext,
		logger: logger,
	}
}

// Run performs the deployment. Data loading only starts after a
// successful (or skipped) setup.
func (d *Deployer) Run(ctx context.Context) error {
	if d.opts.Skip {
		d.logger.Info(ctx, "[DEPLOY_SETUP_SKIPPED] Skipping database setup", logging.Fields{})
	} else if err := d.SetupWithRetry(ctx); err != nil {
		return err
	}

	if d.opts.JSONDir != "" && d.steps.LoadJSON != nil {
		d.logger.Info(ctx, "[DEPLOY_LOAD_JSON] Loading weather files", logging.Fields{"dir": d.opts.JSONDir})
		if err := d.steps.LoadJSON(ctx, d.opts.JSONDir); err != nil {
			return fmt.Errorf("JSON data load failed: %w", err)
		}
	}
	if d.opts.DumpFile != "" && d.steps.LoadDump != nil {
		d.logger.Info(ctx, "[DEPLOY_LOAD_DUMP] Loading database dump", logging.Fields{"path": d.opts.DumpFile})
		if err := d.steps.LoadDump(ctx, d.opts.DumpFile); err != nil {
			return fmt.Errorf("database dump load failed: %w", err)
		}
	}

	d.logger.Info(ctx, "[DEPLOY_COMPLETE] Deployment finished", logging.Fields{"type": string(d.opts.Type)})
	return nil
}

// SetupWithRetry runs the setup step up to MaxRetries times, doubling the
// wait after every failed attempt.
func (d *Deployer) SetupWithRetry(ctx context.Context) error {
	delay := d.opts.InitialDelay
	var err error
	for attempt := 1; attempt <= d.opts.MaxRetries; attempt++ {
		d.logger.Info(ctx, "[DEPLOY_SETUP_ATTEMPT] Running database setup", logging.Fields{
			"attempt":     attempt,
			"max_retries": d.opts.MaxRetries,
		})
		if err = d.steps.Setup(ctx); err == nil {
			d.logger.Info(ctx, "[DEPLOY_SETUP_COMPLETE] Database setup succeeded", logging.Fields{"attempt": attempt})
			return nil
		}
		d.logger.Error(ctx, "[DEPLOY_SETUP_ERROR] Database setup attempt failed", logging.Fields{"attempt": attempt}, err)

		if attempt < d.opts.MaxRetries {
			if sleepErr := d.sleep(ctx, delay); sleepErr != nil {
				return sleepErr
			}
			delay *= 2
		}
	}
	return fmt.Errorf("database setup failed after %d attempts: %w", d.opts.MaxRetries, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
