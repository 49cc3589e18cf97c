package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vivarium/internal/app"
	"vivarium/internal/config"
	"vivarium/internal/deploy"
	"vivarium/internal/services"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

func main() {
	flags := app.RegisterFlags(flag.CommandLine)
	usePostgres := flag.Bool("postgres", false, "Set up a PostgreSQL server (full provisioning)")
	useSupabase := flag.Bool("supabase", false, "Set up a Supabase project (schema only)")
	local := flag.Bool("local", false, "Use the [database] section (default)")
	remote := flag.Bool("remote", false, "Use the [database_remote] section")
	skip := flag.Bool("skip", false, "Skip database setup and only load data")
	jsonDir := flag.String("load-json-data", "", "Directory of weather JSON files to load after setup")
	dumpFile := flag.String("load-db-dump", "", "SQL dump file to apply after setup")
	maxRetries := flag.Int("max-retries", 3, "Setup attempts before giving up")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall time limit")
	flag.Parse()

	if *usePostgres == *useSupabase {
		fmt.Fprintln(os.Stderr, "exactly one of --postgres or --supabase is required")
		flag.Usage()
		os.Exit(2)
	}
	if *local && *remote {
		fmt.Fprintln(os.Stderr, "--local and --remote are mutually exclusive")
		os.Exit(2)
	}

	cfg, err := app.LoadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "vivarium-dbsetup")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	opts := deploy.Options{
		Type:       deploy.Postgres,
		Remote:     *remote,
		Skip:       *skip,
		JSONDir:    *jsonDir,
		DumpFile:   *dumpFile,
		MaxRetries: *maxRetries,
	}
	if *useSupabase {
		opts.Type = deploy.Supabase
	}

	logger.Info(ctx, "[DEPLOY_START] Starting database deployment", logging.Fields{
		"version": app.Version,
		"type":    string(opts.Type),
		"remote":  opts.Remote,
		"skip":    opts.Skip,
	})

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error(ctx, "[DEPLOY_FAILED] Database deployment failed", logging.Fields{}, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts deploy.Options, logger logging.Logger) error {
	if err := deploy.ValidatePaths(&opts, logger); err != nil {
		return err
	}
	target, err := deploy.ResolveTarget(cfg, opts, logger)
	if err != nil {
		return err
	}
	opts.Remote = target.Remote

	metricsCollector := metrics.NewCollector("vivarium_dbsetup")
	steps := deploy.NewSteps(target, services.IngestionOptions{
		ProcessedDir: cfg.Files.ProcessedDir,
		ArchiveMode:  cfg.Ingestion.ArchiveMode,
	}, logger, metricsCollector)
	return deploy.NewDeployer(opts, steps, logger).Run(ctx)
}
