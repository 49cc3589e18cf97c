package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vivarium/internal/app"
	"vivarium/internal/scheduler"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

func main() {
	flags := app.RegisterFlags(flag.CommandLine)
	runNow := flag.Bool("now", false, "Run one fetch immediately before waiting for the schedule")
	flag.Parse()

	cfg, err := app.LoadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "vivarium-weatherscheduler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[STARTUP] Starting weather fetch scheduler", logging.Fields{
		"version":  app.Version,
		"schedule": cfg.Scheduler.WeatherFetchCron,
		"timezone": cfg.Scheduler.Timezone,
	})

	metricsCollector := metrics.NewCollector("vivarium_weatherscheduler")

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Invalid scheduler timezone", logging.Fields{}, err)
	}

	db, err := app.OpenDatabase(cfg, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	fetcher, release, err := app.NewFetchService(ctx, cfg, db, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to initialize fetcher", logging.Fields{}, err)
	}
	defer release()

	weather := scheduler.NewWeatherScheduler(fetcher, cfg.Scheduler, loc, logger, metricsCollector)
	if *runNow {
		_ = weather.RunOnce(ctx)
	}
	if err := weather.Start(ctx); err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to start scheduler", logging.Fields{}, err)
	}

	<-ctx.Done()
	logger.Info(context.Background(), "[SHUTDOWN] Stopping weather fetch scheduler", logging.Fields{})
	weather.Stop()
	logger.Info(context.Background(), "[SHUTDOWN_COMPLETE] Scheduler stopped", logging.Fields{})
}
