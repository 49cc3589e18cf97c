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
)

func main() {
	flags := app.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := app.LoadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "vivarium-scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchestrator := scheduler.NewOrchestrator(cfg.Scheduler, flags.Args(), logger)
	var names []string
	for _, c := range orchestrator.Children() {
		names = append(names, c.Name)
	}
	logger.Info(ctx, "[STARTUP] Starting scheduler processes", logging.Fields{
		"version":   app.Version,
		"processes": names,
	})

	if err := orchestrator.Run(ctx); err != nil {
		logger.Error(context.Background(), "[SHUTDOWN_ERROR] Scheduler processes exited with errors", logging.Fields{}, err)
		os.Exit(1)
	}
	logger.Info(context.Background(), "[SHUTDOWN_COMPLETE] All scheduler processes stopped", logging.Fields{})
}
