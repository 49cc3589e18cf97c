package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vivarium/internal/app"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

func main() {
	flags := app.RegisterFlags(flag.CommandLine)
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), app.DeviceUsage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := app.LoadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	cmd, err := app.ParseDeviceCommand(flag.Args(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		flag.Usage()
		os.Exit(2)
	}

	logger := app.NewLogger(cfg, "vivarium-devicectl")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsCollector := metrics.NewCollector("vivarium_devicectl")

	db, err := app.OpenDatabase(cfg, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[DEVICECTL_ERROR] Failed to connect to database", logging.Fields{}, err)
	}

	recorder, release := app.NewStatusRecorder(cfg, db, logger, metricsCollector)
	hw, err := app.OpenHardware(ctx, cfg, recorder, logger, metricsCollector)
	if err != nil {
		release()
		db.Close()
		logger.Fatal(ctx, "[DEVICECTL_ERROR] Failed to initialize devices", logging.Fields{}, err)
	}

	err = cmd.Execute(ctx, hw)
	// The board is released without Hardware.Close so fans keep the speed
	// just set.
	hw.Board.Close()
	release()
	db.Close()

	if err != nil {
		logger.Error(ctx, "[DEVICECTL_FAILED] Device command failed", logging.Fields{
			"device": cmd.Device,
			"action": cmd.Action,
		}, err)
		os.Exit(1)
	}
	logger.Info(ctx, "[DEVICECTL_COMPLETE] Device command applied", logging.Fields{
		"device": cmd.Device,
		"target": cmd.Target,
		"action": cmd.Action,
		"speed":  cmd.Speed,
	})
}
