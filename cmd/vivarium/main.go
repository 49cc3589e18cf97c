package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vivarium/internal/app"
	"vivarium/internal/broker"
	"vivarium/internal/config"
	"vivarium/internal/devices"
	"vivarium/internal/repository"
	"vivarium/internal/scheduler"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

func main() {
	flags := app.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := app.LoadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "vivarium-controller")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[STARTUP] Starting vivarium controller", logging.Fields{
		"version":      app.Version,
		"light_pin":    cfg.Growlight.Pin,
		"mister_pin":   cfg.Mister.Pin,
		"mister_at":    cfg.Mister.RunAt,
		"refresh_time": cfg.Scheduler.LightRefreshTime,
		"sensor":       cfg.Sensor.Enabled,
		"mqtt":         cfg.MQTT.Enabled,
	})

	metricsCollector := metrics.NewCollector("vivarium_controller")

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Invalid scheduler timezone", logging.Fields{}, err)
	}
	refreshAt, err := config.ParseClock(cfg.Scheduler.LightRefreshTime)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Invalid light refresh time", logging.Fields{}, err)
	}

	db, err := app.OpenDatabase(cfg, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	var bridge *broker.Bridge
	var publishers []devices.Publisher
	if cfg.MQTT.Enabled {
		var disconnect func()
		bridge, disconnect, err = app.NewBridge(cfg, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to MQTT broker", logging.Fields{}, err)
		}
		defer disconnect()
		publishers = append(publishers, bridge)
	}

	recorder, release := app.NewStatusRecorder(cfg, db, logger, metricsCollector, publishers...)
	defer release()

	hw, err := app.OpenHardware(ctx, cfg, recorder, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to initialize devices", logging.Fields{}, err)
	}
	defer func() {
		if err := hw.Close(); err != nil {
			logger.Error(context.Background(), "[SHUTDOWN_ERROR] Failed to release devices", logging.Fields{}, err)
		}
	}()

	if err := hw.Aeration.SetDefaultSpeed(ctx); err != nil {
		logger.Error(ctx, "[STARTUP_ERROR] Failed to start aeration", logging.Fields{}, err)
	}

	store := repository.NewStore(db, logger)
	viv := scheduler.NewVivariumScheduler(loc, hw.Light, hw.Mister, refreshAt, logger, metricsCollector)
	lights := scheduler.NewLightScheduler(store.Astro, hw.Light, viv, cfg.Growlight, loc, logger)
	misting, err := scheduler.NewMisterScheduler(hw.Mister, hw.Aeration, viv, cfg.Mister, logger)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Invalid mister schedule", logging.Fields{}, err)
	}
	viv.Attach(lights, misting)
	if hw.Sensor != nil {
		viv.AttachSensor(hw.Sensor, cfg.Sensor.ReadInterval)
		viv.AttachHumidifier(scheduler.NewHumidifierScheduler(hw.Humidifier, hw.Aeration, hw.Sensor, viv, cfg.Humidifier, logger))
	} else {
		logger.Warn(ctx, "[STARTUP] Sensor disabled, humidifier stays manual", logging.Fields{})
	}

	if bridge != nil {
		if err := bridge.Listen(ctx, app.CommandRunner(cfg, hw)); err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to subscribe to commands", logging.Fields{}, err)
		}
	}

	if err := viv.Start(ctx); err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to start scheduler", logging.Fields{}, err)
	}

	<-ctx.Done()
	shutdownCtx := context.Background()
	logger.Info(shutdownCtx, "[SHUTDOWN] Stopping vivarium controller", logging.Fields{})
	viv.Stop()

	for _, d := range []scheduler.Switch{hw.Light, hw.Mister, hw.Humidifier} {
		if err := d.Toggle(shutdownCtx, false); err != nil {
			logger.Error(shutdownCtx, "[SHUTDOWN_ERROR] Failed to switch device off", logging.Fields{}, err)
		}
	}
	logger.Info(shutdownCtx, "[SHUTDOWN_COMPLETE] Vivarium controller stopped", logging.Fields{})
}
