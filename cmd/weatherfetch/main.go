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
	var date, location string
	flag.StringVar(&date, "d", "", "Date to fetch as YYYY-MM-DD (default yesterday)")
	flag.StringVar(&date, "date", "", "Date to fetch as YYYY-MM-DD (default yesterday)")
	flag.StringVar(&location, "la", "", "Latitude,longitude to fetch (default weather_api.lat_long)")
	flag.StringVar(&location, "location", "", "Latitude,longitude to fetch (default weather_api.lat_long)")
	flag.Parse()

	cfg, err := app.LoadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "vivarium-weatherfetch")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[WEATHERFETCH_START] Fetching weather data", logging.Fields{
		"version":  app.Version,
		"date":     date,
		"location": location,
	})

	metricsCollector := metrics.NewCollector("vivarium_weatherfetch")

	db, err := app.OpenDatabase(cfg, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[WEATHERFETCH_ERROR] Failed to connect to database", logging.Fields{}, err)
	}

	fetcher, release, err := app.NewFetchService(ctx, cfg, db, logger, metricsCollector)
	if err != nil {
		db.Close()
		logger.Fatal(ctx, "[WEATHERFETCH_ERROR] Failed to initialize fetcher", logging.Fields{}, err)
	}

	fr, err := fetcher.Fetch(ctx, date, location)
	release()
	db.Close()
	if err != nil {
		logger.Error(ctx, "[WEATHERFETCH_FAILED] Weather fetch failed", logging.Fields{"date": date}, err)
		os.Exit(1)
	}

	logger.Info(ctx, "[WEATHERFETCH_COMPLETE] Weather data stored", logging.Fields{
		"date":           fr.Date,
		"processed_path": fr.ProcessedPath,
		"location_id":    fr.LocationID,
		"hours":          fr.Hours,
	})
}
