package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"vivarium/internal/app"
	"vivarium/internal/services"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

func main() {
	flags := app.RegisterFlags(flag.CommandLine)
	dataDir := flag.String("dir", "", "Directory of weather JSON files to load (defaults to files.raw_dir)")
	file := flag.String("file", "", "Load a single weather JSON file instead of a directory")
	flag.Parse()

	cfg, err := app.LoadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *dataDir == "" {
		*dataDir = cfg.Files.RawDir
	}

	logger := app.NewLogger(cfg, "vivarium-ingester")

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting weather data ingestion", logging.Fields{
		"version":       app.Version,
		"data_dir":      *dataDir,
		"file":          *file,
		"processed_dir": cfg.Files.ProcessedDir,
		"archive_mode":  cfg.Ingestion.ArchiveMode,
	})

	metricsCollector := metrics.NewCollector("vivarium_ingester")

	db, err := app.OpenDatabase(cfg, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	ingestionService := app.NewIngestionService(cfg, db, logger, metricsCollector)

	if *file != "" {
		fr, err := ingestionService.IngestFile(ctx, *file)
		printFile(fr)
		if err != nil {
			logger.Error(ctx, "[INGESTION_ERROR] File ingestion failed", logging.Fields{"file_path": *file}, err)
			db.Close()
			os.Exit(1)
		}
		return
	}

	result, err := ingestionService.IngestDirectory(ctx, *dataDir)
	if result == nil {
		logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
			"data_dir": *dataDir,
		}, err)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run ID:    %s\n", result.RunID)
	fmt.Printf("Files:     %d\n", result.TotalFiles)
	fmt.Printf("Processed: %d\n", result.Archived)
	fmt.Printf("Skipped:   %d\n", result.Skipped)
	fmt.Printf("Failed:    %d\n", result.Failed)
	fmt.Printf("Duration:  %v\n", result.Duration)

	if result.Failed > 0 {
		fmt.Printf("\nFailed files (%d):\n", result.Failed)
		shown := 0
		for _, fr := range result.Files {
			if fr.State != services.FileFailed {
				continue
			}
			if shown == 10 {
				fmt.Printf("  ... and %d more\n", result.Failed-shown)
				break
			}
			fmt.Printf("  - %s\n", fr.Path)
			shown++
		}
	}

	if err != nil {
		logger.Error(ctx, "[INGESTER_COMPLETE] Ingestion finished with failures", logging.Fields{
			"failed": result.Failed,
		}, err)
		db.Close()
		os.Exit(1)
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion completed successfully", logging.Fields{
		"total_files":      result.TotalFiles,
		"processed":        result.Archived,
		"skipped":          result.Skipped,
		"duration_seconds": result.Duration.Seconds(),
	})
}

func printFile(fr *services.FileResult) {
	if fr == nil {
		return
	}
	fmt.Printf("%s: %s", fr.Path, fr.State)
	if fr.ProcessedPath != "" {
		fmt.Printf(" -> %s", fr.ProcessedPath)
	}
	fmt.Println()
}
