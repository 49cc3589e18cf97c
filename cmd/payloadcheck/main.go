// Payloadcheck validates stored weather files without a database and
// prints what ingesting them would load.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vivarium/internal/services"
	"vivarium/pkg/logging"
)

func main() {
	dataDir := flag.String("dir", "./rawfiles", "Directory containing weather JSON files")
	verbose := flag.Bool("v", false, "Log validation details")
	flag.Parse()

	level := logging.WarnLevel
	if *verbose {
		level = logging.DebugLevel
	}
	logger := logging.NewStructuredLogger("vivarium-payloadcheck", "1.0.0", level)
	ctx := context.Background()

	fmt.Println(strings.Repeat("═", 64))
	fmt.Println("VIVARIUM - WEATHER FILE CHECK")
	fmt.Println(strings.Repeat("═", 64))
	fmt.Println()

	files, err := filepath.Glob(filepath.Join(*dataDir, "*.json"))
	if err != nil {
		fmt.Printf("Error reading directory: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Found %d weather files\n\n", len(files))

	valid, invalid := 0, 0
	hours, missing := 0, 0
	var maxTemps, minTemps []float64
	for _, path := range files {
		if strings.HasPrefix(filepath.Base(path), ".") {
			continue
		}
		r, err := services.CheckFile(ctx, path, logger)
		if err != nil {
			invalid++
			fmt.Printf("  ✗ %s: %v\n", filepath.Base(path), err)
			continue
		}
		valid++
		hours += r.Hours
		missing += r.MissingDay + r.MissingAstro + r.InvalidHours

		fmt.Printf("  ✓ %s | %s (%.2f,%.2f) | days: %d | hours: %d", r.Date, r.Location, r.Lat, r.Lon, r.ForecastDays, r.Hours)
		if r.MaxTempC != nil {
			maxTemps = append(maxTemps, *r.MaxTempC)
			fmt.Printf(" | Max: %.1f°C", *r.MaxTempC)
		}
		if r.MinTempC != nil {
			minTemps = append(minTemps, *r.MinTempC)
			fmt.Printf(" | Min: %.1f°C", *r.MinTempC)
		}
		fmt.Printf(" | Precip: %.1f mm", r.PrecipMm)
		if r.MissingDay+r.MissingAstro+r.InvalidHours > 0 {
			fmt.Printf(" ⚠ MISSING DATA")
		}
		fmt.Println()
	}

	fmt.Println()
	fmt.Println(strings.Repeat("═", 64))
	fmt.Println("CHECK SUMMARY")
	fmt.Println(strings.Repeat("═", 64))
	fmt.Printf("Valid files:          %d\n", valid)
	fmt.Printf("Invalid files:        %d\n", invalid)
	fmt.Printf("Hour rows:            %d\n", hours)
	fmt.Printf("Missing sections:     %d\n", missing)
	if len(maxTemps) > 0 {
		fmt.Printf("Average max temp:     %.2f°C\n", average(maxTemps))
	}
	if len(minTemps) > 0 {
		fmt.Printf("Average min temp:     %.2f°C\n", average(minTemps))
	}

	if invalid > 0 {
		os.Exit(1)
	}
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}
