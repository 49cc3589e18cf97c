package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vivarium/internal/retriever"
	"vivarium/internal/validator"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

// PayloadRetriever returns the path of a cached payload for a date.
// *retriever.Retriever satisfies it.
type PayloadRetriever interface {
	Retrieve(ctx context.Context, date, latLong string) (string, error)
}

// FileIngester ingests one cached file. *IngestionService satisfies it.
type FileIngester interface {
	IngestFile(ctx context.Context, path string) (*FileResult, error)
}

// FetchService retrieves one day of weather and loads it.
type FetchService struct {
	retriever PayloadRetriever
	ingester  FileIngester
	latLong   string
	now       func() time.Time
	logger    logging.Logger
	metrics   *metrics.Collector
}

// NewFetchService creates a fetch service. defaultLatLong is used when a
// call passes no location.
func NewFetchService(r PayloadRetriever, ingester FileIngester, defaultLatLong string, logger logging.Logger, metricsCollector *metrics.Collector) *FetchService {
	return &FetchService{
		retriever: r,
		ingester:  ingester,
		latLong:   defaultLatLong,
		now:       time.Now,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// Fetch retrieves date (yesterday when empty) for latLong (the default
// location when empty) and ingests it. Only an archived file counts as
// success.
func (s *FetchService) Fetch(ctx context.Context, date, latLong string) (*FileResult, error) {
	if logging.RunID(ctx) == "" {
		ctx = logging.WithRunID(ctx, uuid.NewString())
	}
	if date == "" {
		date = retriever.YesterdayDate(s.now())
	}
	if latLong == "" {
		latLong = s.latLong
	}
	if _, _, err := validator.ParseLatLong(latLong); err != nil {
		return nil, err
	}

	start := time.Now()
	s.logger.Info(ctx, "[FETCH_START] Fetching weather data", logging.Fields{
		"date":     date,
		"lat_long": latLong,
	})

	path, err := s.retriever.Retrieve(ctx, date, latLong)
	if err != nil {
		s.logger.Error(ctx, "[FETCH_RETRIEVE_ERROR] Failed to retrieve weather data", logging.Fields{
			"date": date,
		}, err)
		return nil, err
	}

	fr, err := s.ingester.IngestFile(ctx, path)
	if err != nil {
		return fr, err
	}
	if fr.State != FileArchived {
		return fr, fmt.Errorf("weather file %s was %s", path, fr.State)
	}

	s.logger.Info(ctx, "[FETCH_COMPLETE] Weather data fetched and loaded", logging.Fields{
		"date":        date,
		"file_path":   path,
		"location_id": fr.LocationID,
		"hours":       fr.Hours,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return fr, nil
}
