package services

import (
	"context"
	"fmt"
	"time"

	"vivarium/internal/models"
	"vivarium/internal/repository"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

// StatisticsService computes climate summaries from the day table.
type StatisticsService struct {
	store   *repository.Store
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewStatisticsService creates a new statistics service
func NewStatisticsService(store *repository.Store, logger logging.Logger, metricsCollector *metrics.Collector) *StatisticsService {
	return &StatisticsService{
		store:   store,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Summarize aggregates a location's day data between from and to
// inclusive.
func (s *StatisticsService) Summarize(ctx context.Context, locationID int64, from, to time.Time) (*models.ClimateSummary, error) {
	if to.Before(from) {
		return nil, &models.ValidationError{
			Field:   "to",
			Value:   to.Format(models.DateLayout),
			Message: "end date must not be before start date",
		}
	}
	if _, err := s.store.Locations.Get(ctx, locationID); err != nil {
		return nil, err
	}

	summary, err := s.store.Days.Summarize(ctx, locationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize location %d: %w", locationID, err)
	}

	s.logger.Info(ctx, "[STATS_SUMMARY] Climate summary calculated", logging.Fields{
		"location_id": locationID,
		"from":        from.Format(models.DateLayout),
		"to":          to.Format(models.DateLayout),
		"days":        summary.Days,
	})
	return summary, nil
}

// SummarizeAll summarizes every location over the same range. A failing
// location is logged and left out.
func (s *StatisticsService) SummarizeAll(ctx context.Context, from, to time.Time) ([]*models.ClimateSummary, error) {
	locations, err := s.store.Locations.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}

	summaries := make([]*models.ClimateSummary, 0, len(locations))
	for _, loc := range locations {
		summary, err := s.Summarize(ctx, loc.LocationID, from, to)
		if err != nil {
			s.logger.Error(ctx, "[STATS_SUMMARY_ERROR] Failed to summarize location", logging.Fields{
				"location_id": loc.LocationID,
			}, err)
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
