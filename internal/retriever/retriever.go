package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vivarium/internal/models"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

// Fetcher is the weather API call the retriever falls back to.
type Fetcher interface {
	GetHistoricalData(ctx context.Context, date, latLong string) (json.RawMessage, error)
}

// Retriever looks a date up in the file cache, then the optional mirror,
// then the API. Whatever it finds ends up in the file cache.
type Retriever struct {
	files   *FileCache
	mirror  Cache
	api     Fetcher
	logger  logging.Logger
	metrics *metrics.Collector
}

// New creates a retriever. mirror may be nil.
func New(files *FileCache, mirror Cache, api Fetcher, logger logging.Logger, metricsCollector *metrics.Collector) *Retriever {
	return &Retriever{
		files:   files,
		mirror:  mirror,
		api:     api,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// YesterdayDate returns the calendar day before now as YYYY-MM-DD.
func YesterdayDate(now time.Time) string {
	return now.AddDate(0, 0, -1).Format(models.DateLayout)
}

// Retrieve returns the path of the cached payload for date, fetching it
// when no tier has it. A failed fetch caches nothing.
func (r *Retriever) Retrieve(ctx context.Context, date, latLong string) (string, error) {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return "", &models.ValidationError{
			Field:   "date",
			Value:   date,
			Message: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", date),
		}
	}
	path := r.files.Path(date)

	_, err := r.files.Get(ctx, date)
	switch {
	case err == nil:
		r.metrics.RecordCacheLookup("file", true)
		r.logger.Info(ctx, "[RETRIEVE_CACHED] Using cached payload", logging.Fields{
			"date": date,
			"path": path,
		})
		return path, nil
	case !errors.Is(err, ErrCacheMiss):
		return "", err
	}
	r.metrics.RecordCacheLookup("file", false)

	if r.mirror != nil {
		body, err := r.mirror.Get(ctx, date)
		switch {
		case err == nil:
			r.metrics.RecordCacheLookup("redis", true)
			if err := r.files.Put(ctx, date, body); err != nil {
				return "", err
			}
			r.logger.Info(ctx, "[RETRIEVE_MIRROR] Payload restored from mirror", logging.Fields{
				"date": date,
				"path": path,
			})
			return path, nil
		case errors.Is(err, ErrCacheMiss):
			r.metrics.RecordCacheLookup("redis", false)
		default:
			r.logger.Warn(ctx, "[RETRIEVE_MIRROR_ERROR] Mirror lookup failed, calling API", logging.Fields{
				"date":  date,
				"error": err.Error(),
			})
		}
	}

	body, err := r.api.GetHistoricalData(ctx, date, latLong)
	if err != nil {
		return "", fmt.Errorf("failed to fetch weather for %s: %w", date, err)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("weather api returned an empty body for %s", date)
	}

	if err := r.files.Put(ctx, date, body); err != nil {
		return "", err
	}
	if r.mirror != nil {
		if err := r.mirror.Put(ctx, date, body); err != nil {
			r.logger.Warn(ctx, "[RETRIEVE_MIRROR_ERROR] Failed to mirror payload", logging.Fields{
				"date":  date,
				"error": err.Error(),
			})
		}
	}

	r.logger.Info(ctx, "[RETRIEVE_FETCHED] Payload fetched and cached", logging.Fields{
		"date":     date,
		"lat_long": latLong,
		"path":     path,
	})
	return path, nil
}
