package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"vivarium/internal/config"
	"vivarium/internal/services"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

const weatherJob = "weather_fetch"

// Fetcher loads one day of weather. *services.FetchService satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, date, latLong string) (*services.FileResult, error)
}

// WeatherScheduler runs the daily fetch on a cron schedule and retries a
// failed run a bounded number of times.
type WeatherScheduler struct {
	cron          *cron.Cron
	spec          string
	fetcher       Fetcher
	maxRetries    int
	retryInterval time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	logger        logging.Logger
	metrics       *metrics.Collector
}

func NewWeatherScheduler(fetcher Fetcher, cfg config.SchedulerConfig, loc *time.Location,
	logger logging.Logger, metricsCollector *metrics.Collector) *WeatherScheduler {
	if loc == nil {
		loc = time.Local
	}
	return &WeatherScheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		spec:          cfg.WeatherFetchCron,
		fetcher:       fetcher,
		maxRetries:    cfg.MaxRetries,
		retryInterval: time.Duration(cfg.RetryIntervalMinutes) * time.Minute,
		sleep:         sleepContext,
		logger:        logger,
		metrics:       metricsCollector,
	}
}

// Start registers the fetch job and starts the cron loop in the
// background. ctx bounds every run.
func (s *WeatherScheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		_ = s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid weather fetch schedule %q: %w", s.spec, err)
	}
	s.cron.Start()

	s.logger.Info(ctx, "[WEATHER_SCHEDULER_START] Weather fetch scheduled", logging.Fields{
		"schedule":       s.spec,
		"max_retries":    s.maxRetries,
		"retry_interval": s.retryInterval.String(),
	})
	return nil
}

// Stop stops the cron loop and waits for a running job to return.
func (s *WeatherScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce fetches yesterday's weather, retrying up to maxRetries times with
// retryInterval between attempts. The retry count starts over on every
// call.
func (s *WeatherScheduler) RunOnce(ctx context.Context) error {
	ctx = logging.WithJob(logging.WithRunID(ctx, uuid.NewString()), weatherJob)
	start := time.Now()

	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn(ctx, "[WEATHER_JOB_RETRY] Retrying weather fetch", logging.Fields{
				"attempt":     attempt,
				"max_retries": s.maxRetries,
				"wait":        s.retryInterval.String(),
				"error":       err.Error(),
			})
			if sleepErr := s.sleep(ctx, s.retryInterval); sleepErr != nil {
				err = sleepErr
				break
			}
		}

		var result *services.FileResult
		result, err = s.fetcher.Fetch(ctx, "", "")
		if err == nil {
			s.metrics.RecordJob(weatherJob, time.Since(start), nil)
			s.logger.Info(ctx, "[WEATHER_JOB_SUCCESS] Weather fetch job finished", logging.Fields{
				"attempts": attempt + 1,
				"file":     result.Path,
			})
			return nil
		}
	}

	s.metrics.RecordJob(weatherJob, time.Since(start), err)
	s.logger.Error(ctx, "[WEATHER_JOB_FAILED] Weather fetch failed after retries", logging.Fields{
		"max_retries": s.maxRetries,
	}, err)
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
