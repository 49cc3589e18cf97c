package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"vivarium/internal/config"
	"vivarium/internal/models"
	"vivarium/pkg/logging"
)

const (
	humidifierCheckJob = "humidifier_check"
	humidifierOffJob   = "humidifier_off"
)

// StatefulSwitch is a Switch whose last recorded state can be read.
// *devices.RelayController satisfies it.
type StatefulSwitch interface {
	Switch
	IsOn(ctx context.Context) (bool, error)
}

// ReadingSource returns the newest stored sensor reading, or nil when there
// is none. *devices.SensorReader satisfies it.
type ReadingSource interface {
	Latest(ctx context.Context) (*models.SensorReading, error)
}

// IntervalPlanner runs jobs on a fixed interval or once at a given time.
// Scheduling a tag again replaces the previous job.
type IntervalPlanner interface {
	ScheduleEvery(tag string, every time.Duration, job func(ctx context.Context) error) error
	ScheduleOnce(tag string, at time.Time, job func(ctx context.Context) error) error
}

// HumidifierScheduler keeps humidity above target minus hysteresis. A low
// reading starts a fixed-length run with the fans at max; the run ends on
// its own schedule and later checks leave it alone until then.
type HumidifierScheduler struct {
	humidifier StatefulSwitch
	aeration   Aeration
	readings   ReadingSource
	planner    IntervalPlanner
	cfg        config.HumidifierConfig
	now        func() time.Time
	logger     logging.Logger

	mu    sync.Mutex
	offAt time.Time
}

func NewHumidifierScheduler(humidifier StatefulSwitch, aeration Aeration, readings ReadingSource,
	planner IntervalPlanner, cfg config.HumidifierConfig, logger logging.Logger) *HumidifierScheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	return &HumidifierScheduler{
		humidifier: humidifier,
		aeration:   aeration,
		readings:   readings,
		planner:    planner,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// Schedule registers the periodic humidity check.
func (s *HumidifierScheduler) Schedule() error {
	if err := s.planner.ScheduleEvery(humidifierCheckJob, s.cfg.CheckInterval, s.Check); err != nil {
		return fmt.Errorf("failed to schedule humidifier check: %w", err)
	}
	s.logger.Info(context.Background(), "[HUMIDIFIER_SCHEDULE] Humidity check scheduled", logging.Fields{
		"every":      s.cfg.CheckInterval.String(),
		"target":     s.cfg.TargetHumidity,
		"hysteresis": s.cfg.Hysteresis,
		"runtime":    s.cfg.Runtime().String(),
	})
	return nil
}

// Switch returns the controlled humidifier.
func (s *HumidifierScheduler) Switch() Switch {
	return s.humidifier
}

// Check compares the latest humidity with the threshold and starts or
// stops the humidifier. A missing reading is logged and skipped.
func (s *HumidifierScheduler) Check(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.offAt.IsZero() {
		if now.Before(s.offAt) {
			s.logger.Info(ctx, "[HUMIDIFIER_RUNNING] Fixed run in progress, skipping check", logging.Fields{
				"off_at": s.offAt.Format(time.RFC3339),
			})
			return nil
		}
		s.offAt = time.Time{}
	}

	humidity, ok, err := s.latestHumidity(ctx)
	if err != nil || !ok {
		return err
	}

	on, err := s.humidifier.IsOn(ctx)
	if err != nil {
		return err
	}

	threshold := s.cfg.TargetHumidity - s.cfg.Hysteresis
	fields := logging.Fields{
		"humidity":  humidity,
		"threshold": threshold,
		"is_on":     on,
	}
	if humidity < threshold {
		if on {
			s.logger.Info(ctx, "[HUMIDIFIER_NOOP] Humidity low, humidifier already running", fields)
			return nil
		}
		s.logger.Info(ctx, "[HUMIDIFIER_START] Humidity below target, starting humidifier", fields)
		return s.start(ctx, now)
	}

	if on {
		s.logger.Info(ctx, "[HUMIDIFIER_STOP] Humidity at target, stopping humidifier", fields)
		return s.stop(ctx)
	}
	s.logger.Debug(ctx, "[HUMIDIFIER_OK] Humidity at target", fields)
	return nil
}

func (s *HumidifierScheduler) latestHumidity(ctx context.Context) (float64, bool, error) {
	reading, err := s.readings.Latest(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get latest reading: %w", err)
	}
	if reading == nil {
		s.logger.Warn(ctx, "[HUMIDIFIER_NO_READING] No sensor reading stored, check skipped", logging.Fields{})
		return 0, false, nil
	}

	var raw struct {
		Humidity *float64 `json:"humidity_percentage"`
	}
	if err := reading.RawData.Decode(&raw); err != nil || raw.Humidity == nil {
		s.logger.Warn(ctx, "[HUMIDIFIER_NO_READING] Reading has no humidity, check skipped", logging.Fields{
			"reading_id": reading.ReadingID,
		})
		return 0, false, nil
	}
	return *raw.Humidity, true, nil
}

// start turns the humidifier on and raises aeration, then plans the end of
// the run. If the end cannot be planned the humidifier is stopped again.
func (s *HumidifierScheduler) start(ctx context.Context, now time.Time) error {
	if err := s.humidifier.Toggle(ctx, true); err != nil {
		return fmt.Errorf("humidifier on: %w", err)
	}

	var result *multierror.Error
	if err := s.aeration.SetMaxSpeed(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("aeration max: %w", err))
	}

	offAt := now.Add(s.cfg.Runtime())
	if err := s.planner.ScheduleOnce(humidifierOffJob, offAt, s.finish); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to schedule humidifier off: %w", err))
		if stopErr := s.stop(context.WithoutCancel(ctx)); stopErr != nil {
			result = multierror.Append(result, stopErr)
		}
		return result.ErrorOrNil()
	}
	s.offAt = offAt

	s.logger.Info(ctx, "[HUMIDIFIER_RUN] Humidifier run scheduled to end", logging.Fields{
		"off_at": offAt.Format(time.RFC3339),
	})
	return result.ErrorOrNil()
}

// finish ends a fixed run.
func (s *HumidifierScheduler) finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offAt = time.Time{}
	return s.stop(ctx)
}

func (s *HumidifierScheduler) stop(ctx context.Context) error {
	var result *multierror.Error
	if err := s.humidifier.Toggle(ctx, false); err != nil {
		result = multierror.Append(result, fmt.Errorf("humidifier off: %w", err))
	}
	if err := s.aeration.SetDefaultSpeed(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("aeration default: %w", err))
	}
	return result.ErrorOrNil()
}
