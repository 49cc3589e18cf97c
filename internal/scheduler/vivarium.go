package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"vivarium/internal/models"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

const (
	lightRefreshJob = "light_refresh"
	sensorReadJob   = "sensor_read"
)

// SensorSampler takes and stores one sensor reading.
// *devices.SensorReader satisfies it.
type SensorSampler interface {
	ReadAndStore(ctx context.Context) (*models.SensorReading, error)
}

// VivariumScheduler owns the device jobs of the enclosure: the daily light
// window refresh, the light on/off jobs, the mister cycle, sensor sampling
// and the humidity check.
type VivariumScheduler struct {
	cron        *gocron.Scheduler
	ctx         context.Context
	light       Switch
	mister      Switch
	lights      *LightScheduler
	misting     *MisterScheduler
	humidity    *HumidifierScheduler
	sampler     SensorSampler
	sampleEvery time.Duration
	refreshAt   time.Duration
	logger      logging.Logger
	metrics     *metrics.Collector
}

// NewVivariumScheduler creates the scheduler. Light and mister schedules
// are attached with Attach before Start.
func NewVivariumScheduler(loc *time.Location, light, mister Switch, refreshAt time.Duration,
	logger logging.Logger, metricsCollector *metrics.Collector) *VivariumScheduler {
	if loc == nil {
		loc = time.Local
	}
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()
	return &VivariumScheduler{
		cron:      s,
		ctx:       context.Background(),
		light:     light,
		mister:    mister,
		refreshAt: refreshAt,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// Attach sets the light and mister schedules driven by this scheduler.
func (s *VivariumScheduler) Attach(lights *LightScheduler, misting *MisterScheduler) {
	s.lights = lights
	s.misting = misting
}

// AttachSensor samples the sensor every interval.
func (s *VivariumScheduler) AttachSensor(sampler SensorSampler, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	s.sampler = sampler
	s.sampleEvery = every
}

// AttachHumidifier adds the humidity driven humidifier control.
func (s *VivariumScheduler) AttachHumidifier(humidity *HumidifierScheduler) {
	s.humidity = humidity
}

// ScheduleDaily runs job every day at the offset at from midnight. A job
// already scheduled under tag is replaced.
func (s *VivariumScheduler) ScheduleDaily(tag string, at time.Duration, job func(ctx context.Context) error) error {
	// Missing tags are not an error here.
	_ = s.cron.RemoveByTag(tag)

	_, err := s.cron.Every(1).Day().At(clockString(at)).Tag(tag).Do(func() {
		s.run(tag, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", tag, err)
	}
	return nil
}

// ScheduleEvery runs job every interval, starting now. A job already
// scheduled under tag is replaced.
func (s *VivariumScheduler) ScheduleEvery(tag string, every time.Duration, job func(ctx context.Context) error) error {
	_ = s.cron.RemoveByTag(tag)

	_, err := s.cron.Every(every).Tag(tag).Do(func() {
		s.run(tag, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", tag, err)
	}
	return nil
}

// ScheduleOnce runs job a single time at at. A job already scheduled under
// tag is replaced.
func (s *VivariumScheduler) ScheduleOnce(tag string, at time.Time, job func(ctx context.Context) error) error {
	_ = s.cron.RemoveByTag(tag)

	_, err := s.cron.Every(1).Day().StartAt(at).LimitRunsTo(1).Tag(tag).Do(func() {
		s.run(tag, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", tag, err)
	}
	return nil
}

func (s *VivariumScheduler) run(tag string, job func(ctx context.Context) error) {
	ctx := logging.WithJob(logging.WithRunID(s.ctx, uuid.NewString()), tag)
	start := time.Now()
	err := job(ctx)
	s.metrics.RecordJob(tag, time.Since(start), err)
	if err != nil {
		s.logger.Error(ctx, "[VIVARIUM_JOB_ERROR] Scheduled job failed", logging.Fields{"job": tag}, err)
		return
	}
	s.logger.Info(ctx, "[VIVARIUM_JOB] Scheduled job finished", logging.Fields{
		"job":      tag,
		"duration": time.Since(start).String(),
	})
}

// Start switches the light, mister and humidifier off, applies the current
// light window, schedules every job and starts the scheduler in the
// background. ctx is handed to every job run.
func (s *VivariumScheduler) Start(ctx context.Context) error {
	s.ctx = ctx

	initial := []Switch{s.light, s.mister}
	if s.humidity != nil {
		initial = append(initial, s.humidity.Switch())
	}
	for _, d := range initial {
		if err := d.Toggle(ctx, false); err != nil {
			s.logger.Error(ctx, "[VIVARIUM_INIT_ERROR] Failed to set initial device state", logging.Fields{}, err)
		}
	}

	if s.lights != nil {
		if err := s.lights.Refresh(ctx); err != nil {
			return err
		}
		if err := s.ScheduleDaily(lightRefreshJob, s.refreshAt, s.lights.Refresh); err != nil {
			return err
		}
	}
	if s.misting != nil {
		if err := s.misting.Schedule(); err != nil {
			return err
		}
	}
	if s.sampler != nil {
		if err := s.ScheduleEvery(sensorReadJob, s.sampleEvery, func(ctx context.Context) error {
			_, err := s.sampler.ReadAndStore(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	if s.humidity != nil {
		if err := s.humidity.Schedule(); err != nil {
			return err
		}
	}

	s.cron.StartAsync()
	s.logger.Info(ctx, "[VIVARIUM_START] Vivarium scheduler started", logging.Fields{
		"jobs":       len(s.cron.Jobs()),
		"refresh_at": clockString(s.refreshAt),
	})
	return nil
}

// Stop stops the scheduler. Jobs already running are not interrupted.
func (s *VivariumScheduler) Stop() {
	s.cron.Stop()
	s.logger.Info(s.ctx, "[VIVARIUM_STOP] Vivarium scheduler stopped", logging.Fields{})
}

// Tags lists the tags of the scheduled jobs.
func (s *VivariumScheduler) Tags() []string {
	var tags []string
	for _, j := range s.cron.Jobs() {
		tags = append(tags, j.Tags()...)
	}
	return tags
}
