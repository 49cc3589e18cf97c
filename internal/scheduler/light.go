package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vivarium/internal/config"
	"vivarium/internal/models"
	"vivarium/internal/repository"
	"vivarium/pkg/logging"
)

const (
	lightsOnJob  = "lights_on_daily"
	lightsOffJob = "lights_off_daily"

	fallbackSunrise = 6 * time.Hour
	fallbackSunset  = 18 * time.Hour
	day             = 24 * time.Hour
)

// Where a light window came from.
const (
	SourceAstroYesterday = "astro_yesterday"
	SourceAstroLatest    = "astro_latest"
	SourceConfig         = "config"
	SourceFallback       = "fallback"
)

// Switch turns a relay device on or off. *devices.RelayController
// satisfies it.
type Switch interface {
	Toggle(ctx context.Context, on bool) error
}

// AstroSource reads stored sunrise and sunset times.
// repository.AstroRepository satisfies it.
type AstroSource interface {
	GetSunriseSunset(ctx context.Context, date time.Time) (*models.AstroData, error)
	GetLatestSunriseSunset(ctx context.Context) (*models.AstroData, error)
}

// DailyPlanner runs a job every day at a time of day. Scheduling a tag
// again replaces the previous job.
type DailyPlanner interface {
	ScheduleDaily(tag string, at time.Duration, job func(ctx context.Context) error) error
}

// LightWindow is the daily on period of the grow light as offsets from
// midnight. Off may be smaller than On when the period crosses midnight.
type LightWindow struct {
	On     time.Duration
	Off    time.Duration
	Source string
}

// Contains reports whether the time of day clock falls inside the window,
// bounds included.
func (w LightWindow) Contains(clock time.Duration) bool {
	if w.On <= w.Off {
		return clock >= w.On && clock <= w.Off
	}
	return clock >= w.On || clock <= w.Off
}

// ComputeLightWindow turns sunrise and sunset strings ("06:12 AM") into the
// light window. The light goes off lag after sunset.
func ComputeLightWindow(sunrise, sunset string, lag time.Duration) (LightWindow, error) {
	on, err := config.ParseClock(cleanClock(sunrise))
	if err != nil {
		return LightWindow{}, fmt.Errorf("invalid sunrise: %w", err)
	}
	off, err := config.ParseClock(cleanClock(sunset))
	if err != nil {
		return LightWindow{}, fmt.Errorf("invalid sunset: %w", err)
	}
	return LightWindow{On: on, Off: (off + lag) % day}, nil
}

// Stored times sometimes carry a tab separated suffix.
func cleanClock(s string) string {
	if i := strings.IndexByte(s, '\t'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// TimeOfDay returns the offset of t from its midnight.
func TimeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

// LightScheduler keeps the grow light on between sunrise and a while after
// sunset.
type LightScheduler struct {
	astro   AstroSource
	light   Switch
	planner DailyPlanner
	cfg     config.GrowlightConfig
	loc     *time.Location
	now     func() time.Time
	logger  logging.Logger
}

// NewLightScheduler creates the light schedule. loc must be the zone the
// planner fires jobs in; the current time of day is read there.
func NewLightScheduler(astro AstroSource, light Switch, planner DailyPlanner, cfg config.GrowlightConfig,
	loc *time.Location, logger logging.Logger) *LightScheduler {
	if cfg.SunsetLag == 0 {
		cfg.SunsetLag = 2 * time.Hour
	}
	if loc == nil {
		loc = time.Local
	}
	return &LightScheduler{
		astro:   astro,
		light:   light,
		planner: planner,
		cfg:     cfg,
		loc:     loc,
		now:     time.Now,
		logger:  logger,
	}
}

// localNow is the current time in the scheduler zone.
func (s *LightScheduler) localNow() time.Time {
	return s.now().In(s.loc)
}

// Window resolves today's light window. Astro data for yesterday is
// preferred, then the newest stored record, then the configured on/off
// times, then 06:00 to 18:00.
func (s *LightScheduler) Window(ctx context.Context) LightWindow {
	yesterday := s.localNow().AddDate(0, 0, -1)
	date := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, time.UTC)

	astro, err := s.astro.GetSunriseSunset(ctx, date)
	source := SourceAstroYesterday
	if err != nil {
		s.logAstroMiss(ctx, "[LIGHT_ASTRO_MISSING] No astro data for yesterday, trying latest record", date, err)
		astro, err = s.astro.GetLatestSunriseSunset(ctx)
		source = SourceAstroLatest
	}
	if err == nil && astro.Sunrise != nil && astro.Sunset != nil {
		w, err := ComputeLightWindow(*astro.Sunrise, *astro.Sunset, s.cfg.SunsetLag)
		if err == nil {
			w.Source = source
			return w
		}
		s.logger.Warn(ctx, "[LIGHT_ASTRO_INVALID] Stored sunrise/sunset unusable", logging.Fields{
			"sunrise": *astro.Sunrise,
			"sunset":  *astro.Sunset,
			"error":   err.Error(),
		})
	} else if err != nil {
		s.logAstroMiss(ctx, "[LIGHT_ASTRO_MISSING] No astro data stored, using configured times", date, err)
	}

	w, err := ComputeLightWindow(s.cfg.On, s.cfg.Off, s.cfg.SunsetLag)
	if err == nil {
		w.Source = SourceConfig
		return w
	}
	s.logger.Error(ctx, "[LIGHT_CONFIG_INVALID] Configured light times unusable, using fallback", logging.Fields{
		"on":  s.cfg.On,
		"off": s.cfg.Off,
	}, err)
	return LightWindow{On: fallbackSunrise, Off: (fallbackSunset + s.cfg.SunsetLag) % day, Source: SourceFallback}
}

func (s *LightScheduler) logAstroMiss(ctx context.Context, msg string, date time.Time, err error) {
	fields := logging.Fields{"date": date.Format(models.DateLayout)}
	if repository.IsNotFound(err) {
		s.logger.Warn(ctx, msg, fields)
		return
	}
	s.logger.Error(ctx, msg, fields, err)
}

// Refresh recomputes the window, puts the light in the state the current
// time calls for and (re)schedules the daily on and off jobs.
func (s *LightScheduler) Refresh(ctx context.Context) error {
	w := s.Window(ctx)
	on := w.Contains(TimeOfDay(s.localNow()))

	s.logger.Info(ctx, "[LIGHT_SCHEDULE] Light window resolved", logging.Fields{
		"on":     clockString(w.On),
		"off":    clockString(w.Off),
		"source": w.Source,
		"is_on":  on,
	})

	if err := s.light.Toggle(ctx, on); err != nil {
		s.logger.Error(ctx, "[LIGHT_TOGGLE_ERROR] Failed to apply light state", logging.Fields{"is_on": on}, err)
	}

	if err := s.planner.ScheduleDaily(lightsOnJob, w.On, func(ctx context.Context) error {
		return s.light.Toggle(ctx, true)
	}); err != nil {
		return fmt.Errorf("failed to schedule lights on: %w", err)
	}
	if err := s.planner.ScheduleDaily(lightsOffJob, w.Off, func(ctx context.Context) error {
		return s.light.Toggle(ctx, false)
	}); err != nil {
		return fmt.Errorf("failed to schedule lights off: %w", err)
	}
	return nil
}

// clockString formats an offset from midnight as HH:MM:SS.
func clockString(d time.Duration) string {
	d %= day
	return fmt.Sprintf("%02d:%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second))
}
