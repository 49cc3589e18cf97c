package services

import (
	"context"
	"time"

	"vivarium/internal/models"
	"vivarium/internal/repository"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

// WeatherService is the read side of the climate and device tables.
type WeatherService struct {
	store   *repository.Store
	logger  logging.Logger
	metrics *metrics.Collector
}

// ForecastDetail is one forecast day with its children. Day and Astro are
// nil when the payload carried none.
type ForecastDetail struct {
	Location *models.Location    `json:"location"`
	Date     string              `json:"date"`
	Epoch    *int64              `json:"forecast_date_epoch,omitempty"`
	Day      *models.DayData     `json:"day,omitempty"`
	Astro    *models.AstroData   `json:"astro,omitempty"`
	Hours    []*models.HourData  `json:"hours"`
	Codes    []*models.Condition `json:"conditions,omitempty"`
}

// DeviceState is a device with its most recent status, if any.
type DeviceState struct {
	Device *models.Device       `json:"device"`
	Latest *models.DeviceStatus `json:"latest,omitempty"`
}

// NewWeatherService creates a new weather service
func NewWeatherService(store *repository.Store, logger logging.Logger, metricsCollector *metrics.Collector) *WeatherService {
	return &WeatherService{
		store:   store,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListLocations returns every known location.
func (s *WeatherService) ListLocations(ctx context.Context) ([]*models.Location, error) {
	return s.store.Locations.List(ctx)
}

// ListForecastDays returns the dates stored for a location, newest first.
func (s *WeatherService) ListForecastDays(ctx context.Context, locationID int64) ([]*models.ForecastDay, error) {
	if _, err := s.store.Locations.Get(ctx, locationID); err != nil {
		return nil, err
	}
	return s.store.ForecastDays.ListByLocation(ctx, locationID)
}

// GetForecast assembles a forecast day with its day, astro and hour rows
// and the conditions they reference.
func (s *WeatherService) GetForecast(ctx context.Context, locationID int64, date time.Time) (*ForecastDetail, error) {
	loc, err := s.store.Locations.Get(ctx, locationID)
	if err != nil {
		return nil, err
	}
	fd, err := s.store.ForecastDays.Get(ctx, locationID, date)
	if err != nil {
		return nil, err
	}

	detail := &ForecastDetail{
		Location: loc,
		Date:     date.Format(models.DateLayout),
		Epoch:    fd.ForecastDateEpoch,
	}

	if detail.Day, err = optional(s.store.Days.Get(ctx, locationID, date)); err != nil {
		return nil, err
	}
	if detail.Astro, err = optional(s.store.Astro.Get(ctx, locationID, date)); err != nil {
		return nil, err
	}
	if detail.Hours, err = s.store.Hours.ListByForecastDay(ctx, locationID, date); err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	codes := make([]int64, 0, len(detail.Hours)+1)
	if detail.Day != nil && detail.Day.ConditionCode != nil {
		codes = append(codes, *detail.Day.ConditionCode)
	}
	for _, h := range detail.Hours {
		if h.ConditionCode != nil {
			codes = append(codes, *h.ConditionCode)
		}
	}
	for _, code := range codes {
		if seen[code] {
			continue
		}
		seen[code] = true
		c, err := optional(s.store.Conditions.Get(ctx, code))
		if err != nil {
			return nil, err
		}
		if c != nil {
			detail.Codes = append(detail.Codes, c)
		}
	}

	s.logger.Debug(ctx, "[WEATHER_FORECAST] Forecast assembled", logging.Fields{
		"location_id": locationID,
		"date":        detail.Date,
		"hours":       len(detail.Hours),
	})
	return detail, nil
}

// ListDevices returns every registered device.
func (s *WeatherService) ListDevices(ctx context.Context) ([]*models.Device, error) {
	return s.store.Devices.List(ctx)
}

// GetDeviceState returns a device by name and its latest status. A device
// that never reported has a nil Latest.
func (s *WeatherService) GetDeviceState(ctx context.Context, name string) (*DeviceState, error) {
	d, err := s.store.Devices.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	latest, err := optional(s.store.DeviceStatus.GetLatest(ctx, d.DeviceID))
	if err != nil {
		return nil, err
	}
	return &DeviceState{Device: d, Latest: latest}, nil
}

// GetDeviceHistory returns up to limit status rows of a device, newest
// first.
func (s *WeatherService) GetDeviceHistory(ctx context.Context, name string, limit int) ([]*models.DeviceStatus, error) {
	d, err := s.store.Devices.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.store.DeviceStatus.ListByDevice(ctx, d.DeviceID, limit)
}

// optional turns a not-found error into a nil value.
func optional[T any](v *T, err error) (*T, error) {
	if repository.IsNotFound(err) {
		return nil, nil
	}
	return v, err
}
