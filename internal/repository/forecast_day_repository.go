package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vivarium/internal/models"
	"vivarium/pkg/database"
	"vivarium/pkg/logging"
)

// ForecastDayRepository manages climate_forecast_day rows.
type ForecastDayRepository interface {
	Insert(ctx context.Context, fd *models.ForecastDay) (int64, error)
	Get(ctx context.Context, locationID int64, date time.Time) (*models.ForecastDay, error)
	Update(ctx context.Context, locationID int64, date time.Time, u models.ForecastDayUpdate) (bool, error)
	Delete(ctx context.Context, locationID int64, date time.Time) error
	ListByLocation(ctx context.Context, locationID int64) ([]*models.ForecastDay, error)
}

var forecastDayColumns = []string{"location_id", "forecast_date", "forecast_date_epoch"}

type forecastDayRepository struct {
	base
	insertSQL string
}

func NewForecastDayRepository(db database.Executor, logger logging.Logger) ForecastDayRepository {
	return &forecastDayRepository{
		base:      base{db: db, logger: logger},
		insertSQL: upsertSQL("climate_forecast_day", forecastDayColumns, []string{"location_id", "forecast_date"}, "location_id"),
	}
}

func (r *forecastDayRepository) Insert(ctx context.Context, fd *models.ForecastDay) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, "insert_forecast_day", &id, r.insertSQL,
		fd.LocationID, fd.ForecastDate, fd.ForecastDateEpoch)
	if err != nil {
		return 0, fmt.Errorf("failed to insert forecast day: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_INSERT_FORECAST_DAY] Forecast day upserted", logging.Fields{
		"location_id":   id,
		"forecast_date": fd.ForecastDate.Format(models.DateLayout),
	})
	return id, nil
}

func (r *forecastDayRepository) Get(ctx context.Context, locationID int64, date time.Time) (*models.ForecastDay, error) {
	query := `
		SELECT location_id, forecast_date, forecast_date_epoch
		FROM climate_forecast_day
		WHERE location_id = $1 AND forecast_date = $2
	`
	var fd models.ForecastDay
	err := r.db.GetContext(ctx, "get_forecast_day", &fd, query, locationID, date)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "forecast day", ID: dayKey(locationID, date)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get forecast day: %w", err)
	}
	return &fd, nil
}

func (r *forecastDayRepository) Update(ctx context.Context, locationID int64, date time.Time, u models.ForecastDayUpdate) (bool, error) {
	return r.update(ctx, "update_forecast_day", "climate_forecast_day", "forecast day", dayKey(locationID, date),
		u.Assignments(), dateKeys(locationID, date))
}

func (r *forecastDayRepository) Delete(ctx context.Context, locationID int64, date time.Time) error {
	return r.remove(ctx, "delete_forecast_day", "climate_forecast_day", "forecast day", dayKey(locationID, date),
		dateKeys(locationID, date))
}

func (r *forecastDayRepository) ListByLocation(ctx context.Context, locationID int64) ([]*models.ForecastDay, error) {
	query := `
		SELECT location_id, forecast_date, forecast_date_epoch
		FROM climate_forecast_day
		WHERE location_id = $1
		ORDER BY forecast_date DESC
	`
	var days []*models.ForecastDay
	if err := r.db.SelectContext(ctx, "list_forecast_days", &days, query, locationID); err != nil {
		return nil, fmt.Errorf("failed to list forecast days: %w", err)
	}
	return days, nil
}

func dateKeys(locationID int64, date time.Time) []models.Assignment {
	return []models.Assignment{
		{Column: "location_id", Value: locationID},
		{Column: "forecast_date", Value: date},
	}
}
