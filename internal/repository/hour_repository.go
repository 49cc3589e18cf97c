package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"vivarium/internal/models"
	"vivarium/pkg/database"
	"vivarium/pkg/logging"
)

// HourRepository manages climate_hour_data rows.
type HourRepository interface {
	Insert(ctx context.Context, h *models.HourData) error
	Get(ctx context.Context, locationID int64, date time.Time, timeEpoch int64) (*models.HourData, error)
	Update(ctx context.Context, locationID int64, date time.Time, timeEpoch int64, u models.HourDataUpdate) (bool, error)
	Delete(ctx context.Context, locationID int64, date time.Time, timeEpoch int64) error
	ListByForecastDay(ctx context.Context, locationID int64, date time.Time) ([]*models.HourData, error)
	TimeEpochs(ctx context.Context, locationID int64, date time.Time) ([]int64, error)
}

var hourColumns = []string{
	"location_id", "forecast_date", "time_epoch", "time",
	"temp_c", "temp_f", "is_day", "condition_code",
	"wind_mph", "wind_kph", "wind_degree", "wind_dir",
	"pressure_mb", "pressure_in", "precip_mm", "precip_in", "snow_cm",
	"humidity", "cloud", "feelslike_c", "feelslike_f",
	"windchill_c", "windchill_f", "heatindex_c", "heatindex_f", "dewpoint_c", "dewpoint_f",
	"will_it_rain", "chance_of_rain", "will_it_snow", "chance_of_snow",
	"vis_km", "vis_miles", "gust_mph", "gust_kph", "uv",
}

type hourRepository struct {
	base
	insertSQL string
	selectSQL string
}

func NewHourRepository(db database.Executor, logger logging.Logger) HourRepository {
	return &hourRepository{
		base:      base{db: db, logger: logger},
		insertSQL: upsertSQL("climate_hour_data", hourColumns, []string{"location_id", "forecast_date", "time_epoch"}, ""),
		selectSQL: "SELECT " + strings.Join(hourColumns, ", ") + " FROM climate_hour_data",
	}
}

func (r *hourRepository) Insert(ctx context.Context, h *models.HourData) error {
	_, err := r.db.ExecContext(ctx, "insert_hour_data", r.insertSQL,
		h.LocationID, h.ForecastDate, h.TimeEpoch, h.Time,
		h.TempC, h.TempF, h.IsDay, h.ConditionCode,
		h.WindMph, h.WindKph, h.WindDegree, h.WindDir,
		h.PressureMb, h.PressureIn, h.PrecipMm, h.PrecipIn, h.SnowCm,
		h.Humidity, h.Cloud, h.FeelslikeC, h.FeelslikeF,
		h.WindchillC, h.WindchillF, h.HeatindexC, h.HeatindexF, h.DewpointC, h.DewpointF,
		h.WillItRain, h.ChanceOfRain, h.WillItSnow, h.ChanceOfSnow,
		h.VisKm, h.VisMiles, h.GustMph, h.GustKph, h.UV,
	)
	if err != nil {
		return fmt.Errorf("failed to insert hour data: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_INSERT_HOUR] Hour data upserted", logging.Fields{
		"location_id": h.LocationID,
		"time_epoch":  h.TimeEpoch,
	})
	return nil
}

func (r *hourRepository) Get(ctx context.Context, locationID int64, date time.Time, timeEpoch int64) (*models.HourData, error) {
	var h models.HourData
	err := r.db.GetContext(ctx, "get_hour_data", &h,
		r.selectSQL+" WHERE location_id = $1 AND forecast_date = $2 AND time_epoch = $3",
		locationID, date, timeEpoch)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "hour data", ID: hourKey(locationID, date, timeEpoch)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hour data: %w", err)
	}
	return &h, nil
}

func (r *hourRepository) Update(ctx context.Context, locationID int64, date time.Time, timeEpoch int64, u models.HourDataUpdate) (bool, error) {
	return r.update(ctx, "update_hour_data", "climate_hour_data", "hour data", hourKey(locationID, date, timeEpoch),
		u.Assignments(), hourKeys(locationID, date, timeEpoch))
}

func (r *hourRepository) Delete(ctx context.Context, locationID int64, date time.Time, timeEpoch int64) error {
	return r.remove(ctx, "delete_hour_data", "climate_hour_data", "hour data", hourKey(locationID, date, timeEpoch),
		hourKeys(locationID, date, timeEpoch))
}

func (r *hourRepository) ListByForecastDay(ctx context.Context, locationID int64, date time.Time) ([]*models.HourData, error) {
	var hours []*models.HourData
	err := r.db.SelectContext(ctx, "list_hour_data", &hours,
		r.selectSQL+" WHERE location_id = $1 AND forecast_date = $2 ORDER BY time_epoch",
		locationID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list hour data: %w", err)
	}
	return hours, nil
}

func (r *hourRepository) TimeEpochs(ctx context.Context, locationID int64, date time.Time) ([]int64, error) {
	query := `
		SELECT time_epoch FROM climate_hour_data
		WHERE location_id = $1 AND forecast_date = $2
		ORDER BY time_epoch
	`
	var epochs []int64
	if err := r.db.SelectContext(ctx, "list_hour_epochs", &epochs, query, locationID, date); err != nil {
		return nil, fmt.Errorf("failed to list hour epochs: %w", err)
	}
	return epochs, nil
}

func hourKey(locationID int64, date time.Time, timeEpoch int64) string {
	return fmt.Sprintf("%s/%d", dayKey(locationID, date), timeEpoch)
}

func hourKeys(locationID int64, date time.Time, timeEpoch int64) []models.Assignment {
	return append(dateKeys(locationID, date), models.Assignment{Column: "time_epoch", Value: timeEpoch})
}
