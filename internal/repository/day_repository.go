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

// DayRepository manages climate_day_data rows.
type DayRepository interface {
	Insert(ctx context.Context, d *models.DayData) error
	Get(ctx context.Context, locationID int64, date time.Time) (*models.DayData, error)
	Update(ctx context.Context, locationID int64, date time.Time, u models.DayDataUpdate) (bool, error)
	Delete(ctx context.Context, locationID int64, date time.Time) error
	// Summarize aggregates day rows with from <= forecast_date <= to.
	Summarize(ctx context.Context, locationID int64, from, to time.Time) (*models.ClimateSummary, error)
}

var dayColumns = []string{
	"location_id", "forecast_date",
	"maxtemp_c", "maxtemp_f", "mintemp_c", "mintemp_f", "avgtemp_c", "avgtemp_f",
	"maxwind_mph", "maxwind_kph", "totalprecip_mm", "totalprecip_in", "totalsnow_cm",
	"avgvis_km", "avgvis_miles", "avghumidity",
	"daily_will_it_rain", "daily_chance_of_rain", "daily_will_it_snow", "daily_chance_of_snow",
	"condition_code", "uv",
}

type dayRepository struct {
	base
	insertSQL string
	getSQL    string
}

func NewDayRepository(db database.Executor, logger logging.Logger) DayRepository {
	return &dayRepository{
		base:      base{db: db, logger: logger},
		insertSQL: upsertSQL("climate_day_data", dayColumns, []string{"location_id", "forecast_date"}, ""),
		getSQL: "SELECT " + strings.Join(dayColumns, ", ") +
			" FROM climate_day_data WHERE location_id = $1 AND forecast_date = $2",
	}
}

func (r *dayRepository) Insert(ctx context.Context, d *models.DayData) error {
	_, err := r.db.ExecContext(ctx, "insert_day_data", r.insertSQL,
		d.LocationID, d.ForecastDate,
		d.MaxTempC, d.MaxTempF, d.MinTempC, d.MinTempF, d.AvgTempC, d.AvgTempF,
		d.MaxWindMph, d.MaxWindKph, d.TotalPrecipMm, d.TotalPrecipIn, d.TotalSnowCm,
		d.AvgVisKm, d.AvgVisMiles, d.AvgHumidity,
		d.DailyWillItRain, d.DailyChanceOfRain, d.DailyWillItSnow, d.DailyChanceOfSnow,
		d.ConditionCode, d.UV,
	)
	if err != nil {
		return fmt.Errorf("failed to insert day data: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_INSERT_DAY] Day data upserted", logging.Fields{
		"location_id":   d.LocationID,
		"forecast_date": d.ForecastDate.Format(models.DateLayout),
	})
	return nil
}

func (r *dayRepository) Get(ctx context.Context, locationID int64, date time.Time) (*models.DayData, error) {
	var d models.DayData
	err := r.db.GetContext(ctx, "get_day_data", &d, r.getSQL, locationID, date)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "day data", ID: dayKey(locationID, date)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get day data: %w", err)
	}
	return &d, nil
}

func (r *dayRepository) Update(ctx context.Context, locationID int64, date time.Time, u models.DayDataUpdate) (bool, error) {
	return r.update(ctx, "update_day_data", "climate_day_data", "day data", dayKey(locationID, date),
		u.Assignments(), dateKeys(locationID, date))
}

func (r *dayRepository) Delete(ctx context.Context, locationID int64, date time.Time) error {
	return r.remove(ctx, "delete_day_data", "climate_day_data", "day data", dayKey(locationID, date),
		dateKeys(locationID, date))
}

func (r *dayRepository) Summarize(ctx context.Context, locationID int64, from, to time.Time) (*models.ClimateSummary, error) {
	timer := time.Now()
	defer func() {
		r.logger.Debug(ctx, "[REPO_SUMMARIZE_DAYS] Day data summarized", logging.Fields{
			"location_id": locationID,
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}()

	query := `
		SELECT
			COUNT(*) AS days,
			AVG(maxtemp_c) AS avg_maxtemp_c,
			AVG(mintemp_c) AS avg_mintemp_c,
			AVG(avghumidity) AS avg_humidity,
			SUM(totalprecip_mm) AS total_precip_mm,
			MAX(uv) AS max_uv
		FROM climate_day_data
		WHERE location_id = $1
		  AND forecast_date BETWEEN $2 AND $3
	`

	var summary models.ClimateSummary
	if err := r.db.GetContext(ctx, "summarize_day_data", &summary, query, locationID, from, to); err != nil {
		return nil, fmt.Errorf("failed to summarize day data: %w", err)
	}
	summary.LocationID = locationID
	summary.From = from
	summary.To = to
	return &summary, nil
}
