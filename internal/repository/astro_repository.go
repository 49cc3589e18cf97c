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

// AstroRepository manages climate_astro_data rows.
type AstroRepository interface {
	Insert(ctx context.Context, a *models.AstroData) error
	Get(ctx context.Context, locationID int64, date time.Time) (*models.AstroData, error)
	Update(ctx context.Context, locationID int64, date time.Time, u models.AstroDataUpdate) (bool, error)
	Delete(ctx context.Context, locationID int64, date time.Time) error

	// GetSunriseSunset returns the astro row recorded for date at any
	// location, lowest location_id first.
	GetSunriseSunset(ctx context.Context, date time.Time) (*models.AstroData, error)
	// GetLatestSunriseSunset returns the most recent astro row that has both
	// sunrise and sunset.
	GetLatestSunriseSunset(ctx context.Context) (*models.AstroData, error)
}

var astroColumns = []string{
	"location_id", "forecast_date",
	"sunrise", "sunset", "moonrise", "moonset", "moon_phase", "moon_illumination",
}

const astroSelect = `
	SELECT location_id, forecast_date, sunrise, sunset, moonrise, moonset,
	       moon_phase, moon_illumination
	FROM climate_astro_data
`

type astroRepository struct {
	base
	insertSQL string
}

func NewAstroRepository(db database.Executor, logger logging.Logger) AstroRepository {
	return &astroRepository{
		base:      base{db: db, logger: logger},
		insertSQL: upsertSQL("climate_astro_data", astroColumns, []string{"location_id", "forecast_date"}, ""),
	}
}

func (r *astroRepository) Insert(ctx context.Context, a *models.AstroData) error {
	_, err := r.db.ExecContext(ctx, "insert_astro_data", r.insertSQL,
		a.LocationID, a.ForecastDate,
		a.Sunrise, a.Sunset, a.Moonrise, a.Moonset, a.MoonPhase, a.MoonIllumination,
	)
	if err != nil {
		return fmt.Errorf("failed to insert astro data: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_INSERT_ASTRO] Astro data upserted", logging.Fields{
		"location_id":   a.LocationID,
		"forecast_date": a.ForecastDate.Format(models.DateLayout),
	})
	return nil
}

func (r *astroRepository) Get(ctx context.Context, locationID int64, date time.Time) (*models.AstroData, error) {
	var a models.AstroData
	err := r.db.GetContext(ctx, "get_astro_data", &a,
		astroSelect+" WHERE location_id = $1 AND forecast_date = $2", locationID, date)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "astro data", ID: dayKey(locationID, date)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get astro data: %w", err)
	}
	return &a, nil
}

func (r *astroRepository) Update(ctx context.Context, locationID int64, date time.Time, u models.AstroDataUpdate) (bool, error) {
	return r.update(ctx, "update_astro_data", "climate_astro_data", "astro data", dayKey(locationID, date),
		u.Assignments(), dateKeys(locationID, date))
}

func (r *astroRepository) Delete(ctx context.Context, locationID int64, date time.Time) error {
	return r.remove(ctx, "delete_astro_data", "climate_astro_data", "astro data", dayKey(locationID, date),
		dateKeys(locationID, date))
}

func (r *astroRepository) GetSunriseSunset(ctx context.Context, date time.Time) (*models.AstroData, error) {
	query := astroSelect + `
		WHERE forecast_date = $1 AND sunrise IS NOT NULL AND sunset IS NOT NULL
		ORDER BY location_id
		LIMIT 1
	`
	var a models.AstroData
	err := r.db.GetContext(ctx, "get_sunrise_sunset", &a, query, date)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "astro data", ID: date.Format(models.DateLayout)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sunrise and sunset: %w", err)
	}
	return &a, nil
}

func (r *astroRepository) GetLatestSunriseSunset(ctx context.Context) (*models.AstroData, error) {
	query := astroSelect + `
		WHERE sunrise IS NOT NULL AND sunset IS NOT NULL
		ORDER BY forecast_date DESC, location_id
		LIMIT 1
	`
	var a models.AstroData
	err := r.db.GetContext(ctx, "get_latest_sunrise_sunset", &a, query)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "astro data", ID: "latest"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest sunrise and sunset: %w", err)
	}
	return &a, nil
}
