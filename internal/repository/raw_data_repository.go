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

// RawClimateDataRepository stores verbatim API responses by date.
type RawClimateDataRepository interface {
	Insert(ctx context.Context, raw *models.RawClimateData) (time.Time, error)
	Get(ctx context.Context, date time.Time) (*models.RawClimateData, error)
	Update(ctx context.Context, date time.Time, u models.RawClimateDataUpdate) (bool, error)
	Delete(ctx context.Context, date time.Time) error
}

type rawClimateDataRepository struct {
	base
	insertSQL string
}

func NewRawClimateDataRepository(db database.Executor, logger logging.Logger) RawClimateDataRepository {
	return &rawClimateDataRepository{
		base:      base{db: db, logger: logger},
		insertSQL: upsertSQL("raw_climate_data", []string{"weather_date", "raw_data"}, []string{"weather_date"}, "weather_date"),
	}
}

func (r *rawClimateDataRepository) Insert(ctx context.Context, raw *models.RawClimateData) (time.Time, error) {
	var date time.Time
	err := r.db.GetContext(ctx, "insert_raw_data", &date, r.insertSQL, raw.WeatherDate, raw.RawData)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to insert raw climate data: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_INSERT_RAW] Raw climate data upserted", logging.Fields{
		"weather_date": raw.WeatherDate.Format(models.DateLayout),
		"bytes":        len(raw.RawData),
	})
	return date, nil
}

func (r *rawClimateDataRepository) Get(ctx context.Context, date time.Time) (*models.RawClimateData, error) {
	query := `SELECT weather_date, raw_data FROM raw_climate_data WHERE weather_date = $1`

	var raw models.RawClimateData
	err := r.db.GetContext(ctx, "get_raw_data", &raw, query, date)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "raw climate data", ID: date.Format(models.DateLayout)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw climate data: %w", err)
	}
	return &raw, nil
}

func (r *rawClimateDataRepository) Update(ctx context.Context, date time.Time, u models.RawClimateDataUpdate) (bool, error) {
	return r.update(ctx, "update_raw_data", "raw_climate_data", "raw climate data", date.Format(models.DateLayout),
		u.Assignments(), []models.Assignment{{Column: "weather_date", Value: date}})
}

func (r *rawClimateDataRepository) Delete(ctx context.Context, date time.Time) error {
	return r.remove(ctx, "delete_raw_data", "raw_climate_data", "raw climate data", date.Format(models.DateLayout),
		[]models.Assignment{{Column: "weather_date", Value: date}})
}
