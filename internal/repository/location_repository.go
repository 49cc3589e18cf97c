package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"vivarium/internal/models"
	"vivarium/pkg/database"
	"vivarium/pkg/logging"
)

// LocationRepository manages climate_location rows.
type LocationRepository interface {
	// Insert upserts by (latitude, longitude) and returns the location_id.
	Insert(ctx context.Context, loc *models.Location) (int64, error)
	Get(ctx context.Context, id int64) (*models.Location, error)
	GetByCoordinates(ctx context.Context, lat, lon float64) (*models.Location, error)
	Update(ctx context.Context, id int64, u models.LocationUpdate) (bool, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]*models.Location, error)
}

var locationColumns = []string{
	"name", "region", "country", "latitude", "longitude",
	"timezone_id", "localtime_epoch", `"localtime"`,
}

const locationSelect = `
	SELECT location_id, name, region, country, latitude, longitude,
	       timezone_id, localtime_epoch, "localtime"
	FROM climate_location
`

type locationRepository struct {
	base
	insertSQL string
}

func NewLocationRepository(db database.Executor, logger logging.Logger) LocationRepository {
	return &locationRepository{
		base:      base{db: db, logger: logger},
		insertSQL: upsertSQL("climate_location", locationColumns, []string{"latitude", "longitude"}, "location_id"),
	}
}

func (r *locationRepository) Insert(ctx context.Context, loc *models.Location) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, "insert_location", &id, r.insertSQL,
		loc.Name, loc.Region, loc.Country, loc.Latitude, loc.Longitude,
		loc.TimezoneID, loc.LocaltimeEpoch, loc.Localtime,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert location: %w", err)
	}
	loc.LocationID = id

	r.logger.Debug(ctx, "[REPO_INSERT_LOCATION] Location upserted", logging.Fields{
		"location_id": id,
		"latitude":    loc.Latitude,
		"longitude":   loc.Longitude,
	})
	return id, nil
}

func (r *locationRepository) Get(ctx context.Context, id int64) (*models.Location, error) {
	var loc models.Location
	err := r.db.GetContext(ctx, "get_location", &loc, locationSelect+" WHERE location_id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "location", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	return &loc, nil
}

func (r *locationRepository) GetByCoordinates(ctx context.Context, lat, lon float64) (*models.Location, error) {
	var loc models.Location
	err := r.db.GetContext(ctx, "get_location_by_coordinates", &loc,
		locationSelect+" WHERE latitude = $1 AND longitude = $2", lat, lon)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "location", ID: fmt.Sprintf("%.2f,%.2f", lat, lon)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location by coordinates: %w", err)
	}
	return &loc, nil
}

func (r *locationRepository) Update(ctx context.Context, id int64, u models.LocationUpdate) (bool, error) {
	return r.update(ctx, "update_location", "climate_location", "location", strconv.FormatInt(id, 10),
		u.Assignments(), []models.Assignment{{Column: "location_id", Value: id}})
}

func (r *locationRepository) Delete(ctx context.Context, id int64) error {
	return r.remove(ctx, "delete_location", "climate_location", "location", strconv.FormatInt(id, 10),
		[]models.Assignment{{Column: "location_id", Value: id}})
}

func (r *locationRepository) List(ctx context.Context) ([]*models.Location, error) {
	var locations []*models.Location
	err := r.db.SelectContext(ctx, "list_locations", &locations, locationSelect+" ORDER BY location_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return locations, nil
}
