package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"vivarium/internal/models"
	"vivarium/pkg/database"
	"vivarium/pkg/logging"
)

// SensorRepository manages the sensors registry.
type SensorRepository interface {
	// Insert registers a sensor by name, refreshing type and location when
	// it already exists.
	Insert(ctx context.Context, s *models.Sensor) (int64, error)
	GetByName(ctx context.Context, name string) (*models.Sensor, error)
}

// SensorReadingRepository appends and reads sensor_readings rows.
type SensorReadingRepository interface {
	Insert(ctx context.Context, r *models.SensorReading) (int64, error)
	GetLatest(ctx context.Context, sensorID int64) (*models.SensorReading, error)
	ListBySensor(ctx context.Context, sensorID int64, limit int) ([]*models.SensorReading, error)
	ListByTimeRange(ctx context.Context, from, to time.Time) ([]*models.SensorReading, error)
}

const sensorReadingSelect = `
	SELECT reading_id, sensor_id, "timestamp", raw_data
	FROM sensor_readings
`

type sensorRepository struct {
	base
	insertSQL string
}

func NewSensorRepository(db database.Executor, logger logging.Logger) SensorRepository {
	columns := []string{"sensor_name", "sensor_type", "location"}
	return &sensorRepository{
		base:      base{db: db, logger: logger},
		insertSQL: upsertSQL("sensors", columns, []string{"sensor_name"}, "sensor_id"),
	}
}

func (r *sensorRepository) Insert(ctx context.Context, s *models.Sensor) (int64, error) {
	var id int64
	if err := r.db.GetContext(ctx, "insert_sensor", &id, r.insertSQL, s.SensorName, s.SensorType, s.Location); err != nil {
		return 0, fmt.Errorf("failed to insert sensor: %w", err)
	}
	s.SensorID = id
	return id, nil
}

func (r *sensorRepository) GetByName(ctx context.Context, name string) (*models.Sensor, error) {
	query := `
		SELECT sensor_id, sensor_name, sensor_type, location, date_added
		FROM sensors
		WHERE sensor_name = $1
	`
	var s models.Sensor
	err := r.db.GetContext(ctx, "get_sensor_by_name", &s, query, name)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "sensor", ID: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor: %w", err)
	}
	return &s, nil
}

type sensorReadingRepository struct {
	base
}

func NewSensorReadingRepository(db database.Executor, logger logging.Logger) SensorReadingRepository {
	return &sensorReadingRepository{base: base{db: db, logger: logger}}
}

// Insert appends a reading. A zero Timestamp lets the database default to
// now(); the stored value is written back into rd.
func (r *sensorReadingRepository) Insert(ctx context.Context, rd *models.SensorReading) (int64, error) {
	query := `
		INSERT INTO sensor_readings (sensor_id, "timestamp", raw_data)
		VALUES ($1, COALESCE($2, now()), $3)
		RETURNING reading_id, "timestamp"
	`
	var ts *time.Time
	if !rd.Timestamp.IsZero() {
		ts = &rd.Timestamp
	}
	var row struct {
		ReadingID int64     `db:"reading_id"`
		Timestamp time.Time `db:"timestamp"`
	}
	if err := r.db.GetContext(ctx, "insert_sensor_reading", &row, query, rd.SensorID, ts, rd.RawData); err != nil {
		return 0, fmt.Errorf("failed to insert sensor reading: %w", err)
	}
	rd.ReadingID = row.ReadingID
	rd.Timestamp = row.Timestamp

	r.logger.Debug(ctx, "[REPO_INSERT_READING] Sensor reading recorded", logging.Fields{
		"sensor_id":  rd.SensorID,
		"reading_id": row.ReadingID,
	})
	return row.ReadingID, nil
}

func (r *sensorReadingRepository) GetLatest(ctx context.Context, sensorID int64) (*models.SensorReading, error) {
	query := sensorReadingSelect + `
		WHERE sensor_id = $1
		ORDER BY "timestamp" DESC, reading_id DESC
		LIMIT 1
	`
	var rd models.SensorReading
	err := r.db.GetContext(ctx, "get_latest_sensor_reading", &rd, query, sensorID)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "sensor reading", ID: strconv.FormatInt(sensorID, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest sensor reading: %w", err)
	}
	return &rd, nil
}

func (r *sensorReadingRepository) ListBySensor(ctx context.Context, sensorID int64, limit int) ([]*models.SensorReading, error) {
	query := sensorReadingSelect + `
		WHERE sensor_id = $1
		ORDER BY "timestamp" DESC, reading_id DESC
		LIMIT $2
	`
	var readings []*models.SensorReading
	if err := r.db.SelectContext(ctx, "list_sensor_readings", &readings, query, sensorID, limit); err != nil {
		return nil, fmt.Errorf("failed to list sensor readings: %w", err)
	}
	return readings, nil
}

// ListByTimeRange returns readings of every sensor with from <= timestamp
// <= to, oldest first.
func (r *sensorReadingRepository) ListByTimeRange(ctx context.Context, from, to time.Time) ([]*models.SensorReading, error) {
	query := sensorReadingSelect + `
		WHERE "timestamp" BETWEEN $1 AND $2
		ORDER BY "timestamp"
	`
	var readings []*models.SensorReading
	if err := r.db.SelectContext(ctx, "list_sensor_readings_range", &readings, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to list sensor readings: %w", err)
	}
	return readings, nil
}
