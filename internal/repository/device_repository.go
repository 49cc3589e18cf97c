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

// DeviceRepository manages the devices registry.
type DeviceRepository interface {
	// Insert registers a device by name, refreshing type, location and model
	// when it already exists.
	Insert(ctx context.Context, d *models.Device) (int64, error)
	Get(ctx context.Context, id int64) (*models.Device, error)
	GetByName(ctx context.Context, name string) (*models.Device, error)
	List(ctx context.Context) ([]*models.Device, error)
}

// DeviceStatusRepository appends and reads device_status rows.
type DeviceStatusRepository interface {
	Insert(ctx context.Context, s *models.DeviceStatus) (int64, error)
	GetLatest(ctx context.Context, deviceID int64) (*models.DeviceStatus, error)
	ListByDevice(ctx context.Context, deviceID int64, limit int) ([]*models.DeviceStatus, error)
	ListByTimeRange(ctx context.Context, deviceID int64, from, to time.Time) ([]*models.DeviceStatus, error)
}

const deviceSelect = `
	SELECT device_id, device_name, device_type, location, model, date_added
	FROM devices
`

const deviceStatusSelect = `
	SELECT status_id, device_id, "timestamp", is_on, device_data
	FROM device_status
`

type deviceRepository struct {
	base
	insertSQL string
}

func NewDeviceRepository(db database.Executor, logger logging.Logger) DeviceRepository {
	columns := []string{"device_name", "device_type", "location", "model"}
	return &deviceRepository{
		base:      base{db: db, logger: logger},
		insertSQL: upsertSQL("devices", columns, []string{"device_name"}, "device_id"),
	}
}

func (r *deviceRepository) Insert(ctx context.Context, d *models.Device) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, "insert_device", &id, r.insertSQL, d.DeviceName, d.DeviceType, d.Location, d.Model)
	if err != nil {
		return 0, fmt.Errorf("failed to insert device: %w", err)
	}
	d.DeviceID = id

	r.logger.Debug(ctx, "[REPO_INSERT_DEVICE] Device registered", logging.Fields{
		"device_id":   id,
		"device_name": d.DeviceName,
	})
	return id, nil
}

func (r *deviceRepository) Get(ctx context.Context, id int64) (*models.Device, error) {
	var d models.Device
	err := r.db.GetContext(ctx, "get_device", &d, deviceSelect+" WHERE device_id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "device", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &d, nil
}

func (r *deviceRepository) GetByName(ctx context.Context, name string) (*models.Device, error) {
	var d models.Device
	err := r.db.GetContext(ctx, "get_device_by_name", &d, deviceSelect+" WHERE device_name = $1", name)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "device", ID: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &d, nil
}

func (r *deviceRepository) List(ctx context.Context) ([]*models.Device, error) {
	var devices []*models.Device
	if err := r.db.SelectContext(ctx, "list_devices", &devices, deviceSelect+" ORDER BY device_name"); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

type deviceStatusRepository struct {
	base
}

func NewDeviceStatusRepository(db database.Executor, logger logging.Logger) DeviceStatusRepository {
	return &deviceStatusRepository{base: base{db: db, logger: logger}}
}

// Insert appends a status row. The timestamp defaults to now() in the
// database and is written back into s.
func (r *deviceStatusRepository) Insert(ctx context.Context, s *models.DeviceStatus) (int64, error) {
	query := `
		INSERT INTO device_status (device_id, is_on, device_data)
		VALUES ($1, $2, $3)
		RETURNING status_id, "timestamp"
	`
	var row struct {
		StatusID  int64     `db:"status_id"`
		Timestamp time.Time `db:"timestamp"`
	}
	if err := r.db.GetContext(ctx, "insert_device_status", &row, query, s.DeviceID, s.IsOn, s.DeviceData); err != nil {
		return 0, fmt.Errorf("failed to insert device status: %w", err)
	}
	s.StatusID = row.StatusID
	s.Timestamp = row.Timestamp

	r.logger.Debug(ctx, "[REPO_INSERT_STATUS] Device status recorded", logging.Fields{
		"device_id": s.DeviceID,
		"status_id": row.StatusID,
		"is_on":     s.IsOn,
	})
	return row.StatusID, nil
}

func (r *deviceStatusRepository) GetLatest(ctx context.Context, deviceID int64) (*models.DeviceStatus, error) {
	query := deviceStatusSelect + `
		WHERE device_id = $1
		ORDER BY "timestamp" DESC, status_id DESC
		LIMIT 1
	`
	var s models.DeviceStatus
	err := r.db.GetContext(ctx, "get_latest_device_status", &s, query, deviceID)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "device status", ID: strconv.FormatInt(deviceID, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest device status: %w", err)
	}
	return &s, nil
}

func (r *deviceStatusRepository) ListByDevice(ctx context.Context, deviceID int64, limit int) ([]*models.DeviceStatus, error) {
	query := deviceStatusSelect + `
		WHERE device_id = $1
		ORDER BY "timestamp" DESC, status_id DESC
		LIMIT $2
	`
	var statuses []*models.DeviceStatus
	if err := r.db.SelectContext(ctx, "list_device_status", &statuses, query, deviceID, limit); err != nil {
		return nil, fmt.Errorf("failed to list device status: %w", err)
	}
	return statuses, nil
}

func (r *deviceStatusRepository) ListByTimeRange(ctx context.Context, deviceID int64, from, to time.Time) ([]*models.DeviceStatus, error) {
	query := deviceStatusSelect + `
		WHERE device_id = $1 AND "timestamp" >= $2 AND "timestamp" < $3
		ORDER BY "timestamp"
	`
	var statuses []*models.DeviceStatus
	if err := r.db.SelectContext(ctx, "list_device_status_range", &statuses, query, deviceID, from, to); err != nil {
		return nil, fmt.Errorf("failed to list device status: %w", err)
	}
	return statuses, nil
}
