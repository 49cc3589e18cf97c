package devices

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"vivarium/internal/events"
	"vivarium/internal/models"
	"vivarium/internal/repository"
	"vivarium/pkg/database"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

// SessionOpener hands out database sessions. *database.PostgresDB
// satisfies it.
type SessionOpener interface {
	NewSession() *database.Session
}

// Publisher sends an encoded event. *events.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Publishers sends every event to each publisher in turn. All are tried;
// the failures are combined.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, key string, value []byte) error {
	var result *multierror.Error
	for _, p := range ps {
		if err := p.Publish(ctx, key, value); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// StatusRecorder stores device registrations and status rows.
type StatusRecorder struct {
	db        SessionOpener
	publisher Publisher
	logger    logging.Logger
	metrics   *metrics.Collector
}

// NewStatusRecorder creates a recorder. publisher may be nil.
func NewStatusRecorder(db SessionOpener, publisher Publisher, logger logging.Logger, metricsCollector *metrics.Collector) *StatusRecorder {
	return &StatusRecorder{
		db:        db,
		publisher: publisher,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// Register upserts a device by name and returns it with its ID.
func (r *StatusRecorder) Register(ctx context.Context, name, deviceType string) (*models.Device, error) {
	session := r.db.NewSession()
	defer session.Close(ctx)

	d := &models.Device{DeviceName: name, DeviceType: deviceType}
	id, err := repository.NewDeviceRepository(session, r.logger).Insert(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to register device %s: %w", name, err)
	}
	d.DeviceID = id
	return d, nil
}

// Latest returns the newest status of a device, or nil when it never
// reported.
func (r *StatusRecorder) Latest(ctx context.Context, deviceID int64) (*models.DeviceStatus, error) {
	session := r.db.NewSession()
	defer session.Close(ctx)

	s, err := repository.NewDeviceStatusRepository(session, r.logger).GetLatest(ctx, deviceID)
	if repository.IsNotFound(err) {
		return nil, nil
	}
	return s, err
}

// Record writes one status row in its own transaction and then publishes
// it. A publish failure is logged; the row stays committed.
func (r *StatusRecorder) Record(ctx context.Context, d *models.Device, isOn bool, data interface{}) (*models.DeviceStatus, error) {
	status := &models.DeviceStatus{DeviceID: d.DeviceID, IsOn: isOn}
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode device data: %w", err)
		}
		status.DeviceData = models.JSONData(encoded)
	}

	if err := r.insert(ctx, status); err != nil {
		r.metrics.RecordDeviceError(d.DeviceName, "record_status")
		r.logger.Error(ctx, "[DEVICE_STATUS_ERROR] Failed to record device status", logging.Fields{
			"device":    d.DeviceName,
			"device_id": d.DeviceID,
			"is_on":     isOn,
		}, err)
		return nil, err
	}

	r.logger.Info(ctx, "[DEVICE_STATUS] Device status recorded", logging.Fields{
		"device":    d.DeviceName,
		"device_id": d.DeviceID,
		"status_id": status.StatusID,
		"is_on":     isOn,
	})

	if r.publisher != nil {
		r.publish(ctx, d, status)
	}
	return status, nil
}

func (r *StatusRecorder) insert(ctx context.Context, status *models.DeviceStatus) error {
	session := r.db.NewSession()
	defer session.Close(ctx)

	if err := session.SetAutocommit(false); err != nil {
		return err
	}
	if err := session.Begin(ctx); err != nil {
		return err
	}
	if _, err := repository.NewDeviceStatusRepository(session, r.logger).Insert(ctx, status); err != nil {
		if rbErr := session.Rollback(ctx); rbErr != nil {
			return multierror.Append(err, rbErr)
		}
		return err
	}
	return session.Commit(ctx)
}

func (r *StatusRecorder) publish(ctx context.Context, d *models.Device, status *models.DeviceStatus) {
	ev := events.NewDeviceStatusEvent(d.DeviceName, status)
	body, err := ev.Encode()
	if err == nil {
		err = r.publisher.Publish(ctx, ev.Key(), body)
	}
	if err != nil {
		r.metrics.RecordDeviceError(d.DeviceName, "publish_status")
		r.logger.Warn(ctx, "[DEVICE_EVENT_ERROR] Failed to publish device status", logging.Fields{
			"device":    d.DeviceName,
			"status_id": status.StatusID,
			"error":     err.Error(),
		})
	}
}
