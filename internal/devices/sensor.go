package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vivarium/internal/events"
	"vivarium/internal/models"
	"vivarium/internal/repository"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

// ClimateSensor is a temperature and relative humidity sensor.
// *i2c.SHT2xDriver satisfies it; the HTU21D speaks the same protocol.
type ClimateSensor interface {
	Temperature() (float32, error)
	Humidity() (float32, error)
}

// SensorOptions bounds a single read.
type SensorOptions struct {
	// Timeout caps one read including retries. A hung bus is abandoned
	// after it.
	Timeout       time.Duration
	Retries       int
	RetryInterval time.Duration
}

// SensorReader reads a climate sensor and stores each sample in
// sensor_readings.
type SensorReader struct {
	sensor   *models.Sensor
	source   ClimateSensor
	opts     SensorOptions
	recorder *StatusRecorder
	logger   logging.Logger
	metrics  *metrics.Collector

	mu sync.Mutex
}

// NewSensorReader registers the sensor under name and returns its reader.
func NewSensorReader(ctx context.Context, name string, source ClimateSensor, opts SensorOptions,
	recorder *StatusRecorder, logger logging.Logger, metricsCollector *metrics.Collector) (*SensorReader, error) {
	if source == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNotInitialized)
	}
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	sensor, err := recorder.RegisterSensor(ctx, name, models.SensorTypeTempHumidity)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "[SENSOR_INIT] Sensor reader initialized", logging.Fields{
		"sensor":    name,
		"sensor_id": sensor.SensorID,
	})
	return &SensorReader{
		sensor:   sensor,
		source:   source,
		opts:     opts,
		recorder: recorder,
		logger:   logger,
		metrics:  metricsCollector,
	}, nil
}

// Name returns the registered sensor name.
func (r *SensorReader) Name() string {
	return r.sensor.SensorName
}

type sampleResult struct {
	sample models.ClimateSample
	err    error
}

// Read takes one sample. The bus is read on its own goroutine so a stuck
// read returns an error after the timeout instead of blocking the caller.
func (r *SensorReader) Read(ctx context.Context) (models.ClimateSample, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	done := make(chan sampleResult, 1)
	go func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		s, err := r.readWithRetry(ctx)
		done <- sampleResult{sample: s, err: err}
	}()

	select {
	case <-ctx.Done():
		r.metrics.RecordSensorRead(r.sensor.SensorName, 0, 0, ctx.Err())
		return models.ClimateSample{}, fmt.Errorf("%s read timed out: %w", r.sensor.SensorName, ctx.Err())
	case res := <-done:
		r.metrics.RecordSensorRead(r.sensor.SensorName, res.sample.TemperatureC, res.sample.Humidity, res.err)
		return res.sample, res.err
	}
}

func (r *SensorReader) readWithRetry(ctx context.Context) (models.ClimateSample, error) {
	var err error
	for attempt := 1; attempt <= r.opts.Retries; attempt++ {
		var temp, humidity float32
		if temp, err = r.source.Temperature(); err == nil {
			if humidity, err = r.source.Humidity(); err == nil {
				return models.NewClimateSample(float64(temp), float64(humidity)), nil
			}
		}
		r.logger.Warn(ctx, "[SENSOR_READ_RETRY] Sensor read failed", logging.Fields{
			"sensor":  r.sensor.SensorName,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if attempt < r.opts.Retries {
			if sleepErr := sleep(ctx, r.opts.RetryInterval); sleepErr != nil {
				return models.ClimateSample{}, sleepErr
			}
		}
	}
	return models.ClimateSample{}, fmt.Errorf("failed to read %s after %d attempts: %w", r.sensor.SensorName, r.opts.Retries, err)
}

// ReadAndStore takes a sample and stores it. Nothing is stored when the
// read fails.
func (r *SensorReader) ReadAndStore(ctx context.Context) (*models.SensorReading, error) {
	sample, err := r.Read(ctx)
	if err != nil {
		r.metrics.RecordDeviceError(r.sensor.SensorName, "read")
		r.logger.Error(ctx, "[SENSOR_READ_ERROR] Sensor read failed", logging.Fields{
			"sensor": r.sensor.SensorName,
		}, err)
		return nil, err
	}

	reading, err := r.recorder.RecordReading(ctx, r.sensor, sample)
	if err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "[SENSOR_READING] Sensor data stored", logging.Fields{
		"sensor":        r.sensor.SensorName,
		"reading_id":    reading.ReadingID,
		"temperature_f": sample.TemperatureF,
		"temperature_c": sample.TemperatureC,
		"humidity":      sample.Humidity,
	})
	return reading, nil
}

// Latest returns the newest stored reading, or nil when there is none.
func (r *SensorReader) Latest(ctx context.Context) (*models.SensorReading, error) {
	return r.recorder.LatestReading(ctx, r.sensor.SensorID)
}

// RegisterSensor upserts a sensor by name and returns it with its ID.
func (r *StatusRecorder) RegisterSensor(ctx context.Context, name, sensorType string) (*models.Sensor, error) {
	session := r.db.NewSession()
	defer session.Close(ctx)

	s := &models.Sensor{SensorName: name, SensorType: sensorType}
	if _, err := repository.NewSensorRepository(session, r.logger).Insert(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to register sensor %s: %w", name, err)
	}
	return s, nil
}

// RecordReading stores one sample in autocommit and publishes it.
func (r *StatusRecorder) RecordReading(ctx context.Context, s *models.Sensor, sample models.ClimateSample) (*models.SensorReading, error) {
	encoded, err := json.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sensor data: %w", err)
	}
	reading := &models.SensorReading{SensorID: s.SensorID, RawData: models.JSONData(encoded)}

	session := r.db.NewSession()
	defer session.Close(ctx)
	if _, err := repository.NewSensorReadingRepository(session, r.logger).Insert(ctx, reading); err != nil {
		r.metrics.RecordDeviceError(s.SensorName, "record_reading")
		return nil, err
	}

	if r.publisher != nil {
		ev := events.NewSensorReadingEvent(s.SensorName, reading)
		body, err := ev.Encode()
		if err == nil {
			err = r.publisher.Publish(ctx, ev.Key(), body)
		}
		if err != nil {
			r.metrics.RecordDeviceError(s.SensorName, "publish_reading")
			r.logger.Warn(ctx, "[SENSOR_EVENT_ERROR] Failed to publish sensor reading", logging.Fields{
				"sensor":     s.SensorName,
				"reading_id": reading.ReadingID,
				"error":      err.Error(),
			})
		}
	}
	return reading, nil
}

// LatestReading returns the newest reading of a sensor, or nil when it
// never reported.
func (r *StatusRecorder) LatestReading(ctx context.Context, sensorID int64) (*models.SensorReading, error) {
	session := r.db.NewSession()
	defer session.Close(ctx)

	rd, err := repository.NewSensorReadingRepository(session, r.logger).GetLatest(ctx, sensorID)
	if repository.IsNotFound(err) {
		return nil, nil
	}
	return rd, err
}
