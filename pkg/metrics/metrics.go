package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Ingestion Metrics
	IngestionFilesTotal  *prometheus.CounterVec
	IngestionRowsTotal   *prometheus.CounterVec
	IngestionDuration    prometheus.Histogram
	IngestionErrorsTotal *prometheus.CounterVec

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec
	DBTransactions   *prometheus.CounterVec

	// Weather API client
	WeatherFetchTotal    *prometheus.CounterVec
	WeatherFetchDuration prometheus.Histogram
	WeatherCacheTotal    *prometheus.CounterVec

	// Devices
	DeviceSpeed       *prometheus.GaugeVec
	DeviceRPM         *prometheus.GaugeVec
	DeviceState       *prometheus.GaugeVec
	DeviceErrorsTotal *prometheus.CounterVec

	// Sensors
	SensorTemperature *prometheus.GaugeVec
	SensorHumidity    *prometheus.GaugeVec
	SensorReadsTotal  *prometheus.CounterVec

	// MQTT
	MQTTMessagesTotal *prometheus.CounterVec

	// Scheduler
	SchedulerJobRuns     *prometheus.CounterVec
	SchedulerJobDuration *prometheus.HistogramVec
}

// NewCollector creates a collector registered on the default registry.
func NewCollector(namespace string) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector registered on reg.
// Passing a fresh prometheus.NewRegistry() keeps tests isolated.
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		IngestionFilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_files_total",
				Help:      "Weather JSON files handled by terminal state",
			},
			[]string{"state"}, // "archived", "failed", "skipped"
		),

		IngestionRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_rows_upserted_total",
				Help:      "Rows upserted during ingestion by table",
			},
			[]string{"table"},
		),

		IngestionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_file_duration_seconds",
				Help:      "Duration of a single file ingestion in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),

		IngestionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_errors_total",
				Help:      "Total number of ingestion errors by type",
			},
			[]string{"error_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		DBTransactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_transactions_total",
				Help:      "Transactions finished by outcome",
			},
			[]string{"outcome"}, // "commit", "rollback"
		),

		WeatherFetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "weather_api_requests_total",
				Help:      "Weather API history requests by result",
			},
			[]string{"result"},
		),

		WeatherFetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "weather_api_request_duration_seconds",
				Help:      "Weather API request duration in seconds including retries",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),

		WeatherCacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "weather_cache_lookups_total",
				Help:      "Raw payload cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),

		DeviceSpeed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "device_speed_ratio",
				Help:      "Last PWM duty cycle written per fan",
			},
			[]string{"device"},
		),

		DeviceRPM: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "device_rpm",
				Help:      "Last measured fan RPM",
			},
			[]string{"device"},
		),

		DeviceState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "device_on",
				Help:      "1 when the device is on",
			},
			[]string{"device"},
		),

		DeviceErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_errors_total",
				Help:      "Device control errors by device and operation",
			},
			[]string{"device", "operation"},
		),

		SensorTemperature: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sensor_temperature_celsius",
				Help:      "Last temperature read per sensor",
			},
			[]string{"sensor"},
		),

		SensorHumidity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sensor_humidity_percent",
				Help:      "Last relative humidity read per sensor",
			},
			[]string{"sensor"},
		),

		SensorReadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sensor_reads_total",
				Help:      "Sensor reads by sensor and result",
			},
			[]string{"sensor", "result"},
		),

		MQTTMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mqtt_messages_total",
				Help:      "MQTT messages by direction and result",
			},
			[]string{"direction", "result"},
		),

		SchedulerJobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_job_runs_total",
				Help:      "Scheduler job executions by job and result",
			},
			[]string{"job", "result"},
		),

		SchedulerJobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scheduler_job_duration_seconds",
				Help:      "Scheduler job duration in seconds",
				Buckets:   []float64{0.1, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"job"},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordIngestionError increments ingestion error counter
func (c *Collector) RecordIngestionError(errorType string) {
	c.IngestionErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordFileState counts a file reaching a terminal ingestion state.
func (c *Collector) RecordFileState(state string) {
	c.IngestionFilesTotal.WithLabelValues(state).Inc()
}

// RecordRows adds n upserted rows for table.
func (c *Collector) RecordRows(table string, n int) {
	c.IngestionRowsTotal.WithLabelValues(table).Add(float64(n))
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordTransaction counts a commit or rollback.
func (c *Collector) RecordTransaction(outcome string) {
	c.DBTransactions.WithLabelValues(outcome).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}

// RecordWeatherFetch counts a weather API call outcome.
func (c *Collector) RecordWeatherFetch(result string) {
	c.WeatherFetchTotal.WithLabelValues(result).Inc()
}

// RecordCacheLookup counts a cache lookup on the given tier ("file", "redis").
func (c *Collector) RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.WeatherCacheTotal.WithLabelValues(tier, result).Inc()
}

// RecordFanReading stores the latest speed and RPM of a fan.
func (c *Collector) RecordFanReading(device string, speed, rpm float64) {
	c.DeviceSpeed.WithLabelValues(device).Set(speed)
	c.DeviceRPM.WithLabelValues(device).Set(rpm)
	c.RecordDeviceState(device, speed > 0)
}

// RecordDeviceState sets the on/off gauge of a device.
func (c *Collector) RecordDeviceState(device string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	c.DeviceState.WithLabelValues(device).Set(v)
}

// RecordDeviceError increments the device error counter.
func (c *Collector) RecordDeviceError(device, operation string) {
	c.DeviceErrorsTotal.WithLabelValues(device, operation).Inc()
}

// RecordSensorRead counts a sensor read and, on success, stores its values.
func (c *Collector) RecordSensorRead(sensor string, celsius, humidity float64, err error) {
	if err != nil {
		c.SensorReadsTotal.WithLabelValues(sensor, "failure").Inc()
		return
	}
	c.SensorReadsTotal.WithLabelValues(sensor, "success").Inc()
	c.SensorTemperature.WithLabelValues(sensor).Set(celsius)
	c.SensorHumidity.WithLabelValues(sensor).Set(humidity)
}

// RecordMQTTMessage counts one published or received MQTT message.
func (c *Collector) RecordMQTTMessage(direction string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.MQTTMessagesTotal.WithLabelValues(direction, result).Inc()
}

// RecordJob counts a scheduler job run and its duration.
func (c *Collector) RecordJob(job string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.SchedulerJobRuns.WithLabelValues(job, result).Inc()
	c.SchedulerJobDuration.WithLabelValues(job).Observe(d.Seconds())
}
