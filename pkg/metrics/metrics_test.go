package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewCollectorWithRegistry_Isolated(t *testing.T) {
	// Two collectors with the same namespace must not collide on separate registries.
	a := NewCollectorWithRegistry("vivarium", prometheus.NewRegistry())
	b := NewCollectorWithRegistry("vivarium", prometheus.NewRegistry())

	a.RecordFileState("archived")
	a.RecordFileState("archived")
	b.RecordFileState("failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.IngestionFilesTotal.WithLabelValues("archived")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.IngestionFilesTotal.WithLabelValues("archived")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.IngestionFilesTotal.WithLabelValues("failed")))
}

func TestCollector_DeviceGauges(t *testing.T) {
	c := NewCollectorWithRegistry("vivarium", prometheus.NewRegistry())

	c.RecordFanReading("exhaust", 0.6, 1440)
	assert.Equal(t, 0.6, testutil.ToFloat64(c.DeviceSpeed.WithLabelValues("exhaust")))
	assert.Equal(t, 1440.0, testutil.ToFloat64(c.DeviceRPM.WithLabelValues("exhaust")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DeviceState.WithLabelValues("exhaust")))

	c.RecordFanReading("exhaust", 0, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.DeviceState.WithLabelValues("exhaust")))
}

func TestCollector_RecordJob(t *testing.T) {
	c := NewCollectorWithRegistry("vivarium", prometheus.NewRegistry())

	c.RecordJob("weather_fetch", time.Second, nil)
	c.RecordJob("weather_fetch", time.Second, errors.New("api down"))
	c.RecordJob("weather_fetch", time.Second, errors.New("api down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.SchedulerJobRuns.WithLabelValues("weather_fetch", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.SchedulerJobRuns.WithLabelValues("weather_fetch", "failure")))
}

func TestCollector_CacheLookup(t *testing.T) {
	c := NewCollectorWithRegistry("vivarium", prometheus.NewRegistry())

	c.RecordCacheLookup("file", true)
	c.RecordCacheLookup("redis", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.WeatherCacheTotal.WithLabelValues("file", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.WeatherCacheTotal.WithLabelValues("redis", "miss")))
}
