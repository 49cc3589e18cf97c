package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vivarium/internal/config"
	"vivarium/internal/models"
	"vivarium/pkg/logging"
)

type fakeHumidifier struct {
	fakeSwitch
	on bool
}

func (h *fakeHumidifier) Toggle(ctx context.Context, on bool) error {
	if err := h.fakeSwitch.Toggle(ctx, on); err != nil {
		return err
	}
	h.on = on
	return nil
}

func (h *fakeHumidifier) IsOn(ctx context.Context) (bool, error) {
	return h.on, nil
}

type fakeReadings struct {
	reading *models.SensorReading
	err     error
}

func (r *fakeReadings) Latest(ctx context.Context) (*models.SensorReading, error) {
	return r.reading, r.err
}

func humidityReading(h float64) *models.SensorReading {
	return &models.SensorReading{
		ReadingID: 1,
		SensorID:  3,
		RawData:   models.JSONData(fmt.Sprintf(`{"temperature_celsius":24,"humidity_percentage":%g}`, h)),
	}
}

var testHumidifierConfig = config.HumidifierConfig{
	TargetHumidity: 80,
	Hysteresis:     5,
	RuntimeMinutes: 10,
	CheckInterval:  time.Minute,
}

func newTestHumidifierScheduler(on bool, reading *models.SensorReading) (*HumidifierScheduler, *fakeHumidifier, *callLog, *fakePlanner) {
	log := &callLog{}
	h := &fakeHumidifier{fakeSwitch: fakeSwitch{name: "humidifier", log: log}, on: on}
	planner := newFakePlanner()
	s := NewHumidifierScheduler(h, &fakeAeration{log: log}, &fakeReadings{reading: reading}, planner,
		testHumidifierConfig, logging.NewNopLogger())
	return s, h, log, planner
}

func TestHumidifierScheduler_Check(t *testing.T) {
	now := time.Date(2024, 7, 29, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		on          bool
		reading     *models.SensorReading
		wantCalls   []string
		checkValues func(t *testing.T, planner *fakePlanner)
	}{
		{
			name:      "low humidity starts a fixed run",
			reading:   humidityReading(70),
			wantCalls: []string{"humidifier:on", "aeration:max"},
			checkValues: func(t *testing.T, planner *fakePlanner) {
				assert.Equal(t, now.Add(10*time.Minute), planner.once[humidifierOffJob])
			},
		},
		{
			name:    "low humidity while running does nothing",
			on:      true,
			reading: humidityReading(70),
		},
		{
			name:      "humidity inside hysteresis stops a running humidifier",
			on:        true,
			reading:   humidityReading(78),
			wantCalls: []string{"humidifier:off", "aeration:default"},
		},
		{
			name:    "humidity at target with humidifier off does nothing",
			reading: humidityReading(82),
		},
		{
			name: "no reading stored",
		},
		{
			name:    "reading without humidity",
			reading: &models.SensorReading{ReadingID: 2, RawData: models.JSONData(`{"temperature_celsius":24}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, log, planner := newTestHumidifierScheduler(tt.on, tt.reading)
			s.now = func() time.Time { return now }

			require.NoError(t, s.Check(context.Background()))
			assert.Equal(t, tt.wantCalls, log.calls)
			if tt.checkValues != nil {
				tt.checkValues(t, planner)
			} else {
				assert.Empty(t, planner.once)
			}
		})
	}
}

func TestHumidifierScheduler_FixedRun(t *testing.T) {
	now := time.Date(2024, 7, 29, 14, 0, 0, 0, time.UTC)
	s, h, log, planner := newTestHumidifierScheduler(false, humidityReading(70))
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Check(ctx))
	require.True(t, h.on)

	// Checks during the run leave the humidifier alone.
	now = now.Add(5 * time.Minute)
	require.NoError(t, s.Check(ctx))
	assert.Equal(t, []string{"humidifier:on", "aeration:max"}, log.calls)

	require.NoError(t, planner.jobs[humidifierOffJob](ctx))
	assert.False(t, h.on)
	assert.Equal(t, []string{"humidifier:on", "aeration:max", "humidifier:off", "aeration:default"}, log.calls)

	// The next check evaluates humidity again.
	require.NoError(t, s.Check(ctx))
	assert.True(t, h.on)
}

func TestHumidifierScheduler_ExpiredRunIsCleared(t *testing.T) {
	now := time.Date(2024, 7, 29, 14, 0, 0, 0, time.UTC)
	s, h, log, _ := newTestHumidifierScheduler(false, humidityReading(70))
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Check(ctx))

	// The off job never ran and humidity recovered.
	s.readings = &fakeReadings{reading: humidityReading(81)}
	now = now.Add(11 * time.Minute)
	require.NoError(t, s.Check(ctx))
	assert.False(t, h.on)
	assert.Equal(t, []string{"humidifier:on", "aeration:max", "humidifier:off", "aeration:default"}, log.calls)
}

func TestHumidifierScheduler_UnplannedRunIsStopped(t *testing.T) {
	s, h, log, planner := newTestHumidifierScheduler(false, humidityReading(60))
	planner.err = errors.New("scheduler stopped")

	err := s.Check(context.Background())
	assert.ErrorContains(t, err, "scheduler stopped")
	assert.False(t, h.on)
	assert.Equal(t, []string{"humidifier:on", "aeration:max", "humidifier:off", "aeration:default"}, log.calls)

	// Nothing is pending, so the next check acts again.
	planner.err = nil
	require.NoError(t, s.Check(context.Background()))
	assert.True(t, h.on)
}

func TestHumidifierScheduler_ReadingError(t *testing.T) {
	s, _, log, _ := newTestHumidifierScheduler(false, nil)
	s.readings = &fakeReadings{err: errors.New("connection refused")}

	assert.ErrorContains(t, s.Check(context.Background()), "connection refused")
	assert.Empty(t, log.calls)
}

func TestHumidifierScheduler_Schedule(t *testing.T) {
	s, _, _, planner := newTestHumidifierScheduler(false, nil)
	require.NoError(t, s.Schedule())
	assert.Equal(t, time.Minute, planner.every[humidifierCheckJob])
}

type fakeSampler struct {
	ran chan struct{}
}

func (s *fakeSampler) ReadAndStore(ctx context.Context) (*models.SensorReading, error) {
	select {
	case s.ran <- struct{}{}:
	default:
	}
	return humidityReading(70), nil
}

func TestVivariumScheduler_StartWithSensorAndHumidifier(t *testing.T) {
	light, mister := &fakeSwitch{}, &fakeSwitch{}
	humidifier := &fakeHumidifier{on: true}

	v := NewVivariumScheduler(time.UTC, light, mister, 90*time.Minute, logging.NewNopLogger(), testMetrics())
	sampler := &fakeSampler{ran: make(chan struct{}, 1)}
	v.AttachSensor(sampler, time.Hour)
	v.AttachHumidifier(NewHumidifierScheduler(humidifier, &fakeAeration{log: &callLog{}}, &fakeReadings{}, v,
		testHumidifierConfig, logging.NewNopLogger()))

	require.NoError(t, v.Start(context.Background()))
	defer v.Stop()

	assert.Equal(t, []bool{false}, humidifier.states)
	assert.ElementsMatch(t, []string{sensorReadJob, humidifierCheckJob}, v.Tags())

	select {
	case <-sampler.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("sensor was not sampled on start")
	}

	// A one-off job replaces its earlier schedule.
	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, v.ScheduleOnce(humidifierOffJob, time.Now().Add(time.Hour), noop))
	require.NoError(t, v.ScheduleOnce(humidifierOffJob, time.Now().Add(2*time.Hour), noop))
	assert.Len(t, v.Tags(), 3)
}
