package devices

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vivarium/internal/events"
	"vivarium/internal/models"
	"vivarium/pkg/database"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

type fakeSwitch struct {
	on    bool
	calls []bool
	err   error
}

func (s *fakeSwitch) On() error {
	s.calls = append(s.calls, true)
	if s.err != nil {
		return s.err
	}
	s.on = true
	return nil
}

func (s *fakeSwitch) Off() error {
	s.calls = append(s.calls, false)
	if s.err != nil {
		return s.err
	}
	s.on = false
	return nil
}

func (s *fakeSwitch) State() bool { return s.on }

type fakePWM struct {
	mu     sync.Mutex
	writes []byte
	halted bool
}

func (p *fakePWM) PwmWrite(level byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, level)
	return nil
}

func (p *fakePWM) Halt() error {
	p.halted = true
	return nil
}

type fakeTach struct {
	mu     sync.Mutex
	reads  int
	halted bool
}

// DigitalRead alternates 1, 0, 1, 0, ...
func (t *fakeTach) DigitalRead() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reads++
	return t.reads % 2, nil
}

func (t *fakeTach) Halt() error {
	t.halted = true
	return nil
}

type fixedCounter struct{ pulses int }

func (c fixedCounter) CountPulses(ctx context.Context, window time.Duration) (int, error) {
	return c.pulses, nil
}

type fakePublisher struct {
	keys   []string
	values [][]byte
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, key string, value []byte) error {
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return p.err
}

func newTestRecorder(t *testing.T, pub Publisher) (*StatusRecorder, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	m := metrics.NewCollectorWithRegistry("vivarium_test", prometheus.NewRegistry())
	db := database.NewFromDB(sqlDB, &database.Config{Database: "vivarium"}, logging.NewNopLogger(), m)
	return NewStatusRecorder(db, pub, logging.NewNopLogger(), m), mock
}

func testMetrics() *metrics.Collector {
	return metrics.NewCollectorWithRegistry("vivarium_test", prometheus.NewRegistry())
}

func expectRegister(m sqlmock.Sqlmock, name string, id int64) {
	m.ExpectQuery(`INSERT INTO devices`).
		WithArgs(name, sqlmock.AnyArg(), nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"device_id"}).AddRow(id))
}

func expectLatest(m sqlmock.Sqlmock, id int64, isOn *bool) {
	rows := sqlmock.NewRows([]string{"status_id", "device_id", "timestamp", "is_on", "device_data"})
	if isOn != nil {
		rows.AddRow(1, id, time.Now(), *isOn, nil)
	}
	m.ExpectQuery(`FROM device_status`).WithArgs(id).WillReturnRows(rows)
}

func expectRecord(m sqlmock.Sqlmock, id int64, isOn bool) {
	m.ExpectBegin()
	m.ExpectQuery(`INSERT INTO device_status`).
		WithArgs(id, isOn, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"status_id", "timestamp"}).AddRow(42, time.Now()))
	m.ExpectCommit()
}

func boolPtr(b bool) *bool { return &b }

func TestRelayController_Toggle(t *testing.T) {
	tests := []struct {
		name      string
		stored    *bool
		target    bool
		switchErr error
		wantCalls []bool
		wantErr   bool
		record    bool
	}{
		{name: "off to on", stored: boolPtr(false), target: true, wantCalls: []bool{true}, record: true},
		{name: "on to off", stored: boolPtr(true), target: false, wantCalls: []bool{false}, record: true},
		{name: "already on is a no-op", stored: boolPtr(true), target: true},
		{name: "already off is a no-op", stored: boolPtr(false), target: false},
		{name: "unknown state switches", target: true, wantCalls: []bool{true}, record: true},
		{name: "switch failure records nothing", stored: boolPtr(false), target: true,
			switchErr: errors.New("gpio busy"), wantCalls: []bool{true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			recorder, mock := newTestRecorder(t, pub)
			expectRegister(mock, GrowLight, 3)
			expectLatest(mock, 3, tt.stored)
			if tt.record {
				expectRecord(mock, 3, tt.target)
			}

			sw := &fakeSwitch{err: tt.switchErr}
			ctx := context.Background()
			light, err := NewLightController(ctx, sw, recorder, logging.NewNopLogger(), testMetrics())
			require.NoError(t, err)
			assert.Equal(t, GrowLight, light.Name())

			err = light.Toggle(ctx, tt.target)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, sw.calls)
			if tt.record {
				require.Len(t, pub.keys, 1)
				assert.Equal(t, "3", pub.keys[0])
			} else {
				assert.Empty(t, pub.keys)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRelayController_NotInitialized(t *testing.T) {
	recorder, mock := newTestRecorder(t, nil)
	expectRegister(mock, Mister, 4)

	mister, err := NewMisterController(context.Background(), nil, recorder, logging.NewNopLogger(), testMetrics())
	require.NoError(t, err)
	assert.ErrorIs(t, mister.On(context.Background()), ErrNotInitialized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRecorder_PublishFailureKeepsRow(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	recorder, mock := newTestRecorder(t, pub)
	expectRegister(mock, Humidifier, 5)
	expectRecord(mock, 5, true)

	ctx := context.Background()
	d, err := recorder.Register(ctx, Humidifier, "relay")
	require.NoError(t, err)

	status, err := recorder.Record(ctx, d, true, map[string]bool{"is_on": true})
	require.NoError(t, err)
	assert.Equal(t, int64(42), status.StatusID)
	require.Len(t, pub.values, 1)

	var ev events.DeviceStatusEvent
	require.NoError(t, json.Unmarshal(pub.values[0], &ev))
	assert.Equal(t, Humidifier, ev.DeviceName)
	assert.True(t, ev.IsOn)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRecorder_RollsBackOnInsertFailure(t *testing.T) {
	recorder, mock := newTestRecorder(t, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO device_status`).WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	d := &models.Device{DeviceID: 9, DeviceName: ExhaustFan}
	_, err := recorder.Record(context.Background(), d, false, nil)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComputeRPM(t *testing.T) {
	tests := []struct {
		pulses, ppr int
		window      time.Duration
		want        float64
	}{
		{pulses: 30, ppr: 2, window: time.Second, want: 900},
		{pulses: 0, ppr: 2, window: time.Second, want: 0},
		{pulses: 30, ppr: 2, window: 2 * time.Second, want: 450},
		{pulses: 10, ppr: 0, window: time.Second, want: 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ComputeRPM(tt.pulses, tt.ppr, tt.window), 1e-9)
	}
}

func TestPollingCounter_CountsFallingEdges(t *testing.T) {
	tach := &fakeTach{}
	c := NewPollingCounter(tach, 100*time.Microsecond)

	pulses, err := c.CountPulses(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)

	tach.mu.Lock()
	reads := tach.reads
	tach.mu.Unlock()
	assert.Greater(t, pulses, 0)
	assert.Equal(t, reads/2, pulses)
}

func TestFanController_SetSpeed(t *testing.T) {
	tests := []struct {
		name       string
		speed      float64
		wantErr    bool
		wantWrites []byte
		wantOn     bool
	}{
		{name: "half", speed: 0.5, wantWrites: []byte{128}, wantOn: true},
		{name: "max", speed: 1, wantWrites: []byte{255}, wantOn: true},
		{name: "off", speed: 0, wantWrites: []byte{0}},
		{name: "out of range", speed: 1.2, wantErr: true},
		{name: "negative", speed: -0.1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder, mock := newTestRecorder(t, nil)
			expectRegister(mock, ExhaustFan, 2)
			if !tt.wantErr {
				expectRecord(mock, 2, tt.wantOn)
			}

			pwm := &fakePWM{}
			tach := &fakeTach{}
			ctx := context.Background()
			fan, err := NewFanController(ctx, ExhaustFan, pwm, tach, FanOptions{PulsesPerRev: 2, SampleWindow: time.Second},
				recorder, logging.NewNopLogger(), testMetrics())
			require.NoError(t, err)
			fan.tach = fixedCounter{pulses: 30}

			err = fan.SetSpeed(ctx, tt.speed)
			if tt.wantErr {
				require.Error(t, err)
				assert.Empty(t, pwm.writes)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantWrites, pwm.writes)
			assert.Equal(t, 900.0, fan.RPM())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFanController_CleanupReleasesTachOnly(t *testing.T) {
	recorder, mock := newTestRecorder(t, nil)
	expectRegister(mock, IntakeFan, 1)

	pwm := &fakePWM{}
	tach := &fakeTach{}
	fan, err := NewFanController(context.Background(), IntakeFan, pwm, tach, FanOptions{},
		recorder, logging.NewNopLogger(), testMetrics())
	require.NoError(t, err)

	require.NoError(t, fan.Cleanup())
	assert.Equal(t, []byte{0}, pwm.writes)
	assert.True(t, tach.halted)
	// A halted PWM line floats and the fan restarts at full speed.
	assert.False(t, pwm.halted)
}

type recordingFan struct {
	name   string
	speeds []float64
	err    error
	clean  bool
}

func (f *recordingFan) Name() string { return f.name }

func (f *recordingFan) SetSpeed(ctx context.Context, speed float64) error {
	f.speeds = append(f.speeds, speed)
	return f.err
}

func (f *recordingFan) Cleanup() error {
	f.clean = true
	return f.err
}

func TestAerationController(t *testing.T) {
	intake := &recordingFan{name: IntakeFan, err: errors.New("stalled")}
	exhaust := &recordingFan{name: ExhaustFan}
	a := NewAerationController(intake, exhaust, AerationSpeeds{Default: 0.3, Max: 1}, logging.NewNopLogger())
	ctx := context.Background()

	err := a.SetMaxSpeed(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stalled")
	assert.Equal(t, []float64{1}, exhaust.speeds)

	intake.err = nil
	require.NoError(t, a.SetDefaultSpeed(ctx))
	require.NoError(t, a.Off(ctx))
	assert.Equal(t, []float64{1, 0.3, 0}, intake.speeds)
	assert.Equal(t, []float64{1, 0.3, 0}, exhaust.speeds)

	require.NoError(t, a.Cleanup())
	assert.True(t, intake.clean)
	assert.True(t, exhaust.clean)
}
