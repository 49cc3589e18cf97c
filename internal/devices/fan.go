package devices

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"vivarium/internal/models"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

// PulseCounter counts tachometer pulses over a window.
type PulseCounter interface {
	CountPulses(ctx context.Context, window time.Duration) (int, error)
}

// PollingCounter samples a tach line and counts falling edges. The fan's
// open-collector output pulls the line low once per pulse.
type PollingCounter struct {
	line     DigitalReader
	interval time.Duration
}

// NewPollingCounter creates a counter sampling every interval (250µs when
// zero).
func NewPollingCounter(line DigitalReader, interval time.Duration) *PollingCounter {
	if interval <= 0 {
		interval = 250 * time.Microsecond
	}
	return &PollingCounter{line: line, interval: interval}
}

func (c *PollingCounter) CountPulses(ctx context.Context, window time.Duration) (int, error) {
	prev, err := c.line.DigitalRead()
	if err != nil {
		return 0, fmt.Errorf("failed to read tach line: %w", err)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(window)
	defer deadline.Stop()

	pulses := 0
	for {
		select {
		case <-ctx.Done():
			return pulses, ctx.Err()
		case <-deadline.C:
			return pulses, nil
		case <-ticker.C:
			v, err := c.line.DigitalRead()
			if err != nil {
				return pulses, fmt.Errorf("failed to read tach line: %w", err)
			}
			if prev == 1 && v == 0 {
				pulses++
			}
			prev = v
		}
	}
}

// ComputeRPM converts pulses counted over window into revolutions per
// minute.
func ComputeRPM(pulses, pulsesPerRev int, window time.Duration) float64 {
	if pulsesPerRev <= 0 || window <= 0 {
		return 0
	}
	return float64(pulses) / float64(pulsesPerRev) * (60 / window.Seconds())
}

// FanOptions tunes speed changes and RPM sampling.
type FanOptions struct {
	PulsesPerRev   int
	StabiliseDelay time.Duration
	SampleWindow   time.Duration
}

// FanController drives one 4-pin PWM fan and measures its RPM.
type FanController struct {
	device  *models.Device
	pwm     PWMWriter
	tach    PulseCounter
	release halter
	opts    FanOptions

	recorder *StatusRecorder
	logger   logging.Logger
	metrics  *metrics.Collector

	mu  sync.Mutex
	rpm float64
}

// NewFanController registers the fan under name and returns its
// controller. tachLine is released by Cleanup when it supports Halt.
func NewFanController(ctx context.Context, name string, pwm PWMWriter, tachLine DigitalReader, opts FanOptions,
	recorder *StatusRecorder, logger logging.Logger, metricsCollector *metrics.Collector) (*FanController, error) {
	if pwm == nil || tachLine == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNotInitialized)
	}
	if opts.PulsesPerRev <= 0 {
		opts.PulsesPerRev = 2
	}
	if opts.SampleWindow <= 0 {
		opts.SampleWindow = time.Second
	}

	device, err := recorder.Register(ctx, name, models.DeviceTypeFan)
	if err != nil {
		return nil, err
	}

	f := &FanController{
		device:   device,
		pwm:      pwm,
		tach:     NewPollingCounter(tachLine, 0),
		opts:     opts,
		recorder: recorder,
		logger:   logger,
		metrics:  metricsCollector,
	}
	if h, ok := tachLine.(halter); ok {
		f.release = h
	}

	logger.Info(ctx, "[FAN_INIT] Fan controller initialized", logging.Fields{
		"device":    name,
		"device_id": device.DeviceID,
	})
	return f, nil
}

// Name returns the registered device name.
func (f *FanController) Name() string {
	return f.device.DeviceName
}

// RPM returns the last measured speed.
func (f *FanController) RPM() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rpm
}

// SetSpeed sets the duty cycle (0 to 1), waits for the fan to settle,
// measures RPM and records the new state.
func (f *FanController) SetSpeed(ctx context.Context, speed float64) error {
	if math.IsNaN(speed) || speed < 0 || speed > 1 {
		return &models.ValidationError{
			Field:   "speed",
			Value:   fmt.Sprintf("%v", speed),
			Message: "speed must be a value between 0.0 and 1.0",
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.pwm.PwmWrite(byte(math.Round(speed * 255))); err != nil {
		f.metrics.RecordDeviceError(f.device.DeviceName, "pwm_write")
		return fmt.Errorf("failed to set %s speed: %w", f.device.DeviceName, err)
	}

	if err := sleep(ctx, f.opts.StabiliseDelay); err != nil {
		return err
	}

	pulses, err := f.tach.CountPulses(ctx, f.opts.SampleWindow)
	if err != nil {
		f.metrics.RecordDeviceError(f.device.DeviceName, "tach_read")
		return fmt.Errorf("failed to measure %s rpm: %w", f.device.DeviceName, err)
	}
	f.rpm = ComputeRPM(pulses, f.opts.PulsesPerRev, f.opts.SampleWindow)
	f.metrics.RecordFanReading(f.device.DeviceName, speed, f.rpm)

	f.logger.Info(ctx, "[FAN_SET_SPEED] Fan speed updated", logging.Fields{
		"device": f.device.DeviceName,
		"speed":  speed,
		"rpm":    f.rpm,
	})

	_, err = f.recorder.Record(ctx, f.device, speed > 0, models.FanStatusData{
		Speed: speed,
		RPM:   f.rpm,
		IsOn:  speed > 0,
	})
	return err
}

// Cleanup stops the fan and releases the tach line. The PWM line stays
// claimed at zero duty.
//
// Halt is deliberately not called on the PWM driver. Halting it unexports
// the pin and the line floats, and a 4-pin fan reads a floating PWM input
// as full duty: the fan spun back up to maximum right after being stopped.
func (f *FanController) Cleanup() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.pwm.PwmWrite(0); err != nil {
		return fmt.Errorf("failed to stop %s: %w", f.device.DeviceName, err)
	}
	if f.release != nil {
		if err := f.release.Halt(); err != nil {
			return fmt.Errorf("failed to release %s tach line: %w", f.device.DeviceName, err)
		}
	}
	f.metrics.RecordDeviceState(f.device.DeviceName, false)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
