package devices

import (
	"context"
	"fmt"
	"sync"

	"vivarium/internal/models"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

// RelayController switches a single relay-driven device and keeps
// device_status in step with it.
type RelayController struct {
	device   *models.Device
	sw       Switch
	recorder *StatusRecorder
	logger   logging.Logger
	metrics  *metrics.Collector

	mu sync.Mutex
}

// NewRelayController registers name and returns its controller. A nil
// switch yields a controller whose Toggle returns ErrNotInitialized.
func NewRelayController(ctx context.Context, name string, sw Switch, recorder *StatusRecorder,
	logger logging.Logger, metricsCollector *metrics.Collector) (*RelayController, error) {
	device, err := recorder.Register(ctx, name, models.DeviceTypeRelay)
	if err != nil {
		return nil, err
	}
	return &RelayController{
		device:   device,
		sw:       sw,
		recorder: recorder,
		logger:   logger,
		metrics:  metricsCollector,
	}, nil
}

func NewLightController(ctx context.Context, sw Switch, recorder *StatusRecorder, logger logging.Logger, m *metrics.Collector) (*RelayController, error) {
	return NewRelayController(ctx, GrowLight, sw, recorder, logger, m)
}

func NewMisterController(ctx context.Context, sw Switch, recorder *StatusRecorder, logger logging.Logger, m *metrics.Collector) (*RelayController, error) {
	return NewRelayController(ctx, Mister, sw, recorder, logger, m)
}

func NewHumidifierController(ctx context.Context, sw Switch, recorder *StatusRecorder, logger logging.Logger, m *metrics.Collector) (*RelayController, error) {
	return NewRelayController(ctx, Humidifier, sw, recorder, logger, m)
}

// Name returns the registered device name.
func (c *RelayController) Name() string {
	return c.device.DeviceName
}

// Toggle switches the relay to the requested state. Nothing is switched or
// recorded when the last stored status already matches.
func (c *RelayController) Toggle(ctx context.Context, on bool) error {
	if c.sw == nil {
		return fmt.Errorf("%s: %w", c.device.DeviceName, ErrNotInitialized)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	latest, err := c.recorder.Latest(ctx, c.device.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to get %s status: %w", c.device.DeviceName, err)
	}
	if latest == nil {
		c.logger.Warn(ctx, "[RELAY_STATE_UNKNOWN] No stored status, switching anyway", logging.Fields{
			"device": c.device.DeviceName,
		})
	} else if latest.IsOn == on {
		c.logger.Info(ctx, "[RELAY_NOOP] Device already in requested state", logging.Fields{
			"device": c.device.DeviceName,
			"is_on":  on,
		})
		return nil
	}

	if on {
		err = c.sw.On()
	} else {
		err = c.sw.Off()
	}
	if err != nil {
		c.metrics.RecordDeviceError(c.device.DeviceName, "switch")
		return fmt.Errorf("failed to switch %s: %w", c.device.DeviceName, err)
	}
	c.metrics.RecordDeviceState(c.device.DeviceName, on)

	if _, err := c.recorder.Record(ctx, c.device, on, models.RelayStatusData{IsOn: on}); err != nil {
		return err
	}

	c.logger.Info(ctx, "[RELAY_TOGGLE] Device switched", logging.Fields{
		"device": c.device.DeviceName,
		"is_on":  on,
	})
	return nil
}

func (c *RelayController) On(ctx context.Context) error  { return c.Toggle(ctx, true) }
func (c *RelayController) Off(ctx context.Context) error { return c.Toggle(ctx, false) }

// IsOn reports the last stored state. A device that never reported is off.
func (c *RelayController) IsOn(ctx context.Context) (bool, error) {
	latest, err := c.recorder.Latest(ctx, c.device.DeviceID)
	if err != nil {
		return false, fmt.Errorf("failed to get %s status: %w", c.device.DeviceName, err)
	}
	return latest != nil && latest.IsOn, nil
}
