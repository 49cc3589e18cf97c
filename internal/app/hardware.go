package app

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"vivarium/internal/config"
	"vivarium/internal/devices"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

// Hardware is every controller attached to the board.
type Hardware struct {
	Board      *devices.Board
	Intake     *devices.FanController
	Exhaust    *devices.FanController
	Aeration   *devices.AerationController
	Light      *devices.RelayController
	Mister     *devices.RelayController
	Humidifier *devices.RelayController
	// Sensor is nil when the sensor section is disabled.
	Sensor *devices.SensorReader
}

// FanOptions converts a fan section into controller options.
func FanOptions(f config.FanConfig) devices.FanOptions {
	return devices.FanOptions{
		PulsesPerRev:   f.PulsesPerRev,
		StabiliseDelay: f.StabiliseDelay,
		SampleWindow:   f.SampleWindow,
	}
}

// SensorOptions converts the sensor section into read options.
func SensorOptions(s config.SensorConfig) devices.SensorOptions {
	return devices.SensorOptions{
		Timeout:       s.ReadTimeout,
		Retries:       s.Retries,
		RetryInterval: s.RetryInterval,
	}
}

// AerationSpeeds reads the default and max presets from the intake fan
// section.
func AerationSpeeds(f config.FanConfig) (devices.AerationSpeeds, error) {
	def, err := f.Fraction(f.DefaultSpeedLevel)
	if err != nil {
		return devices.AerationSpeeds{}, err
	}
	full, err := f.Fraction("max")
	if err != nil {
		return devices.AerationSpeeds{}, err
	}
	return devices.AerationSpeeds{Default: def, Max: full}, nil
}

// OpenHardware connects the board and registers every device with
// recorder. On error everything already started is released.
func OpenHardware(ctx context.Context, cfg *config.Config, recorder *devices.StatusRecorder,
	logger logging.Logger, m *metrics.Collector) (hw *Hardware, err error) {
	board := devices.NewRaspiBoard()
	if err := board.Connect(); err != nil {
		return nil, err
	}
	hw = &Hardware{Board: board}
	defer func() {
		if err != nil {
			hw.Close()
			hw = nil
		}
	}()

	if hw.Intake, err = openFan(ctx, board, devices.IntakeFan, cfg.Intake, recorder, logger, m); err != nil {
		return hw, err
	}
	if hw.Exhaust, err = openFan(ctx, board, devices.ExhaustFan, cfg.Exhaust, recorder, logger, m); err != nil {
		return hw, err
	}
	speeds, err := AerationSpeeds(cfg.Intake)
	if err != nil {
		return hw, err
	}
	hw.Aeration = devices.NewAerationController(hw.Intake, hw.Exhaust, speeds, logger)

	sw, err := board.Relay(cfg.Growlight.Pin)
	if err != nil {
		return hw, err
	}
	if hw.Light, err = devices.NewLightController(ctx, sw, recorder, logger, m); err != nil {
		return hw, err
	}
	if sw, err = board.Relay(cfg.Mister.Pin); err != nil {
		return hw, err
	}
	if hw.Mister, err = devices.NewMisterController(ctx, sw, recorder, logger, m); err != nil {
		return hw, err
	}
	if sw, err = board.Relay(cfg.Humidifier.Pin); err != nil {
		return hw, err
	}
	if hw.Humidifier, err = devices.NewHumidifierController(ctx, sw, recorder, logger, m); err != nil {
		return hw, err
	}

	if !cfg.Sensor.Enabled {
		return hw, nil
	}
	climate, err := board.Sensor(cfg.Sensor.Bus)
	if err != nil {
		return hw, fmt.Errorf("%s: %w", cfg.Sensor.Name, err)
	}
	if hw.Sensor, err = devices.NewSensorReader(ctx, cfg.Sensor.Name, climate, SensorOptions(cfg.Sensor),
		recorder, logger, m); err != nil {
		return hw, err
	}
	return hw, nil
}

func openFan(ctx context.Context, board *devices.Board, name string, f config.FanConfig,
	recorder *devices.StatusRecorder, logger logging.Logger, m *metrics.Collector) (*devices.FanController, error) {
	pwm, tach, err := board.Fan(f.PWMPin, f.TachPin)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return devices.NewFanController(ctx, name, pwm, tach, FanOptions(f), recorder, logger, m)
}

// Close stops the fans and releases the board.
func (h *Hardware) Close() error {
	var result *multierror.Error
	if h.Aeration != nil {
		if err := h.Aeration.Cleanup(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := h.Board.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
