// Package devices drives the vivarium hardware and records every state
// change in device_status.
package devices

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"
)

// ErrNotInitialized is returned when a controller has no hardware attached.
var ErrNotInitialized = errors.New("device not initialized")

// Device names as registered in the devices table.
const (
	ExhaustFan = "exhaust_fan"
	IntakeFan  = "intake_fan"
	GrowLight  = "grow_light"
	Mister     = "mister"
	Humidifier = "humidifier"
)

// PWMWriter sets a duty cycle, 0 to 255.
type PWMWriter interface {
	PwmWrite(level byte) error
}

// DigitalReader reads an input line, 0 or 1.
type DigitalReader interface {
	DigitalRead() (int, error)
}

// Switch is an on/off output such as a relay.
type Switch interface {
	On() error
	Off() error
	State() bool
}

type halter interface {
	Halt() error
}

// Board owns the Raspberry Pi adaptor and the drivers created on it.
type Board struct {
	adaptor *raspi.Adaptor

	mu      sync.Mutex
	drivers []halter
}

// NewRaspiBoard creates a board. Call Connect before using any driver.
func NewRaspiBoard() *Board {
	return &Board{adaptor: raspi.NewAdaptor()}
}

// Connect opens the GPIO chip.
func (b *Board) Connect() error {
	if err := b.adaptor.Connect(); err != nil {
		return fmt.Errorf("failed to connect raspi adaptor: %w", err)
	}
	return nil
}

// Fan returns the PWM output and tachometer input of a 4-pin fan. Only the
// tach line is halted by Close; see FanController.Cleanup.
func (b *Board) Fan(pwmPin, tachPin string) (PWMWriter, DigitalReader, error) {
	pwm := gpio.NewDirectPinDriver(b.adaptor, pwmPin)
	if err := pwm.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start pwm pin %s: %w", pwmPin, err)
	}
	tach := gpio.NewDirectPinDriver(b.adaptor, tachPin)
	if err := tach.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start tach pin %s: %w", tachPin, err)
	}
	b.track(tach)
	return pwm, tach, nil
}

// Relay returns a relay switch on pin.
func (b *Board) Relay(pin string) (Switch, error) {
	relay := gpio.NewRelayDriver(b.adaptor, pin)
	if err := relay.Start(); err != nil {
		return nil, fmt.Errorf("failed to start relay pin %s: %w", pin, err)
	}
	b.track(relay)
	return relay, nil
}

// Sensor starts a temperature and humidity sensor on an I2C bus. The
// HTU21D answers at the SHT2x address with the same commands.
func (b *Board) Sensor(bus int) (ClimateSensor, error) {
	sensor := i2c.NewSHT2xDriver(b.adaptor, i2c.WithBus(bus))
	if err := sensor.Start(); err != nil {
		return nil, fmt.Errorf("failed to start sensor on i2c bus %d: %w", bus, err)
	}
	b.track(sensor)
	return sensor, nil
}

func (b *Board) track(drivers ...halter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drivers = append(b.drivers, drivers...)
}

// Close halts every driver and releases the adaptor.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result *multierror.Error
	for _, d := range b.drivers {
		if err := d.Halt(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	b.drivers = nil
	if err := b.adaptor.Finalize(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
