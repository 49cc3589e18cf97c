package app

import (
	"context"
	"fmt"
	"strconv"

	"vivarium/internal/config"
	"vivarium/internal/devices"
)

// DeviceCommand is one manual device action from the command line.
type DeviceCommand struct {
	Device string
	Target string
	Action string
	Speed  float64
}

// DeviceUsage describes the accepted command forms.
const DeviceUsage = `usage: devicectl [flags] <command>

  fan <intake|exhaust> speed <0-1|off|low|med|high|max>
  aeration <default|max|off>
  aeration speed <0-1|off|low|med|high|max>
  light <on|off>
  mister <on|off>
  humidifier <on|off>`

// ParseDeviceCommand reads a command from args. Named speed levels are
// resolved against the matching fan section.
func ParseDeviceCommand(args []string, cfg *config.Config) (*DeviceCommand, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("missing command")
	}
	cmd := &DeviceCommand{Device: args[0]}

	switch cmd.Device {
	case "fan":
		if len(args) != 4 || args[2] != "speed" {
			return nil, fmt.Errorf("fan takes <intake|exhaust> speed <value>")
		}
		var fan config.FanConfig
		switch args[1] {
		case "intake":
			cmd.Target, fan = devices.IntakeFan, cfg.Intake
		case "exhaust":
			cmd.Target, fan = devices.ExhaustFan, cfg.Exhaust
		default:
			return nil, fmt.Errorf("unknown fan %q", args[1])
		}
		cmd.Action = "speed"
		speed, err := parseSpeed(args[3], fan)
		if err != nil {
			return nil, err
		}
		cmd.Speed = speed

	case "aeration":
		switch args[1] {
		case "default", "max", "off":
			if len(args) != 2 {
				return nil, fmt.Errorf("aeration %s takes no value", args[1])
			}
			cmd.Action = args[1]
		case "speed":
			if len(args) != 3 {
				return nil, fmt.Errorf("aeration speed takes one value")
			}
			speed, err := parseSpeed(args[2], cfg.Intake)
			if err != nil {
				return nil, err
			}
			cmd.Action, cmd.Speed = "speed", speed
		default:
			return nil, fmt.Errorf("unknown aeration action %q", args[1])
		}

	case "light", "mister", "humidifier":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return nil, fmt.Errorf("%s takes on or off", cmd.Device)
		}
		cmd.Action = args[1]

	default:
		return nil, fmt.Errorf("unknown device %q", cmd.Device)
	}
	return cmd, nil
}

func parseSpeed(s string, fan config.FanConfig) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if v < 0 || v > 1 {
			return 0, fmt.Errorf("speed %v out of range 0-1", v)
		}
		return v, nil
	}
	return fan.Fraction(s)
}

// Execute applies the command to hw.
func (c *DeviceCommand) Execute(ctx context.Context, hw *Hardware) error {
	switch c.Device {
	case "fan":
		fan := hw.Intake
		if c.Target == devices.ExhaustFan {
			fan = hw.Exhaust
		}
		return fan.SetSpeed(ctx, c.Speed)
	case "aeration":
		switch c.Action {
		case "default":
			return hw.Aeration.SetDefaultSpeed(ctx)
		case "max":
			return hw.Aeration.SetMaxSpeed(ctx)
		case "off":
			return hw.Aeration.Off(ctx)
		}
		return hw.Aeration.SetSpeed(ctx, c.Speed)
	case "light":
		return hw.Light.Toggle(ctx, c.Action == "on")
	case "mister":
		return hw.Mister.Toggle(ctx, c.Action == "on")
	case "humidifier":
		return hw.Humidifier.Toggle(ctx, c.Action == "on")
	}
	return fmt.Errorf("unknown device %q", c.Device)
}
