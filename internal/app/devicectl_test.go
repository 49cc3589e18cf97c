package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vivarium/internal/config"
	"vivarium/internal/devices"
)

func TestParseDeviceCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    *DeviceCommand
		wantErr bool
	}{
		{
			name: "fan numeric speed",
			args: []string{"fan", "exhaust", "speed", "0.5"},
			want: &DeviceCommand{Device: "fan", Target: devices.ExhaustFan, Action: "speed", Speed: 0.5},
		},
		{
			name: "fan named level",
			args: []string{"fan", "intake", "speed", "high"},
			want: &DeviceCommand{Device: "fan", Target: devices.IntakeFan, Action: "speed", Speed: 0.85},
		},
		{
			name: "aeration preset",
			args: []string{"aeration", "max"},
			want: &DeviceCommand{Device: "aeration", Action: "max"},
		},
		{
			name: "aeration speed",
			args: []string{"aeration", "speed", "0.25"},
			want: &DeviceCommand{Device: "aeration", Action: "speed", Speed: 0.25},
		},
		{
			name: "light on",
			args: []string{"light", "on"},
			want: &DeviceCommand{Device: "light", Action: "on"},
		},
		{
			name: "humidifier off",
			args: []string{"humidifier", "off"},
			want: &DeviceCommand{Device: "humidifier", Action: "off"},
		},
		{name: "missing command", args: []string{"light"}, wantErr: true},
		{name: "unknown device", args: []string{"heater", "on"}, wantErr: true},
		{name: "unknown fan", args: []string{"fan", "ceiling", "speed", "0.5"}, wantErr: true},
		{name: "speed out of range", args: []string{"fan", "intake", "speed", "1.5"}, wantErr: true},
		{name: "unknown level", args: []string{"aeration", "speed", "turbo"}, wantErr: true},
		{name: "relay bad state", args: []string{"mister", "pulse"}, wantErr: true},
		{name: "preset with value", args: []string{"aeration", "off", "1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseDeviceCommand(tt.args, config.Default())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Device, cmd.Device)
			assert.Equal(t, tt.want.Target, cmd.Target)
			assert.Equal(t, tt.want.Action, cmd.Action)
			assert.InDelta(t, tt.want.Speed, cmd.Speed, 1e-9)
		})
	}
}

func TestCommandRunner_RejectsInvalidCommand(t *testing.T) {
	run := CommandRunner(config.Default(), &Hardware{})
	assert.ErrorContains(t, run(context.Background(), []string{"light", "dim"}), "light takes on or off")
	assert.ErrorContains(t, run(context.Background(), []string{"heater", "on"}), "unknown device")
}
