package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vivarium/internal/config"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

const commandTimeout = 30 * time.Second

// CommandHandler runs one device command given in devicectl form, for
// example ["light", "on"] or ["fan", "intake", "speed", "0.5"].
type CommandHandler func(ctx context.Context, args []string) error

// Command is a message on the command topic. Accepted forms:
//
//	{"action": "light_on"}
//	{"action": "set_fan_speed", "value": 60}
//	{"device": "fan", "target": "intake", "action": "speed", "value": "max"}
//
// A set_fan_speed value above 1 is a percentage.
type Command struct {
	Device string      `json:"device,omitempty"`
	Target string      `json:"target,omitempty"`
	Action string      `json:"action"`
	Value  interface{} `json:"value,omitempty"`
}

var switchedDevices = map[string]bool{"light": true, "mister": true, "humidifier": true}

// Args converts the command to devicectl arguments.
func (c Command) Args() ([]string, error) {
	if c.Action == "" {
		return nil, fmt.Errorf("command has no action")
	}
	if c.Device != "" {
		args := []string{c.Device}
		if c.Target != "" {
			args = append(args, c.Target)
		}
		args = append(args, c.Action)
		if c.Value != nil {
			v, err := formatValue(c.Value, false)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return args, nil
	}

	if c.Action == "set_fan_speed" {
		if c.Value == nil {
			return nil, fmt.Errorf("set_fan_speed needs a value")
		}
		v, err := formatValue(c.Value, true)
		if err != nil {
			return nil, err
		}
		if c.Target != "" {
			return []string{"fan", c.Target, "speed", v}, nil
		}
		return []string{"aeration", "speed", v}, nil
	}

	if i := strings.LastIndex(c.Action, "_"); i > 0 {
		device, state := c.Action[:i], c.Action[i+1:]
		if switchedDevices[device] && (state == "on" || state == "off") {
			return []string{device, state}, nil
		}
	}
	return nil, fmt.Errorf("unknown action %q", c.Action)
}

func formatValue(v interface{}, percent bool) (string, error) {
	switch val := v.(type) {
	case float64:
		if percent && val > 1 {
			val /= 100
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case string:
		return val, nil
	}
	return "", fmt.Errorf("unsupported value %v", v)
}

// Bridge publishes events to the data topic and runs commands from the
// command topic. It satisfies devices.Publisher.
type Bridge struct {
	client  Client
	cfg     config.MQTTConfig
	logger  logging.Logger
	metrics *metrics.Collector
}

func NewBridge(client Client, cfg config.MQTTConfig, logger logging.Logger, metricsCollector *metrics.Collector) *Bridge {
	return &Bridge{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Publish sends an encoded event to the data topic. The key is only
// logged; MQTT has no message keys.
func (b *Bridge) Publish(ctx context.Context, key string, value []byte) error {
	err := b.client.Publish(b.cfg.DataTopic, value)
	b.metrics.RecordMQTTMessage("publish", err)
	if err != nil {
		return err
	}
	b.logger.Debug(ctx, "[MQTT_PUBLISH] Event published", logging.Fields{
		"topic": b.cfg.DataTopic,
		"key":   key,
	})
	return nil
}

// Listen subscribes to the command topic. Each command runs through
// handle under ctx with its own timeout.
func (b *Bridge) Listen(ctx context.Context, handle CommandHandler) error {
	err := b.client.Subscribe(b.cfg.CommandTopic, func(payload []byte) {
		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		b.HandleCommand(cmdCtx, payload, handle)
	})
	if err != nil {
		return err
	}
	b.logger.Info(ctx, "[MQTT_SUBSCRIBED] Listening for device commands", logging.Fields{
		"topic": b.cfg.CommandTopic,
	})
	return nil
}

// HandleCommand decodes and runs one command message. Failures are logged
// and counted; a bad message never stops the subscription.
func (b *Bridge) HandleCommand(ctx context.Context, payload []byte, handle CommandHandler) {
	err := b.runCommand(ctx, payload, handle)
	b.metrics.RecordMQTTMessage("command", err)
	if err != nil {
		b.logger.Error(ctx, "[MQTT_COMMAND_ERROR] Device command failed", logging.Fields{
			"topic":   b.cfg.CommandTopic,
			"payload": string(payload),
		}, err)
	}
}

func (b *Bridge) runCommand(ctx context.Context, payload []byte, handle CommandHandler) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("invalid command payload: %w", err)
	}
	args, err := cmd.Args()
	if err != nil {
		return err
	}
	b.logger.Info(ctx, "[MQTT_COMMAND] Running device command", logging.Fields{
		"args": strings.Join(args, " "),
	})
	return handle(ctx, args)
}
