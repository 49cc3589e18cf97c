// Package broker bridges the controller to an MQTT broker. Sensor readings
// and device status are published to a data topic, and device commands
// are taken from a command topic.
package broker

import (
	"errors"
	"fmt"

	"gobot.io/x/gobot/v2/platforms/mqtt"

	"vivarium/internal/config"
)

var (
	ErrNotPublished  = errors.New("mqtt publish failed")
	ErrNotSubscribed = errors.New("mqtt subscribe failed")
)

// Client is the part of an MQTT connection the bridge uses.
type Client interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func(payload []byte)) error
}

// AdaptorClient is a Client over a gobot MQTT adaptor.
type AdaptorClient struct {
	adaptor *mqtt.Adaptor
}

// Dial connects to the configured broker. The adaptor reconnects on its
// own after a dropped connection.
func Dial(cfg config.MQTTConfig) (*AdaptorClient, error) {
	var a *mqtt.Adaptor
	if cfg.Username != "" {
		a = mqtt.NewAdaptorWithAuth(cfg.Broker, cfg.ClientID, cfg.Username, cfg.Password)
	} else {
		a = mqtt.NewAdaptor(cfg.Broker, cfg.ClientID)
	}
	a.SetAutoReconnect(true)
	if err := a.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", cfg.Broker, err)
	}
	return &AdaptorClient{adaptor: a}, nil
}

func (c *AdaptorClient) Publish(topic string, payload []byte) error {
	if !c.adaptor.Publish(topic, payload) {
		return fmt.Errorf("%s: %w", topic, ErrNotPublished)
	}
	return nil
}

func (c *AdaptorClient) Subscribe(topic string, handler func(payload []byte)) error {
	ok := c.adaptor.On(topic, func(msg mqtt.Message) {
		handler(msg.Payload())
	})
	if !ok {
		return fmt.Errorf("%s: %w", topic, ErrNotSubscribed)
	}
	return nil
}

// Close disconnects from the broker.
func (c *AdaptorClient) Close() error {
	return c.adaptor.Finalize()
}
