// Package events publishes device status changes and sensor readings to
// Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"vivarium/internal/models"
)

// Producer wraps a Kafka writer.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a synchronous producer for topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // one partition per device
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// Publish sends a message to Kafka
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// DeviceStatusEvent is the message written for every stored status row.
type DeviceStatusEvent struct {
	StatusID   int64           `json:"status_id"`
	DeviceID   int64           `json:"device_id"`
	DeviceName string          `json:"device_name"`
	IsOn       bool            `json:"is_on"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"device_data,omitempty"`
}

// NewDeviceStatusEvent builds the event for a stored status row.
func NewDeviceStatusEvent(name string, s *models.DeviceStatus) DeviceStatusEvent {
	ev := DeviceStatusEvent{
		StatusID:   s.StatusID,
		DeviceID:   s.DeviceID,
		DeviceName: name,
		IsOn:       s.IsOn,
		Timestamp:  s.Timestamp,
	}
	if len(s.DeviceData) > 0 {
		ev.Data = json.RawMessage(s.DeviceData)
	}
	return ev
}

// Key partitions events by device.
func (e DeviceStatusEvent) Key() string {
	return strconv.FormatInt(e.DeviceID, 10)
}

// Encode returns the JSON form of the event.
func (e DeviceStatusEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// SensorReadingEvent is the message written for every stored sensor
// reading.
type SensorReadingEvent struct {
	ReadingID  int64           `json:"reading_id"`
	SensorID   int64           `json:"sensor_id"`
	SensorName string          `json:"sensor_name"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"raw_data,omitempty"`
}

// NewSensorReadingEvent builds the event for a stored reading.
func NewSensorReadingEvent(name string, r *models.SensorReading) SensorReadingEvent {
	ev := SensorReadingEvent{
		ReadingID:  r.ReadingID,
		SensorID:   r.SensorID,
		SensorName: name,
		Timestamp:  r.Timestamp,
	}
	if len(r.RawData) > 0 {
		ev.Data = json.RawMessage(r.RawData)
	}
	return ev
}

// Key partitions readings by sensor, apart from device keys.
func (e SensorReadingEvent) Key() string {
	return "sensor-" + strconv.FormatInt(e.SensorID, 10)
}

func (e SensorReadingEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}
