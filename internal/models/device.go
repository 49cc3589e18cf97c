package models

import (
	"time"
)

// Device types stored in devices.device_type.
const (
	DeviceTypeFan   = "fan"
	DeviceTypeRelay = "relay"
)

// Device is a piece of vivarium hardware.
type Device struct {
	DeviceID   int64     `json:"device_id" db:"device_id"`
	DeviceName string    `json:"device_name" db:"device_name"`
	DeviceType string    `json:"device_type" db:"device_type"`
	Location   *string   `json:"location,omitempty" db:"location"`
	Model      *string   `json:"model,omitempty" db:"model"`
	DateAdded  time.Time `json:"date_added" db:"date_added"`
}

// DeviceStatus is one state transition of a device.
type DeviceStatus struct {
	StatusID   int64     `json:"status_id" db:"status_id"`
	DeviceID   int64     `json:"device_id" db:"device_id"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	IsOn       bool      `json:"is_on" db:"is_on"`
	DeviceData JSONData  `json:"device_data,omitempty" db:"device_data"`
}

// FanStatusData is the device_data payload written by fan controllers.
// Speed is a fraction in [0,1].
type FanStatusData struct {
	Speed float64 `json:"speed"`
	RPM   float64 `json:"rpm"`
	IsOn  bool    `json:"is_on"`
}

// RelayStatusData is the device_data payload written by relay controllers.
type RelayStatusData struct {
	IsOn bool `json:"is_on"`
}
