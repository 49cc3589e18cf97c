package models

import (
	"math"
	"time"
)

// SensorTypeTempHumidity is stored in sensors.sensor_type for combined
// temperature and humidity sensors.
const SensorTypeTempHumidity = "temperature_humidity"

// Sensor is a registered environmental sensor.
type Sensor struct {
	SensorID   int64     `json:"sensor_id" db:"sensor_id"`
	SensorName string    `json:"sensor_name" db:"sensor_name"`
	SensorType string    `json:"sensor_type" db:"sensor_type"`
	Location   *string   `json:"location,omitempty" db:"location"`
	DateAdded  time.Time `json:"date_added" db:"date_added"`
}

// SensorReading is one stored measurement. RawData holds a
// ClimateSample.
type SensorReading struct {
	ReadingID int64     `json:"reading_id" db:"reading_id"`
	SensorID  int64     `json:"sensor_id" db:"sensor_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	RawData   JSONData  `json:"raw_data,omitempty" db:"raw_data"`
}

// Sample decodes RawData.
func (r *SensorReading) Sample() (ClimateSample, error) {
	var s ClimateSample
	err := r.RawData.Decode(&s)
	return s, err
}

// ClimateSample is the raw_data payload of a temperature and humidity
// reading. Values are rounded to two decimals.
type ClimateSample struct {
	TemperatureF float64 `json:"temperature_fahrenheit"`
	TemperatureC float64 `json:"temperature_celsius"`
	Humidity     float64 `json:"humidity_percentage"`
}

// NewClimateSample builds a sample from a Celsius temperature and relative
// humidity.
func NewClimateSample(celsius, humidity float64) ClimateSample {
	return ClimateSample{
		TemperatureF: round2(celsius*9/5 + 32),
		TemperatureC: round2(celsius),
		Humidity:     round2(humidity),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
