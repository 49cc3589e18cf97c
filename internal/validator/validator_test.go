package validator

import (
	"context"
	"encoding/json"
	"testing"

	"vivarium/internal/models"
	"vivarium/pkg/logging"
)

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return m
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantErr   bool
		wantField string
	}{
		{
			name:  "valid payload",
			input: `{"location":{"name":"x","lat":1.5,"lon":2},"forecast":{"forecastday":[{"date":"2024-07-28","day":{},"astro":{},"hour":[]}]}}`,
		},
		{
			name:  "empty forecastday is acceptable",
			input: `{"location":{"name":"x","lat":1,"lon":2},"forecast":{"forecastday":[]}}`,
		},
		{
			name:      "missing forecast",
			input:     `{"location":{"name":"x","lat":1,"lon":2}}`,
			wantErr:   true,
			wantField: "forecast",
		},
		{
			name:      "missing lon",
			input:     `{"location":{"name":"x","lat":1},"forecast":{"forecastday":[]}}`,
			wantErr:   true,
			wantField: "location.lon",
		},
		{
			name:      "string latitude",
			input:     `{"location":{"name":"x","lat":"1.0","lon":2},"forecast":{"forecastday":[]}}`,
			wantErr:   true,
			wantField: "location.lat",
		},
		{
			name:      "forecastday not a list",
			input:     `{"location":{"name":"x","lat":1,"lon":2},"forecast":{"forecastday":{}}}`,
			wantErr:   true,
			wantField: "forecast.forecastday",
		},
		{
			name:      "day entry missing astro",
			input:     `{"location":{"name":"x","lat":1,"lon":2},"forecast":{"forecastday":[{"date":"d","day":{},"hour":[]}]}}`,
			wantErr:   true,
			wantField: "forecast.forecastday.astro",
		},
		{
			name:      "hour not a list",
			input:     `{"location":{"name":"x","lat":1,"lon":2},"forecast":{"forecastday":[{"date":"d","day":{},"astro":{},"hour":{}}]}}`,
			wantErr:   true,
			wantField: "forecast.forecastday.hour",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(context.Background(), decode(t, tt.input), logging.NewNopLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			ve, ok := err.(*models.ValidationError)
			if !ok {
				t.Fatalf("error type = %T, want *models.ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "2024-07-28.json", want: "2024-07-28"},
		{name: "2024-02-29.json", want: "2024-02-29"},
		{name: "2023-02-29.json", wantErr: true},
		{name: "2024-7-28.json", wantErr: true},
		{name: "2024-07-28_processed.json", wantErr: true},
		{name: "notes.txt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateFilename(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateFilename() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ValidateFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoundCoordinates(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantChanged bool
		wantLat     float64
		wantLon     float64
	}{
		{
			name:        "already two decimals",
			input:       `{"location":{"lat":37.77,"lon":-122.42}}`,
			wantChanged: false,
			wantLat:     37.77,
			wantLon:     -122.42,
		},
		{
			name:        "extra precision is rounded",
			input:       `{"location":{"lat":5.9804,"lon":116.0735}}`,
			wantChanged: true,
			wantLat:     5.98,
			wantLon:     116.07,
		},
		{
			name:        "integers are untouched",
			input:       `{"location":{"lat":5,"lon":116}}`,
			wantChanged: false,
			wantLat:     5,
			wantLon:     116,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := decode(t, tt.input)
			changed := RoundCoordinates(context.Background(), data, "test.json", logging.NewNopLogger())
			if changed != tt.wantChanged {
				t.Errorf("RoundCoordinates() = %v, want %v", changed, tt.wantChanged)
			}
			loc := data["location"].(map[string]interface{})
			if loc["lat"] != tt.wantLat || loc["lon"] != tt.wantLon {
				t.Errorf("coordinates = (%v, %v), want (%v, %v)", loc["lat"], loc["lon"], tt.wantLat, tt.wantLon)
			}
		})
	}

	if RoundCoordinates(context.Background(), map[string]interface{}{}, "x", logging.NewNopLogger()) {
		t.Error("RoundCoordinates() without location should report no change")
	}
}

func TestParseLatLong(t *testing.T) {
	tests := []struct {
		input   string
		lat     float64
		lon     float64
		wantErr bool
	}{
		{input: "5.98,116.07", lat: 5.98, lon: 116.07},
		{input: " -33.9 , 18.4 ", lat: -33.9, lon: 18.4},
		{input: "91,0", wantErr: true},
		{input: "0,-181", wantErr: true},
		{input: "abc,1", wantErr: true},
		{input: "1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			lat, lon, err := ParseLatLong(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLatLong() error = %v, wantErr %v", err, tt.wantErr)
			}
			if lat != tt.lat || lon != tt.lon {
				t.Errorf("ParseLatLong() = (%v, %v), want (%v, %v)", lat, lon, tt.lat, tt.lon)
			}
		})
	}
}
