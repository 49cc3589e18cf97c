package models

import (
	"testing"
	"time"
)

const samplePayload = `{
  "location": {"name": "San Francisco", "region": "California", "country": "USA",
               "lat": 37.77, "lon": -122.42, "tz_id": "America/Los_Angeles",
               "localtime_epoch": 1722211200, "localtime": "2024-07-28 17:00"},
  "forecast": {"forecastday": [{
    "date": "2024-07-28",
    "date_epoch": 1722124800,
    "day": {"maxtemp_c": 21.3, "avghumidity": 78.0, "daily_chance_of_rain": "40",
            "condition": {"text": "Sunny", "icon": "//cdn/113.png", "code": 1000}, "uv": 6},
    "astro": {"sunrise": "06:12 AM", "sunset": "08:22 PM", "moon_illumination": "85"},
    "hour": [
      {"time_epoch": 1722150000, "time": "2024-07-28 00:00", "temp_c": 14.1, "is_day": 0,
       "condition": {"text": "Clear", "code": 1000}},
      {"time": "2024-07-28 01:00"}
    ]
  }]}
}`

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantErr     bool
		checkValues func(*testing.T, *WeatherPayload)
	}{
		{
			name:  "full payload with mixed numeric encodings",
			input: samplePayload,
			checkValues: func(t *testing.T, p *WeatherPayload) {
				if p.Location.Name != "San Francisco" {
					t.Errorf("Location.Name = %v, want San Francisco", p.Location.Name)
				}
				if len(p.Forecast.ForecastDay) != 1 {
					t.Fatalf("len(ForecastDay) = %d, want 1", len(p.Forecast.ForecastDay))
				}
				fd := p.Forecast.ForecastDay[0]
				if fd.Day.AvgHumidity == nil || *fd.Day.AvgHumidity != 78 {
					t.Errorf("AvgHumidity = %v, want 78", fd.Day.AvgHumidity)
				}
				if fd.Day.DailyChanceOfRain == nil || *fd.Day.DailyChanceOfRain != 40 {
					t.Errorf("DailyChanceOfRain = %v, want 40", fd.Day.DailyChanceOfRain)
				}
				if fd.Astro.MoonIllumination == nil || *fd.Astro.MoonIllumination != 85 {
					t.Errorf("MoonIllumination = %v, want 85", fd.Astro.MoonIllumination)
				}
				if len(fd.Hour) != 2 {
					t.Errorf("len(Hour) = %d, want 2", len(fd.Hour))
				}
			},
		},
		{
			name:    "malformed json",
			input:   `{"location": `,
			wantErr: true,
		},
		{
			name:    "non numeric integer field",
			input:   `{"location": {"name": "x", "lat": 1, "lon": 2, "localtime_epoch": "soon"}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePayload([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if _, ok := err.(*ValidationError); !ok {
					t.Errorf("error type = %T, want *ValidationError", err)
				}
				return
			}
			tt.checkValues(t, p)
		})
	}
}

func TestPayloadConverters(t *testing.T) {
	p, err := DecodePayload([]byte(samplePayload))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	fd := p.Forecast.ForecastDay[0]

	loc := p.Location.ToLocation()
	if loc.Latitude != 37.77 || loc.Longitude != -122.42 {
		t.Errorf("coordinates = (%v, %v), want (37.77, -122.42)", loc.Latitude, loc.Longitude)
	}
	if loc.LocaltimeEpoch == nil || *loc.LocaltimeEpoch != 1722211200 {
		t.Errorf("LocaltimeEpoch = %v, want 1722211200", loc.LocaltimeEpoch)
	}

	day, err := fd.ToForecastDay(7)
	if err != nil {
		t.Fatalf("ToForecastDay() error = %v", err)
	}
	wantDate := time.Date(2024, 7, 28, 0, 0, 0, 0, time.UTC)
	if !day.ForecastDate.Equal(wantDate) || day.LocationID != 7 {
		t.Errorf("ForecastDay = %+v, want location 7 on %v", day, wantDate)
	}

	dd := fd.Day.ToDayData(7, wantDate)
	if dd.ConditionCode == nil || *dd.ConditionCode != 1000 {
		t.Errorf("DayData.ConditionCode = %v, want 1000", dd.ConditionCode)
	}
	if dd.MinTempC != nil {
		t.Errorf("DayData.MinTempC = %v, want nil for an absent field", *dd.MinTempC)
	}

	astro := fd.Astro.ToAstroData(7, wantDate)
	if astro.Sunrise == nil || *astro.Sunrise != "06:12 AM" {
		t.Errorf("Sunrise = %v, want 06:12 AM", astro.Sunrise)
	}

	hour, err := fd.Hour[0].ToHourData(7, wantDate)
	if err != nil {
		t.Fatalf("ToHourData() error = %v", err)
	}
	if hour.TimeEpoch != 1722150000 || hour.ConditionCode == nil || *hour.ConditionCode != 1000 {
		t.Errorf("HourData = %+v", hour)
	}
	if _, err := fd.Hour[1].ToHourData(7, wantDate); err == nil {
		t.Error("ToHourData() without time_epoch should fail")
	}

	cond := fd.Day.Condition.ToCondition()
	if cond == nil || cond.Code != 1000 || cond.Text == nil || *cond.Text != "Sunny" {
		t.Errorf("ToCondition() = %+v", cond)
	}
	if (&PayloadCondition{}).ToCondition() != nil {
		t.Error("ToCondition() without code should be nil")
	}
}

func TestPayloadEmpty(t *testing.T) {
	var nilDay *PayloadDay
	if !nilDay.Empty() || !(&PayloadDay{}).Empty() {
		t.Error("nil and zero PayloadDay should be empty")
	}
	uv := 3.0
	if (&PayloadDay{UV: &uv}).Empty() {
		t.Error("PayloadDay with data should not be empty")
	}
	if !(&PayloadAstro{}).Empty() {
		t.Error("zero PayloadAstro should be empty")
	}
}

func TestParseDate(t *testing.T) {
	if _, err := ParseDate("2024-02-30"); err == nil {
		t.Error("ParseDate(2024-02-30) should fail")
	}
	d, err := ParseDate("2024-02-29")
	if err != nil {
		t.Fatalf("ParseDate() error = %v", err)
	}
	if d.Format(DateLayout) != "2024-02-29" {
		t.Errorf("ParseDate() = %v", d)
	}
}
