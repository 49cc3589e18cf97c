package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// FlexInt decodes integer columns the provider sometimes sends as floats
// (78.0) or quoted strings ("85").
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid integer value %q: %w", data, err)
	}
	*f = FlexInt(math.Round(v))
	return nil
}

func (f *FlexInt) int64Ptr() *int64 {
	if f == nil {
		return nil
	}
	v := int64(*f)
	return &v
}

// WeatherPayload is the history.json response body.
type WeatherPayload struct {
	Location PayloadLocation `json:"location"`
	Current  json.RawMessage `json:"current,omitempty"`
	Forecast PayloadForecast `json:"forecast"`
}

type PayloadLocation struct {
	Name           string   `json:"name"`
	Region         *string  `json:"region"`
	Country        *string  `json:"country"`
	Lat            float64  `json:"lat"`
	Lon            float64  `json:"lon"`
	TzID           *string  `json:"tz_id"`
	LocaltimeEpoch *FlexInt `json:"localtime_epoch"`
	Localtime      *string  `json:"localtime"`
}

type PayloadForecast struct {
	ForecastDay []PayloadForecastDay `json:"forecastday"`
}

type PayloadForecastDay struct {
	Date      string        `json:"date"`
	DateEpoch *FlexInt      `json:"date_epoch"`
	Day       *PayloadDay   `json:"day"`
	Astro     *PayloadAstro `json:"astro"`
	Hour      []PayloadHour `json:"hour"`
}

type PayloadCondition struct {
	Text *string  `json:"text"`
	Icon *string  `json:"icon"`
	Code *FlexInt `json:"code"`
}

type PayloadDay struct {
	MaxTempC          *float64          `json:"maxtemp_c"`
	MaxTempF          *float64          `json:"maxtemp_f"`
	MinTempC          *float64          `json:"mintemp_c"`
	MinTempF          *float64          `json:"mintemp_f"`
	AvgTempC          *float64          `json:"avgtemp_c"`
	AvgTempF          *float64          `json:"avgtemp_f"`
	MaxWindMph        *float64          `json:"maxwind_mph"`
	MaxWindKph        *float64          `json:"maxwind_kph"`
	TotalPrecipMm     *float64          `json:"totalprecip_mm"`
	TotalPrecipIn     *float64          `json:"totalprecip_in"`
	TotalSnowCm       *float64          `json:"totalsnow_cm"`
	AvgVisKm          *float64          `json:"avgvis_km"`
	AvgVisMiles       *float64          `json:"avgvis_miles"`
	AvgHumidity       *FlexInt          `json:"avghumidity"`
	DailyWillItRain   *FlexInt          `json:"daily_will_it_rain"`
	DailyChanceOfRain *FlexInt          `json:"daily_chance_of_rain"`
	DailyWillItSnow   *FlexInt          `json:"daily_will_it_snow"`
	DailyChanceOfSnow *FlexInt          `json:"daily_chance_of_snow"`
	Condition         *PayloadCondition `json:"condition"`
	UV                *float64          `json:"uv"`
}

// Empty reports whether the day object carried no data at all.
func (d *PayloadDay) Empty() bool {
	return d == nil || *d == PayloadDay{}
}

type PayloadAstro struct {
	Sunrise          *string  `json:"sunrise"`
	Sunset           *string  `json:"sunset"`
	Moonrise         *string  `json:"moonrise"`
	Moonset          *string  `json:"moonset"`
	MoonPhase        *string  `json:"moon_phase"`
	MoonIllumination *FlexInt `json:"moon_illumination"`
}

func (a *PayloadAstro) Empty() bool {
	return a == nil || *a == PayloadAstro{}
}

type PayloadHour struct {
	TimeEpoch    *FlexInt          `json:"time_epoch"`
	Time         *string           `json:"time"`
	TempC        *float64          `json:"temp_c"`
	TempF        *float64          `json:"temp_f"`
	IsDay        *FlexInt          `json:"is_day"`
	Condition    *PayloadCondition `json:"condition"`
	WindMph      *float64          `json:"wind_mph"`
	WindKph      *float64          `json:"wind_kph"`
	WindDegree   *FlexInt          `json:"wind_degree"`
	WindDir      *string           `json:"wind_dir"`
	PressureMb   *float64          `json:"pressure_mb"`
	PressureIn   *float64          `json:"pressure_in"`
	PrecipMm     *float64          `json:"precip_mm"`
	PrecipIn     *float64          `json:"precip_in"`
	SnowCm       *float64          `json:"snow_cm"`
	Humidity     *FlexInt          `json:"humidity"`
	Cloud        *FlexInt          `json:"cloud"`
	FeelslikeC   *float64          `json:"feelslike_c"`
	FeelslikeF   *float64          `json:"feelslike_f"`
	WindchillC   *float64          `json:"windchill_c"`
	WindchillF   *float64          `json:"windchill_f"`
	HeatindexC   *float64          `json:"heatindex_c"`
	HeatindexF   *float64          `json:"heatindex_f"`
	DewpointC    *float64          `json:"dewpoint_c"`
	DewpointF    *float64          `json:"dewpoint_f"`
	WillItRain   *FlexInt          `json:"will_it_rain"`
	ChanceOfRain *FlexInt          `json:"chance_of_rain"`
	WillItSnow   *FlexInt          `json:"will_it_snow"`
	ChanceOfSnow *FlexInt          `json:"chance_of_snow"`
	VisKm        *float64          `json:"vis_km"`
	VisMiles     *float64          `json:"vis_miles"`
	GustMph      *float64          `json:"gust_mph"`
	GustKph      *float64          `json:"gust_kph"`
	UV           *float64          `json:"uv"`
}

// DecodePayload decodes a raw API response.
func DecodePayload(data []byte) (*WeatherPayload, error) {
	var p WeatherPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ValidationError{
			Field:   "payload",
			Value:   "",
			Message: fmt.Sprintf("malformed weather payload: %v", err),
		}
	}
	return &p, nil
}

// ToLocation converts the payload location. Coordinates are taken as-is;
// rounding happens before decoding.
func (l *PayloadLocation) ToLocation() *Location {
	return &Location{
		Name:           l.Name,
		Region:         l.Region,
		Country:        l.Country,
		Latitude:       l.Lat,
		Longitude:      l.Lon,
		TimezoneID:     l.TzID,
		LocaltimeEpoch: l.LocaltimeEpoch.int64Ptr(),
		Localtime:      l.Localtime,
	}
}

// ToForecastDay builds the forecast-day row for locationID.
func (d *PayloadForecastDay) ToForecastDay(locationID int64) (*ForecastDay, error) {
	date, err := ParseDate(d.Date)
	if err != nil {
		return nil, err
	}
	return &ForecastDay{
		LocationID:        locationID,
		ForecastDate:      date,
		ForecastDateEpoch: d.DateEpoch.int64Ptr(),
	}, nil
}

// ToCondition returns nil when the condition has no code.
func (c *PayloadCondition) ToCondition() *Condition {
	if c == nil || c.Code == nil {
		return nil
	}
	return &Condition{Code: int64(*c.Code), Text: c.Text, Icon: c.Icon}
}

func (c *PayloadCondition) code() *int64 {
	if c == nil {
		return nil
	}
	return c.Code.int64Ptr()
}

func (d *PayloadDay) ToDayData(locationID int64, date time.Time) *DayData {
	return &DayData{
		LocationID:        locationID,
		ForecastDate:      date,
		MaxTempC:          d.MaxTempC,
		MaxTempF:          d.MaxTempF,
		MinTempC:          d.MinTempC,
		MinTempF:          d.MinTempF,
		AvgTempC:          d.AvgTempC,
		AvgTempF:          d.AvgTempF,
		MaxWindMph:        d.MaxWindMph,
		MaxWindKph:        d.MaxWindKph,
		TotalPrecipMm:     d.TotalPrecipMm,
		TotalPrecipIn:     d.TotalPrecipIn,
		TotalSnowCm:       d.TotalSnowCm,
		AvgVisKm:          d.AvgVisKm,
		AvgVisMiles:       d.AvgVisMiles,
		AvgHumidity:       d.AvgHumidity.int64Ptr(),
		DailyWillItRain:   d.DailyWillItRain.int64Ptr(),
		DailyChanceOfRain: d.DailyChanceOfRain.int64Ptr(),
		DailyWillItSnow:   d.DailyWillItSnow.int64Ptr(),
		DailyChanceOfSnow: d.DailyChanceOfSnow.int64Ptr(),
		ConditionCode:     d.Condition.code(),
		UV:                d.UV,
	}
}

func (a *PayloadAstro) ToAstroData(locationID int64, date time.Time) *AstroData {
	return &AstroData{
		LocationID:       locationID,
		ForecastDate:     date,
		Sunrise:          a.Sunrise,
		Sunset:           a.Sunset,
		Moonrise:         a.Moonrise,
		Moonset:          a.Moonset,
		MoonPhase:        a.MoonPhase,
		MoonIllumination: a.MoonIllumination.int64Ptr(),
	}
}

// ToHourData fails when the entry has no time_epoch, which is part of the
// primary key.
func (h *PayloadHour) ToHourData(locationID int64, date time.Time) (*HourData, error) {
	if h.TimeEpoch == nil {
		return nil, &ValidationError{
			Field:   "time_epoch",
			Value:   "",
			Message: "hour entry is missing time_epoch",
		}
	}
	return &HourData{
		LocationID:    locationID,
		ForecastDate:  date,
		TimeEpoch:     int64(*h.TimeEpoch),
		Time:          h.Time,
		TempC:         h.TempC,
		TempF:         h.TempF,
		IsDay:         h.IsDay.int64Ptr(),
		ConditionCode: h.Condition.code(),
		WindMph:       h.WindMph,
		WindKph:       h.WindKph,
		WindDegree:    h.WindDegree.int64Ptr(),
		WindDir:       h.WindDir,
		PressureMb:    h.PressureMb,
		PressureIn:    h.PressureIn,
		PrecipMm:      h.PrecipMm,
		PrecipIn:      h.PrecipIn,
		SnowCm:        h.SnowCm,
		Humidity:      h.Humidity.int64Ptr(),
		Cloud:         h.Cloud.int64Ptr(),
		FeelslikeC:    h.FeelslikeC,
		FeelslikeF:    h.FeelslikeF,
		WindchillC:    h.WindchillC,
		WindchillF:    h.WindchillF,
		HeatindexC:    h.HeatindexC,
		HeatindexF:    h.HeatindexF,
		DewpointC:     h.DewpointC,
		DewpointF:     h.DewpointF,
		WillItRain:    h.WillItRain.int64Ptr(),
		ChanceOfRain:  h.ChanceOfRain.int64Ptr(),
		WillItSnow:    h.WillItSnow.int64Ptr(),
		ChanceOfSnow:  h.ChanceOfSnow.int64Ptr(),
		VisKm:         h.VisKm,
		VisMiles:      h.VisMiles,
		GustMph:       h.GustMph,
		GustKph:       h.GustKph,
		UV:            h.UV,
	}, nil
}
