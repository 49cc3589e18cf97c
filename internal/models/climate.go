package models

import (
	"time"
)

// DateLayout is the calendar date format used in file names, payloads and
// DATE columns.
const DateLayout = "2006-01-02"

// Location is a place the weather API reports on. Latitude and longitude are
// rounded to two decimals and form the natural key.
// NULL columns are represented as pointers.
type Location struct {
	LocationID     int64   `json:"location_id" db:"location_id"`
	Name           string  `json:"name" db:"name"`
	Region         *string `json:"region,omitempty" db:"region"`
	Country        *string `json:"country,omitempty" db:"country"`
	Latitude       float64 `json:"latitude" db:"latitude"`
	Longitude      float64 `json:"longitude" db:"longitude"`
	TimezoneID     *string `json:"timezone_id,omitempty" db:"timezone_id"`
	LocaltimeEpoch *int64  `json:"localtime_epoch,omitempty" db:"localtime_epoch"`
	Localtime      *string `json:"localtime,omitempty" db:"localtime"`
}

// ForecastDay is one calendar date for one location, the parent of the
// day, astro and hour rows.
type ForecastDay struct {
	LocationID        int64     `json:"location_id" db:"location_id"`
	ForecastDate      time.Time `json:"forecast_date" db:"forecast_date"`
	ForecastDateEpoch *int64    `json:"forecast_date_epoch,omitempty" db:"forecast_date_epoch"`
}

// Condition is the shared weather condition lookup row.
type Condition struct {
	Code int64   `json:"condition_code" db:"condition_code"`
	Text *string `json:"text,omitempty" db:"text"`
	Icon *string `json:"icon,omitempty" db:"icon"`
}

// DayData holds the daily aggregates of a forecast day.
type DayData struct {
	LocationID        int64     `json:"location_id" db:"location_id"`
	ForecastDate      time.Time `json:"forecast_date" db:"forecast_date"`
	MaxTempC          *float64  `json:"maxtemp_c,omitempty" db:"maxtemp_c"`
	MaxTempF          *float64  `json:"maxtemp_f,omitempty" db:"maxtemp_f"`
	MinTempC          *float64  `json:"mintemp_c,omitempty" db:"mintemp_c"`
	MinTempF          *float64  `json:"mintemp_f,omitempty" db:"mintemp_f"`
	AvgTempC          *float64  `json:"avgtemp_c,omitempty" db:"avgtemp_c"`
	AvgTempF          *float64  `json:"avgtemp_f,omitempty" db:"avgtemp_f"`
	MaxWindMph        *float64  `json:"maxwind_mph,omitempty" db:"maxwind_mph"`
	MaxWindKph        *float64  `json:"maxwind_kph,omitempty" db:"maxwind_kph"`
	TotalPrecipMm     *float64  `json:"totalprecip_mm,omitempty" db:"totalprecip_mm"`
	TotalPrecipIn     *float64  `json:"totalprecip_in,omitempty" db:"totalprecip_in"`
	TotalSnowCm       *float64  `json:"totalsnow_cm,omitempty" db:"totalsnow_cm"`
	AvgVisKm          *float64  `json:"avgvis_km,omitempty" db:"avgvis_km"`
	AvgVisMiles       *float64  `json:"avgvis_miles,omitempty" db:"avgvis_miles"`
	AvgHumidity       *int64    `json:"avghumidity,omitempty" db:"avghumidity"`
	DailyWillItRain   *int64    `json:"daily_will_it_rain,omitempty" db:"daily_will_it_rain"`
	DailyChanceOfRain *int64    `json:"daily_chance_of_rain,omitempty" db:"daily_chance_of_rain"`
	DailyWillItSnow   *int64    `json:"daily_will_it_snow,omitempty" db:"daily_will_it_snow"`
	DailyChanceOfSnow *int64    `json:"daily_chance_of_snow,omitempty" db:"daily_chance_of_snow"`
	ConditionCode     *int64    `json:"condition_code,omitempty" db:"condition_code"`
	UV                *float64  `json:"uv,omitempty" db:"uv"`
}

// AstroData holds sun and moon times of a forecast day. Times are kept in
// the provider's "06:12 AM" text form.
type AstroData struct {
	LocationID       int64     `json:"location_id" db:"location_id"`
	ForecastDate     time.Time `json:"forecast_date" db:"forecast_date"`
	Sunrise          *string   `json:"sunrise,omitempty" db:"sunrise"`
	Sunset           *string   `json:"sunset,omitempty" db:"sunset"`
	Moonrise         *string   `json:"moonrise,omitempty" db:"moonrise"`
	Moonset          *string   `json:"moonset,omitempty" db:"moonset"`
	MoonPhase        *string   `json:"moon_phase,omitempty" db:"moon_phase"`
	MoonIllumination *int64    `json:"moon_illumination,omitempty" db:"moon_illumination"`
}

// HourData is one hourly record of a forecast day, keyed by time_epoch.
type HourData struct {
	LocationID    int64     `json:"location_id" db:"location_id"`
	ForecastDate  time.Time `json:"forecast_date" db:"forecast_date"`
	TimeEpoch     int64     `json:"time_epoch" db:"time_epoch"`
	Time          *string   `json:"time,omitempty" db:"time"`
	TempC         *float64  `json:"temp_c,omitempty" db:"temp_c"`
	TempF         *float64  `json:"temp_f,omitempty" db:"temp_f"`
	IsDay         *int64    `json:"is_day,omitempty" db:"is_day"`
	ConditionCode *int64    `json:"condition_code,omitempty" db:"condition_code"`
	WindMph       *float64  `json:"wind_mph,omitempty" db:"wind_mph"`
	WindKph       *float64  `json:"wind_kph,omitempty" db:"wind_kph"`
	WindDegree    *int64    `json:"wind_degree,omitempty" db:"wind_degree"`
	WindDir       *string   `json:"wind_dir,omitempty" db:"wind_dir"`
	PressureMb    *float64  `json:"pressure_mb,omitempty" db:"pressure_mb"`
	PressureIn    *float64  `json:"pressure_in,omitempty" db:"pressure_in"`
	PrecipMm      *float64  `json:"precip_mm,omitempty" db:"precip_mm"`
	PrecipIn      *float64  `json:"precip_in,omitempty" db:"precip_in"`
	SnowCm        *float64  `json:"snow_cm,omitempty" db:"snow_cm"`
	Humidity      *int64    `json:"humidity,omitempty" db:"humidity"`
	Cloud         *int64    `json:"cloud,omitempty" db:"cloud"`
	FeelslikeC    *float64  `json:"feelslike_c,omitempty" db:"feelslike_c"`
	FeelslikeF    *float64  `json:"feelslike_f,omitempty" db:"feelslike_f"`
	WindchillC    *float64  `json:"windchill_c,omitempty" db:"windchill_c"`
	WindchillF    *float64  `json:"windchill_f,omitempty" db:"windchill_f"`
	HeatindexC    *float64  `json:"heatindex_c,omitempty" db:"heatindex_c"`
	HeatindexF    *float64  `json:"heatindex_f,omitempty" db:"heatindex_f"`
	DewpointC     *float64  `json:"dewpoint_c,omitempty" db:"dewpoint_c"`
	DewpointF     *float64  `json:"dewpoint_f,omitempty" db:"dewpoint_f"`
	WillItRain    *int64    `json:"will_it_rain,omitempty" db:"will_it_rain"`
	ChanceOfRain  *int64    `json:"chance_of_rain,omitempty" db:"chance_of_rain"`
	WillItSnow    *int64    `json:"will_it_snow,omitempty" db:"will_it_snow"`
	ChanceOfSnow  *int64    `json:"chance_of_snow,omitempty" db:"chance_of_snow"`
	VisKm         *float64  `json:"vis_km,omitempty" db:"vis_km"`
	VisMiles      *float64  `json:"vis_miles,omitempty" db:"vis_miles"`
	GustMph       *float64  `json:"gust_mph,omitempty" db:"gust_mph"`
	GustKph       *float64  `json:"gust_kph,omitempty" db:"gust_kph"`
	UV            *float64  `json:"uv,omitempty" db:"uv"`
}

// RawClimateData is the verbatim API response for a calendar date.
type RawClimateData struct {
	WeatherDate time.Time `json:"weather_date" db:"weather_date"`
	RawData     JSONData  `json:"raw_data" db:"raw_data"`
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "date",
			Value:   s,
			Message: "invalid date format, expected YYYY-MM-DD",
		}
	}
	return t, nil
}

// ClimateSummary aggregates the day rows of one location over a date range.
type ClimateSummary struct {
	LocationID    int64     `json:"location_id" db:"-"`
	From          time.Time `json:"from" db:"-"`
	To            time.Time `json:"to" db:"-"`
	Days          int       `json:"days" db:"days"`
	AvgMaxTempC   *float64  `json:"avg_maxtemp_c,omitempty" db:"avg_maxtemp_c"`
	AvgMinTempC   *float64  `json:"avg_mintemp_c,omitempty" db:"avg_mintemp_c"`
	AvgHumidity   *float64  `json:"avg_humidity,omitempty" db:"avg_humidity"`
	TotalPrecipMm *float64  `json:"total_precip_mm,omitempty" db:"total_precip_mm"`
	MaxUV         *float64  `json:"max_uv,omitempty" db:"max_uv"`
}
