package models

// Assignment is one "column = value" pair of a partial update. Column names
// only ever come from the fixed lists below, never from caller data.
type Assignment struct {
	Column string
	Value  interface{}
}

func set[T any](a []Assignment, column string, v *T) []Assignment {
	if v == nil {
		return a
	}
	return append(a, Assignment{Column: column, Value: *v})
}

// conditionCode flattens a nested condition into condition_code. The nested
// form wins when both are given.
func conditionCode(a []Assignment, code *int64, nested *PayloadCondition) []Assignment {
	if nested != nil && nested.Code != nil {
		c := int64(*nested.Code)
		return append(a, Assignment{Column: "condition_code", Value: c})
	}
	return set(a, "condition_code", code)
}

// LocationUpdate lists the mutable columns of climate_location. The
// coordinates are the natural key and cannot be updated.
type LocationUpdate struct {
	Name           *string
	Region         *string
	Country        *string
	TimezoneID     *string
	LocaltimeEpoch *int64
	Localtime      *string
}

func (u LocationUpdate) Assignments() []Assignment {
	var a []Assignment
	a = set(a, "name", u.Name)
	a = set(a, "region", u.Region)
	a = set(a, "country", u.Country)
	a = set(a, "timezone_id", u.TimezoneID)
	a = set(a, "localtime_epoch", u.LocaltimeEpoch)
	a = set(a, `"localtime"`, u.Localtime)
	return a
}

type ForecastDayUpdate struct {
	ForecastDateEpoch *int64
}

func (u ForecastDayUpdate) Assignments() []Assignment {
	return set(nil, "forecast_date_epoch", u.ForecastDateEpoch)
}

type ConditionUpdate struct {
	Text *string
	Icon *string
}

func (u ConditionUpdate) Assignments() []Assignment {
	var a []Assignment
	a = set(a, "text", u.Text)
	a = set(a, "icon", u.Icon)
	return a
}

type DayDataUpdate struct {
	MaxTempC          *float64
	MaxTempF          *float64
	MinTempC          *float64
	MinTempF          *float64
	AvgTempC          *float64
	AvgTempF          *float64
	MaxWindMph        *float64
	MaxWindKph        *float64
	TotalPrecipMm     *float64
	TotalPrecipIn     *float64
	TotalSnowCm       *float64
	AvgVisKm          *float64
	AvgVisMiles       *float64
	AvgHumidity       *int64
	DailyWillItRain   *int64
	DailyChanceOfRain *int64
	DailyWillItSnow   *int64
	DailyChanceOfSnow *int64
	ConditionCode     *int64
	Condition         *PayloadCondition
	UV                *float64
}

func (u DayDataUpdate) Assignments() []Assignment {
	var a []Assignment
	a = set(a, "maxtemp_c", u.MaxTempC)
	a = set(a, "maxtemp_f", u.MaxTempF)
	a = set(a, "mintemp_c", u.MinTempC)
	a = set(a, "mintemp_f", u.MinTempF)
	a = set(a, "avgtemp_c", u.AvgTempC)
	a = set(a, "avgtemp_f", u.AvgTempF)
	a = set(a, "maxwind_mph", u.MaxWindMph)
	a = set(a, "maxwind_kph", u.MaxWindKph)
	a = set(a, "totalprecip_mm", u.TotalPrecipMm)
	a = set(a, "totalprecip_in", u.TotalPrecipIn)
	a = set(a, "totalsnow_cm", u.TotalSnowCm)
	a = set(a, "avgvis_km", u.AvgVisKm)
	a = set(a, "avgvis_miles", u.AvgVisMiles)
	a = set(a, "avghumidity", u.AvgHumidity)
	a = set(a, "daily_will_it_rain", u.DailyWillItRain)
	a = set(a, "daily_chance_of_rain", u.DailyChanceOfRain)
	a = set(a, "daily_will_it_snow", u.DailyWillItSnow)
	a = set(a, "daily_chance_of_snow", u.DailyChanceOfSnow)
	a = conditionCode(a, u.ConditionCode, u.Condition)
	a = set(a, "uv", u.UV)
	return a
}

type AstroDataUpdate struct {
	Sunrise          *string
	Sunset           *string
	Moonrise         *string
	Moonset          *string
	MoonPhase        *string
	MoonIllumination *int64
}

func (u AstroDataUpdate) Assignments() []Assignment {
	var a []Assignment
	a = set(a, "sunrise", u.Sunrise)
	a = set(a, "sunset", u.Sunset)
	a = set(a, "moonrise", u.Moonrise)
	a = set(a, "moonset", u.Moonset)
	a = set(a, "moon_phase", u.MoonPhase)
	a = set(a, "moon_illumination", u.MoonIllumination)
	return a
}

type HourDataUpdate struct {
	Time          *string
	TempC         *float64
	TempF         *float64
	IsDay         *int64
	ConditionCode *int64
	Condition     *PayloadCondition
	WindMph       *float64
	WindKph       *float64
	WindDegree    *int64
	WindDir       *string
	PressureMb    *float64
	PressureIn    *float64
	PrecipMm      *float64
	PrecipIn      *float64
	SnowCm        *float64
	Humidity      *int64
	Cloud         *int64
	FeelslikeC    *float64
	FeelslikeF    *float64
	WindchillC    *float64
	WindchillF    *float64
	HeatindexC    *float64
	HeatindexF    *float64
	DewpointC     *float64
	DewpointF     *float64
	WillItRain    *int64
	ChanceOfRain  *int64
	WillItSnow    *int64
	ChanceOfSnow  *int64
	VisKm         *float64
	VisMiles      *float64
	GustMph       *float64
	GustKph       *float64
	UV            *float64
}

func (u HourDataUpdate) Assignments() []Assignment {
	var a []Assignment
	a = conditionCode(a, u.ConditionCode, u.Condition)
	a = set(a, "time", u.Time)
	a = set(a, "temp_c", u.TempC)
	a = set(a, "temp_f", u.TempF)
	a = set(a, "is_day", u.IsDay)
	a = set(a, "wind_mph", u.WindMph)
	a = set(a, "wind_kph", u.WindKph)
	a = set(a, "wind_degree", u.WindDegree)
	a = set(a, "wind_dir", u.WindDir)
	a = set(a, "pressure_mb", u.PressureMb)
	a = set(a, "pressure_in", u.PressureIn)
	a = set(a, "precip_mm", u.PrecipMm)
	a = set(a, "precip_in", u.PrecipIn)
	a = set(a, "snow_cm", u.SnowCm)
	a = set(a, "humidity", u.Humidity)
	a = set(a, "cloud", u.Cloud)
	a = set(a, "feelslike_c", u.FeelslikeC)
	a = set(a, "feelslike_f", u.FeelslikeF)
	a = set(a, "windchill_c", u.WindchillC)
	a = set(a, "windchill_f", u.WindchillF)
	a = set(a, "heatindex_c", u.HeatindexC)
	a = set(a, "heatindex_f", u.HeatindexF)
	a = set(a, "dewpoint_c", u.DewpointC)
	a = set(a, "dewpoint_f", u.DewpointF)
	a = set(a, "will_it_rain", u.WillItRain)
	a = set(a, "chance_of_rain", u.ChanceOfRain)
	a = set(a, "will_it_snow", u.WillItSnow)
	a = set(a, "chance_of_snow", u.ChanceOfSnow)
	a = set(a, "vis_km", u.VisKm)
	a = set(a, "vis_miles", u.VisMiles)
	a = set(a, "gust_mph", u.GustMph)
	a = set(a, "gust_kph", u.GustKph)
	a = set(a, "uv", u.UV)
	return a
}

type RawClimateDataUpdate struct {
	RawData JSONData
}

func (u RawClimateDataUpdate) Assignments() []Assignment {
	if len(u.RawData) == 0 {
		return nil
	}
	return []Assignment{{Column: "raw_data", Value: u.RawData}}
}
