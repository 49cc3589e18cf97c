package services

import (
	"context"
	"path/filepath"

	"vivarium/internal/validator"
	"vivarium/pkg/logging"
)

// PayloadReport summarises one weather file as the loader would see it,
// without touching the database.
type PayloadReport struct {
	Path         string
	Date         string
	Location     string
	Lat          float64
	Lon          float64
	ForecastDays int
	Hours        int
	// Counts of entries the loader would drop or leave empty.
	MissingDay   int
	MissingAstro int
	InvalidHours int
	MaxTempC     *float64
	MinTempC     *float64
	PrecipMm     float64
}

// CheckFile validates and normalises path and reports what ingesting it
// would store. A filename that is not YYYY-MM-DD.json is an error here.
func CheckFile(ctx context.Context, path string, logger logging.Logger) (*PayloadReport, error) {
	date, err := validator.ValidateFilename(filepath.Base(path))
	if err != nil {
		return nil, err
	}
	_, payload, err := loadPayload(ctx, path, logger)
	if err != nil {
		return nil, err
	}

	r := &PayloadReport{
		Path:     path,
		Date:     date,
		Location: payload.Location.Name,
		Lat:      payload.Location.Lat,
		Lon:      payload.Location.Lon,
	}
	for i := range payload.Forecast.ForecastDay {
		fd := &payload.Forecast.ForecastDay[i]
		if _, err := fd.ToForecastDay(0); err != nil {
			return nil, err
		}
		r.ForecastDays++

		if fd.Day.Empty() {
			r.MissingDay++
		} else {
			if t := fd.Day.MaxTempC; t != nil && (r.MaxTempC == nil || *t > *r.MaxTempC) {
				r.MaxTempC = t
			}
			if t := fd.Day.MinTempC; t != nil && (r.MinTempC == nil || *t < *r.MinTempC) {
				r.MinTempC = t
			}
			if p := fd.Day.TotalPrecipMm; p != nil {
				r.PrecipMm += *p
			}
		}
		if fd.Astro.Empty() {
			r.MissingAstro++
		}
		for _, h := range fd.Hour {
			if h.TimeEpoch == nil {
				r.InvalidHours++
				continue
			}
			r.Hours++
		}
	}
	return r, nil
}
