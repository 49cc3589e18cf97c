// Package validator checks raw weather payloads before they reach the
// database and normalises the coordinates used as the location key.
package validator

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"vivarium/internal/models"
	"vivarium/pkg/logging"
)

var filenamePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.json$`)

// ValidateFilename checks that name is "YYYY-MM-DD.json" for a real calendar
// date and returns the date part.
func ValidateFilename(name string) (string, error) {
	if !filenamePattern.MatchString(name) {
		return "", &models.ValidationError{
			Field:   "filename",
			Value:   name,
			Message: fmt.Sprintf("filename %q does not match YYYY-MM-DD.json", name),
		}
	}
	date := strings.TrimSuffix(name, ".json")
	if _, err := models.ParseDate(date); err != nil {
		return "", &models.ValidationError{
			Field:   "filename",
			Value:   name,
			Message: fmt.Sprintf("filename %q is not a calendar date", name),
		}
	}
	return date, nil
}

// Validate checks the structure of a decoded payload and returns the first
// failure as a *models.ValidationError. An empty forecastday list is valid.
func Validate(ctx context.Context, data map[string]interface{}, logger logging.Logger) error {
	for _, key := range []string{"location", "forecast"} {
		if _, ok := data[key]; !ok {
			return invalid(key, "missing top-level key %q", key)
		}
	}

	location, ok := data["location"].(map[string]interface{})
	if !ok {
		return invalid("location", "location is not an object")
	}
	for _, key := range []string{"name", "lat", "lon"} {
		if _, ok := location[key]; !ok {
			return invalid("location."+key, "location is missing %q", key)
		}
	}
	if !isNumber(location["lat"]) || !isNumber(location["lon"]) {
		return invalid("location.lat", "lat and lon must be numbers")
	}

	forecast, ok := data["forecast"].(map[string]interface{})
	if !ok {
		return invalid("forecast", "forecast is not an object")
	}
	days, ok := forecast["forecastday"].([]interface{})
	if !ok {
		return invalid("forecast.forecastday", "forecastday is missing or not a list")
	}
	if len(days) == 0 {
		logger.Info(ctx, "[VALIDATE_EMPTY] forecastday list is empty", logging.Fields{})
		return nil
	}

	for i, d := range days {
		day, ok := d.(map[string]interface{})
		if !ok {
			return invalid("forecast.forecastday", "forecastday entry %d is not an object", i)
		}
		for _, key := range []string{"date", "day", "astro", "hour"} {
			if _, ok := day[key]; !ok {
				return invalid("forecast.forecastday."+key, "forecastday entry %d is missing %q", i, key)
			}
		}
		if _, ok := day["hour"].([]interface{}); !ok {
			return invalid("forecast.forecastday.hour", "hour in forecastday entry %d is not a list", i)
		}
	}
	return nil
}

// RoundCoordinates rounds location.lat and location.lon to two decimals in
// place. A value only counts as changed when its 10-decimal rendering
// differs, so float noise never triggers a rewrite.
func RoundCoordinates(ctx context.Context, data map[string]interface{}, source string, logger logging.Logger) bool {
	location, ok := data["location"].(map[string]interface{})
	if !ok {
		return false
	}

	changed := false
	for _, key := range []string{"lat", "lon"} {
		v, ok := location[key].(float64)
		if !ok {
			continue
		}
		rounded := Round2(v)
		if fmt.Sprintf("%.10f", v) == fmt.Sprintf("%.10f", rounded) {
			continue
		}
		location[key] = rounded
		changed = true
		logger.Warn(ctx, "[VALIDATE_ROUND] Coordinate rounded", logging.Fields{
			"source":   source,
			"field":    key,
			"original": v,
			"rounded":  rounded,
		})
	}
	return changed
}

// Round2 rounds to two decimal places, halves away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ParseLatLong parses "lat,long" and range-checks both values.
func ParseLatLong(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, invalid("lat_long", "expected \"lat,long\", got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, invalid("lat_long", "latitude %q must be a number between -90 and 90", parts[0])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || lon < -180 || lon > 180 {
		return 0, 0, invalid("lat_long", "longitude %q must be a number between -180 and 180", parts[1])
	}
	return lat, lon, nil
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case float64, int, int64:
		return true
	}
	return false
}

func invalid(field, format string, args ...interface{}) *models.ValidationError {
	return &models.ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}
