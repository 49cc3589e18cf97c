package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vivarium/internal/models"
	"vivarium/pkg/logging"
)

func TestCheckFile(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		body        string
		wantErr     bool
		checkValues func(t *testing.T, r *PayloadReport)
	}{
		{
			name: "sample payload",
			file: "2024-07-28.json",
			body: samplePayload,
			checkValues: func(t *testing.T, r *PayloadReport) {
				assert.Equal(t, "2024-07-28", r.Date)
				assert.Equal(t, "Kinabalu", r.Location)
				assert.Equal(t, 5.98, r.Lat)
				assert.Equal(t, 116.07, r.Lon)
				assert.Equal(t, 1, r.ForecastDays)
				assert.Equal(t, 1, r.Hours)
				assert.Zero(t, r.MissingDay)
				assert.Zero(t, r.MissingAstro)
				require.NotNil(t, r.MaxTempC)
				assert.Equal(t, 24.1, *r.MaxTempC)
				require.NotNil(t, r.MinTempC)
				assert.Equal(t, 15.2, *r.MinTempC)
			},
		},
		{
			name: "missing day astro and hour epoch",
			file: "2024-07-29.json",
			body: `{"location": {"name": "Kinabalu", "lat": 5.98, "lon": 116.07},
			        "forecast": {"forecastday": [{"date": "2024-07-29", "day": {}, "astro": null,
			        "hour": [{"time": "2024-07-29 00:00"}]}]}}`,
			checkValues: func(t *testing.T, r *PayloadReport) {
				assert.Equal(t, 1, r.MissingDay)
				assert.Equal(t, 1, r.MissingAstro)
				assert.Equal(t, 1, r.InvalidHours)
				assert.Zero(t, r.Hours)
				assert.Nil(t, r.MaxTempC)
			},
		},
		{
			name:    "bad filename",
			file:    "latest.json",
			body:    samplePayload,
			wantErr: true,
		},
		{
			name:    "missing location",
			file:    "2024-07-30.json",
			body:    `{"forecast": {"forecastday": []}}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			file:    "2024-07-31.json",
			body:    `{"location":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tt.file, tt.body)
			r, err := CheckFile(context.Background(), path, logging.NewNopLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.checkValues(t, r)
		})
	}
}

func TestCheckFile_ValidationError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "2024-07-28.json", `{"location": {"name": "x"}}`)
	_, err := CheckFile(context.Background(), path, logging.NewNopLogger())
	var ve *models.ValidationError
	assert.ErrorAs(t, err, &ve)
}
