package deploy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vivarium/internal/services"
	"vivarium/pkg/database"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

const dayPayload = `{
  "location": {"name": "Kinabalu", "region": "Sabah", "country": "Malaysia",
               "lat": 5.9833, "lon": 116.0667, "tz_id": "Asia/Kuching",
               "localtime_epoch": 1722211200, "localtime": "2024-07-29 8:00"},
  "forecast": {"forecastday": [{
    "date": "2024-07-28", "date_epoch": 1722124800,
    "day": {"maxtemp_c": 24.1, "mintemp_c": 15.2, "avghumidity": 88,
            "condition": {"text": "Clear", "icon": "//cdn/113.png", "code": 1000}, "uv": 5.0},
    "astro": {"sunrise": "06:12 AM", "sunset": "06:31 PM", "moon_illumination": 41},
    "hour": [{"time_epoch": 1722096000, "time": "2024-07-28 00:00", "temp_c": 16.0,
              "condition": {"text": "Clear", "icon": "//cdn/113.png", "code": 1000}}]
  }]}
}`

// useMockDB points openDB at a sqlmock connection for the rest of the test.
func useMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	prev := openDB
	openDB = func(cfg *database.Config, logger logging.Logger, m *metrics.Collector) (*database.PostgresDB, error) {
		return database.NewFromDB(sqlDB, cfg, logger, m), nil
	}
	t.Cleanup(func() { openDB = prev })
	return mock
}

func expectDayLoad(m sqlmock.Sqlmock) {
	m.ExpectBegin()
	m.ExpectQuery(`INSERT INTO raw_climate_data`).
		WillReturnRows(sqlmock.NewRows([]string{"weather_date"}).AddRow(time.Date(2024, 7, 28, 0, 0, 0, 0, time.UTC)))
	m.ExpectQuery(`FROM climate_location`).WillReturnRows(sqlmock.NewRows([]string{"location_id"}).AddRow(1))
	m.ExpectQuery(`FROM climate_forecast_day`).WillReturnRows(sqlmock.NewRows([]string{"location_id"}).AddRow(1))
	m.ExpectQuery(`FROM climate_condition WHERE condition_code = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"condition_code", "text", "icon"}).AddRow(1000, "Clear", nil))
	m.ExpectExec(`INSERT INTO climate_day_data`).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectExec(`INSERT INTO climate_astro_data`).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectQuery(`FROM climate_condition WHERE condition_code = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"condition_code", "text", "icon"}).AddRow(1000, "Clear", nil))
	m.ExpectExec(`INSERT INTO climate_hour_data`).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectCommit()
}

func TestNewSteps_LoadJSONArchiveMode(t *testing.T) {
	tests := []struct {
		name        string
		archiveMode string
		wantRaw     bool
	}{
		{name: "copy keeps the raw file", archiveMode: services.ArchiveCopy, wantRaw: true},
		{name: "move removes the raw file", archiveMode: services.ArchiveMove},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := useMockDB(t)
			expectDayLoad(mock)

			rawDir := t.TempDir()
			processedDir := filepath.Join(rawDir, "processed")
			rawPath := filepath.Join(rawDir, "2024-07-28.json")
			require.NoError(t, os.WriteFile(rawPath, []byte(dayPayload), 0o644))

			target := &Target{Type: Postgres, App: testConfig().Database}
			m := metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
			steps := NewSteps(target, services.IngestionOptions{
				ProcessedDir: processedDir,
				ArchiveMode:  tt.archiveMode,
			}, logging.NewNopLogger(), m)

			require.NoError(t, steps.LoadJSON(context.Background(), rawDir))
			assert.FileExists(t, filepath.Join(processedDir, "2024-07-28_processed.json"))
			if tt.wantRaw {
				assert.FileExists(t, rawPath)
			} else {
				assert.NoFileExists(t, rawPath)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
