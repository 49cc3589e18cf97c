package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vivarium/pkg/database"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

const samplePayload = `{
  "location": {"name": "Kinabalu", "region": "Sabah", "country": "Malaysia",
               "lat": 5.9833, "lon": 116.0667, "tz_id": "Asia/Kuching",
               "localtime_epoch": 1722211200, "localtime": "2024-07-29 8:00"},
  "forecast": {"forecastday": [{
    "date": "2024-07-28", "date_epoch": 1722124800,
    "day": {"maxtemp_c": 24.1, "mintemp_c": 15.2, "avghumidity": 88,
            "condition": {"text": "Patchy rain nearby", "icon": "//cdn/176.png", "code": 1063}, "uv": 5.0},
    "astro": {"sunrise": "06:12 AM", "sunset": "06:31 PM", "moon_illumination": 41},
    "hour": [{"time_epoch": 1722096000, "time": "2024-07-28 00:00", "temp_c": 16.0,
              "condition": {"text": "Clear", "icon": "//cdn/113.png", "code": 1000}}]
  }]}
}`

func newTestDB(t *testing.T) (*database.PostgresDB, sqlmock.Sqlmock, *metrics.Collector) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	m := metrics.NewCollectorWithRegistry("vivarium_test", prometheus.NewRegistry())
	return database.NewFromDB(sqlDB, &database.Config{Database: "vivarium"}, logging.NewNopLogger(), m), mock, m
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// expectPayloadWrites queues the statements one sample payload produces
// against an empty database.
func expectPayloadWrites(m sqlmock.Sqlmock) {
	m.ExpectQuery(`INSERT INTO raw_climate_data`).
		WillReturnRows(sqlmock.NewRows([]string{"weather_date"}).AddRow(time.Date(2024, 7, 28, 0, 0, 0, 0, time.UTC)))
	m.ExpectQuery(`FROM climate_location\s+WHERE latitude = \$1 AND longitude = \$2`).
		WithArgs(5.98, 116.07).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}))
	m.ExpectQuery(`INSERT INTO climate_location`).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}).AddRow(1))
	m.ExpectQuery(`FROM climate_forecast_day`).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}))
	m.ExpectQuery(`INSERT INTO climate_forecast_day`).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}).AddRow(1))
	m.ExpectQuery(`FROM climate_condition WHERE condition_code = \$1`).
		WithArgs(int64(1063)).
		WillReturnRows(sqlmock.NewRows([]string{"condition_code"}))
	m.ExpectQuery(`INSERT INTO climate_condition`).
		WillReturnRows(sqlmock.NewRows([]string{"condition_code"}).AddRow(1063))
	m.ExpectExec(`INSERT INTO climate_day_data`).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectExec(`INSERT INTO climate_astro_data`).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectQuery(`FROM climate_condition WHERE condition_code = \$1`).
		WithArgs(int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"condition_code", "text", "icon"}).AddRow(1000, "Clear", nil))
}

func TestIngestionService_IngestFile(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		body        string
		archiveMode string
		setup       func(m sqlmock.Sqlmock)
		wantState   FileState
		wantErr     bool
		checkValues func(t *testing.T, fr *FileResult, rawDir, processedDir string)
	}{
		{
			name: "valid file is committed and archived",
			file: "2024-07-28.json",
			body: samplePayload,
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				expectPayloadWrites(m)
				m.ExpectExec(`INSERT INTO climate_hour_data`).WillReturnResult(sqlmock.NewResult(0, 1))
				m.ExpectCommit()
			},
			wantState: FileArchived,
			checkValues: func(t *testing.T, fr *FileResult, rawDir, processedDir string) {
				assert.Equal(t, int64(1), fr.LocationID)
				assert.Equal(t, 1, fr.ForecastDays)
				assert.Equal(t, 1, fr.Hours)
				assert.Equal(t, filepath.Join(processedDir, "2024-07-28_processed.json"), fr.ProcessedPath)

				archived, err := os.ReadFile(fr.ProcessedPath)
				require.NoError(t, err)
				assert.Contains(t, string(archived), "\n     \"forecast\"")
				assert.Contains(t, string(archived), `"lat": 5.98`)
				assert.FileExists(t, filepath.Join(rawDir, "2024-07-28.json"))
			},
		},
		{
			name:        "move mode removes the raw file",
			file:        "2024-07-28.json",
			body:        samplePayload,
			archiveMode: ArchiveMove,
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				expectPayloadWrites(m)
				m.ExpectExec(`INSERT INTO climate_hour_data`).WillReturnResult(sqlmock.NewResult(0, 1))
				m.ExpectCommit()
			},
			wantState: FileArchived,
			checkValues: func(t *testing.T, fr *FileResult, rawDir, processedDir string) {
				assert.NoFileExists(t, filepath.Join(rawDir, "2024-07-28.json"))
				assert.FileExists(t, fr.ProcessedPath)
			},
		},
		{
			name:      "non-date filename is skipped",
			file:      "notes.json",
			body:      samplePayload,
			setup:     func(m sqlmock.Sqlmock) {},
			wantState: FileSkipped,
		},
		{
			name:      "missing forecast fails before the database",
			file:      "2024-07-28.json",
			body:      `{"location": {"name": "x", "lat": 1, "lon": 2}}`,
			setup:     func(m sqlmock.Sqlmock) {},
			wantState: FileFailed,
			wantErr:   true,
		},
		{
			name:      "malformed JSON fails",
			file:      "2024-07-28.json",
			body:      `{"location":`,
			setup:     func(m sqlmock.Sqlmock) {},
			wantState: FileFailed,
			wantErr:   true,
		},
		{
			name: "hour failure rolls back and leaves no archive",
			file: "2024-07-28.json",
			body: samplePayload,
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				expectPayloadWrites(m)
				m.ExpectExec(`INSERT INTO climate_hour_data`).WillReturnError(errors.New("value too long"))
				m.ExpectRollback()
			},
			wantState: FileFailed,
			wantErr:   true,
			checkValues: func(t *testing.T, fr *FileResult, rawDir, processedDir string) {
				assert.Empty(t, fr.ProcessedPath)
				assert.NoFileExists(t, filepath.Join(processedDir, "2024-07-28_processed.json"))
				assert.FileExists(t, filepath.Join(rawDir, "2024-07-28.json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, m := newTestDB(t)
			tt.setup(mock)

			rawDir := t.TempDir()
			processedDir := filepath.Join(rawDir, "processed")
			path := writeFile(t, rawDir, tt.file, tt.body)

			svc := NewIngestionService(db, IngestionOptions{
				ProcessedDir: processedDir,
				ArchiveMode:  tt.archiveMode,
			}, logging.NewNopLogger(), m)

			fr, err := svc.IngestFile(context.Background(), path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			require.NotNil(t, fr)
			assert.Equal(t, tt.wantState, fr.State)
			if tt.checkValues != nil {
				tt.checkValues(t, fr, rawDir, processedDir)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestIngestionService_IngestDirectory(t *testing.T) {
	db, mock, m := newTestDB(t)

	rawDir := t.TempDir()
	writeFile(t, rawDir, "2024-07-28.json", samplePayload)
	writeFile(t, rawDir, "2024-07-29.json", `{"location": {"name": "x"}}`)
	writeFile(t, rawDir, ".2024-07-30.json", samplePayload)
	writeFile(t, rawDir, "readme.txt", "not json")
	writeFile(t, rawDir, "backup.json", samplePayload)
	require.NoError(t, os.Mkdir(filepath.Join(rawDir, "processed"), 0o755))

	mock.ExpectBegin()
	expectPayloadWrites(mock)
	mock.ExpectExec(`INSERT INTO climate_hour_data`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := NewIngestionService(db, IngestionOptions{ProcessedDir: filepath.Join(rawDir, "processed")},
		logging.NewNopLogger(), m)

	ctx := logging.WithRunID(context.Background(), "run-1")
	result, err := svc.IngestDirectory(ctx, rawDir)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "2024-07-29.json"))

	require.NotNil(t, result)
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, 3, result.TotalFiles)
	assert.Equal(t, 1, result.Archived)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Skipped)
	assert.False(t, result.Success)
	require.Len(t, result.Files, 3)
	assert.Equal(t, FileArchived, result.Files[0].State)
	assert.Equal(t, "backup.json", filepath.Base(result.Files[2].Path))
	assert.Equal(t, FileSkipped, result.Files[2].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestionService_IngestDirectoryMissing(t *testing.T) {
	db, _, m := newTestDB(t)
	svc := NewIngestionService(db, IngestionOptions{ProcessedDir: t.TempDir()}, logging.NewNopLogger(), m)

	result, err := svc.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestIngestionService_IngestDirectoryEmptySucceeds(t *testing.T) {
	db, _, m := newTestDB(t)
	svc := NewIngestionService(db, IngestionOptions{ProcessedDir: t.TempDir()}, logging.NewNopLogger(), m)

	result, err := svc.IngestDirectory(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.TotalFiles)
	assert.NotEmpty(t, result.RunID)
}

// hourArgs matches one climate_hour_data upsert by its time_epoch.
func hourArgs(epoch int64) []driver.Value {
	args := make([]driver.Value, 36)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	args[2] = epoch
	return args
}

func TestIngestionService_ReingestIsIdempotent(t *testing.T) {
	db, mock, m := newTestDB(t)

	mock.ExpectBegin()
	expectPayloadWrites(mock)
	mock.ExpectExec(`INSERT INTO climate_hour_data`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// The second pass finds the location and forecast day and inserts neither.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO raw_climate_data`).
		WillReturnRows(sqlmock.NewRows([]string{"weather_date"}).AddRow(time.Date(2024, 7, 28, 0, 0, 0, 0, time.UTC)))
	mock.ExpectQuery(`FROM climate_location\s+WHERE latitude = \$1 AND longitude = \$2`).
		WithArgs(5.98, 116.07).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}).AddRow(1))
	mock.ExpectQuery(`FROM climate_forecast_day\s+WHERE location_id = \$1 AND forecast_date = \$2`).
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}).AddRow(1))
	mock.ExpectQuery(`FROM climate_condition WHERE condition_code = \$1`).
		WithArgs(int64(1063)).
		WillReturnRows(sqlmock.NewRows([]string{"condition_code", "text", "icon"}).AddRow(1063, "Patchy rain nearby", nil))
	mock.ExpectExec(`INSERT INTO climate_day_data .* ON CONFLICT \(location_id, forecast_date\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO climate_astro_data .* ON CONFLICT \(location_id, forecast_date\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM climate_condition WHERE condition_code = \$1`).
		WithArgs(int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"condition_code", "text", "icon"}).AddRow(1000, "Clear", nil))
	mock.ExpectExec(`INSERT INTO climate_hour_data .* ON CONFLICT \(location_id, forecast_date, time_epoch\) DO UPDATE`).
		WithArgs(hourArgs(1722096000)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rawDir := t.TempDir()
	path := writeFile(t, rawDir, "2024-07-28.json", samplePayload)
	svc := NewIngestionService(db, IngestionOptions{ProcessedDir: filepath.Join(rawDir, "processed")},
		logging.NewNopLogger(), m)

	first, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)
	second, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, FileArchived, second.State)
	assert.Equal(t, first.LocationID, second.LocationID)
	assert.Equal(t, first.ForecastDays, second.ForecastDays)
	assert.Equal(t, first.Hours, second.Hours)
	assert.Equal(t, first.ProcessedPath, second.ProcessedPath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestionService_DuplicateHourEpochUpserts(t *testing.T) {
	db, mock, m := newTestDB(t)

	// Both entries carry the same time_epoch; the second upsert lands on
	// the row the first one wrote.
	body := strings.Replace(samplePayload,
		`"hour": [{"time_epoch": 1722096000, "time": "2024-07-28 00:00", "temp_c": 16.0,`,
		`"hour": [{"time_epoch": 1722096000, "time": "2024-07-28 00:00", "temp_c": 15.0,
		           "condition": {"text": "Clear", "icon": "//cdn/113.png", "code": 1000}},
		          {"time_epoch": 1722096000, "time": "2024-07-28 00:00", "temp_c": 16.0,`, 1)
	require.NotEqual(t, samplePayload, body)

	mock.ExpectBegin()
	expectPayloadWrites(mock)
	upsert := `INSERT INTO climate_hour_data .* ON CONFLICT \(location_id, forecast_date, time_epoch\) DO UPDATE`
	mock.ExpectExec(upsert).WithArgs(hourArgs(1722096000)...).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM climate_condition WHERE condition_code = \$1`).
		WithArgs(int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"condition_code", "text", "icon"}).AddRow(1000, "Clear", nil))
	mock.ExpectExec(upsert).WithArgs(hourArgs(1722096000)...).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rawDir := t.TempDir()
	path := writeFile(t, rawDir, "2024-07-28.json", body)
	svc := NewIngestionService(db, IngestionOptions{ProcessedDir: filepath.Join(rawDir, "processed")},
		logging.NewNopLogger(), m)

	fr, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, FileArchived, fr.State)
	assert.Equal(t, 2, fr.Hours)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestionService_RoundsCoordinatesBeforeLookup(t *testing.T) {
	db, mock, m := newTestDB(t)

	hours := make([]string, 24)
	for i := range hours {
		hours[i] = fmt.Sprintf(`{"time_epoch": %d, "time": "2024-07-28 %02d:00", "temp_c": 14.5}`, 1722150000+i*3600, i)
	}
	body := fmt.Sprintf(`{
  "location": {"name": "San Francisco", "region": "California", "country": "United States of America",
               "lat": 37.774900001, "lon": -122.419400001, "tz_id": "America/Los_Angeles"},
  "forecast": {"forecastday": [{
    "date": "2024-07-28", "date_epoch": 1722124800,
    "day": {"maxtemp_c": 19.8, "mintemp_c": 12.9},
    "astro": {"sunrise": "06:16 AM", "sunset": "08:23 PM"},
    "hour": [%s]
  }]}
}`, strings.Join(hours, ",\n"))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO raw_climate_data`).
		WillReturnRows(sqlmock.NewRows([]string{"weather_date"}).AddRow(time.Date(2024, 7, 28, 0, 0, 0, 0, time.UTC)))
	mock.ExpectQuery(`FROM climate_location\s+WHERE latitude = \$1 AND longitude = \$2`).
		WithArgs(37.77, -122.42).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}))
	mock.ExpectQuery(`INSERT INTO climate_location`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 37.77, -122.42,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}).AddRow(7))
	mock.ExpectQuery(`FROM climate_forecast_day`).WillReturnRows(sqlmock.NewRows([]string{"location_id"}))
	mock.ExpectQuery(`INSERT INTO climate_forecast_day`).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}).AddRow(7))
	mock.ExpectExec(`INSERT INTO climate_day_data`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO climate_astro_data`).WillReturnResult(sqlmock.NewResult(0, 1))
	for i := 0; i < 24; i++ {
		mock.ExpectExec(`INSERT INTO climate_hour_data`).
			WithArgs(hourArgs(int64(1722150000 + i*3600))...).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	rawDir := t.TempDir()
	path := writeFile(t, rawDir, "2024-07-28.json", body)
	svc := NewIngestionService(db, IngestionOptions{ProcessedDir: filepath.Join(rawDir, "processed")},
		logging.NewNopLogger(), m)

	fr, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), fr.LocationID)
	assert.Equal(t, 24, fr.Hours)

	archived, err := os.ReadFile(fr.ProcessedPath)
	require.NoError(t, err)
	assert.Contains(t, string(archived), `"lat": 37.77`)
	assert.Contains(t, string(archived), `"lon": -122.42`)
	assert.NoError(t, mock.ExpectationsWereMet())
}
