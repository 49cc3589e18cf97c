package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"vivarium/internal/models"
	"vivarium/internal/repository"
	"vivarium/internal/validator"
	"vivarium/pkg/database"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

// FileState is the terminal state of one ingested file.
type FileState string

const (
	FileArchived FileState = "archived"
	FileFailed   FileState = "failed"
	FileSkipped  FileState = "skipped"
)

// Archive modes.
const (
	ArchiveCopy = "copy"
	ArchiveMove = "move"
)

// SessionOpener hands out database sessions. *database.PostgresDB
// satisfies it.
type SessionOpener interface {
	NewSession() *database.Session
}

// IngestionOptions controls where processed files go.
type IngestionOptions struct {
	ProcessedDir string
	// ArchiveMode is ArchiveCopy (default) or ArchiveMove.
	ArchiveMode string
}

// IngestionService loads cached weather JSON files into the climate tables.
type IngestionService struct {
	db      SessionOpener
	opts    IngestionOptions
	logger  logging.Logger
	metrics *metrics.Collector
}

// FileResult describes what happened to one file.
type FileResult struct {
	Path          string
	Date          string
	State         FileState
	ProcessedPath string
	LocationID    int64
	ForecastDays  int
	Hours         int
}

// IngestionResult contains folder ingestion statistics
type IngestionResult struct {
	RunID      string
	TotalFiles int
	Archived   int
	Failed     int
	Skipped    int
	// Success is false when any file failed.
	Success  bool
	Duration time.Duration
	Files    []*FileResult
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(db SessionOpener, opts IngestionOptions, logger logging.Logger, metricsCollector *metrics.Collector) *IngestionService {
	if opts.ArchiveMode == "" {
		opts.ArchiveMode = ArchiveCopy
	}
	return &IngestionService{
		db:      db,
		opts:    opts,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// IngestDirectory ingests every "*.json" file in dir in name order. Dotfiles
// are ignored and a failing file does not stop the rest. The returned error
// aggregates per-file failures; the result is always populated.
func (s *IngestionService) IngestDirectory(ctx context.Context, dir string) (*IngestionResult, error) {
	result := &IngestionResult{RunID: logging.RunID(ctx)}
	if result.RunID == "" {
		result.RunID = uuid.NewString()
		ctx = logging.WithRunID(ctx, result.RunID)
	}
	start := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Starting folder ingestion", logging.Fields{
		"data_dir": dir,
	})

	files, err := listJSONFiles(dir)
	if err != nil {
		return nil, err
	}
	result.TotalFiles = len(files)
	if len(files) == 0 {
		s.logger.Info(ctx, "[INGEST_EMPTY] No JSON files found", logging.Fields{"data_dir": dir})
	}

	var errs *multierror.Error
	for _, path := range files {
		fr, err := s.IngestFile(ctx, path)
		result.Files = append(result.Files, fr)
		switch fr.State {
		case FileArchived:
			result.Archived++
		case FileSkipped:
			result.Skipped++
		default:
			result.Failed++
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
			s.logger.Warn(ctx, "[INGEST_FILE_FAILED] File failed, continuing", logging.Fields{
				"file_path": path,
			})
		}
	}

	result.Success = result.Failed == 0
	result.Duration = time.Since(start)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] Folder ingestion completed", logging.Fields{
		"total_files":      result.TotalFiles,
		"processed":        result.Archived,
		"failed":           result.Failed,
		"skipped":          result.Skipped,
		"success":          result.Success,
		"duration_seconds": result.Duration.Seconds(),
	})

	return result, errs.ErrorOrNil()
}

func listJSONFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// IngestFile runs one file through validation, a single database
// transaction and archiving. Files with a non-date name are skipped with a
// nil error. Every other failure leaves the database untouched and the
// file in place.
func (s *IngestionService) IngestFile(ctx context.Context, path string) (*FileResult, error) {
	fr := &FileResult{Path: path, State: FileFailed}
	name := filepath.Base(path)

	date, err := validator.ValidateFilename(name)
	if err != nil {
		fr.State = FileSkipped
		s.metrics.RecordFileState(string(FileSkipped))
		s.logger.Warn(ctx, "[INGEST_SKIP] Filename does not match YYYY-MM-DD.json", logging.Fields{
			"file_path": path,
		})
		return fr, nil
	}
	fr.Date = date

	normalized, payload, err := s.load(ctx, path)
	if err != nil {
		return s.fail(ctx, fr, "validation_error", err)
	}

	if err := s.store(ctx, fr, normalized, payload); err != nil {
		return s.fail(ctx, fr, "database_error", err)
	}

	processed, err := s.archive(path, date, normalized)
	if err != nil {
		return s.fail(ctx, fr, "archive_error", err)
	}
	fr.ProcessedPath = processed
	fr.State = FileArchived
	s.metrics.RecordFileState(string(FileArchived))

	s.logger.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested and archived", logging.Fields{
		"file_path":      path,
		"processed_path": processed,
		"location_id":    fr.LocationID,
		"forecast_days":  fr.ForecastDays,
		"hours":          fr.Hours,
	})
	return fr, nil
}

func (s *IngestionService) fail(ctx context.Context, fr *FileResult, errorType string, err error) (*FileResult, error) {
	fr.State = FileFailed
	s.metrics.RecordFileState(string(FileFailed))
	s.metrics.RecordIngestionError(errorType)
	s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
		"file_path":  fr.Path,
		"error_type": errorType,
	}, err)
	return fr, err
}

func (s *IngestionService) load(ctx context.Context, path string) ([]byte, *models.WeatherPayload, error) {
	return loadPayload(ctx, path, s.logger)
}

// loadPayload reads, validates and normalises a file. It returns the
// normalised JSON (what gets stored and archived) and its typed decoding.
func loadPayload(ctx context.Context, path string, logger logging.Logger) ([]byte, *models.WeatherPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, &models.ValidationError{
			Field:   "payload",
			Message: fmt.Sprintf("malformed JSON: %v", err),
		}
	}
	if err := validator.Validate(ctx, raw, logger); err != nil {
		return nil, nil, err
	}
	validator.RoundCoordinates(ctx, raw, filepath.Base(path), logger)

	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	payload, err := models.DecodePayload(normalized)
	if err != nil {
		return nil, nil, err
	}
	return normalized, payload, nil
}

// store writes the whole payload in one transaction, committing only when
// every step succeeded.
func (s *IngestionService) store(ctx context.Context, fr *FileResult, normalized []byte, p *models.WeatherPayload) error {
	weatherDate, err := models.ParseDate(fr.Date)
	if err != nil {
		return err
	}

	session := s.db.NewSession()
	defer session.Close(ctx)

	if err := session.SetAutocommit(false); err != nil {
		return err
	}
	if err := session.Begin(ctx); err != nil {
		return err
	}

	st := repository.NewStore(session, s.logger)
	if err := s.persist(ctx, st, fr, weatherDate, normalized, p); err != nil {
		if rbErr := session.Rollback(ctx); rbErr != nil {
			err = multierror.Append(err, rbErr)
		}
		s.logger.Warn(ctx, "[INGEST_ROLLBACK] Transaction rolled back", logging.Fields{
			"date": fr.Date,
		})
		return err
	}
	if err := session.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.metrics.RecordRows("climate_forecast_day", fr.ForecastDays)
	s.metrics.RecordRows("climate_hour_data", fr.Hours)
	return nil
}

func (s *IngestionService) persist(ctx context.Context, st *repository.Store, fr *FileResult, date time.Time, normalized []byte, p *models.WeatherPayload) error {
	if _, err := st.RawData.Insert(ctx, &models.RawClimateData{WeatherDate: date, RawData: normalized}); err != nil {
		return err
	}

	locationID, err := s.resolveLocation(ctx, st, &p.Location)
	if err != nil {
		return err
	}
	fr.LocationID = locationID

	if len(p.Forecast.ForecastDay) == 0 {
		s.logger.Warn(ctx, "[INGEST_NO_FORECAST] Payload has no forecast days", logging.Fields{
			"date": fr.Date,
		})
		return nil
	}

	var errs *multierror.Error
	for i := range p.Forecast.ForecastDay {
		fd := &p.Forecast.ForecastDay[i]
		hours, err := s.persistForecastDay(ctx, st, locationID, fd)
		fr.Hours += hours
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("forecast day %s: %w", fd.Date, err))
			continue
		}
		fr.ForecastDays++
	}
	return errs.ErrorOrNil()
}

// resolveLocation looks the location up by its rounded coordinates and only
// inserts on a miss.
func (s *IngestionService) resolveLocation(ctx context.Context, st *repository.Store, pl *models.PayloadLocation) (int64, error) {
	existing, err := st.Locations.GetByCoordinates(ctx, pl.Lat, pl.Lon)
	if err == nil {
		s.logger.Debug(ctx, "[INGEST_LOCATION] Location exists", logging.Fields{
			"location_id": existing.LocationID,
		})
		return existing.LocationID, nil
	}
	if !repository.IsNotFound(err) {
		return 0, err
	}

	id, err := st.Locations.Insert(ctx, pl.ToLocation())
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "[INGEST_LOCATION] Inserted new location", logging.Fields{
		"location_id": id,
		"name":        pl.Name,
	})
	return id, nil
}

// persistForecastDay writes the forecast day row and then its day, astro
// and hour children. Children are attempted independently so every failure
// is reported; any failure fails the day.
func (s *IngestionService) persistForecastDay(ctx context.Context, st *repository.Store, locationID int64, pfd *models.PayloadForecastDay) (int, error) {
	fd, err := pfd.ToForecastDay(locationID)
	if err != nil {
		return 0, err
	}

	if _, err := st.ForecastDays.Get(ctx, locationID, fd.ForecastDate); err != nil {
		if !repository.IsNotFound(err) {
			return 0, err
		}
		if _, err := st.ForecastDays.Insert(ctx, fd); err != nil {
			return 0, err
		}
	}

	var errs *multierror.Error
	if err := s.persistDay(ctx, st, locationID, fd.ForecastDate, pfd.Day); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := s.persistAstro(ctx, st, locationID, fd.ForecastDate, pfd.Astro); err != nil {
		errs = multierror.Append(errs, err)
	}
	hours, err := s.persistHours(ctx, st, locationID, fd.ForecastDate, pfd.Hour)
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	if errs.ErrorOrNil() != nil {
		s.logger.Warn(ctx, "[INGEST_PARTIAL] Some forecast day children failed", logging.Fields{
			"location_id":   locationID,
			"forecast_date": pfd.Date,
		})
	}
	return hours, errs.ErrorOrNil()
}

func (s *IngestionService) persistDay(ctx context.Context, st *repository.Store, locationID int64, date time.Time, day *models.PayloadDay) error {
	if day.Empty() {
		s.logger.Warn(ctx, "[INGEST_NO_DAY] Day data unavailable, continuing", logging.Fields{
			"forecast_date": date.Format(models.DateLayout),
		})
		return nil
	}
	if err := s.persistCondition(ctx, st, day.Condition); err != nil {
		return err
	}
	return st.Days.Insert(ctx, day.ToDayData(locationID, date))
}

func (s *IngestionService) persistAstro(ctx context.Context, st *repository.Store, locationID int64, date time.Time, astro *models.PayloadAstro) error {
	if astro.Empty() {
		s.logger.Warn(ctx, "[INGEST_NO_ASTRO] Astro data unavailable, continuing", logging.Fields{
			"forecast_date": date.Format(models.DateLayout),
		})
		return nil
	}
	return st.Astro.Insert(ctx, astro.ToAstroData(locationID, date))
}

func (s *IngestionService) persistHours(ctx context.Context, st *repository.Store, locationID int64, date time.Time, hours []models.PayloadHour) (int, error) {
	if len(hours) == 0 {
		s.logger.Warn(ctx, "[INGEST_NO_HOURS] Hourly data unavailable, continuing", logging.Fields{
			"forecast_date": date.Format(models.DateLayout),
		})
		return 0, nil
	}

	n := 0
	for i := range hours {
		h := &hours[i]
		if err := s.persistCondition(ctx, st, h.Condition); err != nil {
			return n, err
		}
		row, err := h.ToHourData(locationID, date)
		if err != nil {
			return n, err
		}
		if err := st.Hours.Insert(ctx, row); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// persistCondition makes sure the referenced condition code exists. A
// condition without a code is left out.
func (s *IngestionService) persistCondition(ctx context.Context, st *repository.Store, pc *models.PayloadCondition) error {
	c := pc.ToCondition()
	if c == nil {
		return nil
	}
	_, err := st.Conditions.GetOrInsert(ctx, c)
	return err
}

// archive writes {date}_processed.json into the processed folder. In move
// mode the original is removed afterwards.
func (s *IngestionService) archive(path, date string, normalized []byte) (string, error) {
	if err := os.MkdirAll(s.opts.ProcessedDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create processed folder: %w", err)
	}

	var v interface{}
	if err := json.Unmarshal(normalized, &v); err != nil {
		return "", fmt.Errorf("failed to decode payload for archive: %w", err)
	}
	indented, err := json.MarshalIndent(v, "", "     ")
	if err != nil {
		return "", fmt.Errorf("failed to encode processed file: %w", err)
	}

	target := filepath.Join(s.opts.ProcessedDir, date+"_processed.json")
	if err := os.WriteFile(target, indented, 0o644); err != nil {
		return "", fmt.Errorf("failed to write processed file: %w", err)
	}

	if s.opts.ArchiveMode == ArchiveMove {
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("failed to remove raw file after archiving: %w", err)
		}
	}
	return target, nil
}
