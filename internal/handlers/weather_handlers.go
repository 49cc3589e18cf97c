package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"vivarium/internal/models"
	"vivarium/internal/repository"
	"vivarium/internal/services"
	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

// WeatherReader is the read side used by the API. *services.WeatherService
// satisfies it.
type WeatherReader interface {
	ListLocations(ctx context.Context) ([]*models.Location, error)
	ListForecastDays(ctx context.Context, locationID int64) ([]*models.ForecastDay, error)
	GetForecast(ctx context.Context, locationID int64, date time.Time) (*services.ForecastDetail, error)
	ListDevices(ctx context.Context) ([]*models.Device, error)
	GetDeviceState(ctx context.Context, name string) (*services.DeviceState, error)
	GetDeviceHistory(ctx context.Context, name string, limit int) ([]*models.DeviceStatus, error)
}

// Summarizer computes climate summaries. *services.StatisticsService
// satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, locationID int64, from, to time.Time) (*models.ClimateSummary, error)
}

// HealthChecker pings the database. *database.PostgresDB satisfies it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// WeatherHandler handles the climate and device endpoints
type WeatherHandler struct {
	weather WeatherReader
	stats   Summarizer
	health  HealthChecker
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewWeatherHandler creates a new weather handler
func NewWeatherHandler(
	weather WeatherReader,
	stats Summarizer,
	health HealthChecker,
	logger logging.Logger,
	metricsCollector *metrics.Collector,
) *WeatherHandler {
	return &WeatherHandler{
		weather: weather,
		stats:   stats,
		health:  health,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ListResponse wraps a list payload with its length.
type ListResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

// DeviceStatusResponse is a device's current state plus recent history.
type DeviceStatusResponse struct {
	*services.DeviceState
	History []*models.DeviceStatus `json:"history,omitempty"`
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// GetLocations handles GET /api/locations
func (h *WeatherHandler) GetLocations(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/locations"
	defer h.observe(endpoint, time.Now())

	locations, err := h.weather.ListLocations(r.Context())
	if err != nil {
		h.fail(w, r, endpoint, "[API_GET_LOCATIONS_ERROR] Failed to list locations", logging.Fields{}, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, ListResponse{Data: locations, Total: len(locations)}, http.StatusOK)
}

// GetForecastDays handles GET /api/locations/{id}/forecast
func (h *WeatherHandler) GetForecastDays(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/locations/{id}/forecast"
	defer h.observe(endpoint, time.Now())

	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	days, err := h.weather.ListForecastDays(r.Context(), id)
	if err != nil {
		h.fail(w, r, endpoint, "[API_GET_FORECAST_DAYS_ERROR] Failed to list forecast days", logging.Fields{
			"location_id": id,
		}, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, ListResponse{Data: days, Total: len(days)}, http.StatusOK)
}

// GetForecast handles GET /api/forecast/{location_id}/{date}
func (h *WeatherHandler) GetForecast(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/forecast/{location_id}/{date}"
	defer h.observe(endpoint, time.Now())

	id, ok := h.pathID(w, r, "location_id")
	if !ok {
		return
	}
	date, err := models.ParseDate(mux.Vars(r)["date"])
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	detail, err := h.weather.GetForecast(r.Context(), id, date)
	if err != nil {
		h.fail(w, r, endpoint, "[API_GET_FORECAST_ERROR] Failed to get forecast", logging.Fields{
			"location_id": id,
			"date":        date.Format(models.DateLayout),
		}, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, detail, http.StatusOK)
}

// GetSummary handles GET /api/locations/{id}/summary?from=&to=
func (h *WeatherHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/locations/{id}/summary"
	defer h.observe(endpoint, time.Now())

	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	query := r.URL.Query()
	if query.Get("from") == "" || query.Get("to") == "" {
		h.sendError(w, r, "from and to are required, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	from, err := models.ParseDate(query.Get("from"))
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := models.ParseDate(query.Get("to"))
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.stats.Summarize(r.Context(), id, from, to)
	if err != nil {
		h.fail(w, r, endpoint, "[API_GET_SUMMARY_ERROR] Failed to summarize location", logging.Fields{
			"location_id": id,
		}, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, summary, http.StatusOK)
}

// GetDevices handles GET /api/devices
func (h *WeatherHandler) GetDevices(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/devices"
	defer h.observe(endpoint, time.Now())

	devices, err := h.weather.ListDevices(r.Context())
	if err != nil {
		h.fail(w, r, endpoint, "[API_GET_DEVICES_ERROR] Failed to list devices", logging.Fields{}, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, ListResponse{Data: devices, Total: len(devices)}, http.StatusOK)
}

// GetDeviceStatus handles GET /api/devices/{name}/status?history=N
func (h *WeatherHandler) GetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/devices/{name}/status"
	defer h.observe(endpoint, time.Now())

	name := mux.Vars(r)["name"]
	limit := 0
	if s := r.URL.Query().Get("history"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l < 0 {
			h.sendError(w, r, "history must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = l
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
	}

	state, err := h.weather.GetDeviceState(r.Context(), name)
	if err != nil {
		h.fail(w, r, endpoint, "[API_GET_DEVICE_STATUS_ERROR] Failed to get device status", logging.Fields{
			"device": name,
		}, err)
		return
	}

	resp := DeviceStatusResponse{DeviceState: state}
	if limit > 0 {
		resp.History, err = h.weather.GetDeviceHistory(r.Context(), name, limit)
		if err != nil {
			h.fail(w, r, endpoint, "[API_GET_DEVICE_HISTORY_ERROR] Failed to get device history", logging.Fields{
				"device": name,
				"limit":  limit,
			}, err)
			return
		}
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, resp, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *WeatherHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"database":  "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if h.health != nil {
		if err := h.health.HealthCheck(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_CHECK_FAILED] Database health check failed", logging.Fields{
				"error": err.Error(),
			})
			status["status"] = "unhealthy"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{"status": status["status"]})
	h.sendJSON(w, status, code)
}

func (h *WeatherHandler) observe(endpoint string, start time.Time) {
	h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// pathID parses a positive integer path variable, answering 400 when it
// is not one.
func (h *WeatherHandler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		h.sendError(w, r, "invalid "+name+", expected a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// fail maps a service error to a response. Missing rows are 404,
// validation failures 400, anything else is logged and answered with 500.
func (h *WeatherHandler) fail(w http.ResponseWriter, r *http.Request, endpoint, msg string, fields logging.Fields, err error) {
	var validation *models.ValidationError
	switch {
	case repository.IsNotFound(err):
		h.sendError(w, r, err.Error(), http.StatusNotFound)
	case errors.As(err, &validation):
		h.sendError(w, r, validation.Error(), http.StatusBadRequest)
	default:
		h.logger.Error(r.Context(), msg, fields, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, "internal server error", http.StatusInternalServerError)
	}
}

// sendJSON sends a JSON response
func (h *WeatherHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *WeatherHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all API routes
func (h *WeatherHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/locations", h.GetLocations).Methods("GET")
	router.HandleFunc("/api/locations/{id}/forecast", h.GetForecastDays).Methods("GET")
	router.HandleFunc("/api/locations/{id}/summary", h.GetSummary).Methods("GET")
	router.HandleFunc("/api/forecast/{location_id}/{date}", h.GetForecast).Methods("GET")
	router.HandleFunc("/api/devices", h.GetDevices).Methods("GET")
	router.HandleFunc("/api/devices/{name}/status", h.GetDeviceStatus).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
}
