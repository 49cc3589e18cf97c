// Package weatherapi fetches historical weather from weatherapi.com.
package weatherapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

var (
	// ErrCircuitOpen is returned without a request while the breaker is open.
	ErrCircuitOpen = errors.New("weather api circuit breaker open")
	// ErrRateLimited wraps HTTP 429 responses.
	ErrRateLimited = errors.New("weather api rate limited")

	errServerError = errors.New("weather api server error")
	errUnexpected  = errors.New("unexpected status code")
)

// Config configures the client.
type Config struct {
	// BaseURL is the API root; a full URL ending in ".json" is used as-is.
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client calls the history endpoint with retries and a circuit breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	circuit *gobreaker.CircuitBreaker
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewClient creates a client. A zero Timeout falls back to 30s and a zero
// InitialBackoff to 500ms.
func NewClient(cfg Config, logger logging.Logger, metricsCollector *metrics.Collector) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weatherapi",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "[WEATHER_API_BREAKER] Circuit breaker state changed", logging.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		circuit: cb,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// HistoryURL returns the endpoint used for history requests.
func (c *Client) HistoryURL() string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if strings.HasSuffix(base, ".json") {
		return base
	}
	return base + "/history.json"
}

// GetHistoricalData returns the raw history.json body for date at latLong
// ("lat,long"). Any failure returns a nil body; callers must not cache it.
func (c *Client) GetHistoricalData(ctx context.Context, date, latLong string) (json.RawMessage, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("weather api key is not configured")
	}

	timer := c.metrics.NewTimer(c.metrics.WeatherFetchDuration)
	defer timer.ObserveDuration()

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("key", c.cfg.APIKey)
		values.Set("q", latLong)
		values.Set("dt", date)
		return http.NewRequestWithContext(ctx, http.MethodGet, c.HistoryURL()+"?"+values.Encode(), nil)
	}

	body, err := c.doWithRetry(ctx, buildRequest)
	if err != nil {
		c.metrics.RecordWeatherFetch(resultLabel(err))
		c.logger.Error(ctx, "[WEATHER_API_ERROR] History request failed", logging.Fields{
			"date":     date,
			"lat_long": latLong,
		}, err)
		return nil, err
	}
	if !json.Valid(body) {
		c.metrics.RecordWeatherFetch("invalid_body")
		return nil, fmt.Errorf("weather api returned a non-JSON body for %s", date)
	}

	c.metrics.RecordWeatherFetch("success")
	c.logger.Info(ctx, "[WEATHER_API_FETCH] History data fetched", logging.Fields{
		"date":     date,
		"lat_long": latLong,
		"bytes":    len(body),
	})
	return json.RawMessage(body), nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}

// doWithRetry executes the request through the breaker, retrying 429 and
// 5xx responses and transport errors with exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, buildRequest func() (*http.Request, error)) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := buildRequest()
		if err != nil {
			return nil, err
		}

		result, err := c.circuit.Execute(func() (interface{}, error) {
			return c.do(req)
		})
		if err == nil {
			return result.([]byte), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		if !retryable(err) || attempt >= c.cfg.MaxRetries {
			return nil, err
		}

		delay := c.cfg.InitialBackoff * time.Duration(math.Pow(2, float64(attempt)))
		if delay > c.cfg.MaxBackoff {
			delay = c.cfg.MaxBackoff
		}
		c.logger.Warn(ctx, "[WEATHER_API_RETRY] Retrying history request", logging.Fields{
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %d %s", errUnexpected, resp.StatusCode, apiMessage(body))
	}
	return body, nil
}

// apiMessage extracts {"error":{"message":...}} from an error body.
func apiMessage(body []byte) string {
	var e struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil || e.Error.Message == "" {
		return ""
	}
	return fmt.Sprintf("(code %d: %s)", e.Error.Code, e.Error.Message)
}

func retryable(err error) bool {
	if errors.Is(err, errUnexpected) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
