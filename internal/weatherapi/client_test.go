package weatherapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

func newTestClient(baseURL string, retries int) *Client {
	m := metrics.NewCollectorWithRegistry("vivarium_test", prometheus.NewRegistry())
	return NewClient(Config{
		BaseURL:        baseURL,
		APIKey:         "k",
		Timeout:        2 * time.Second,
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, logging.NewNopLogger(), m)
}

func TestClient_HistoryURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "https://api.weatherapi.com/v1", want: "https://api.weatherapi.com/v1/history.json"},
		{base: "https://api.weatherapi.com/v1/", want: "https://api.weatherapi.com/v1/history.json"},
		{base: "https://example.com/custom/history.json", want: "https://example.com/custom/history.json"},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			assert.Equal(t, tt.want, newTestClient(tt.base, 0).HistoryURL())
		})
	}
}

func TestClient_GetHistoricalData(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/history.json", r.URL.Path)
		gotQuery.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"location":{"name":"x"},"forecast":{"forecastday":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL+"/v1", 0)
	body, err := c.GetHistoricalData(context.Background(), "2024-07-28", "5.98,116.07")
	require.NoError(t, err)
	assert.JSONEq(t, `{"location":{"name":"x"},"forecast":{"forecastday":[]}}`, string(body))

	q := gotQuery.Load().(url.Values)
	assert.Equal(t, []string{"k"}, q["key"])
	assert.Equal(t, []string{"5.98,116.07"}, q["q"])
	assert.Equal(t, []string{"2024-07-28"}, q["dt"])
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		retries   int
		wantCalls int32
		wantErr   error
		wantOK    bool
	}{
		{
			name:      "rate limit is retried",
			statuses:  []int{http.StatusTooManyRequests, http.StatusOK},
			retries:   2,
			wantCalls: 2,
			wantOK:    true,
		},
		{
			name:      "server errors exhaust retries",
			statuses:  []int{500, 502, 503},
			retries:   2,
			wantCalls: 3,
		},
		{
			name:      "client error is not retried",
			statuses:  []int{http.StatusBadRequest},
			retries:   3,
			wantCalls: 1,
		},
		{
			name:      "rate limit without retries",
			statuses:  []int{http.StatusTooManyRequests},
			retries:   0,
			wantCalls: 1,
			wantErr:   ErrRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				status := tt.statuses[len(tt.statuses)-1]
				if int(n) <= len(tt.statuses) {
					status = tt.statuses[n-1]
				}
				w.WriteHeader(status)
				if status == http.StatusOK {
					w.Write([]byte(`{}`))
				} else {
					w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
				}
			}))
			defer srv.Close()

			body, err := newTestClient(srv.URL, tt.retries).GetHistoricalData(context.Background(), "2024-07-28", "1,2")
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
			if tt.wantOK {
				require.NoError(t, err)
				assert.NotNil(t, body)
				return
			}
			require.Error(t, err)
			assert.Nil(t, body)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "error %v is not %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_ClientErrorCarriesAPIMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).GetHistoricalData(context.Background(), "2024-07-28", "1,2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No matching location found.")
}

func TestClient_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	for i := 0; i < 5; i++ {
		_, err := c.GetHistoricalData(context.Background(), "2024-07-28", "1,2")
		require.Error(t, err)
	}

	_, err := c.GetHistoricalData(context.Background(), "2024-07-28", "1,2")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestClient_RejectsMissingKeyAndBadBody(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", 0)
	c.cfg.APIKey = ""
	_, err := c.GetHistoricalData(context.Background(), "2024-07-28", "1,2")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()
	_, err = newTestClient(srv.URL, 0).GetHistoricalData(context.Background(), "2024-07-28", "1,2")
	assert.Error(t, err)
}
