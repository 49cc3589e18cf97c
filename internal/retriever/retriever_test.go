package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vivarium/pkg/logging"
	"vivarium/pkg/metrics"
)

type fakeFetcher struct {
	body  json.RawMessage
	err   error
	calls int
}

func (f *fakeFetcher) GetHistoricalData(ctx context.Context, date, latLong string) (json.RawMessage, error) {
	f.calls++
	return f.body, f.err
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}}
}

func (m *memCache) Get(ctx context.Context, date string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	body, ok := m.data[date]
	if !ok {
		return nil, ErrCacheMiss
	}
	return body, nil
}

func (m *memCache) Put(ctx context.Context, date string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[date] = body
	return nil
}

func newTestRetriever(dir string, mirror Cache, api Fetcher) *Retriever {
	m := metrics.NewCollectorWithRegistry("vivarium_test", prometheus.NewRegistry())
	return New(NewFileCache(dir), mirror, api, logging.NewNopLogger(), m)
}

func TestYesterdayDate(t *testing.T) {
	tests := []struct {
		now  time.Time
		want string
	}{
		{time.Date(2024, 7, 29, 1, 0, 0, 0, time.UTC), "2024-07-28"},
		{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "2024-02-29"},
		{time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC), "2024-12-31"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, YesterdayDate(tt.now))
		})
	}
}

func TestRetriever_Retrieve(t *testing.T) {
	payload := json.RawMessage(`{"location":{},"forecast":{"forecastday":[]}}`)

	tests := []struct {
		name        string
		seedFile    bool
		seedMirror  bool
		mirrorErr   error
		noMirror    bool
		fetchErr    error
		wantErr     bool
		checkValues func(t *testing.T, dir string, mirror *memCache, api *fakeFetcher)
	}{
		{
			name:     "file cache hit skips the api",
			seedFile: true,
			checkValues: func(t *testing.T, dir string, mirror *memCache, api *fakeFetcher) {
				assert.Equal(t, 0, api.calls)
			},
		},
		{
			name:       "mirror hit rehydrates the file",
			seedMirror: true,
			checkValues: func(t *testing.T, dir string, mirror *memCache, api *fakeFetcher) {
				assert.Equal(t, 0, api.calls)
				body, err := os.ReadFile(filepath.Join(dir, "2024-07-28.json"))
				require.NoError(t, err)
				assert.JSONEq(t, string(payload), string(body))
			},
		},
		{
			name: "api result is written to both tiers",
			checkValues: func(t *testing.T, dir string, mirror *memCache, api *fakeFetcher) {
				assert.Equal(t, 1, api.calls)
				assert.FileExists(t, filepath.Join(dir, "2024-07-28.json"))
				assert.Contains(t, mirror.data, "2024-07-28")
			},
		},
		{
			name:      "mirror failure falls through to the api",
			mirrorErr: errors.New("connection refused"),
			checkValues: func(t *testing.T, dir string, mirror *memCache, api *fakeFetcher) {
				assert.Equal(t, 1, api.calls)
				assert.FileExists(t, filepath.Join(dir, "2024-07-28.json"))
			},
		},
		{
			name:     "works without a mirror",
			noMirror: true,
			checkValues: func(t *testing.T, dir string, mirror *memCache, api *fakeFetcher) {
				assert.Equal(t, 1, api.calls)
			},
		},
		{
			name:     "failed fetch caches nothing",
			fetchErr: errors.New("boom"),
			wantErr:  true,
			checkValues: func(t *testing.T, dir string, mirror *memCache, api *fakeFetcher) {
				assert.NoFileExists(t, filepath.Join(dir, "2024-07-28.json"))
				assert.Empty(t, mirror.data)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.seedFile {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "2024-07-28.json"), payload, 0o644))
			}
			mirror := newMemCache()
			if tt.seedMirror {
				mirror.data["2024-07-28"] = payload
			}
			api := &fakeFetcher{body: payload, err: tt.fetchErr}

			var r *Retriever
			if tt.noMirror {
				r = newTestRetriever(dir, nil, api)
			} else {
				r = newTestRetriever(dir, mirror, api)
			}
			// Seeded data is in place; errors only apply to lookups and writes.
			mirror.err = tt.mirrorErr

			path, err := r.Retrieve(context.Background(), "2024-07-28", "5.98,116.07")
			if tt.wantErr {
				require.Error(t, err)
				assert.Empty(t, path)
			} else {
				require.NoError(t, err)
				assert.Equal(t, filepath.Join(dir, "2024-07-28.json"), path)
			}
			if tt.checkValues != nil {
				tt.checkValues(t, dir, mirror, api)
			}
		})
	}
}

func TestRetriever_RejectsBadDate(t *testing.T) {
	api := &fakeFetcher{body: json.RawMessage(`{}`)}
	r := newTestRetriever(t.TempDir(), nil, api)

	_, err := r.Retrieve(context.Background(), "28-07-2024", "1,2")
	require.Error(t, err)
	assert.Equal(t, 0, api.calls)
}

func TestFileCache_PutLeavesNoTempFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "raw")
	c := NewFileCache(dir)

	require.NoError(t, c.Put(context.Background(), "2024-07-28", []byte(`{}`)))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2024-07-28.json", entries[0].Name())

	_, err = c.Get(context.Background(), "2024-07-29")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "vivarium:raw:2024-07-28", RedisKey("2024-07-28"))
}
