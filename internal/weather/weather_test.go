// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package weather_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilljournal/quill/internal/weather"
	"github.com/quilljournal/quill/pkg/errutil"
)

const sampleResponse = `{
  "request": {"type": "City", "query": "Pune, India"},
  "current": {
    "temperature": 31,
    "feelslike": 33,
    "weather_descriptions": ["Partly cloudy"],
    "astro": {"sunrise": "06:21 AM", "sunset": "06:44 PM"},
    "air_quality": {"co": "410.5", "no2": "12.1", "o3": "88", "so2": "4.2", "pm2_5": "21.3", "pm10": "40.8"}
  }
}`

func newWeatherServer(t *testing.T, handler http.HandlerFunc) *weather.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := weather.NewClient(weather.ClientConfig{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestClient_Current(t *testing.T) {
	c := newWeatherServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/current", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("access_key"))
		assert.Equal(t, "Pune", r.URL.Query().Get("query"))
		_, _ = w.Write([]byte(sampleResponse))
	})

	report, err := c.Current(context.Background(), "Pune")
	require.NoError(t, err)
	assert.Equal(t, 31, report.Current.Temperature)
	assert.Equal(t, "Partly cloudy", report.Current.WeatherDescriptions[0])
	assert.Equal(t, "21.3", report.Current.AirQuality.PM25)
}

func TestClient_ProviderError(t *testing.T) {
	c := newWeatherServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "error": {"code": 101, "type": "invalid_access_key", "info": "bad key"}}`))
	})

	_, err := c.Current(context.Background(), "Pune")
	assert.ErrorIs(t, err, weather.ErrUnavailable)
	errutil.AssertErrorCode(t, err, "EXTERNAL_UNAVAILABLE")
	assert.Contains(t, err.Error(), "invalid_access_key")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newWeatherServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleResponse))
	})

	_, err := c.Current(context.Background(), "Pune")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

type memCache struct {
	mu   sync.Mutex
	data map[string]*weather.Report
	err  error
}

func (m *memCache) Get(_ context.Context, key string) (*weather.Report, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	r, ok := m.data[key]
	return r, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, r *weather.Report, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = r
	return nil
}

type countingSource struct {
	calls  atomic.Int32
	report *weather.Report
	err    error
}

func (s *countingSource) Current(context.Context, string) (*weather.Report, error) {
	s.calls.Add(1)
	return s.report, s.err
}

func TestService_UsesCache(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{report: &weather.Report{Current: weather.Current{Temperature: 20}}}
	cache := &memCache{data: map[string]*weather.Report{}}

	svc, err := weather.NewService(weather.ServiceConfig{Source: src, Cache: cache})
	require.NoError(t, err)

	for range 3 {
		r, err := svc.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, 20, r.Current.Temperature)
	}
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Contains(t, cache.data, "weather:pune")
}

func TestService_CacheFailureFallsThrough(t *testing.T) {
	src := &countingSource{report: &weather.Report{}}
	svc, err := weather.NewService(weather.ServiceConfig{
		Source: src,
		Cache:  &memCache{err: errors.New("redis down")},
	})
	require.NoError(t, err)

	_, err = svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestService_Greeting(t *testing.T) {
	ctx := context.Background()

	t.Run("with weather", func(t *testing.T) {
		src := &countingSource{report: &weather.Report{Current: weather.Current{
			Temperature:         31,
			FeelsLike:           33,
			WeatherDescriptions: []string{"Sunny"},
		}}}
		svc, err := weather.NewService(weather.ServiceConfig{Source: src, City: "Mumbai"})
		require.NoError(t, err)

		got := svc.Greeting(ctx, "alice")
		assert.Contains(t, got, "Hii alice Temperature: 31°C, \n Feels like: 33°C, Sunny")
		assert.Contains(t, got, "Sunrise:")
	})

	t.Run("without weather", func(t *testing.T) {
		src := &countingSource{err: weather.ErrUnavailable}
		svc, err := weather.NewService(weather.ServiceConfig{Source: src})
		require.NoError(t, err)

		assert.Equal(t, "Hii alice Weather data not available", svc.Greeting(ctx, "alice"))
	})
}

func TestRedisCache_ReadFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })

	_, ok, err := weather.NewRedisCache(client).Get(context.Background(), "weather:pune")
	assert.False(t, ok)
	errutil.AssertErrorCode(t, err, "WEATHER_CACHE_READ_FAILED")
}
