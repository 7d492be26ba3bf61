// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package weather fetches current conditions from weatherstack and renders
// the greeting shown to signed-in users.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ErrUnavailable is returned when weather data cannot be obtained.
var ErrUnavailable = errors.New("weather service unavailable")

// Defaults for ClientConfig.
const (
	DefaultBaseURL = "http://api.weatherstack.com"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 1
)

// Report is the subset of a weatherstack "current" response the greeting uses.
type Report struct {
	Current Current `json:"current"`
}

// Current holds the observed conditions.
type Current struct {
	Temperature         int        `json:"temperature"`
	FeelsLike           int        `json:"feelslike"`
	WeatherDescriptions []string   `json:"weather_descriptions"`
	Astro               Astro      `json:"astro"`
	AirQuality          AirQuality `json:"air_quality"`
}

// Astro holds sunrise and sunset times as reported by the provider.
type Astro struct {
	Sunrise string `json:"sunrise"`
	Sunset  string `json:"sunset"`
}

// AirQuality holds pollutant readings. The provider reports them as strings.
type AirQuality struct {
	CO   string `json:"co"`
	NO2  string `json:"no2"`
	O3   string `json:"o3"`
	SO2  string `json:"so2"`
	PM25 string `json:"pm2_5"`
	PM10 string `json:"pm10"`
}

// providerError is the body weatherstack sends with HTTP 200 on failure.
type providerError struct {
	Success *bool `json:"success"`
	Error   struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
}

// ClientConfig configures a Client.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Retries uint64
}

// Client calls the weatherstack API.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	retries uint64
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, oops.Code("WEATHER_INVALID_CONFIG").Errorf("weather api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.Timeout}).DialContext

	return &Client{
		http:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		retries: cfg.Retries,
	}, nil
}

// Current returns the current conditions for city.
func (c *Client) Current(ctx context.Context, city string) (*Report, error) {
	q := url.Values{}
	q.Set("access_key", c.apiKey)
	q.Set("query", city)
	endpoint := c.baseURL + "/current?" + q.Encode()

	var report *Report
	backoff := retry.WithMaxRetries(c.retries, retry.NewConstant(250*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		report, err = c.fetch(ctx, endpoint)
		return err
	})
	if err != nil {
		return nil, oops.Code("EXTERNAL_UNAVAILABLE").
			With("service", "weather").
			With("city", city).
			Wrap(errors.Join(ErrUnavailable, err))
	}
	return report, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) (*Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, retry.RetryableError(redactKey(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, retry.RetryableError(fmt.Errorf("weather service returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather service returned %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}

	var perr providerError
	if err := json.Unmarshal(raw, &perr); err == nil && perr.Success != nil && !*perr.Success {
		return nil, fmt.Errorf("weather provider error %d (%s): %s", perr.Error.Code, perr.Error.Type, perr.Error.Info)
	}

	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode weather report: %w", err)
	}
	return &report, nil
}

// redactKey strips the query string, which carries the access key, from
// transport errors before they reach logs.
func redactKey(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if u, perr := url.Parse(uerr.URL); perr == nil {
			u.RawQuery = ""
			return &url.Error{Op: uerr.Op, URL: u.String(), Err: uerr.Err}
		}
	}
	return err
}

// Source is anything that returns current conditions for a city.
type Source interface {
	Current(ctx context.Context, city string) (*Report, error)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Source Source
	// Cache is optional.
	Cache Cache
	// TTL is how long cached reports are served. Zero means DefaultCacheTTL.
	TTL    time.Duration
	City   string
	Logger *slog.Logger
}

// DefaultCity is used when no city is configured.
const DefaultCity = "Pune"

// DefaultCacheTTL is how long a report is cached by default.
const DefaultCacheTTL = 10 * time.Minute

// Service serves reports through an optional cache.
type Service struct {
	source Source
	cache  Cache
	ttl    time.Duration
	city   string
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, oops.Code("WEATHER_INVALID_CONFIG").Errorf("weather source is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.City == "" {
		cfg.City = DefaultCity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		source: cfg.Source,
		cache:  cfg.Cache,
		ttl:    cfg.TTL,
		city:   cfg.City,
		logger: cfg.Logger,
	}, nil
}

// Current returns the report for the configured city. Cache failures are
// logged and fall through to the source.
func (s *Service) Current(ctx context.Context) (*Report, error) {
	key := "weather:" + strings.ToLower(s.city)
	if s.cache != nil {
		report, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "weather cache read failed", "key", key, "error", err)
		}
		if ok {
			return report, nil
		}
	}

	report, err := s.source.Current(ctx, s.city)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, report, s.ttl); err != nil {
			s.logger.WarnContext(ctx, "weather cache write failed", "key", key, "error", err)
		}
	}
	return report, nil
}

// Greeting returns the greeting for username. Weather failures degrade to a
// fixed notice and never fail the call.
func (s *Service) Greeting(ctx context.Context, username string) string {
	report, err := s.Current(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "weather unavailable for greeting", "city", s.city, "error", err)
		return Greeting(username, nil)
	}
	return Greeting(username, report)
}

// Greeting renders the greeting text. A nil report yields the
// "Weather data not available" notice.
func Greeting(username string, report *Report) string {
	var b strings.Builder
	b.WriteString("Hii ")
	b.WriteString(username)
	if report == nil {
		b.WriteString(" Weather data not available")
		return b.String()
	}

	cur := report.Current
	description := ""
	if len(cur.WeatherDescriptions) > 0 {
		description = cur.WeatherDescriptions[0]
	}
	fmt.Fprintf(&b, " Temperature: %d°C, \n Feels like: %d°C, %s", cur.Temperature, cur.FeelsLike, description)
	fmt.Fprintf(&b, "\n Sunrise: %s\n Sunset: %s", cur.Astro.Sunrise, cur.Astro.Sunset)
	fmt.Fprintf(&b, "\n Air Quality CO: %s\n NO2: %s\n O3: %s\n SO2: %s\n PM2.5: %s\n PM10: %s",
		cur.AirQuality.CO, cur.AirQuality.NO2, cur.AirQuality.O3,
		cur.AirQuality.SO2, cur.AirQuality.PM25, cur.AirQuality.PM10)
	return b.String()
}
