// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package speech turns journal entries into spoken audio through the
// Speechify text-to-speech API.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/quilljournal/quill/internal/journal"
)

// ErrUnavailable is returned when the speech service cannot produce audio.
var ErrUnavailable = errors.New("speech service unavailable")

// ErrAudioTooLarge is returned when the audio exceeds Config.MaxAudioBytes.
var ErrAudioTooLarge = errors.New("speech audio too large")

// Defaults for Config.
const (
	DefaultBaseURL        = "https://api.sws.speechify.com"
	DefaultVoice          = "lisa"
	DefaultConnectTimeout = 10 * time.Second
	DefaultTimeout        = 60 * time.Second
	DefaultRetries        = 2
	DefaultMaxAudioBytes  = 32 << 20
)

// Requests counts synthesis requests by outcome.
var Requests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quill_speech_requests_total",
		Help: "Speech synthesis requests by outcome",
	},
	[]string{"outcome"},
)

// RegisterMetrics registers the speech metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Requests)
}

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Voice   string
	// ConnectTimeout bounds dialing the service.
	ConnectTimeout time.Duration
	// Timeout bounds one request including reading the audio.
	Timeout time.Duration
	// Retries is how many times a failed request is repeated.
	Retries uint64
	// MaxAudioBytes rejects longer responses instead of truncating them.
	MaxAudioBytes int64
	Logger        *slog.Logger
}

// Client calls the Speechify streaming endpoint.
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	voice    string
	retries  uint64
	maxAudio int64
	logger   *slog.Logger
}

var _ journal.Synthesizer = (*Client)(nil)

// NewClient creates a Client. Zero durations and empty strings fall back to
// the package defaults; the API key is required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, oops.Code("SPEECH_INVALID_CONFIG").Errorf("speech api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		voice:    cfg.Voice,
		retries:  cfg.Retries,
		maxAudio: cfg.MaxAudioBytes,
		logger:   cfg.Logger,
	}, nil
}

type streamRequest struct {
	Input   string `json:"input"`
	VoiceID string `json:"voice_id"`
}

// Input builds the text read aloud for an entry.
func Input(title, content string) string {
	flatten := strings.NewReplacer("\r\n", " ", "\n", " ").Replace
	return "Title." + flatten(title) + " Content." + flatten(content)
}

// Synthesize returns MP3 audio reading the title and content. Server errors
// and network failures are retried; every failure wraps ErrUnavailable.
func (c *Client) Synthesize(ctx context.Context, title, content string) ([]byte, error) {
	body, err := json.Marshal(streamRequest{Input: Input(title, content), VoiceID: c.voice})
	if err != nil {
		return nil, oops.Code("SPEECH_ENCODE_FAILED").Wrap(err)
	}

	var audio []byte
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		audio, err = c.stream(ctx, body)
		return err
	})
	if err != nil {
		Requests.WithLabelValues("failure").Inc()
		return nil, oops.Code("EXTERNAL_UNAVAILABLE").
			With("service", "speech").
			Wrap(errors.Join(ErrUnavailable, err))
	}

	Requests.WithLabelValues("success").Inc()
	return audio, nil
}

func (c *Client) stream(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.logger.DebugContext(ctx, "speech request failed, retrying", "error", err)
		return nil, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, c.maxAudio+1))
	if err != nil {
		return nil, retry.RetryableError(err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("speech service returned %d: %s", resp.StatusCode, snippet(audio))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.RetryableError(statusErr)
		}
		return nil, statusErr
	}
	if int64(len(audio)) > c.maxAudio {
		return nil, oops.With("limit_bytes", c.maxAudio).Wrap(ErrAudioTooLarge)
	}
	if len(audio) == 0 {
		return nil, errors.New("speech service returned no audio")
	}
	return audio, nil
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		b = b[:limit]
	}
	return strings.TrimSpace(string(b))
}
