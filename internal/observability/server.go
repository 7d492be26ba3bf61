// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package observability serves Prometheus metrics and health probes on a
// listener separate from the API.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// DefaultReadyTimeout bounds one readiness check when Config leaves it unset.
const DefaultReadyTimeout = 2 * time.Second

// ReadinessCheck returns nil when the service can take traffic.
type ReadinessCheck func(ctx context.Context) error

// Registrar registers a package's collectors.
type Registrar func(prometheus.Registerer)

// Metrics are the transport-level metrics recorded by the API.
type Metrics struct {
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the API metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	reg.MustRegister(m.HTTPRequests, m.HTTPDuration)
	return m
}

// Config configures a Server.
type Config struct {
	Addr string
	// Ready gates /healthz/readiness. Nil means always ready.
	Ready        ReadinessCheck
	ReadyTimeout time.Duration
	Registrars   []Registrar
	Logger       *slog.Logger
}

// Server exposes /metrics, /healthz/liveness and /healthz/readiness.
type Server struct {
	cfg     Config
	metrics *Metrics
	handler http.Handler

	mu   sync.Mutex
	srv  *http.Server
	addr string
}

// NewServer builds a Server around a private registry holding the Go and
// process collectors, the API metrics and every registrar's collectors.
func NewServer(cfg Config) *Server {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s := &Server{cfg: cfg, metrics: NewMetrics(registry)}
	for _, register := range cfg.Registrars {
		register(registry)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("GET /healthz/liveness", func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, nil)
	})
	mux.HandleFunc("GET /healthz/readiness", s.readiness)
	s.handler = mux
	return s
}

// Metrics returns the API metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler returns the probe and metrics routes.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens on the configured address. The returned channel carries a
// serve failure and is closed once serving ends.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil, oops.Code("OBSERVABILITY_RUNNING").Errorf("observability server already running")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.cfg.Addr).Wrap(err)
	}

	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	s.srv = srv
	s.addr = ln.Addr().String()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Logger.Error("observability server failed", "addr", ln.Addr().String(), "error", err)
			errCh <- err
		}
	}()
	return errCh, nil
}

// Stop shuts the listener down, waiting for in-flight scrapes until ctx ends.
// Stopping a server that is not running does nothing.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return oops.Code("OBSERVABILITY_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready == nil {
		writeProbe(w, nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ReadyTimeout)
	defer cancel()

	err := s.cfg.Ready(ctx)
	if err != nil {
		s.cfg.Logger.WarnContext(ctx, "readiness check failed", "error", err)
	}
	writeProbe(w, err)
}

// writeProbe answers "ok" or 503 "not ready". The cause stays in the log.
func writeProbe(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	status, body := http.StatusOK, "ok\n"
	if err != nil {
		status, body = http.StatusServiceUnavailable, "not ready\n"
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
