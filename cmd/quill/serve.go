// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/quilljournal/quill/internal/auth"
	"github.com/quilljournal/quill/internal/config"
	"github.com/quilljournal/quill/internal/httpapi"
	"github.com/quilljournal/quill/internal/journal"
	"github.com/quilljournal/quill/internal/logging"
	"github.com/quilljournal/quill/internal/observability"
	"github.com/quilljournal/quill/internal/settings"
	"github.com/quilljournal/quill/internal/speech"
	"github.com/quilljournal/quill/internal/weather"
)

const (
	shutdownTimeout = 15 * time.Second
	readinessProbe  = 2 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the journal HTTP API",
		Long: `Start the HTTP API together with the metrics and health server.
The process stops on SIGINT or SIGTERM after draining in-flight requests.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, nil)
		},
	}
}

// runServe runs until ctx ends or a server fails. onReady, if set, is called
// with the API address once every listener is bound.
func runServe(ctx context.Context, cfg *config.Config, onReady func(apiAddr string)) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: "quill",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
	})

	logger.Info("starting quill", "store", cfg.Store.Driver, "http_addr", cfg.HTTP.Addr)

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	snapshot, err := settings.Load(ctx, be.Settings)
	if err != nil {
		return err
	}
	logger.Info("settings loaded", "keys", snapshot.Len())

	gate, err := newGate(cfg, be.Users, logger)
	if err != nil {
		return err
	}

	worker, err := newAudioWorker(cfg, snapshot, be.Entries, logger)
	if err != nil {
		return err
	}
	if worker != nil {
		defer worker.Close()
	}

	coordinator, err := journal.NewCoordinator(journal.CoordinatorConfig{
		Entries:    be.Entries,
		Ownership:  be.Ownership,
		Users:      be.Users,
		Transactor: be.Transactor,
		Audio:      worker,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	greeter, closeGreeter, err := newGreeter(ctx, cfg, snapshot, logger)
	if err != nil {
		return err
	}
	defer closeGreeter()

	var (
		obsServer *observability.Server
		obsErrCh  <-chan error
		metrics   *observability.Metrics
	)
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(observability.Config{
			Addr:         cfg.Metrics.Addr,
			Ready:        be.Ping,
			ReadyTimeout: readinessProbe,
			Registrars: []observability.Registrar{
				auth.RegisterMetrics, journal.RegisterMetrics, speech.RegisterMetrics,
			},
			Logger: logger,
		})
		metrics = obsServer.Metrics()
		obsErrCh, err = obsServer.Start()
		if err != nil {
			return oops.Code("SERVER_START_FAILED").With("server", "observability").Wrap(err)
		}
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := httpapi.NewRouter(httpapi.Config{
		Auth:    gate,
		Journal: coordinator,
		Greeter: greeter,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		stopObservability(logger, obsServer)
		return err
	}
	apiServer := httpapi.NewServer(cfg.HTTP.Addr, handler, logger)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		stopObservability(logger, obsServer)
		return oops.Code("SERVER_START_FAILED").With("server", "http").Wrap(err)
	}

	logger.Info("quill ready", "http_addr", apiServer.Addr())
	if onReady != nil {
		onReady(apiServer.Addr())
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err, ok := <-apiErrCh:
		if ok {
			runErr = oops.Code("SERVER_FAILED").With("server", "http").Wrap(err)
		}
	case err, ok := <-obsErrCh:
		if ok {
			runErr = oops.Code("SERVER_FAILED").With("server", "observability").Wrap(err)
		}
	}

	stopServer(logger, "http", apiServer)
	stopObservability(logger, obsServer)
	logger.Info("shutdown complete")
	return runErr
}

type stoppable interface {
	Stop(ctx context.Context) error
}

func stopServer(logger *slog.Logger, name string, s stoppable) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping server", "server", name, "error", err)
	}
}

func stopObservability(logger *slog.Logger, s *observability.Server) {
	if s != nil {
		stopServer(logger, "observability", s)
	}
}

// newAudioWorker returns nil when no speech API key is configured.
func newAudioWorker(cfg *config.Config, snapshot *settings.Snapshot, entries journal.EntryRepository, logger *slog.Logger) (*journal.AudioWorker, error) {
	if !cfg.Speech.Enabled() {
		logger.Info("speech synthesis disabled")
		return nil, nil
	}
	client, err := speech.NewClient(speech.Config{
		APIKey:         cfg.Speech.APIKey,
		BaseURL:        cfg.Speech.BaseURL,
		Voice:          snapshot.String(settings.KeySpeechVoice, cfg.Speech.Voice),
		ConnectTimeout: cfg.Speech.ConnectTimeout,
		Timeout:        cfg.Speech.Timeout,
		Retries:        cfg.Speech.Retries,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return journal.NewAudioWorker(journal.AudioWorkerConfig{
		Synthesizer: client,
		Entries:     entries,
		Concurrency: cfg.Speech.Concurrency,
		Logger:      logger,
	})
}

// newGreeter returns a nil Greeter when no weather API key is configured.
// A Redis cache is used when reachable; otherwise every greeting queries
// the provider.
func newGreeter(ctx context.Context, cfg *config.Config, snapshot *settings.Snapshot, logger *slog.Logger) (httpapi.Greeter, func(), error) {
	noop := func() {}
	if !cfg.Weather.Enabled() {
		logger.Info("weather greeting disabled")
		return nil, noop, nil
	}

	client, err := weather.NewClient(weather.ClientConfig{
		APIKey:  cfg.Weather.APIKey,
		BaseURL: cfg.Weather.BaseURL,
		Timeout: cfg.Weather.Timeout,
		Retries: 1,
	})
	if err != nil {
		return nil, noop, err
	}

	var cache weather.Cache
	closeCache := noop
	if cfg.Redis.Addr != "" {
		rdb, dialErr := weather.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if dialErr != nil {
			logger.Warn("weather cache unavailable", "addr", cfg.Redis.Addr, "error", dialErr)
		} else {
			cache = weather.NewRedisCache(rdb)
			closeCache = func() {
				if closeErr := rdb.Close(); closeErr != nil {
					logger.Warn("failed to close redis client", "error", closeErr)
				}
			}
		}
	}

	svc, err := weather.NewService(weather.ServiceConfig{
		Source: client,
		Cache:  cache,
		TTL:    cfg.Redis.TTL,
		City:   snapshot.String(settings.KeyWeatherCity, cfg.Weather.City),
		Logger: logger,
	})
	if err != nil {
		closeCache()
		return nil, noop, err
	}
	return svc, closeCache, nil
}
