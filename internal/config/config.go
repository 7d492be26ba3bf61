// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package config loads layered process configuration: built-in defaults,
// an optional YAML file, QUILL_ environment variables, then command-line
// flags, each overriding the one before.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/quilljournal/quill/internal/auth"
	"github.com/quilljournal/quill/internal/logging"
	"github.com/quilljournal/quill/internal/speech"
	"github.com/quilljournal/quill/internal/weather"
)

// EnvPrefix marks environment variables read by Load. Nested keys use a
// double underscore: QUILL_AUTH__ACCESS_TTL sets auth.access_ttl.
const EnvPrefix = "QUILL_"

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Store    StoreConfig    `koanf:"store"`
	Auth     AuthConfig     `koanf:"auth"`
	Speech   SpeechConfig   `koanf:"speech"`
	Weather  WeatherConfig  `koanf:"weather"`
	Redis    RedisConfig    `koanf:"redis"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig addresses the metrics and health server. Empty disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
	// AutoMigrate applies pending migrations when serve starts.
	AutoMigrate bool `koanf:"auto_migrate"`
}

type StoreConfig struct {
	Driver string `koanf:"driver"`
}

type AuthConfig struct {
	Secret     string        `koanf:"secret"`
	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`
	Argon2     Argon2Config  `koanf:"argon2"`
}

// Argon2Config is the password hashing work factor.
type Argon2Config struct {
	Time    uint32 `koanf:"time"`
	Memory  uint32 `koanf:"memory"`
	Threads uint8  `koanf:"threads"`
}

// Params converts the work factor for the hasher.
func (a Argon2Config) Params() auth.Argon2Params {
	return auth.Argon2Params{Time: a.Time, Memory: a.Memory, Threads: a.Threads}
}

// SpeechConfig configures audio generation. An empty APIKey disables it.
type SpeechConfig struct {
	APIKey         string        `koanf:"api_key"`
	BaseURL        string        `koanf:"base_url"`
	Voice          string        `koanf:"voice"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	Timeout        time.Duration `koanf:"timeout"`
	Retries        uint64        `koanf:"retries"`
	Concurrency    int           `koanf:"concurrency"`
}

// Enabled reports whether audio generation is configured.
func (s SpeechConfig) Enabled() bool { return s.APIKey != "" }

// WeatherConfig configures the greeting's weather lookup. An empty APIKey
// disables it.
type WeatherConfig struct {
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url"`
	City    string        `koanf:"city"`
	Timeout time.Duration `koanf:"timeout"`
}

// Enabled reports whether weather lookups are configured.
func (w WeatherConfig) Enabled() bool { return w.APIKey != "" }

// RedisConfig configures the weather cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	TTL      time.Duration `koanf:"ttl"`
}

// Defaults returns the built-in configuration.
func Defaults() map[string]any {
	argon := auth.DefaultArgon2Params()
	return map[string]any{
		"http.addr":              ":8080",
		"metrics.addr":           "127.0.0.1:9100",
		"log.format":             "json",
		"log.level":              "info",
		"database.url":           "",
		"database.auto_migrate":  false,
		"store.driver":           DriverPostgres,
		"auth.secret":            "",
		"auth.access_ttl":        15 * time.Minute,
		"auth.refresh_ttl":       7 * 24 * time.Hour,
		"auth.argon2.time":       argon.Time,
		"auth.argon2.memory":     argon.Memory,
		"auth.argon2.threads":    argon.Threads,
		"speech.api_key":         "",
		"speech.base_url":        speech.DefaultBaseURL,
		"speech.voice":           speech.DefaultVoice,
		"speech.connect_timeout": speech.DefaultConnectTimeout,
		"speech.timeout":         speech.DefaultTimeout,
		"speech.retries":         uint64(speech.DefaultRetries),
		"speech.concurrency":     0,
		"weather.api_key":        "",
		"weather.base_url":       weather.DefaultBaseURL,
		"weather.city":           weather.DefaultCity,
		"weather.timeout":        weather.DefaultTimeout,
		"redis.addr":             "",
		"redis.password":         "",
		"redis.ttl":              weather.DefaultCacheTTL,
	}
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"database-url": "database.url",
	"store":        "store.driver",
	"auto-migrate": "database.auto_migrate",
}

// RegisterFlags adds the flags Load understands to fs. Their defaults are
// left empty so that unset flags never override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", "", "HTTP API listen address")
	fs.String("metrics-addr", "", "metrics/health listen address (empty disables)")
	fs.String("log-format", "", "log format (json or text)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("store", "", "store driver (postgres or memory)")
	fs.Bool("auto-migrate", false, "apply pending migrations on start")
}

// Options selects the optional sources Load reads. The environment is
// always read.
type Options struct {
	// File is an optional YAML file.
	File string
	// Flags may be nil.
	Flags *pflag.FlagSet
}

// Load merges every source. Commands validate what they need: migrate only
// requires a database URL, serve requires Validate to pass.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	for key, value := range Defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("key", key).Wrap(err)
		}
	}

	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("file", opts.File).
				Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode").Wrap(err)
	}
	return &cfg, nil
}

// envKey maps QUILL_AUTH__ACCESS_TTL to auth.access_ttl.
func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(name), "__", ".")
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if len(c.Auth.Secret) < auth.MinSecretLength {
		return oops.Code("CONFIG_INVALID").
			With("key", "auth.secret").
			With("min", auth.MinSecretLength).
			Errorf("auth.secret must be at least %d bytes", auth.MinSecretLength)
	}
	if c.Auth.AccessTTL <= 0 {
		return oops.Code("CONFIG_INVALID").With("key", "auth.access_ttl").Errorf("auth.access_ttl must be positive")
	}
	if c.Auth.RefreshTTL <= 0 {
		return oops.Code("CONFIG_INVALID").With("key", "auth.refresh_ttl").Errorf("auth.refresh_ttl must be positive")
	}
	if c.Auth.RefreshTTL < c.Auth.AccessTTL {
		return oops.Code("CONFIG_INVALID").
			With("key", "auth.refresh_ttl").
			Errorf("auth.refresh_ttl must not be shorter than auth.access_ttl")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").
			With("key", "log.format").
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code("CONFIG_INVALID").
			With("key", "log.level").
			Errorf("log.level %q is not a known level", c.Log.Level)
	}
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return oops.Code("CONFIG_INVALID").
				With("key", "database.url").
				Errorf("database.url is required for the postgres store")
		}
	case DriverMemory:
	default:
		return oops.Code("CONFIG_INVALID").
			With("key", "store.driver").
			Errorf("store.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Store.Driver)
	}
	if c.HTTP.Addr == "" {
		return oops.Code("CONFIG_INVALID").With("key", "http.addr").Errorf("http.addr is required")
	}
	return nil
}
