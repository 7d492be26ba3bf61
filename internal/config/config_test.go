// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilljournal/quill/internal/config"
	"github.com/quilljournal/quill/pkg/errutil"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("QUILL_AUTH__SECRET", secret)
	t.Setenv("QUILL_STORE__DRIVER", "memory")

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 168*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, uint32(64*1024), cfg.Auth.Argon2.Memory)
	assert.Equal(t, "Pune", cfg.Weather.City)
	assert.Equal(t, 10*time.Second, cfg.Speech.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.Speech.Timeout)
	assert.False(t, cfg.Speech.Enabled())
	assert.False(t, cfg.Weather.Enabled())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, `
http:
  addr: ":9000"
store:
  driver: memory
auth:
  secret: "`+secret+`"
  access_ttl: 5m
weather:
  city: Berlin
log:
  level: debug
`)
	t.Setenv("QUILL_WEATHER__CITY", "Lisbon")
	t.Setenv("QUILL_HTTP__ADDR", ":9001")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--http-addr", ":9002"}))

	cfg, err := config.Load(config.Options{File: path, Flags: fs})
	require.NoError(t, err)

	assert.Equal(t, ":9002", cfg.HTTP.Addr, "flag beats env and file")
	assert.Equal(t, "Lisbon", cfg.Weather.City, "env beats file")
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL, "file beats defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr, "unset flag keeps the default")
}

func TestLoad_EnvDurations(t *testing.T) {
	t.Setenv("QUILL_AUTH__SECRET", secret)
	t.Setenv("QUILL_STORE__DRIVER", "memory")
	t.Setenv("QUILL_AUTH__REFRESH_TTL", "48h")
	t.Setenv("QUILL_SPEECH__API_KEY", "key")
	t.Setenv("QUILL_SPEECH__RETRIES", "5")

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.Auth.RefreshTTL)
	assert.True(t, cfg.Speech.Enabled())
	assert.Equal(t, uint64(5), cfg.Speech.Retries)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(config.Options{File: filepath.Join(t.TempDir(), "absent.yaml")})
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func valid() config.Config {
	return config.Config{
		HTTP:     config.HTTPConfig{Addr: ":8080"},
		Log:      config.LogConfig{Format: "json", Level: "info"},
		Database: config.DatabaseConfig{URL: "postgres://localhost/quill"},
		Store:    config.StoreConfig{Driver: config.DriverPostgres},
		Auth: config.AuthConfig{
			Secret:     secret,
			AccessTTL:  time.Minute,
			RefreshTTL: time.Hour,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"short secret", func(c *config.Config) { c.Auth.Secret = "short" }},
		{"zero access ttl", func(c *config.Config) { c.Auth.AccessTTL = 0 }},
		{"negative refresh ttl", func(c *config.Config) { c.Auth.RefreshTTL = -time.Second }},
		{"refresh shorter than access", func(c *config.Config) { c.Auth.RefreshTTL = time.Second }},
		{"log format", func(c *config.Config) { c.Log.Format = "xml" }},
		{"log level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"driver", func(c *config.Config) { c.Store.Driver = "mongo" }},
		{"postgres without url", func(c *config.Config) { c.Database.URL = "" }},
		{"http addr", func(c *config.Config) { c.HTTP.Addr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			errutil.AssertErrorCode(t, cfg.Validate(), "CONFIG_INVALID")
		})
	}

	t.Run("valid", func(t *testing.T) {
		cfg := valid()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("memory store needs no url", func(t *testing.T) {
		cfg := valid()
		cfg.Store.Driver = config.DriverMemory
		cfg.Database.URL = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestArgon2Config_Params(t *testing.T) {
	p := config.Argon2Config{Time: 2, Memory: 1024, Threads: 1}.Params()
	assert.Equal(t, uint32(2), p.Time)
	assert.Equal(t, uint32(1024), p.Memory)
	assert.Equal(t, uint8(1), p.Threads)
}
