// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package settings loads the app_config key/value table once at startup into
// a read-only snapshot.
package settings

import (
	"context"
	"maps"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/quilljournal/quill/internal/store"
)

// Keys read by the server.
const (
	KeyWeatherCity = "weather.city"
	KeySpeechVoice = "speech.voice"
)

// Source returns every stored setting.
type Source interface {
	Load(ctx context.Context) (map[string]string, error)
}

// Snapshot is an immutable view of the settings taken at startup. It is safe
// for concurrent use without locking.
type Snapshot struct {
	values map[string]string
}

// Load reads all settings from src.
func Load(ctx context.Context, src Source) (*Snapshot, error) {
	values, err := src.Load(ctx)
	if err != nil {
		return nil, oops.Code("SETTINGS_LOAD_FAILED").Wrap(err)
	}
	return &Snapshot{values: maps.Clone(values)}, nil
}

// Empty returns a snapshot with no settings.
func Empty() *Snapshot {
	return &Snapshot{}
}

// Get returns the value for key.
func (s *Snapshot) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// String returns the value for key, or def when it is unset or blank.
func (s *Snapshot) String(key, def string) string {
	if v, ok := s.values[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// Len returns the number of settings.
func (s *Snapshot) Len() int {
	return len(s.values)
}

// PostgresSource reads settings from the app_config table.
type PostgresSource struct {
	db store.DB
}

var _ Source = (*PostgresSource)(nil)

// NewPostgresSource creates a PostgresSource.
func NewPostgresSource(db store.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Load implements Source.
func (p *PostgresSource) Load(ctx context.Context) (map[string]string, error) {
	rows, err := store.Conn(ctx, p.db).Query(ctx, `SELECT key, value FROM app_config`)
	if err != nil {
		return nil, oops.Code("SETTINGS_QUERY_FAILED").Wrap(err)
	}

	values := make(map[string]string)
	var key, value string
	_, err = pgx.ForEachRow(rows, []any{&key, &value}, func() error {
		values[key] = value
		return nil
	})
	if err != nil {
		return nil, oops.Code("SETTINGS_QUERY_FAILED").Wrap(err)
	}
	return values, nil
}
