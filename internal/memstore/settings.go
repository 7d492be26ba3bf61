// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package memstore

import (
	"context"
	"maps"

	"github.com/quilljournal/quill/internal/settings"
)

// SettingsSource exposes the store's app_config map.
type SettingsSource struct {
	s *Store
}

var _ settings.Source = (*SettingsSource)(nil)

// Load returns a copy of every setting.
func (x *SettingsSource) Load(ctx context.Context) (map[string]string, error) {
	unlock := x.s.lock(ctx)
	defer unlock()
	return maps.Clone(x.s.config), nil
}

// Put stores a setting.
func (x *SettingsSource) Put(key, value string) {
	unlock := x.s.lock(context.Background())
	defer unlock()
	x.s.config[key] = value
}
