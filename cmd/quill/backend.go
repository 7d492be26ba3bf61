// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/quilljournal/quill/internal/auth"
	authpg "github.com/quilljournal/quill/internal/auth/postgres"
	"github.com/quilljournal/quill/internal/config"
	"github.com/quilljournal/quill/internal/journal"
	journalpg "github.com/quilljournal/quill/internal/journal/postgres"
	"github.com/quilljournal/quill/internal/memstore"
	"github.com/quilljournal/quill/internal/settings"
	"github.com/quilljournal/quill/internal/store"
)

// backend is the storage a command runs against.
type backend struct {
	Users      auth.UserRepository
	Entries    journal.EntryRepository
	Ownership  journal.OwnershipIndex
	Transactor journal.Transactor
	Settings   settings.Source
	// Ping reports whether the store is reachable.
	Ping  func(ctx context.Context) error
	Close func()
}

// openBackend connects the configured store driver. For postgres it
// applies pending migrations first when autoMigrate is set.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("using the in-memory store; data is lost on exit")
		mem := memstore.New()
		return &backend{
			Users:      mem.Users(),
			Entries:    mem.Entries(),
			Ownership:  mem.Ownership(),
			Transactor: mem,
			Settings:   mem.Settings(),
			Ping:       func(context.Context) error { return nil },
			Close:      func() {},
		}, nil
	case config.DriverPostgres:
		if cfg.Database.AutoMigrate {
			if err := migrateUp(cfg.Database.URL, logger); err != nil {
				return nil, err
			}
		}
		pool, err := store.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return postgresBackend(pool), nil
	}
	return nil, oops.Code("CONFIG_INVALID").
		With("driver", cfg.Store.Driver).
		Errorf("unknown store driver %q", cfg.Store.Driver)
}

func postgresBackend(pool *pgxpool.Pool) *backend {
	return &backend{
		Users:      authpg.NewUserRepository(pool),
		Entries:    journalpg.NewEntryRepository(pool),
		Ownership:  journalpg.NewOwnershipIndex(pool),
		Transactor: store.NewTransactor(pool),
		Settings:   settings.NewPostgresSource(pool),
		Ping:       pool.Ping,
		Close:      pool.Close,
	}
}

func migrateUp(databaseURL string, logger *slog.Logger) error {
	migrator, err := store.NewMigrator(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	pending, err := migrator.PendingMigrations()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "list pending").Wrap(err)
	}
	if len(pending) == 0 {
		logger.Info("database schema is current")
		return nil
	}
	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("applied migrations", "count", len(pending))
	return nil
}

// newGate builds the authentication gate from configuration.
func newGate(cfg *config.Config, users auth.UserRepository, logger *slog.Logger) (*auth.Service, error) {
	tokens, err := auth.NewTokenService([]byte(cfg.Auth.Secret), cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	if err != nil {
		return nil, err
	}
	hasher := auth.NewArgon2idHasherWithParams(cfg.Auth.Argon2.Params())
	return auth.NewAuthServiceWithLogger(users, hasher, tokens, logger)
}
