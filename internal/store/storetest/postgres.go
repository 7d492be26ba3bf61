// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package storetest starts disposable PostgreSQL instances for integration tests.
package storetest

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/quilljournal/quill/internal/store"
)

// StartPostgres runs a PostgreSQL container for the duration of t and
// returns its connection string. The schema is not migrated.
func StartPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("quill"),
		postgres.WithUsername("quill"),
		postgres.WithPassword("quill"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background()) //nolint:errcheck // best-effort teardown
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

// MigratedPool starts PostgreSQL, applies every migration and returns a pool.
func MigratedPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	connStr := StartPostgres(ctx, t)

	migrator, err := store.NewMigrator(connStr)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	pool, err := store.Open(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
