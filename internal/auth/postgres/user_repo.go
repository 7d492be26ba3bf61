// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package postgres implements auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/quilljournal/quill/internal/auth"
	"github.com/quilljournal/quill/internal/store"
)

// usernameConstraint is the unique index that arbitrates concurrent registration.
const usernameConstraint = "users_username_key"

const userColumns = `id, username, password_hash, roles, failed_attempts, locked_until, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db store.DB
}

var _ auth.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db store.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a new user. A taken username yields auth.ErrDuplicateUsername.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := store.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		user.ID.String(),
		user.Username,
		user.PasswordHash,
		auth.RoleNames(user.Roles),
		user.FailedAttempts,
		user.LockedUntil,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if store.IsUniqueViolation(err, usernameConstraint) {
		return oops.Code("AUTH_DUPLICATE_USERNAME").
			With("username", user.Username).
			Wrap(auth.ErrDuplicateUsername)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByUsername retrieves a user by exact username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by username").
			With("username", username).
			Wrap(err)
	}
	return user, nil
}

// List returns every user ordered by creation time.
func (r *UserRepository) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := store.Conn(ctx, r.db).Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("operation", "query users").Wrap(err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, oops.Code("USER_LIST_FAILED").With("operation", "scan user").Wrap(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("operation", "iterate users").Wrap(err)
	}
	return users, nil
}

// RecordLoginFailure increments failed_attempts in place and sets the lockout
// once the new count reaches auth.LockoutThreshold.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID) (int, *time.Time, error) {
	now := time.Now().UTC()
	var (
		attempts    int
		lockedUntil *time.Time
	)
	err := store.Conn(ctx, r.db).QueryRow(ctx, `
		UPDATE users
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
		    updated_at = $4
		WHERE id = $1
		RETURNING failed_attempts, locked_until
	`,
		id.String(),
		auth.LockoutThreshold,
		now.Add(auth.LockoutDuration),
		now,
	).Scan(&attempts, &lockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, nil, oops.Code("USER_UPDATE_FAILED").
			With("operation", "record login failure").
			With("id", id.String()).
			Wrap(err)
	}
	return attempts, lockedUntil, nil
}

// ResetLoginFailures clears the failure counter and lockout.
func (r *UserRepository) ResetLoginFailures(ctx context.Context, id ulid.ULID) error {
	return r.exec(ctx, "reset login failures", id, `
		UPDATE users
		SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1
	`, id.String(), time.Now().UTC())
}

// SetPasswordHash replaces the password hash and clears any lockout.
func (r *UserRepository) SetPasswordHash(ctx context.Context, id ulid.ULID, hash string) error {
	return r.exec(ctx, "set password hash", id, `
		UPDATE users
		SET password_hash = $2, failed_attempts = 0, locked_until = NULL, updated_at = $3
		WHERE id = $1
	`, id.String(), hash, time.Now().UTC())
}

// UpgradePasswordHash swaps oldHash for newHash. A hash that changed since it
// was read is left alone and reported as false.
func (r *UserRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string) (bool, error) {
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `
		UPDATE users
		SET password_hash = $3, updated_at = $4
		WHERE id = $1 AND password_hash = $2
	`, id.String(), oldHash, newHash, time.Now().UTC())
	if err != nil {
		return false, oops.Code("USER_UPDATE_FAILED").
			With("operation", "upgrade password hash").
			With("id", id.String()).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *UserRepository) exec(ctx context.Context, operation string, id ulid.ULID, sql string, args ...any) error {
	tag, err := store.Conn(ctx, r.db).Exec(ctx, sql, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a user. Ownership rows go with it via ON DELETE CASCADE;
// the entries themselves are removed by the caller in the same transaction.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr     string
		roleNames []string
		user      auth.User
	)
	if err := row.Scan(
		&idStr,
		&user.Username,
		&user.PasswordHash,
		&roleNames,
		&user.FailedAttempts,
		&user.LockedUntil,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_CORRUPT").With("id", idStr).Wrap(err)
	}
	user.ID = id

	roles, err := auth.ParseRoles(roleNames)
	if err != nil {
		return nil, oops.Code("USER_CORRUPT").With("id", idStr).Wrap(err)
	}
	user.Roles = roles
	return &user, nil
}
