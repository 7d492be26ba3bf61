// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/quilljournal/quill/internal/auth"
)

// UserRepository implements auth.UserRepository.
type UserRepository struct {
	s *Store
}

var _ auth.UserRepository = (*UserRepository)(nil)

// Create stores a new user, rejecting a taken username.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if err := r.s.fault("users.create"); err != nil {
		return err
	}
	if _, taken := r.s.usernames[user.Username]; taken {
		return oops.Code("AUTH_DUPLICATE_USERNAME").
			With("username", user.Username).
			Wrap(auth.ErrDuplicateUsername)
	}
	r.s.users[user.ID] = copyUser(user)
	r.s.usernames[user.Username] = user.ID
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	if err := r.s.fault("users.get"); err != nil {
		return nil, err
	}
	u, ok := r.s.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return copyUser(u), nil
}

// GetByUsername retrieves a user by exact username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	if err := r.s.fault("users.get"); err != nil {
		return nil, err
	}
	id, ok := r.s.usernames[username]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
	}
	return copyUser(r.s.users[id]), nil
}

// List returns every user ordered by creation time.
func (r *UserRepository) List(ctx context.Context) ([]*auth.User, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	users := make([]*auth.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		users = append(users, copyUser(u))
	}
	slices.SortFunc(users, func(a, b *auth.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})
	return users, nil
}

// RecordLoginFailure increments the stored failure counter under the store lock.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID) (int, *time.Time, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	u, err := r.stored("users.update", id)
	if err != nil {
		return 0, nil, err
	}
	u.RecordFailure()
	return u.FailedAttempts, copyUser(u).LockedUntil, nil
}

// ResetLoginFailures clears the failure counter and lockout.
func (r *UserRepository) ResetLoginFailures(ctx context.Context, id ulid.ULID) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	u, err := r.stored("users.update", id)
	if err != nil {
		return err
	}
	u.RecordSuccess()
	return nil
}

// SetPasswordHash replaces the password hash and clears any lockout.
func (r *UserRepository) SetPasswordHash(ctx context.Context, id ulid.ULID, hash string) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	u, err := r.stored("users.update", id)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.RecordSuccess()
	return nil
}

// UpgradePasswordHash swaps oldHash for newHash if it is still stored.
func (r *UserRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string) (bool, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	u, err := r.stored("users.update", id)
	if err != nil {
		return false, err
	}
	if u.PasswordHash != oldHash {
		return false, nil
	}
	u.PasswordHash = newHash
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

// stored returns the live record for id. Callers must hold the store lock.
func (r *UserRepository) stored(operation string, id ulid.ULID) (*auth.User, error) {
	if err := r.s.fault(operation); err != nil {
		return nil, err
	}
	u, ok := r.s.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return u, nil
}

// Delete removes a user and its ownership list.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if err := r.s.fault("users.delete"); err != nil {
		return err
	}
	u, ok := r.s.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	for _, entryID := range r.s.owned[id] {
		delete(r.s.entryOwner, entryID)
	}
	delete(r.s.owned, id)
	delete(r.s.usernames, u.Username)
	delete(r.s.users, id)
	return nil
}
