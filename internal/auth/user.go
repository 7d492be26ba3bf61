// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package auth

import (
	"context"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Role is a closed set of authorization roles.
type Role string

// Known roles. The string values are what storage and token claims carry.
const (
	RoleUser  Role = "User"
	RoleAdmin Role = "ADMIN"
)

// ParseRole converts a stored or claimed role name into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", oops.Code("AUTH_UNKNOWN_ROLE").With("role", s).Errorf("unknown role %q", s)
	}
}

// ParseRoles converts a list of role names, rejecting unknown ones.
func ParseRoles(names []string) ([]Role, error) {
	roles := make([]Role, 0, len(names))
	for _, n := range names {
		r, err := ParseRole(n)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// RoleNames converts roles to their string form for storage.
func RoleNames(roles []Role) []string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return names
}

// User represents an account. Username is the immutable security principal.
type User struct {
	ID             ulid.ULID
	Username       string
	PasswordHash   string
	Roles          []Role
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewUser creates a validated User. At least one role is required.
func NewUser(username, passwordHash string, roles ...Role) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if len(roles) == 0 {
		return nil, oops.Code("AUTH_NO_ROLES").Errorf("user must have at least one role")
	}
	for _, r := range roles {
		if _, err := ParseRole(string(r)); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		PasswordHash: passwordHash,
		Roles:        append([]Role(nil), roles...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// HasRole reports whether the user holds role.
func (u *User) HasRole(role Role) bool {
	return hasRole(u.Roles, role)
}

// IsLocked returns true if the user is currently locked out.
func (u *User) IsLocked() bool {
	return IsLockedOut(u.LockedUntil)
}

// RecordFailure increments the failure counter and sets lockout if threshold reached.
func (u *User) RecordFailure() {
	u.FailedAttempts++
	u.LockedUntil = ComputeLockoutTime(u.FailedAttempts)
	u.UpdatedAt = time.Now().UTC()
}

// RecordSuccess resets failure counter and lockout.
func (u *User) RecordSuccess() {
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.UpdatedAt = time.Now().UTC()
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// UserRepository manages user persistence. Implementations enforce username
// uniqueness; Create reports a violation as ErrDuplicateUsername.
type UserRepository interface {
	// Create stores a new user.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByUsername retrieves a user by exact username.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// List returns all users ordered by creation time.
	List(ctx context.Context) ([]*User, error)

	// RecordLoginFailure atomically increments the failure counter and locks
	// the account once LockoutThreshold is reached. It returns the new count
	// and lockout time.
	RecordLoginFailure(ctx context.Context, id ulid.ULID) (int, *time.Time, error)

	// ResetLoginFailures clears the failure counter and any lockout.
	ResetLoginFailures(ctx context.Context, id ulid.ULID) error

	// SetPasswordHash replaces the password hash and clears any lockout.
	SetPasswordHash(ctx context.Context, id ulid.ULID, hash string) error

	// UpgradePasswordHash replaces the hash only if it still equals oldHash.
	// It reports whether the swap happened.
	UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string) (bool, error)

	// Delete removes a user.
	Delete(ctx context.Context, id ulid.ULID) error
}
