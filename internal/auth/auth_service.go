// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
)

// TokenPair is the result of a successful login.
type TokenPair struct {
	Access  Token
	Refresh Token
}

// Service is the authentication gate in front of every protected operation.
type Service struct {
	users  UserRepository
	hasher PasswordHasher
	tokens *TokenService
	logger *slog.Logger
}

// NewAuthService creates a new Service that logs to slog.Default().
func NewAuthService(users UserRepository, hasher PasswordHasher, tokens *TokenService) (*Service, error) {
	return NewAuthServiceWithLogger(users, hasher, tokens, slog.Default())
}

// NewAuthServiceWithLogger creates a new Service with an explicit logger.
func NewAuthServiceWithLogger(users UserRepository, hasher PasswordHasher, tokens *TokenService, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("token service is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger is required")
	}
	return &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
	}, nil
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Login verifies credentials and issues an access/refresh token pair.
// Unknown users and wrong passwords produce the same ErrInvalidCredentials;
// the reason is only logged.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, lookupErr := s.users.GetByUsername(ctx, username)

	targetHash := dummyPasswordHash
	userExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			LoginAttempts.WithLabelValues(LoginError).Inc()
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by username").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify so unknown users cost the same as known ones.
	valid := s.hasher.Verify(password, targetHash)

	if !userExists {
		s.logger.WarnContext(ctx, "login rejected", "username", username, "reason", "unknown_user")
		LoginAttempts.WithLabelValues(LoginFailure).Inc()
		return nil, invalidCredentials()
	}

	if !valid {
		attempts, lockedUntil, err := s.users.RecordLoginFailure(ctx, user.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to record login failure",
				"username", username,
				"error", err)
		}
		s.logger.WarnContext(ctx, "login rejected",
			"username", username,
			"reason", "bad_password",
			"failed_attempts", attempts,
			"locked", lockedUntil != nil)
		LoginAttempts.WithLabelValues(LoginFailure).Inc()
		return nil, invalidCredentials()
	}

	// Lockout is checked after verification to keep timing uniform.
	if user.IsLocked() {
		s.logger.WarnContext(ctx, "login rejected",
			"username", username,
			"reason", "locked",
			"locked_until", user.LockedUntil)
		LoginAttempts.WithLabelValues(LoginLocked).Inc()
		return nil, oops.Code("AUTH_ACCOUNT_LOCKED").
			With("locked_until", user.LockedUntil).
			Wrap(ErrAccountLocked)
	}

	if user.FailedAttempts > 0 || user.LockedUntil != nil {
		if err := s.users.ResetLoginFailures(ctx, user.ID); err != nil {
			// Login succeeds regardless; the failure counter is best effort.
			s.logger.WarnContext(ctx, "failed to reset login failures",
				"username", username,
				"error", err)
		}
	}
	s.upgradeHash(ctx, user, password)

	pair, err := s.issuePair(user.Username, user.Roles)
	if err != nil {
		LoginAttempts.WithLabelValues(LoginError).Inc()
		return nil, err
	}

	LoginAttempts.WithLabelValues(LoginSuccess).Inc()
	s.logger.InfoContext(ctx, "login succeeded", "username", username)
	return pair, nil
}

// upgradeHash rehashes with the current parameters. The swap only applies if
// the stored hash is still the one just verified, so a concurrent password
// change wins.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	if !s.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		return
	}
	swapped, err := s.users.UpgradePasswordHash(ctx, user.ID, user.PasswordHash, newHash)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to upgrade password hash",
			"username", user.Username,
			"error", err)
		return
	}
	if !swapped {
		s.logger.DebugContext(ctx, "password hash changed during login, upgrade skipped",
			"username", user.Username)
	}
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
}

func (s *Service) issuePair(username string, roles []Role) (*TokenPair, error) {
	access, err := s.tokens.IssueAccess(username, roles)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue access token").Wrap(err)
	}
	refresh, err := s.tokens.IssueRefresh(username, roles)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue refresh token").Wrap(err)
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// Register creates a self-service account with the User role.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	return s.register(ctx, username, password, RoleUser)
}

// RegisterAdmin creates an account with the User and Admin roles.
// The actor must already hold the Admin role.
func (s *Service) RegisterAdmin(ctx context.Context, actor Principal, username, password string) (*User, error) {
	if !actor.Has(RoleAdmin) {
		s.logger.WarnContext(ctx, "admin registration denied", "actor", actor.Username, "username", username)
		return nil, oops.Code("AUTH_FORBIDDEN").
			With("actor", actor.Username).
			Wrap(ErrForbidden)
	}
	return s.register(ctx, username, password, RoleUser, RoleAdmin)
}

// BootstrapAdmin creates an admin account without an acting principal.
// It is reserved for operator tooling and is not exposed over HTTP.
func (s *Service) BootstrapAdmin(ctx context.Context, username, password string) (*User, error) {
	return s.register(ctx, username, password, RoleUser, RoleAdmin)
}

// register relies on the store's unique index rather than a prior lookup,
// so concurrent registrations of one username yield exactly one success.
func (s *Service) register(ctx context.Context, username, password string, roles ...Role) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		Registrations.WithLabelValues("invalid").Inc()
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		Registrations.WithLabelValues("invalid").Inc()
		return nil, err
	}

	user, err := NewUser(username, hash, roles...)
	if err != nil {
		Registrations.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			Registrations.WithLabelValues("duplicate").Inc()
			s.logger.InfoContext(ctx, "registration rejected", "username", username, "reason", "duplicate")
			return nil, err
		}
		Registrations.WithLabelValues("error").Inc()
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			With("username", username).
			Wrap(err)
	}

	Registrations.WithLabelValues("success").Inc()
	s.logger.InfoContext(ctx, "user registered", "username", username, "roles", RoleNames(roles))
	return user, nil
}

// Authenticate validates a bearer access token and returns the principal it names.
func (s *Service) Authenticate(ctx context.Context, bearer string) (Principal, error) {
	if bearer == "" {
		return Principal{}, oops.Code("AUTH_UNAUTHENTICATED").Wrap(ErrUnauthenticated)
	}
	claims, err := s.tokens.Validate(bearer)
	if err != nil {
		s.logger.DebugContext(ctx, "bearer token rejected", "error", err)
		return Principal{}, err
	}
	return Principal{Username: claims.Subject, Roles: claims.Roles}, nil
}

// Refresh exchanges a refresh token for a new access token. The subject must
// still exist; its current roles are used for the new token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		s.logger.DebugContext(ctx, "refresh token rejected", "error", err)
		return Token{}, err
	}

	user, err := s.users.GetByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.WarnContext(ctx, "refresh for deleted user", "username", claims.Subject)
			return Token{}, oops.Code("AUTH_UNAUTHENTICATED").Wrap(ErrUnauthenticated)
		}
		return Token{}, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "get user by username").
			Wrap(err)
	}

	token, err := s.tokens.IssueAccess(user.Username, user.Roles)
	if err != nil {
		return Token{}, oops.Code("AUTH_REFRESH_FAILED").Wrap(err)
	}
	return token, nil
}

// ChangePassword replaces the principal's password.
func (s *Service) ChangePassword(ctx context.Context, principal Principal, newPassword string) error {
	user, err := s.currentUser(ctx, principal)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return oops.Code("AUTH_UPDATE_FAILED").
			With("operation", "update password").
			With("username", principal.Username).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "password changed", "username", principal.Username)
	return nil
}

// ListUsers returns every account. Admin only.
func (s *Service) ListUsers(ctx context.Context, principal Principal) ([]*User, error) {
	if !principal.Has(RoleAdmin) {
		return nil, oops.Code("AUTH_FORBIDDEN").
			With("actor", principal.Username).
			Wrap(ErrForbidden)
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, oops.Code("AUTH_LIST_FAILED").Wrap(err)
	}
	return users, nil
}

func (s *Service) currentUser(ctx context.Context, principal Principal) (*User, error) {
	if principal.IsZero() {
		return nil, oops.Code("AUTH_UNAUTHENTICATED").Wrap(ErrUnauthenticated)
	}
	user, err := s.users.GetByUsername(ctx, principal.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_UNAUTHENTICATED").Wrap(ErrUnauthenticated)
		}
		return nil, oops.Code("AUTH_LOOKUP_FAILED").
			With("username", principal.Username).
			Wrap(err)
	}
	return user, nil
}
