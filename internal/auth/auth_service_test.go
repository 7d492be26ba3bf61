// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quilljournal/quill/internal/auth"
	"github.com/quilljournal/quill/internal/auth/mocks"
	"github.com/quilljournal/quill/internal/memstore"
	"github.com/quilljournal/quill/pkg/errutil"
)

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	tokens, err := auth.NewTokenService(testSecret, 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	return tokens
}

func TestNewAuthService_NilDependencies(t *testing.T) {
	tokens := newTestTokens(t)

	tests := []struct {
		name        string
		users       auth.UserRepository
		hasher      auth.PasswordHasher
		tokens      *auth.TokenService
		expectError string
	}{
		{
			name:        "nil users repository",
			users:       nil,
			hasher:      mocks.NewMockPasswordHasher(t),
			tokens:      tokens,
			expectError: "users repository is required",
		},
		{
			name:        "nil password hasher",
			users:       mocks.NewMockUserRepository(t),
			hasher:      nil,
			tokens:      tokens,
			expectError: "password hasher is required",
		},
		{
			name:        "nil token service",
			users:       mocks.NewMockUserRepository(t),
			hasher:      mocks.NewMockPasswordHasher(t),
			tokens:      nil,
			expectError: "token service is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewAuthService(tt.users, tt.hasher, tt.tokens)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestNewAuthServiceWithLogger_NilLogger(t *testing.T) {
	svc, err := auth.NewAuthServiceWithLogger(mocks.NewMockUserRepository(t), mocks.NewMockPasswordHasher(t), newTestTokens(t), nil)
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Contains(t, err.Error(), "logger")
}

func testUser(username string, roles ...auth.Role) *auth.User {
	if len(roles) == 0 {
		roles = []auth.Role{auth.RoleUser}
	}
	return &auth.User{
		ID:           ulid.Make(),
		Username:     username,
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$salt$hash",
		Roles:        roles,
	}
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("successful login issues a token pair", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		tokens := newTestTokens(t)
		svc, err := auth.NewAuthService(users, hasher, tokens)
		require.NoError(t, err)

		user := testUser("alice")
		users.On("GetByUsername", ctx, "alice").Return(user, nil)
		hasher.On("Verify", "pw1", user.PasswordHash).Return(true)
		hasher.On("NeedsUpgrade", user.PasswordHash).Return(false)

		pair, err := svc.Login(ctx, "alice", "pw1")
		require.NoError(t, err)
		require.NotNil(t, pair)

		claims, err := tokens.Validate(pair.Access.Value)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Subject)

		refreshClaims, err := tokens.ValidateRefresh(pair.Refresh.Value)
		require.NoError(t, err)
		assert.Equal(t, "alice", refreshClaims.Subject)
	})

	t.Run("unknown user verifies against dummy hash", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
		require.NoError(t, err)

		users.On("GetByUsername", ctx, "nobody").Return(nil, auth.ErrNotFound)
		hasher.On("Verify", "pw1", mock.AnythingOfType("string")).Return(false)

		pair, err := svc.Login(ctx, "nobody", "pw1")
		require.Error(t, err)
		assert.Nil(t, pair)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
	})

	t.Run("wrong password is indistinguishable from unknown user", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
		require.NoError(t, err)

		user := testUser("alice")
		users.On("GetByUsername", ctx, "alice").Return(user, nil)
		users.On("GetByUsername", ctx, "nobody").Return(nil, auth.ErrNotFound)
		hasher.On("Verify", "wrong", mock.AnythingOfType("string")).Return(false)
		users.On("RecordLoginFailure", ctx, user.ID).Return(1, (*time.Time)(nil), nil)

		_, errWrong := svc.Login(ctx, "alice", "wrong")
		_, errUnknown := svc.Login(ctx, "nobody", "wrong")

		require.Error(t, errWrong)
		require.Error(t, errUnknown)
		assert.Equal(t, errWrong.Error(), errUnknown.Error())
		users.AssertNumberOfCalls(t, "RecordLoginFailure", 1)
	})

	t.Run("success clears earlier failures", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
		require.NoError(t, err)

		user := testUser("alice")
		user.FailedAttempts = 3
		users.On("GetByUsername", ctx, "alice").Return(user, nil)
		hasher.On("Verify", "pw1", user.PasswordHash).Return(true)
		hasher.On("NeedsUpgrade", user.PasswordHash).Return(false)
		users.On("ResetLoginFailures", ctx, user.ID).Return(nil)

		_, err = svc.Login(ctx, "alice", "pw1")
		require.NoError(t, err)
	})

	t.Run("locked account is rejected", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
		require.NoError(t, err)

		user := testUser("alice")
		lockedUntil := time.Now().Add(time.Hour)
		user.LockedUntil = &lockedUntil
		users.On("GetByUsername", ctx, "alice").Return(user, nil)
		hasher.On("Verify", "pw1", user.PasswordHash).Return(true)

		_, err = svc.Login(ctx, "alice", "pw1")
		assert.ErrorIs(t, err, auth.ErrAccountLocked)
	})

	t.Run("repository failure is not reported as bad credentials", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
		require.NoError(t, err)

		users.On("GetByUsername", ctx, "alice").Return(nil, errors.New("connection refused"))

		_, err = svc.Login(ctx, "alice", "pw1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)
		errutil.AssertErrorContext(t, err, "operation", "get user by username")
	})

	t.Run("rehashes password when parameters changed", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
		require.NoError(t, err)

		user := testUser("alice")
		oldHash := user.PasswordHash
		users.On("GetByUsername", ctx, "alice").Return(user, nil)
		hasher.On("Verify", "pw1", oldHash).Return(true)
		hasher.On("NeedsUpgrade", oldHash).Return(true)
		hasher.On("Hash", "pw1").Return("$argon2id$new", nil)
		users.On("UpgradePasswordHash", ctx, user.ID, oldHash, "$argon2id$new").Return(true, nil)

		_, err = svc.Login(ctx, "alice", "pw1")
		require.NoError(t, err)
	})

	t.Run("lost rehash race still logs in", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
		require.NoError(t, err)

		user := testUser("alice")
		oldHash := user.PasswordHash
		users.On("GetByUsername", ctx, "alice").Return(user, nil)
		hasher.On("Verify", "pw1", oldHash).Return(true)
		hasher.On("NeedsUpgrade", oldHash).Return(true)
		hasher.On("Hash", "pw1").Return("$argon2id$new", nil)
		users.On("UpgradePasswordHash", ctx, user.ID, oldHash, "$argon2id$new").Return(false, nil)

		pair, err := svc.Login(ctx, "alice", "pw1")
		require.NoError(t, err)
		assert.NotNil(t, pair)
	})
}

func TestAuthService_LoginLogsReason(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	users := mocks.NewMockUserRepository(t)
	hasher := mocks.NewMockPasswordHasher(t)
	svc, err := auth.NewAuthServiceWithLogger(users, hasher, newTestTokens(t), logger)
	require.NoError(t, err)

	users.On("GetByUsername", ctx, "nobody").Return(nil, auth.ErrNotFound)
	hasher.On("Verify", "pw", mock.AnythingOfType("string")).Return(false)

	_, err = svc.Login(ctx, "nobody", "pw")
	require.Error(t, err)
	assert.Contains(t, buf.String(), "unknown_user")
	assert.NotContains(t, err.Error(), "unknown_user")
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns the user role", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
		require.NoError(t, err)

		hasher.On("Hash", "pw1").Return("$argon2id$digest", nil)
		users.On("Create", ctx, mock.AnythingOfType("*auth.User")).Return(nil)

		user, err := svc.Register(ctx, "alice", "pw1")
		require.NoError(t, err)
		assert.Equal(t, []auth.Role{auth.RoleUser}, user.Roles)
		assert.Equal(t, "$argon2id$digest", user.PasswordHash)
	})

	t.Run("duplicate username surfaces unchanged", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
		require.NoError(t, err)

		dup := oops.Code("AUTH_DUPLICATE_USERNAME").Wrap(auth.ErrDuplicateUsername)
		hasher.On("Hash", "pw1").Return("$argon2id$digest", nil)
		users.On("Create", ctx, mock.AnythingOfType("*auth.User")).Return(dup)

		_, err = svc.Register(ctx, "alice", "pw1")
		assert.ErrorIs(t, err, auth.ErrDuplicateUsername)
		errutil.AssertErrorCode(t, err, "AUTH_DUPLICATE_USERNAME")
	})

	t.Run("invalid username never reaches the store", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
		require.NoError(t, err)

		_, err = svc.Register(ctx, "1bad", "pw1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_USERNAME")
	})

	t.Run("empty password is rejected", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		svc, err := auth.NewAuthService(users, auth.NewArgon2idHasherWithParams(fastParams), newTestTokens(t))
		require.NoError(t, err)

		_, err = svc.Register(ctx, "alice", "")
		assert.ErrorIs(t, err, auth.ErrEmptyPassword)
	})
}

func TestAuthService_RegisterAdmin(t *testing.T) {
	ctx := context.Background()
	admin := auth.Principal{Username: "root", Roles: []auth.Role{auth.RoleUser, auth.RoleAdmin}}
	plain := auth.Principal{Username: "alice", Roles: []auth.Role{auth.RoleUser}}

	t.Run("admin grants both roles", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
		require.NoError(t, err)

		hasher.On("Hash", "pw").Return("$argon2id$digest", nil)
		users.On("Create", ctx, mock.AnythingOfType("*auth.User")).Return(nil)

		user, err := svc.RegisterAdmin(ctx, admin, "carol", "pw")
		require.NoError(t, err)
		assert.ElementsMatch(t, []auth.Role{auth.RoleUser, auth.RoleAdmin}, user.Roles)
	})

	t.Run("non-admin is forbidden", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
		require.NoError(t, err)

		_, err = svc.RegisterAdmin(ctx, plain, "carol", "pw")
		assert.ErrorIs(t, err, auth.ErrForbidden)
		errutil.AssertErrorCode(t, err, "AUTH_FORBIDDEN")
	})
}

func TestAuthService_Authenticate(t *testing.T) {
	ctx := context.Background()
	tokens := newTestTokens(t)
	svc, err := auth.NewAuthService(mocks.NewMockUserRepository(t), mocks.NewMockPasswordHasher(t), tokens)
	require.NoError(t, err)

	tok, err := tokens.IssueAccess("alice", []auth.Role{auth.RoleUser})
	require.NoError(t, err)

	p, err := svc.Authenticate(ctx, tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, auth.ErrTokenMalformed)
}

func TestAuthService_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("issues access token with current roles", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		tokens := newTestTokens(t)
		svc, err := auth.NewAuthService(users, mocks.NewMockPasswordHasher(t), tokens)
		require.NoError(t, err)

		refresh, err := tokens.IssueRefresh("alice", []auth.Role{auth.RoleUser})
		require.NoError(t, err)
		users.On("GetByUsername", ctx, "alice").Return(testUser("alice", auth.RoleUser, auth.RoleAdmin), nil)

		access, err := svc.Refresh(ctx, refresh.Value)
		require.NoError(t, err)

		claims, err := tokens.Validate(access.Value)
		require.NoError(t, err)
		assert.True(t, auth.Principal{Username: claims.Subject, Roles: claims.Roles}.Has(auth.RoleAdmin))
	})

	t.Run("deleted user cannot refresh", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		tokens := newTestTokens(t)
		svc, err := auth.NewAuthService(users, mocks.NewMockPasswordHasher(t), tokens)
		require.NoError(t, err)

		refresh, err := tokens.IssueRefresh("ghost", nil)
		require.NoError(t, err)
		users.On("GetByUsername", ctx, "ghost").Return(nil, auth.ErrNotFound)

		_, err = svc.Refresh(ctx, refresh.Value)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	})
}

func TestAuthService_ChangePassword(t *testing.T) {
	ctx := context.Background()
	users := mocks.NewMockUserRepository(t)
	hasher := mocks.NewMockPasswordHasher(t)
	svc, err := auth.NewAuthService(users, hasher, newTestTokens(t))
	require.NoError(t, err)

	user := testUser("alice")
	users.On("GetByUsername", ctx, "alice").Return(user, nil)
	hasher.On("Hash", "new-pw").Return("$argon2id$changed", nil)
	users.On("SetPasswordHash", ctx, user.ID, "$argon2id$changed").Return(nil)

	err = svc.ChangePassword(ctx, auth.Principal{Username: "alice", Roles: []auth.Role{auth.RoleUser}}, "new-pw")
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, auth.Principal{}, "new-pw")
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestAuthService_ListUsers(t *testing.T) {
	ctx := context.Background()
	users := mocks.NewMockUserRepository(t)
	svc, err := auth.NewAuthService(users, mocks.NewMockPasswordHasher(t), newTestTokens(t))
	require.NoError(t, err)

	all := []*auth.User{testUser("alice"), testUser("root", auth.RoleUser, auth.RoleAdmin)}
	users.On("List", ctx).Return(all, nil)

	got, err := svc.ListUsers(ctx, auth.Principal{Username: "root", Roles: []auth.Role{auth.RoleAdmin}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = svc.ListUsers(ctx, auth.Principal{Username: "alice", Roles: []auth.Role{auth.RoleUser}})
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestAuthService_EndToEndWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc, err := auth.NewAuthService(store.Users(), auth.NewArgon2idHasherWithParams(fastParams), newTestTokens(t))
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "pw1")
	require.NoError(t, err)

	pair, err := svc.Login(ctx, "alice", "pw1")
	require.NoError(t, err)

	p, err := svc.Authenticate(ctx, pair.Access.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = svc.Register(ctx, "alice", "pw2")
	assert.ErrorIs(t, err, auth.ErrDuplicateUsername)
}

func TestAuthService_ConcurrentRegistration(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc, err := auth.NewAuthService(store.Users(), auth.NewArgon2idHasherWithParams(fastParams), newTestTokens(t))
	require.NoError(t, err)

	const attempts = 8
	var (
		wg         sync.WaitGroup
		successes  atomic.Int32
		duplicates atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(ctx, "bob", "pw")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, auth.ErrDuplicateUsername):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(attempts-1), duplicates.Load())
}

func TestAuthService_ConcurrentFailuresTripLockout(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc, err := auth.NewAuthService(store.Users(), auth.NewArgon2idHasherWithParams(fastParams), newTestTokens(t))
	require.NoError(t, err)

	user, err := svc.Register(ctx, "alice", "right-pw")
	require.NoError(t, err)

	const guesses = 20
	var wg sync.WaitGroup
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Login(ctx, "alice", "guess")
		}()
	}
	wg.Wait()

	stored, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, guesses, stored.FailedAttempts)
	assert.True(t, stored.IsLocked())

	_, err = svc.Login(ctx, "alice", "right-pw")
	assert.ErrorIs(t, err, auth.ErrAccountLocked)
}

// pausingUsers holds the first armed GetByUsername after its read until
// release is closed.
type pausingUsers struct {
	*memstore.UserRepository
	armed   atomic.Bool
	paused  chan struct{}
	release chan struct{}
}

func (p *pausingUsers) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	u, err := p.UserRepository.GetByUsername(ctx, username)
	if p.armed.CompareAndSwap(true, false) {
		close(p.paused)
		<-p.release
	}
	return u, err
}

func TestAuthService_LoginDoesNotUndoPasswordChange(t *testing.T) {
	ctx := context.Background()
	users := &pausingUsers{
		UserRepository: memstore.New().Users(),
		paused:         make(chan struct{}),
		release:        make(chan struct{}),
	}
	svc, err := auth.NewAuthService(users, auth.NewArgon2idHasherWithParams(fastParams), newTestTokens(t))
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "old-pw")
	require.NoError(t, err)

	users.armed.Store(true)
	loginDone := make(chan error, 1)
	go func() {
		_, err := svc.Login(ctx, "alice", "wrong-guess")
		loginDone <- err
	}()

	<-users.paused
	alice := auth.Principal{Username: "alice", Roles: []auth.Role{auth.RoleUser}}
	require.NoError(t, svc.ChangePassword(ctx, alice, "new-pw"))
	close(users.release)
	assert.ErrorIs(t, <-loginDone, auth.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "alice", "new-pw")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice", "old-pw")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}
