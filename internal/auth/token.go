// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// MinSecretLength is the minimum accepted signing key length in bytes.
const MinSecretLength = 32

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

// Token kinds.
const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Token is a signed, self-contained credential.
type Token struct {
	Value     string
	Subject   string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Claims are the verified contents of a token.
type Claims struct {
	Subject   string
	Roles     []Role
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Kind  TokenKind `json:"typ"`
	Roles []string  `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 tokens. The secret is set once at
// construction and never mutated, so a TokenService is safe for concurrent use.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock overrides the wall clock used for issuing and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService creates a TokenService. TTLs must not be negative; a zero
// TTL produces tokens that are expired as soon as they are issued.
func NewTokenService(secret []byte, accessTTL, refreshTTL time.Duration, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("TOKEN_INVALID_SECRET").
			With("min", MinSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	if accessTTL < 0 || refreshTTL < 0 {
		return nil, oops.Code("TOKEN_INVALID_TTL").
			With("access_ttl", accessTTL).
			With("refresh_ttl", refreshTTL).
			Errorf("token ttl cannot be negative")
	}

	s := &TokenService{
		secret:     append([]byte(nil), secret...),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueAccess issues a short-lived access token for subject.
func (s *TokenService) IssueAccess(subject string, roles []Role) (Token, error) {
	return s.issue(subject, roles, TokenAccess, s.accessTTL)
}

// IssueRefresh issues a long-lived refresh token for subject.
func (s *TokenService) IssueRefresh(subject string, roles []Role) (Token, error) {
	return s.issue(subject, roles, TokenRefresh, s.refreshTTL)
}

func (s *TokenService) issue(subject string, roles []Role, kind TokenKind, ttl time.Duration) (Token, error) {
	if subject == "" {
		return Token{}, oops.Code("TOKEN_ISSUE_FAILED").Errorf("token subject cannot be empty")
	}

	// jwt.NumericDate has second precision; truncate so the returned Token
	// matches what a later Validate will see.
	issuedAt := s.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)

	claims := tokenClaims{
		Kind:  kind,
		Roles: RoleNames(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, oops.Code("TOKEN_ISSUE_FAILED").With("kind", kind).Wrap(err)
	}

	return Token{
		Value:     value,
		Subject:   subject,
		Kind:      kind,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate verifies an access token and returns its claims.
// Errors match ErrTokenMalformed, ErrInvalidSignature or ErrTokenExpired.
func (s *TokenService) Validate(token string) (Claims, error) {
	return s.validate(token, TokenAccess)
}

// ValidateRefresh verifies a refresh token and returns its claims.
func (s *TokenService) ValidateRefresh(token string) (Claims, error) {
	return s.validate(token, TokenRefresh)
}

// Refresh validates a refresh token and issues a new access token for its subject.
func (s *TokenService) Refresh(refreshToken string) (Token, error) {
	claims, err := s.ValidateRefresh(refreshToken)
	if err != nil {
		return Token{}, err
	}
	return s.IssueAccess(claims.Subject, claims.Roles)
}

func (s *TokenService) validate(token string, want TokenKind) (Claims, error) {
	if token == "" {
		return Claims{}, malformed("token is empty")
	}

	var tc tokenClaims
	_, err := jwt.ParseWithClaims(token, &tc,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Claims{}, oops.Code("TOKEN_MALFORMED").Wrap(errors.Join(ErrTokenMalformed, err))
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return Claims{}, oops.Code("TOKEN_INVALID_SIGNATURE").Wrap(errors.Join(ErrInvalidSignature, err))
		default:
			return Claims{}, oops.Code("TOKEN_MALFORMED").Wrap(errors.Join(ErrTokenMalformed, err))
		}
	}

	if tc.Subject == "" || tc.ExpiresAt == nil || tc.IssuedAt == nil {
		return Claims{}, malformed("token is missing required claims")
	}
	if tc.Kind != want {
		return Claims{}, malformed("unexpected token kind")
	}

	roles, err := ParseRoles(tc.Roles)
	if err != nil {
		return Claims{}, oops.Code("TOKEN_MALFORMED").Wrap(errors.Join(ErrTokenMalformed, err))
	}

	// Expired once the clock reaches expiry, so a zero TTL is never valid.
	if !s.now().Before(tc.ExpiresAt.Time) {
		return Claims{}, oops.Code("TOKEN_EXPIRED").
			With("expired_at", tc.ExpiresAt.Time).
			Wrap(ErrTokenExpired)
	}

	return Claims{
		Subject:   tc.Subject,
		Roles:     roles,
		Kind:      tc.Kind,
		IssuedAt:  tc.IssuedAt.Time,
		ExpiresAt: tc.ExpiresAt.Time,
	}, nil
}

func malformed(reason string) error {
	return oops.Code("TOKEN_MALFORMED").With("reason", reason).Wrap(ErrTokenMalformed)
}
