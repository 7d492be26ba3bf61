// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested user does not exist.
var ErrNotFound = errors.New("not found")

// Sentinels for the authentication error taxonomy. Callers match them with
// errors.Is; the returned errors are oops errors carrying a stable code.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrInvalidSignature   = errors.New("token signature is invalid")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenMalformed     = errors.New("token is malformed")
)
