// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package auth provides identity primitives for Quill.
//
// # Domain Types
//
// Users should be created with NewUser, which validates the username and
// requires at least one role. Direct struct initialization bypasses
// validation and may create invalid state.
//
// Roles form a closed set (RoleUser, RoleAdmin). Strings coming from storage
// or token claims are converted with ParseRole and never compared ad hoc.
//
// # Tokens
//
// TokenService issues HS256-signed access and refresh tokens. Tokens are
// stateless: a token is accepted purely on signature and expiry, so a leaked
// token stays valid until it expires. There is no revocation list.
//
// # Services
//
// Service is the authentication gate: registration, login, token refresh and
// bearer authentication. A successful Authenticate yields a Principal which
// the transport layer stores with WithPrincipal for the rest of the request.
package auth
