// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package httpapi exposes the journal over HTTP.
//
// Routes under /public need no credentials. Every other route requires an
// "Authorization: Bearer <access token>" header; the middleware validates
// it, stores the principal on the request context, and handlers pass that
// principal explicitly to the services they call. Routes under /admin also
// require the ADMIN role.
package httpapi
