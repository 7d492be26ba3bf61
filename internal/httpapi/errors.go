// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/samber/oops"

	"github.com/quilljournal/quill/internal/auth"
	"github.com/quilljournal/quill/internal/journal"
	"github.com/quilljournal/quill/pkg/errutil"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// badInputCodes are domain validation failures reported as 400.
var badInputCodes = map[string]bool{
	"AUTH_INVALID_USERNAME": true,
	"AUTH_EMPTY_PASSWORD":   true,
	"ENTRY_INVALID":         true,
}

// status maps a service error to an HTTP status and a client-safe body.
// Authentication failures share one body so callers cannot tell which
// credential was wrong.
func status(err error) (int, apiError) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrAccountLocked):
		return http.StatusUnauthorized, apiError{Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenMalformed):
		return http.StatusUnauthorized, apiError{Code: "UNAUTHENTICATED", Message: "authentication required"}
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, apiError{Code: "FORBIDDEN", Message: "forbidden"}
	case errors.Is(err, auth.ErrDuplicateUsername):
		return http.StatusConflict, apiError{Code: "DUPLICATE_USERNAME", Message: "username already exists"}
	case errors.Is(err, journal.ErrNotFound):
		return http.StatusNotFound, apiError{Code: "NOT_FOUND", Message: "entry not found"}
	case errors.Is(err, journal.ErrInvalidEntry):
		return http.StatusBadRequest, apiError{Code: "BAD_REQUEST", Message: "invalid entry"}
	}

	if o, ok := oops.AsOops(err); ok {
		if code, _ := any(o.Code()).(string); badInputCodes[code] {
			return http.StatusBadRequest, apiError{Code: "BAD_REQUEST", Message: o.Error()}
		}
	}
	return http.StatusInternalServerError, apiError{Code: "INTERNAL", Message: "internal error"}
}

// fail writes the response for err and aborts the request. Server errors
// are logged with their oops context.
func (s *server) fail(c *gin.Context, err error) {
	code, body := status(err)
	if code >= http.StatusInternalServerError {
		errutil.LogErrorContext(c.Request.Context(), s.logger, "request failed", err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, errorBody{Error: body})
}

// invalid writes a 400 for a malformed or invalid request body.
func invalid(c *gin.Context, err error) {
	body := apiError{Code: "BAD_REQUEST", Message: "invalid request body"}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		body.Message = "validation failed"
		body.Details = verrs
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: body})
}
