// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/quilljournal/quill/internal/auth"
	"github.com/quilljournal/quill/internal/logging"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// withRequestID reuses a caller-supplied request id or assigns a new one.
func withRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// accessLog logs each request after it completes and records its metrics.
func (s *server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
			s.metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(elapsed.Seconds())
		}

		s.logger.LogAttrs(c.Request.Context(), levelFor(status), "http request",
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("latency", elapsed),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// authenticate resolves the bearer token into a principal. Requests without
// a valid access token stop here with 401.
func (s *server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			s.fail(c, oops.Code("AUTH_UNAUTHENTICATED").Wrap(auth.ErrUnauthenticated))
			return
		}
		principal, err := s.auth.Authenticate(c.Request.Context(), bearer)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

// requireRole rejects principals without role.
func (s *server) requireRole(role auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := auth.RequirePrincipal(c.Request.Context())
		if err != nil {
			s.fail(c, err)
			return
		}
		if !p.Has(role) {
			s.logger.WarnContext(c.Request.Context(), "role check failed",
				"username", p.Username, "required", string(role), "route", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: apiError{Code: "FORBIDDEN", Message: "forbidden"}})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// principal returns the principal the authenticate middleware stored.
func (s *server) principal(c *gin.Context) (auth.Principal, bool) {
	p, err := auth.RequirePrincipal(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return auth.Principal{}, false
	}
	return p, true
}
