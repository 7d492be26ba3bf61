// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/quilljournal/quill/internal/auth"
	"github.com/quilljournal/quill/internal/journal"
	"github.com/quilljournal/quill/internal/observability"
)

// Authenticator is the part of the authentication gate the API uses.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*auth.TokenPair, error)
	Register(ctx context.Context, username, password string) (*auth.User, error)
	RegisterAdmin(ctx context.Context, actor auth.Principal, username, password string) (*auth.User, error)
	Authenticate(ctx context.Context, bearer string) (auth.Principal, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Token, error)
	ChangePassword(ctx context.Context, principal auth.Principal, newPassword string) error
	ListUsers(ctx context.Context, principal auth.Principal) ([]*auth.User, error)
}

// Journal is the part of the ownership coordinator the API uses.
type Journal interface {
	CreateEntry(ctx context.Context, p auth.Principal, draft journal.Draft) (*journal.Entry, error)
	ListEntries(ctx context.Context, p auth.Principal) ([]journal.Summary, error)
	GetEntry(ctx context.Context, p auth.Principal, id ulid.ULID) (*journal.Entry, error)
	UpdateEntry(ctx context.Context, p auth.Principal, id ulid.ULID, patch journal.Patch) (*journal.Entry, error)
	DeleteEntry(ctx context.Context, p auth.Principal, id ulid.ULID) error
	DeleteUser(ctx context.Context, p auth.Principal) error
}

// Greeter renders the signed-in greeting.
type Greeter interface {
	Greeting(ctx context.Context, username string) string
}

var (
	_ Authenticator = (*auth.Service)(nil)
	_ Journal       = (*journal.Coordinator)(nil)
)

// Config holds the router dependencies.
type Config struct {
	Auth    Authenticator
	Journal Journal
	// Greeter is optional; without it the greeting omits the weather.
	Greeter Greeter
	// Metrics is optional.
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

type server struct {
	auth    Authenticator
	journal Journal
	greeter Greeter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config) (http.Handler, error) {
	if cfg.Auth == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("authenticator is required")
	}
	if cfg.Journal == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("journal is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &server{
		auth:    cfg.Auth,
		journal: cfg.Journal,
		greeter: cfg.Greeter,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(withRequestID(), s.accessLog(), gin.CustomRecovery(s.recovered))

	public := r.Group("/public")
	public.GET("/health-check", s.healthCheck)
	public.POST("/signup", s.signup)
	public.POST("/login", s.login)
	public.POST("/refresh-token", s.refreshToken)

	journalRoutes := r.Group("/journal", s.authenticate())
	journalRoutes.GET("", s.listEntries)
	journalRoutes.POST("", s.createEntry)
	journalRoutes.GET("/id/:id", s.getEntry)
	journalRoutes.PUT("/id/:id", s.updateEntry)
	journalRoutes.DELETE("/id/:id", s.deleteEntry)
	journalRoutes.GET("/id/:id/audio", s.entryAudio)

	user := r.Group("/user", s.authenticate())
	user.PUT("", s.changePassword)
	user.DELETE("", s.deleteUser)
	user.GET("/greeting", s.greeting)

	admin := r.Group("/admin", s.authenticate(), s.requireRole(auth.RoleAdmin))
	admin.GET("/all-users", s.listUsers)
	admin.POST("/create-admin", s.createAdmin)

	return r, nil
}

func (s *server) recovered(c *gin.Context, v any) {
	s.logger.ErrorContext(c.Request.Context(), "handler panicked", "panic", v)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: apiError{Code: "INTERNAL", Message: "internal error"}})
}

// Server serves the API over HTTP.
type Server struct {
	addr       string
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
	logger     *slog.Logger
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, handler: handler, logger: logger}
}

// Start begins serving. The returned channel receives a serve error, if any,
// and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("http server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("http server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop drains in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.With("operation", "shutdown_http_server").Wrap(err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Addr returns the listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
