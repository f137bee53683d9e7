package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-auth/internal/audit"
	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/enroll"
	"github.com/kozaktomas/face-auth/internal/extractor"
	"github.com/kozaktomas/face-auth/internal/token"
	"github.com/kozaktomas/face-auth/internal/web/handlers"
	"github.com/kozaktomas/face-auth/internal/web/middleware"
	"go.uber.org/zap"
)

// Deps are the services the HTTP layer exposes
type Deps struct {
	Auth       *auth.Manager
	Enroll     *enroll.Manager
	Audit      *audit.Log
	Identities handlers.IdentityStore
	Index      *database.DescriptorIndex
	Extractor  extractor.Extractor // optional
}

// Server represents the web server
type Server struct {
	config     *config.Config
	deps       Deps
	log        *zap.Logger
	router     *chi.Mux
	httpServer *http.Server
	sessions   *middleware.SessionAuth
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps, log *zap.Logger) (*Server, error) {
	issuer, err := token.NewIssuer(cfg.Web.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("session tokens: %w", err)
	}

	r := chi.NewRouter()
	s := &Server{
		config:   cfg,
		deps:     deps,
		log:      log,
		router:   r,
		sessions: middleware.NewSessionAuth(issuer, deps.Auth),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(time.Minute))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // image extraction can be slow
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")

	// Stop the attempt sweeper
	s.deps.Auth.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
