package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/deadlinecal/deadlinecal/internal/config"
	"github.com/deadlinecal/deadlinecal/internal/core/ratelimit"
	apperrors "github.com/deadlinecal/deadlinecal/internal/errors"
	"github.com/deadlinecal/deadlinecal/internal/feed"
	"github.com/deadlinecal/deadlinecal/internal/observability"
	"github.com/deadlinecal/deadlinecal/internal/server/handlers"
	servermw "github.com/deadlinecal/deadlinecal/internal/server/middleware"
)

// Store is what the server needs from the deadline store.
type Store interface {
	handlers.DeadlineSource
	Ping(ctx context.Context) error
}

// Deps are the long-lived components the server dispatches to.
type Deps struct {
	Store    Store
	Limiter  *ratelimit.Limiter
	Renderer *feed.Renderer
	Version  string
}

// Server is the HTTP front end for the deadline feeds.
type Server struct {
	router *chi.Mux
	cfg    config.ServerConfig
	deps   Deps
	health *handlers.HealthManager

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New builds the router and registers every route. It does not listen.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server requires a deadline store")
	}
	if deps.Renderer == nil {
		return nil, errors.New("server requires a feed renderer")
	}

	r := chi.NewRouter()

	// RequestID → ClientKey → Metrics → Recovery → HEAD-as-GET
	r.Use(servermw.RequestID)
	r.Use(servermw.ClientKey(cfg.Server.TrustProxy))
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)
	r.Use(middleware.GetHead)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		cfg:    cfg.Server,
		deps:   deps,
		health: handlers.NewHealthManager(deps.Version),
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerHealthCheckers()
	s.registerRoutes(cfg)

	return s, nil
}

func (s *Server) registerHealthCheckers() {
	s.health.RegisterChecker("store", handlers.CheckerFunc(s.deps.Store.Ping))

	limiter := s.deps.Limiter
	s.health.RegisterChecker("rate_limiter", handlers.CheckerFunc(func(ctx context.Context) error {
		if limiter == nil {
			return errors.New("rate limiter not configured")
		}
		return nil
	}))
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
}

// Start listens on the configured address and serves until Shutdown.
// It returns http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = listener
	s.mu.Unlock()

	s.health.MarkStarted()
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("addr", listener.Addr().String()),
			zap.Bool("trust_proxy", s.cfg.TrustProxy),
			zap.Bool("rate_limit", s.deps.Limiter.Enabled()))
	}

	return srv.Serve(listener)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return srv.Shutdown(ctx)
}

// ListenAddr is the bound address once serving, else "".
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
