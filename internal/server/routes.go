package server

import (
	"net/http"

	"github.com/deadlinecal/deadlinecal/internal/config"
	"github.com/deadlinecal/deadlinecal/internal/server/handlers"
)

func (s *Server) registerRoutes(cfg config.Config) {
	limited := s.router.With(s.rateLimit)

	calendar := handlers.NewCalendarHandler(s.deps.Store, s.deps.Renderer)
	limited.Get("/calendar", calendar.ServeAll)
	limited.Get("/calendar/*", calendar.ServeFeed)

	limited.Method(http.MethodGet, "/", handlers.NewIndexHandler(s.deps.Store, s.deps.Renderer, cfg.Server.PublicHost))

	api := handlers.NewAPIHandler(s.deps.Store)
	limited.Get("/api/groups", api.Groups)
	limited.Get("/api/deadlines", api.Deadlines)

	s.router.Get("/favicon.ico", handlers.Favicon)

	if cfg.Health.Enabled {
		s.router.Get("/health", s.health.HealthHandler)
		s.router.Get("/health/live", s.health.LivenessHandler)
		s.router.Get("/health/ready", s.health.ReadinessHandler)
		s.router.Get("/health/startup", s.health.StartupHandler)
	}

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)
}

// rateLimit wraps store-backed routes in the client limiter.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return next
	}
	return handlers.RateLimit(s.deps.Limiter, next)
}
