package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/sentinel/internal/api/alerts"
	"github.com/good-yellow-bee/sentinel/internal/api/auth"
	"github.com/good-yellow-bee/sentinel/internal/api/detections"
	"github.com/good-yellow-bee/sentinel/internal/api/middleware"
	"github.com/good-yellow-bee/sentinel/internal/api/rules"
	"github.com/good-yellow-bee/sentinel/internal/api/ws"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()
	logger := s.deps.Logger

	var jwtService *auth.JWTService
	if len(s.config.JWTSecret) > 0 {
		jwtService = auth.NewJWTService(s.config.JWTSecret, 0, s.config.JWTIssuer)
	}

	// Global middleware
	r.Use(middleware.RequestLogger(logger, s.config.Verbose))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.PrometheusMiddleware)
	r.Use(middleware.SecurityHeaders)

	// Health checks (public, no rate limit)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity(jwtService, logger))
		if s.deps.Limiter != nil {
			r.Use(middleware.RateLimit(s.deps.Limiter, s.config.RateLimit, logger))
		}

		r.Route("/api/v1", func(r chi.Router) {
			detectionHandler := detections.NewHandler(s.deps.Service, logger)
			r.Post("/detections", detectionHandler.Create)

			r.Route("/alerts", func(r chi.Router) {
				alertHandler := alerts.NewHandler(s.deps.Service, logger)
				r.Get("/", alertHandler.List)
				r.Get("/stats", alertHandler.Stats)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", alertHandler.Get)
					r.Post("/acknowledge", alertHandler.Acknowledge)
					r.Post("/resolve", alertHandler.Resolve)
					r.Post("/false-positive", alertHandler.FalsePositive)
					r.Post("/escalate", alertHandler.Escalate)
					r.Post("/notes", alertHandler.AddNote)
				})
			})

			r.Route("/rules", func(r chi.Router) {
				ruleHandler := rules.NewHandler(s.deps.Service, logger)
				r.Get("/", ruleHandler.List)
				r.Post("/", ruleHandler.Create)
				r.Get("/{id}", ruleHandler.Get)
				r.Put("/{id}", ruleHandler.Update)
				r.Delete("/{id}", ruleHandler.Delete)
			})
		})

		wsHandler := ws.NewHandler(s.deps.Hub, s.config.WS, logger)
		r.Get("/ws/cameras/{camera_id}/stream", wsHandler.CameraStream)
		r.Get("/ws/{channel}", wsHandler.Channel)
	})

	return r
}
