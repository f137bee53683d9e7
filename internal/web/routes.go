package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-auth/internal/web/handlers"
	"github.com/kozaktomas/face-auth/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	enrollHandler := handlers.NewEnrollHandler(s.deps.Enroll, s.log)
	loginHandler := handlers.NewLoginHandler(s.deps.Auth, s.sessions, s.log)
	adminHandler := handlers.NewAdminHandler(handlers.AdminDeps{
		Audit:      s.deps.Audit,
		Enroll:     s.deps.Enroll,
		Auth:       s.deps.Auth,
		Identities: s.deps.Identities,
		Index:      s.deps.Index,
		Extractor:  s.deps.Extractor,
	}, s.log)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/enroll", enrollHandler.Enroll)

		// Login flow
		r.Post("/login/start", loginHandler.Start)
		r.Post("/login/capture", loginHandler.Capture)
		r.Post("/login/otp", loginHandler.VerifyOTP)
		r.Get("/login/{attemptID}", loginHandler.Status)
		r.Delete("/login/{attemptID}", loginHandler.Abort)
		r.Post("/logout", loginHandler.Logout)

		// Routes for an authenticated identity
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(s.sessions))

			r.Get("/session", loginHandler.Session)
			r.Post("/identities/{id}/descriptors", enrollHandler.AddDescriptor)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.config.Admin))

			r.Get("/audit", adminHandler.Audit)
			r.Get("/identities", adminHandler.ListIdentities)
			r.Delete("/identities/{id}", adminHandler.DeleteIdentity)
			r.Post("/identify", adminHandler.Identify)
			r.Get("/stats", adminHandler.Stats)
			r.Post("/sweep", adminHandler.Sweep)
		})
	})
}
