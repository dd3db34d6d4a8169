package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-gate/internal/web/handlers"
	"github.com/kozaktomas/face-gate/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	recognizeHandler := handlers.NewRecognizeHandler(s.deps.Orchestrator, s.deps.Issuer)
	enrollmentsHandler := handlers.NewEnrollmentsHandler(s.deps.Enrollment, s.deps.Gallery)
	attemptsHandler := handlers.NewAttemptsHandler(s.deps.Audit)
	statsHandler := handlers.NewStatsHandler(s.deps.Audit)
	healthHandler := handlers.NewHealthHandler(s.deps.Gallery, s.deps.Provider)

	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", healthHandler.Check)
		r.Post("/recognize", recognizeHandler.Recognize)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.config.Web.AdminToken))

			// Enrollments
			r.Get("/enrollments", enrollmentsHandler.List)
			r.Post("/enrollments", enrollmentsHandler.Create)
			r.Get("/enrollments/{identityID}", enrollmentsHandler.Get)
			r.Delete("/enrollments/{identityID}", enrollmentsHandler.Delete)

			// Audit log
			r.Get("/attempts", attemptsHandler.List)
			r.Get("/attempts/{id}", attemptsHandler.Get)
			r.Get("/stats", statsHandler.Get)
		})
	})
}
