package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/healthz", s.health)

	r.Route("/approvals", func(r chi.Router) {
		r.Get("/", s.listApprovals)
		r.Post("/{requestID}", s.resolveApproval)
	})

	r.Get("/events", s.events)
}
