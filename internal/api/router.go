package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Automation rule endpoints
			r.Route("/rules", func(r chi.Router) {
				r.Get("/", s.handleListRules)
				r.Post("/", s.handleCreateRule)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetRule)
					r.Put("/", s.handleUpdateRule)
					r.Delete("/", s.handleDeleteRule)
					r.Patch("/enabled", s.handleSetRuleEnabled)
					r.Get("/executions", s.handleListRuleExecutions)
				})
			})

			// Device endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Patch("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)
				})
			})

			// Scene endpoints
			r.Route("/scenes", func(r chi.Router) {
				r.Get("/", s.handleListScenes)
				r.Post("/", s.handleCreateScene)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetScene)
					r.Put("/", s.handleUpdateScene)
					r.Delete("/", s.handleDeleteScene)
					r.Post("/activate", s.handleActivateScene)
					r.Get("/executions", s.handleListSceneExecutions)
				})
			})

			// Audit trail
			r.Get("/audit", s.handleListAudit)

			// WebSocket event feed
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 2 * time.Second

// handleHealth returns the server health status including dependency checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	deps := map[string]string{}
	healthy := true

	check := func(name string, hc HealthChecker) {
		if hc == nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := hc.HealthCheck(ctx); err != nil {
			deps[name] = err.Error()
			healthy = false
			return
		}
		deps[name] = "ok"
	}
	check("mqtt", s.mqtt)
	check("history", s.history)

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"version":      s.version,
		"rules":        s.rules.RuleCount(),
		"dependencies": deps,
	})
}
