// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// RouterConfig contains configuration for setting up routes.
type RouterConfig struct {
	// RateLimitPerMinute is the per-IP request budget. 0 disables limiting.
	RateLimitPerMinute int

	// RequestTimeout bounds handler execution.
	RequestTimeout time.Duration

	// AllowedOrigins is the CORS origin allowlist.
	AllowedOrigins []string
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RateLimitPerMinute: 300,
		RequestTimeout:     30 * time.Second,
		AllowedOrigins:     []string{"*"},
	}
}

// Handlers contains the API handlers. Nil fields skip their routes.
type Handlers struct {
	Jobs      *JobsHandler
	Schedules *SchedulesHandler
	Health    *HealthHandler
}

// NewRouter creates a chi router with all routes configured.
func NewRouter(config RouterConfig, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if config.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(config.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", headerTenantID, headerUserID, "X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if config.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(config.RateLimitPerMinute, time.Minute))
	}

	if h.Health != nil {
		r.Get("/healthz", h.Health.Liveness)
		r.Get("/readyz", h.Health.Readiness)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireTenant)

		if h.Jobs != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", h.Jobs.Create)
				r.Get("/", h.Jobs.List)
				// Fixed segments before the {id} wildcard.
				r.Get("/pending", h.Jobs.Pending)
				r.Get("/running", h.Jobs.Running)
				r.Get("/stats", h.Jobs.Stats)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Jobs.Get)
					r.Delete("/", h.Jobs.Cancel)
					r.Post("/status", h.Jobs.ReportStatus)
					r.Get("/progress", h.Jobs.GetProgress)
					r.Put("/progress", h.Jobs.ReportProgress)
				})
			})
		}

		if h.Schedules != nil {
			r.Route("/schedules", func(r chi.Router) {
				r.Post("/", h.Schedules.Create)
				r.Get("/", h.Schedules.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Schedules.Get)
					r.Patch("/", h.Schedules.Update)
					r.Delete("/", h.Schedules.Delete)
					r.Post("/trigger", h.Schedules.Trigger)
				})
			})
		}
	})

	return r
}
