// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/spikeapp/spike-sync/internal/pkg/logger"
)

// HealthChecker probes one dependency.
type HealthChecker func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	respond
	version string

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string, log *logger.Logger) *HealthHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &HealthHandler{
		respond:  respond{logger: log.Named("api.health")},
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// Register adds a named dependency check.
func (h *HealthHandler) Register(name string, checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Liveness handles GET /healthz. Always 200 while the process serves.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	h.OK(w, map[string]any{"status": "ok", "version": h.version})
}

// Readiness handles GET /readyz, probing every registered dependency.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checkers := make(map[string]HealthChecker, len(h.checkers))
	for name, c := range h.checkers {
		checkers[name] = c
	}
	h.mu.RUnlock()

	checks := make(map[string]string, len(checkers))
	healthy := true
	for name, check := range checkers {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	h.JSON(w, status, map[string]any{
		"status": overall,
		"checks": checks,
	})
}
