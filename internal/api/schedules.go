// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spikeapp/spike-sync/internal/models"
	"github.com/spikeapp/spike-sync/internal/pkg/errors"
	"github.com/spikeapp/spike-sync/internal/pkg/logger"
)

// ScheduleService is the schedule surface the handlers call.
// *scheduler.Scheduler satisfies it.
type ScheduleService interface {
	CreateSchedule(ctx context.Context, userID, tenantID string, input models.CreateScheduleInput) (*models.SyncSchedule, error)
	GetSchedule(ctx context.Context, tenantID string, id uuid.UUID) (*models.SyncSchedule, error)
	ListSchedules(ctx context.Context, tenantID string) ([]*models.SyncSchedule, error)
	UpdateSchedule(ctx context.Context, tenantID string, id uuid.UUID, input models.UpdateScheduleInput) (*models.SyncSchedule, error)
	DeleteSchedule(ctx context.Context, tenantID string, id uuid.UUID) error
	TriggerSchedule(ctx context.Context, tenantID string, id uuid.UUID) (*models.SyncJob, error)
}

// SchedulesHandler serves the /api/v1/schedules routes.
type SchedulesHandler struct {
	respond
	schedules ScheduleService
}

// NewSchedulesHandler creates a schedules handler.
func NewSchedulesHandler(schedules ScheduleService, log *logger.Logger) *SchedulesHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SchedulesHandler{
		respond:   respond{logger: log.Named("api.schedules")},
		schedules: schedules,
	}
}

func (h *SchedulesHandler) scheduleID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errors.NewValidationError("invalid schedule id")
	}
	return id, nil
}

// Create handles POST /api/v1/schedules.
func (h *SchedulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input models.CreateScheduleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.BadRequest(w, "invalid request body")
		return
	}

	userID := UserID(r.Context())
	if userID == "" {
		h.BadRequest(w, "missing "+headerUserID+" header")
		return
	}

	schedule, err := h.schedules.CreateSchedule(r.Context(), userID, TenantID(r.Context()), input)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.Created(w, schedule)
}

// List handles GET /api/v1/schedules.
func (h *SchedulesHandler) List(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.schedules.ListSchedules(r.Context(), TenantID(r.Context()))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.OK(w, map[string]any{"schedules": schedules})
}

// Get handles GET /api/v1/schedules/{id}.
func (h *SchedulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := h.scheduleID(r)
	if err != nil {
		h.Error(w, err)
		return
	}

	schedule, err := h.schedules.GetSchedule(r.Context(), TenantID(r.Context()), id)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.OK(w, schedule)
}

// Update handles PATCH /api/v1/schedules/{id}.
func (h *SchedulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := h.scheduleID(r)
	if err != nil {
		h.Error(w, err)
		return
	}

	var input models.UpdateScheduleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.BadRequest(w, "invalid request body")
		return
	}

	schedule, err := h.schedules.UpdateSchedule(r.Context(), TenantID(r.Context()), id, input)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.OK(w, schedule)
}

// Delete handles DELETE /api/v1/schedules/{id}.
func (h *SchedulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := h.scheduleID(r)
	if err != nil {
		h.Error(w, err)
		return
	}

	if err := h.schedules.DeleteSchedule(r.Context(), TenantID(r.Context()), id); err != nil {
		h.Error(w, err)
		return
	}
	h.NoContent(w)
}

// Trigger handles POST /api/v1/schedules/{id}/trigger, firing the schedule
// immediately outside its cron cadence.
func (h *SchedulesHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id, err := h.scheduleID(r)
	if err != nil {
		h.Error(w, err)
		return
	}

	job, err := h.schedules.TriggerSchedule(r.Context(), TenantID(r.Context()), id)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.Created(w, job)
}
