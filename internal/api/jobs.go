// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spikeapp/spike-sync/internal/models"
	"github.com/spikeapp/spike-sync/internal/pkg/errors"
	"github.com/spikeapp/spike-sync/internal/pkg/logger"
	"github.com/spikeapp/spike-sync/internal/repository/redis"
)

// JobService is the lifecycle surface the handlers call. *sync.Manager
// satisfies it.
type JobService interface {
	CreateJob(ctx context.Context, userID, tenantID string, input models.CreateJobInput, correlationID string) (*models.SyncJob, error)
	GetJob(ctx context.Context, tenantID string, jobID uuid.UUID) (*models.SyncJob, error)
	GetUserJobs(ctx context.Context, tenantID string, opts models.JobListOptions) ([]*models.SyncJob, int, error)
	GetRunningJobs(ctx context.Context, tenantID string) ([]*models.SyncJob, error)
	GetPendingJobs(ctx context.Context, limit int) ([]*models.SyncJob, error)
	GetJobStats(ctx context.Context, tenantID string) (*models.JobStats, error)
	UpdateJobStatus(ctx context.Context, tenantID string, jobID uuid.UUID, status models.JobStatus, result json.RawMessage, errMsg *string) (*models.SyncJob, error)
	UpdateJobProgress(ctx context.Context, tenantID string, jobID uuid.UUID, progress int, message string) error
	CancelJob(ctx context.Context, tenantID string, jobID uuid.UUID, reason string) (bool, error)
}

// ProgressReader reads cached progress snapshots. Optional; nil falls back
// to the persisted percentage.
type ProgressReader interface {
	Get(ctx context.Context, jobID uuid.UUID) (*redis.JobProgress, error)
}

// JobsHandler serves the /api/v1/jobs routes.
type JobsHandler struct {
	respond
	jobs     JobService
	progress ProgressReader
}

// NewJobsHandler creates a jobs handler.
func NewJobsHandler(jobs JobService, progress ProgressReader, log *logger.Logger) *JobsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &JobsHandler{
		respond:  respond{logger: log.Named("api.jobs")},
		jobs:     jobs,
		progress: progress,
	}
}

func (h *JobsHandler) jobID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errors.NewValidationError("invalid job id")
	}
	return id, nil
}

// Create handles POST /api/v1/jobs.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input models.CreateJobInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.BadRequest(w, "invalid request body")
		return
	}

	userID := UserID(r.Context())
	if userID == "" {
		h.BadRequest(w, "missing "+headerUserID+" header")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), userID, TenantID(r.Context()),
		input, r.Header.Get("X-Correlation-ID"))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.Created(w, job)
}

// List handles GET /api/v1/jobs with status/type/user_id filters and
// limit/offset pagination.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts models.JobListOptions

	if v := q.Get("status"); v != "" {
		status := models.JobStatus(v)
		opts.Status = &status
	}
	if v := q.Get("type"); v != "" {
		jobType := models.JobType(v)
		opts.Type = &jobType
	}
	if v := q.Get("user_id"); v != "" {
		opts.UserID = &v
	}
	opts.Limit = queryInt(q.Get("limit"), 50)
	opts.Offset = queryInt(q.Get("offset"), 0)

	jobs, total, err := h.jobs.GetUserJobs(r.Context(), TenantID(r.Context()), opts)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.OK(w, map[string]any{
		"jobs":   jobs,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := h.jobID(r)
	if err != nil {
		h.Error(w, err)
		return
	}

	job, err := h.jobs.GetJob(r.Context(), TenantID(r.Context()), id)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.OK(w, job)
}

// Cancel handles DELETE /api/v1/jobs/{id}. Idempotent: cancelling a job that
// already finished (or is running) reports cancelled=false with 200.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := h.jobID(r)
	if err != nil {
		h.Error(w, err)
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.BadRequest(w, "invalid request body")
			return
		}
	}

	cancelled, err := h.jobs.CancelJob(r.Context(), TenantID(r.Context()), id, body.Reason)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.OK(w, map[string]any{"cancelled": cancelled})
}

// Running handles GET /api/v1/jobs/running.
func (h *JobsHandler) Running(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.GetRunningJobs(r.Context(), TenantID(r.Context()))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.OK(w, map[string]any{"jobs": jobs})
}

// Pending handles GET /api/v1/jobs/pending, the worker dispatch poll. Unlike
// the other routes it is cross-tenant: workers drain one global queue.
func (h *JobsHandler) Pending(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), 50)
	jobs, err := h.jobs.GetPendingJobs(r.Context(), limit)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.OK(w, map[string]any{"jobs": jobs})
}

// Stats handles GET /api/v1/jobs/stats.
func (h *JobsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetJobStats(r.Context(), TenantID(r.Context()))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.OK(w, stats)
}

// ReportStatus handles POST /api/v1/jobs/{id}/status, the worker's
// transition report. A disallowed transition surfaces as 409.
func (h *JobsHandler) ReportStatus(w http.ResponseWriter, r *http.Request) {
	id, err := h.jobID(r)
	if err != nil {
		h.Error(w, err)
		return
	}

	var body struct {
		Status models.JobStatus `json:"status"`
		Result json.RawMessage  `json:"result,omitempty"`
		Error  *string          `json:"error,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.BadRequest(w, "invalid request body")
		return
	}
	if body.Status == "" {
		h.BadRequest(w, "status is required")
		return
	}

	job, err := h.jobs.UpdateJobStatus(r.Context(), TenantID(r.Context()), id,
		body.Status, body.Result, body.Error)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.OK(w, job)
}

// ReportProgress handles PUT /api/v1/jobs/{id}/progress.
func (h *JobsHandler) ReportProgress(w http.ResponseWriter, r *http.Request) {
	id, err := h.jobID(r)
	if err != nil {
		h.Error(w, err)
		return
	}

	var body struct {
		Progress int    `json:"progress"`
		Message  string `json:"message,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.BadRequest(w, "invalid request body")
		return
	}

	if err := h.jobs.UpdateJobProgress(r.Context(), TenantID(r.Context()), id,
		body.Progress, body.Message); err != nil {
		h.Error(w, err)
		return
	}
	h.NoContent(w)
}

// GetProgress handles GET /api/v1/jobs/{id}/progress. The cached snapshot is
// fresher than the row; when it has expired the persisted percentage is
// still authoritative.
func (h *JobsHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	id, err := h.jobID(r)
	if err != nil {
		h.Error(w, err)
		return
	}

	// Tenant scoping first: the cache is keyed by job id alone.
	job, err := h.jobs.GetJob(r.Context(), TenantID(r.Context()), id)
	if err != nil {
		h.Error(w, err)
		return
	}

	if h.progress != nil {
		snapshot, err := h.progress.Get(r.Context(), id)
		if err != nil {
			h.logger.Warn("progress cache read failed", "job_id", id, "error", err)
		} else if snapshot != nil {
			h.OK(w, snapshot)
			return
		}
	}

	h.OK(w, map[string]any{
		"job_id":   job.ID,
		"progress": job.Progress,
		"status":   job.Status,
	})
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
