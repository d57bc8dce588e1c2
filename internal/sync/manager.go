// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

// Package sync implements the job lifecycle manager: the only component that
// creates sync jobs or moves them through the status state machine. Every
// mutation is a conditional update in the store, so concurrent callers (API
// requests, scheduler triggers, worker reports) race safely: one wins, the
// rest get ConflictError.
package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/spikeapp/spike-sync/internal/models"
	"github.com/spikeapp/spike-sync/internal/pkg/errors"
	"github.com/spikeapp/spike-sync/internal/pkg/logger"
)

// JobStore is the persistence surface the manager needs.
type JobStore interface {
	Create(ctx context.Context, job *models.SyncJob) error
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.SyncJob, error)
	List(ctx context.Context, tenantID string, opts models.JobListOptions) ([]*models.SyncJob, int, error)
	GetPending(ctx context.Context, limit int) ([]*models.SyncJob, error)
	GetRunning(ctx context.Context, tenantID string) ([]*models.SyncJob, error)
	UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, from []models.JobStatus, update models.JobStatusUpdate) (*models.SyncJob, error)
	UpdateProgress(ctx context.Context, tenantID string, id uuid.UUID, progress int) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context, tenantID string) (*models.JobStats, error)
}

// EventPublisher delivers lifecycle events to the bus.
type EventPublisher interface {
	Publish(ctx context.Context, event models.JobEvent) error
}

// ProgressCache stores the volatile progress snapshot polled by the UI.
// Optional; nil disables caching.
type ProgressCache interface {
	Set(ctx context.Context, jobID uuid.UUID, progress int, message string) error
}

// Manager is the job lifecycle manager. Construct one at process startup and
// pass it explicitly; there is no global instance.
type Manager struct {
	store     JobStore
	publisher EventPublisher
	progress  ProgressCache
	logger    *logger.Logger

	now func() time.Time
}

// NewManager creates a job lifecycle manager.
func NewManager(store JobStore, publisher EventPublisher, progress ProgressCache, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		store:     store,
		publisher: publisher,
		progress:  progress,
		logger:    log.Named("sync"),
		now:       time.Now,
	}
}

// CreateJob validates the request, persists a PENDING job, and publishes
// job.created. No external system is contacted.
func (m *Manager) CreateJob(ctx context.Context, userID, tenantID string, input models.CreateJobInput, correlationID string) (*models.SyncJob, error) {
	if userID == "" || tenantID == "" {
		return nil, errors.NewValidationError("user id and tenant id are required")
	}
	if !models.IsKnownJobType(input.Type) {
		return nil, errors.Newf(errors.CodeValidationFailed, "unknown job type: %s", input.Type)
	}
	if err := models.ValidateJobConfig(input.Type, input.Config); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationFailed, "invalid job config")
	}

	now := m.now().UTC()
	job := &models.SyncJob{
		ID:            uuid.New(),
		UserID:        userID,
		TenantID:      tenantID,
		Type:          input.Type,
		Status:        models.JobStatusPending,
		Priority:      input.Priority,
		Config:        input.Config,
		Metadata:      input.Metadata,
		CorrelationID: correlationID,
		ScheduledAt:   now,
		MaxRetries:    models.MaxRetriesForType(input.Type),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if job.Priority == 0 {
		job.Priority = models.JobPriorityNormal
	}
	if input.ScheduledAt != nil {
		job.ScheduledAt = input.ScheduledAt.UTC()
	}

	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}

	m.logger.Info("sync job created",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"type", job.Type,
		"priority", job.Priority,
	)

	m.publish(ctx, models.NewJobEvent(models.EventJobCreated, job, map[string]interface{}{
		"type":     string(job.Type),
		"priority": int(job.Priority),
		"status":   string(job.Status),
	}))

	return job, nil
}

// UpdateJobStatus applies a status transition reported by a worker (or the
// dispatch path) and publishes exactly one event matching the new status.
//
// A FAILED report on a job with retries remaining becomes a RETRYING
// transition: retryCount is incremented and nextRetryAt is set to
// now + min(60s * 3^retryCount, 1h) using the post-increment counter, so the
// delay is reproducible from persisted state. When the incremented counter
// reaches maxRetries the job is immediately finalized as FAILED and never
// re-enters the dispatch loop.
func (m *Manager) UpdateJobStatus(ctx context.Context, tenantID string, jobID uuid.UUID, status models.JobStatus, result json.RawMessage, errMsg *string) (*models.SyncJob, error) {
	now := m.now().UTC()

	switch status {
	case models.JobStatusQueued:
		return m.transition(ctx, tenantID, jobID,
			[]models.JobStatus{models.JobStatusPending, models.JobStatusRetrying},
			models.JobStatusUpdate{Status: status, ClearNextRetryAt: true}, nil)

	case models.JobStatusRunning:
		return m.transition(ctx, tenantID, jobID,
			[]models.JobStatus{models.JobStatusPending, models.JobStatusQueued, models.JobStatusRetrying},
			models.JobStatusUpdate{Status: status, StartedAt: &now, ClearNextRetryAt: true}, nil)

	case models.JobStatusCompleted:
		full := 100
		return m.transition(ctx, tenantID, jobID,
			[]models.JobStatus{models.JobStatusRunning},
			models.JobStatusUpdate{Status: status, CompletedAt: &now, Result: result, Progress: &full}, nil)

	case models.JobStatusCancelled:
		return m.transition(ctx, tenantID, jobID,
			models.CancellableStatuses,
			models.JobStatusUpdate{Status: status, ClearNextRetryAt: true, ErrorMessage: errMsg}, nil)

	case models.JobStatusFailed, models.JobStatusRetrying:
		return m.handleFailure(ctx, tenantID, jobID, errMsg)

	default:
		return nil, errors.Newf(errors.CodeValidationFailed, "cannot transition a job to %s", status)
	}
}

// handleFailure routes an execution failure into the retry policy.
func (m *Manager) handleFailure(ctx context.Context, tenantID string, jobID uuid.UUID, errMsg *string) (*models.SyncJob, error) {
	// The read is only to compute the retry values; the conditional update
	// below still decides the race. A stale read loses the update and
	// surfaces as ConflictError.
	job, err := m.store.Get(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()

	if !job.RetriesRemaining() {
		return m.transition(ctx, tenantID, jobID,
			[]models.JobStatus{models.JobStatusRunning},
			models.JobStatusUpdate{Status: models.JobStatusFailed, FailedAt: &now, ClearNextRetryAt: true, ErrorMessage: errMsg}, nil)
	}

	retryCount := job.RetryCount + 1
	delay := models.RetryBackoff(retryCount)
	nextRetry := now.Add(delay)

	updated, err := m.transition(ctx, tenantID, jobID,
		[]models.JobStatus{models.JobStatusRunning},
		models.JobStatusUpdate{
			Status:       models.JobStatusRetrying,
			RetryCount:   &retryCount,
			NextRetryAt:  &nextRetry,
			ErrorMessage: errMsg,
		},
		map[string]interface{}{
			"retry_count":   retryCount,
			"max_retries":   job.MaxRetries,
			"next_retry_at": nextRetry.Format(time.RFC3339),
			"backoff_ms":    delay.Milliseconds(),
		})
	if err != nil {
		return nil, err
	}

	// Budget exhausted: finalize immediately so the job never re-dispatches.
	if updated.RetryCount >= updated.MaxRetries {
		failedAt := m.now().UTC()
		return m.transition(ctx, tenantID, jobID,
			[]models.JobStatus{models.JobStatusRetrying},
			models.JobStatusUpdate{Status: models.JobStatusFailed, FailedAt: &failedAt, ClearNextRetryAt: true, ErrorMessage: errMsg},
			map[string]interface{}{
				"retry_count": updated.RetryCount,
				"max_retries": updated.MaxRetries,
			})
	}

	return updated, nil
}

// transition performs the conditional update and publishes the matching
// event once it has committed.
func (m *Manager) transition(ctx context.Context, tenantID string, jobID uuid.UUID, from []models.JobStatus, update models.JobStatusUpdate, eventData map[string]interface{}) (*models.SyncJob, error) {
	job, err := m.store.UpdateStatus(ctx, tenantID, jobID, from, update)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("sync job transitioned",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"status", job.Status,
	)

	if eventData == nil {
		eventData = map[string]interface{}{"status": string(job.Status)}
		if job.ErrorMessage != nil {
			eventData["error"] = *job.ErrorMessage
		}
	}
	m.publish(ctx, models.NewJobEvent(models.EventForStatus(job.Status), job, eventData))

	return job, nil
}

// GetJob returns a single tenant-scoped job.
func (m *Manager) GetJob(ctx context.Context, tenantID string, jobID uuid.UUID) (*models.SyncJob, error) {
	return m.store.Get(ctx, tenantID, jobID)
}

// GetUserJobs returns a tenant's jobs with optional status/type filters and
// pagination.
func (m *Manager) GetUserJobs(ctx context.Context, tenantID string, opts models.JobListOptions) ([]*models.SyncJob, int, error) {
	return m.store.List(ctx, tenantID, opts)
}

// GetJobStats returns aggregate job counts for a tenant.
func (m *Manager) GetJobStats(ctx context.Context, tenantID string) (*models.JobStats, error) {
	return m.store.Stats(ctx, tenantID)
}

// GetRunningJobs returns the tenant's currently running jobs.
func (m *Manager) GetRunningJobs(ctx context.Context, tenantID string) ([]*models.SyncJob, error) {
	return m.store.GetRunning(ctx, tenantID)
}

// GetPendingJobs is the dispatch-readiness contract consumed by the worker
// pool: ready jobs ordered by priority descending, then created_at ascending.
func (m *Manager) GetPendingJobs(ctx context.Context, limit int) ([]*models.SyncJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.store.GetPending(ctx, limit)
}

// CancelJob flips a not-yet-running job to CANCELLED. Idempotent: returns
// false without error when the job is already terminal or currently running
// (cancellation is cooperative; a running worker polls status and aborts).
func (m *Manager) CancelJob(ctx context.Context, tenantID string, jobID uuid.UUID, reason string) (bool, error) {
	var errMsg *string
	if reason != "" {
		errMsg = &reason
	}

	_, err := m.transition(ctx, tenantID, jobID,
		models.CancellableStatuses,
		models.JobStatusUpdate{Status: models.JobStatusCancelled, ClearNextRetryAt: true, ErrorMessage: errMsg}, nil)
	if err != nil {
		if errors.IsConflictError(err) {
			return false, nil
		}
		return false, err
	}

	m.logger.Info("sync job cancelled", "job_id", jobID, "tenant_id", tenantID, "reason", reason)
	return true, nil
}

// UpdateJobProgress records worker-reported progress: persists the
// percentage, caches the snapshot for UI polling, and publishes
// job.progress. It never touches the state machine.
func (m *Manager) UpdateJobProgress(ctx context.Context, tenantID string, jobID uuid.UUID, progress int, message string) error {
	if progress < 0 || progress > 100 {
		return errors.Newf(errors.CodeValidationFailed, "progress must be 0-100, got %d", progress)
	}

	if err := m.store.UpdateProgress(ctx, tenantID, jobID, progress); err != nil {
		return err
	}

	if m.progress != nil {
		if err := m.progress.Set(ctx, jobID, progress, message); err != nil {
			m.logger.Warn("failed to cache job progress", "job_id", jobID, "error", err)
		}
	}

	m.publish(ctx, models.JobEvent{
		Type:      models.EventJobProgress,
		JobID:     jobID,
		TenantID:  tenantID,
		Timestamp: m.now().UTC(),
		Data: map[string]interface{}{
			"progress": progress,
			"message":  message,
		},
	})
	return nil
}

// CleanupOldJobs deletes terminal jobs older than the cutoff and returns the
// number of rows removed.
func (m *Manager) CleanupOldJobs(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, errors.NewValidationError("retention must be at least one day")
	}
	cutoff := m.now().UTC().AddDate(0, 0, -olderThanDays)

	count, err := m.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		m.logger.Info("purged old sync jobs", "count", count, "older_than_days", olderThanDays)
	}
	return count, nil
}

// publish is fire-and-forget: a publish failure is logged and swallowed, it
// never rolls back or blocks the already-committed state change.
func (m *Manager) publish(ctx context.Context, event models.JobEvent) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Error("failed to publish job event",
			"event_type", event.Type,
			"job_id", event.JobID,
			"error", err,
		)
	}
}
