// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spikeapp/spike-sync/internal/models"
	"github.com/spikeapp/spike-sync/internal/pkg/errors"
	"github.com/spikeapp/spike-sync/internal/pkg/logger"
)

const jobColumns = `id, user_id, tenant_id, type, status, priority, config, metadata,
	correlation_id, scheduled_at, started_at, completed_at, failed_at,
	retry_count, max_retries, next_retry_at, result, error_message, progress,
	created_at, updated_at`

// JobRepository handles sync job persistence. All mutations of job status go
// through UpdateStatus, a conditional UPDATE that only one concurrent caller
// can win.
type JobRepository struct {
	db     *DB
	logger *logger.Logger
}

// NewJobRepository creates a new JobRepository
func NewJobRepository(db *DB, log *logger.Logger) *JobRepository {
	return &JobRepository{
		db:     db,
		logger: log.Named("job_repo"),
	}
}

func scanJob(row pgx.Row) (*models.SyncJob, error) {
	var j models.SyncJob
	err := row.Scan(
		&j.ID, &j.UserID, &j.TenantID, &j.Type, &j.Status, &j.Priority,
		&j.Config, &j.Metadata, &j.CorrelationID, &j.ScheduledAt,
		&j.StartedAt, &j.CompletedAt, &j.FailedAt,
		&j.RetryCount, &j.MaxRetries, &j.NextRetryAt,
		&j.Result, &j.ErrorMessage, &j.Progress,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func statusStrings(statuses []models.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Create inserts a new sync job row.
func (r *JobRepository) Create(ctx context.Context, job *models.SyncJob) error {
	query := `
		INSERT INTO sync_jobs (
			` + jobColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21
		)`

	_, err := r.db.Exec(ctx, query,
		job.ID, job.UserID, job.TenantID, job.Type, job.Status, job.Priority,
		job.Config, job.Metadata, job.CorrelationID, job.ScheduledAt,
		job.StartedAt, job.CompletedAt, job.FailedAt,
		job.RetryCount, job.MaxRetries, job.NextRetryAt,
		job.Result, job.ErrorMessage, job.Progress,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return errors.NewStoreError(err, "failed to create sync job")
	}
	return nil
}

// Get retrieves a job by id within a tenant.
func (r *JobRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE id = $1 AND tenant_id = $2`

	job, err := scanJob(r.db.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("sync job")
		}
		return nil, errors.NewStoreError(err, "failed to get sync job")
	}
	return job, nil
}

// List retrieves a tenant's jobs with optional filters and pagination,
// newest first.
func (r *JobRepository) List(ctx context.Context, tenantID string, opts models.JobListOptions) ([]*models.SyncJob, int, error) {
	conditions := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	argNum := 2

	if opts.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *opts.Status)
		argNum++
	}
	if opts.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argNum))
		args = append(args, *opts.Type)
		argNum++
	}
	if opts.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argNum))
		args = append(args, *opts.UserID)
		argNum++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM sync_jobs WHERE ` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewStoreError(err, "failed to count sync jobs")
	}

	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE ` + where + ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, opts.Limit)
		argNum++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, opts.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewStoreError(err, "failed to list sync jobs")
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, errors.NewStoreError(err, "failed to scan sync job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewStoreError(err, "failed to read sync jobs")
	}
	return jobs, total, nil
}

// GetPending returns dispatch-ready jobs across tenants: pending rows whose
// scheduled_at has passed and retrying rows whose backoff has elapsed,
// ordered by priority descending then created_at ascending (FIFO within a
// priority tier). This is the contract the worker pool polls.
func (r *JobRepository) GetPending(ctx context.Context, limit int) ([]*models.SyncJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM sync_jobs
		WHERE (status = 'pending' AND scheduled_at <= now())
		   OR (status = 'retrying' AND next_retry_at <= now())
		ORDER BY priority DESC, created_at ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.NewStoreError(err, "failed to query pending sync jobs")
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.NewStoreError(err, "failed to scan pending sync job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError(err, "failed to read pending sync jobs")
	}
	return jobs, nil
}

// GetRunning returns a tenant's currently running jobs, oldest first.
func (r *JobRepository) GetRunning(ctx context.Context, tenantID string) ([]*models.SyncJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM sync_jobs
		WHERE tenant_id = $1 AND status = 'running'
		ORDER BY started_at ASC`

	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, errors.NewStoreError(err, "failed to query running sync jobs")
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.NewStoreError(err, "failed to scan running sync job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError(err, "failed to read running sync jobs")
	}
	return jobs, nil
}

// UpdateStatus applies a status transition as a single conditional UPDATE
// guarded by the allowed source statuses, so exactly one concurrent attempt
// wins. Returns the updated row; NotFoundError if the job does not exist in
// the tenant; ConflictError if the current status did not permit the
// transition.
func (r *JobRepository) UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, from []models.JobStatus, update models.JobStatusUpdate) (*models.SyncJob, error) {
	sets := []string{"status = $3", "updated_at = now()"}
	args := []interface{}{id, tenantID, update.Status}
	argNum := 4

	set := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argNum))
		args = append(args, val)
		argNum++
	}

	if update.StartedAt != nil {
		set("started_at", *update.StartedAt)
	}
	if update.CompletedAt != nil {
		set("completed_at", *update.CompletedAt)
	}
	if update.FailedAt != nil {
		set("failed_at", *update.FailedAt)
	}
	if update.RetryCount != nil {
		set("retry_count", *update.RetryCount)
	}
	if update.NextRetryAt != nil {
		set("next_retry_at", *update.NextRetryAt)
	} else if update.ClearNextRetryAt {
		sets = append(sets, "next_retry_at = NULL")
	}
	if update.Result != nil {
		set("result", update.Result)
	}
	if update.ErrorMessage != nil {
		set("error_message", *update.ErrorMessage)
	}
	if update.Progress != nil {
		set("progress", *update.Progress)
	}

	args = append(args, statusStrings(from))
	query := fmt.Sprintf(`
		UPDATE sync_jobs
		SET %s
		WHERE id = $1 AND tenant_id = $2 AND status = ANY($%d)
		RETURNING %s`,
		strings.Join(sets, ", "), argNum, jobColumns)

	job, err := scanJob(r.db.QueryRow(ctx, query, args...))
	if err == nil {
		return job, nil
	}
	if err != pgx.ErrNoRows {
		return nil, errors.NewStoreError(err, "failed to update sync job status")
	}

	// No row matched: distinguish unknown id from a disallowed transition.
	var current models.JobStatus
	err = r.db.QueryRow(ctx,
		`SELECT status FROM sync_jobs WHERE id = $1 AND tenant_id = $2`,
		id, tenantID).Scan(&current)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("sync job")
	}
	if err != nil {
		return nil, errors.NewStoreError(err, "failed to read sync job status")
	}
	return nil, errors.NewConflictError(
		fmt.Sprintf("transition to %s not permitted from %s", update.Status, current)).
		WithDetail("current_status", string(current))
}

// UpdateProgress records worker-reported progress without touching the
// state machine. Only running jobs accept progress updates.
func (r *JobRepository) UpdateProgress(ctx context.Context, tenantID string, id uuid.UUID, progress int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_jobs
		SET progress = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status = 'running'`,
		id, tenantID, progress)
	if err != nil {
		return errors.NewStoreError(err, "failed to update sync job progress")
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("running sync job")
	}
	return nil
}

// DeleteTerminalBefore deletes terminal jobs older than the cutoff. Safe to
// run concurrently with dispatch since it never touches non-terminal rows.
func (r *JobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM sync_jobs
		WHERE status = ANY($1) AND created_at < $2`,
		statusStrings(models.TerminalStatuses), cutoff)
	if err != nil {
		return 0, errors.NewStoreError(err, "failed to delete old sync jobs")
	}
	return tag.RowsAffected(), nil
}

// Stats returns per-status and per-type job counts for a tenant.
func (r *JobRepository) Stats(ctx context.Context, tenantID string) (*models.JobStats, error) {
	stats := &models.JobStats{
		ByStatus: make(map[string]int64),
		ByType:   make(map[string]int64),
	}

	rows, err := r.db.Query(ctx, `
		SELECT status, type, COUNT(*)
		FROM sync_jobs
		WHERE tenant_id = $1
		GROUP BY status, type`, tenantID)
	if err != nil {
		return nil, errors.NewStoreError(err, "failed to query sync job stats")
	}
	defer rows.Close()

	for rows.Next() {
		var status, jobType string
		var count int64
		if err := rows.Scan(&status, &jobType, &count); err != nil {
			return nil, errors.NewStoreError(err, "failed to scan sync job stats")
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByType[jobType] += count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError(err, "failed to read sync job stats")
	}
	return stats, nil
}
