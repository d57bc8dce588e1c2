// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spikeapp/spike-sync/internal/models"
	"github.com/spikeapp/spike-sync/internal/pkg/errors"
	"github.com/spikeapp/spike-sync/internal/pkg/logger"
)

const scheduleColumns = `id, user_id, tenant_id, name, description, job_type, config,
	cron_expression, timezone, is_active, last_run_at, next_run_at,
	created_at, updated_at`

// ScheduleRepository handles recurring schedule persistence.
type ScheduleRepository struct {
	db     *DB
	logger *logger.Logger
}

// NewScheduleRepository creates a new ScheduleRepository
func NewScheduleRepository(db *DB, log *logger.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		db:     db,
		logger: log.Named("schedule_repo"),
	}
}

func scanSchedule(row pgx.Row) (*models.SyncSchedule, error) {
	var s models.SyncSchedule
	err := row.Scan(
		&s.ID, &s.UserID, &s.TenantID, &s.Name, &s.Description, &s.JobType,
		&s.Config, &s.CronExpression, &s.Timezone, &s.IsActive,
		&s.LastRunAt, &s.NextRunAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new schedule row.
func (r *ScheduleRepository) Create(ctx context.Context, s *models.SyncSchedule) error {
	query := `
		INSERT INTO sync_schedules (
			` + scheduleColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err := r.db.Exec(ctx, query,
		s.ID, s.UserID, s.TenantID, s.Name, s.Description, s.JobType, s.Config,
		s.CronExpression, s.Timezone, s.IsActive, s.LastRunAt, s.NextRunAt,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return errors.NewStoreError(err, "failed to create sync schedule")
	}
	return nil
}

// Get retrieves a schedule by id within a tenant.
func (r *ScheduleRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.SyncSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM sync_schedules WHERE id = $1 AND tenant_id = $2`

	s, err := scanSchedule(r.db.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("sync schedule")
		}
		return nil, errors.NewStoreError(err, "failed to get sync schedule")
	}
	return s, nil
}

// GetByID retrieves a schedule without tenant scoping. Only the scheduler's
// own trigger callbacks use this; the id comes from the registry, never from
// a caller.
func (r *ScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM sync_schedules WHERE id = $1`

	s, err := scanSchedule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("sync schedule")
		}
		return nil, errors.NewStoreError(err, "failed to get sync schedule")
	}
	return s, nil
}

// List retrieves a tenant's schedules ordered by name.
func (r *ScheduleRepository) List(ctx context.Context, tenantID string) ([]*models.SyncSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM sync_schedules WHERE tenant_id = $1 ORDER BY name ASC`

	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, errors.NewStoreError(err, "failed to list sync schedules")
	}
	defer rows.Close()

	var schedules []*models.SyncSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.NewStoreError(err, "failed to scan sync schedule")
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError(err, "failed to read sync schedules")
	}
	return schedules, nil
}

// ListActive returns every active schedule across tenants. Used only by the
// scheduler's startup reload to rebuild in-process timers.
func (r *ScheduleRepository) ListActive(ctx context.Context) ([]*models.SyncSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM sync_schedules WHERE is_active ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.NewStoreError(err, "failed to list active sync schedules")
	}
	defer rows.Close()

	var schedules []*models.SyncSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.NewStoreError(err, "failed to scan sync schedule")
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError(err, "failed to read active sync schedules")
	}
	return schedules, nil
}

// Update persists the full schedule row (the scheduler applies the partial
// diff in memory first).
func (r *ScheduleRepository) Update(ctx context.Context, s *models.SyncSchedule) error {
	query := `
		UPDATE sync_schedules
		SET name = $3, description = $4, config = $5, cron_expression = $6,
		    timezone = $7, is_active = $8, next_run_at = $9, updated_at = now()
		WHERE id = $1 AND tenant_id = $2`

	tag, err := r.db.Exec(ctx, query,
		s.ID, s.TenantID, s.Name, s.Description, s.Config, s.CronExpression,
		s.Timezone, s.IsActive, s.NextRunAt,
	)
	if err != nil {
		return errors.NewStoreError(err, "failed to update sync schedule")
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("sync schedule")
	}
	return nil
}

// Delete removes a schedule row. Jobs already produced by the schedule are
// left untouched.
func (r *ScheduleRepository) Delete(ctx context.Context, tenantID string, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sync_schedules WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return false, errors.NewStoreError(err, "failed to delete sync schedule")
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateRunTimes records a successful trigger: last_run_at and the freshly
// computed next_run_at.
func (r *ScheduleRepository) UpdateRunTimes(ctx context.Context, id uuid.UUID, lastRun time.Time, nextRun *time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sync_schedules
		SET last_run_at = $2, next_run_at = $3, updated_at = now()
		WHERE id = $1`, id, lastRun, nextRun)
	if err != nil {
		return errors.NewStoreError(err, "failed to update schedule run times")
	}
	return nil
}

// UpdateNextRun refreshes only next_run_at, used by the startup reload so a
// restarted process never serves a stale cached value.
func (r *ScheduleRepository) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun *time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sync_schedules
		SET next_run_at = $2, updated_at = now()
		WHERE id = $1`, id, nextRun)
	if err != nil {
		return errors.NewStoreError(err, "failed to update schedule next run")
	}
	return nil
}
