// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

// Package scheduler turns persisted cron schedules into sync jobs. The
// database row is the source of truth; the in-process cron entry is a
// disposable projection rebuilt on startup, so a restart never loses a
// schedule and never fires catch-up runs for triggers missed while down.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/spikeapp/spike-sync/internal/models"
	"github.com/spikeapp/spike-sync/internal/pkg/errors"
	"github.com/spikeapp/spike-sync/internal/pkg/logger"
	"github.com/spikeapp/spike-sync/internal/repository/redis"
)

// ScheduleStore is the persistence surface the scheduler needs.
type ScheduleStore interface {
	Create(ctx context.Context, s *models.SyncSchedule) error
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.SyncSchedule, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.SyncSchedule, error)
	List(ctx context.Context, tenantID string) ([]*models.SyncSchedule, error)
	ListActive(ctx context.Context) ([]*models.SyncSchedule, error)
	Update(ctx context.Context, s *models.SyncSchedule) error
	Delete(ctx context.Context, tenantID string, id uuid.UUID) (bool, error)
	UpdateRunTimes(ctx context.Context, id uuid.UUID, lastRun time.Time, nextRun *time.Time) error
	UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun *time.Time) error
}

// JobCreator spawns jobs on behalf of triggered schedules. *sync.Manager
// satisfies it.
type JobCreator interface {
	CreateJob(ctx context.Context, userID, tenantID string, input models.CreateJobInput, correlationID string) (*models.SyncJob, error)
	CleanupOldJobs(ctx context.Context, olderThanDays int) (int64, error)
}

// HeartbeatReader surfaces stale workers for the maintenance sweep.
// *redis.HeartbeatStore satisfies it; nil disables the sweep.
type HeartbeatReader interface {
	Stale(ctx context.Context, maxAge time.Duration) ([]redis.WorkerHeartbeat, error)
}

// Options configures the scheduler's maintenance cadence.
type Options struct {
	// RetentionDays is how long terminal jobs are kept before the hourly
	// purge removes them.
	RetentionDays int
	// HeartbeatMaxAge marks a worker stale when its last heartbeat is older.
	HeartbeatMaxAge time.Duration
}

// DefaultOptions returns the default maintenance configuration.
func DefaultOptions() Options {
	return Options{
		RetentionDays:   7,
		HeartbeatMaxAge: 2 * time.Minute,
	}
}

// Scheduler owns the process-wide cron runner and the registry mapping
// persisted schedules to live cron entries.
type Scheduler struct {
	store  ScheduleStore
	jobs   JobCreator
	logger *logger.Logger
	opts   Options

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[uuid.UUID]cron.EntryID

	heartbeats HeartbeatReader
}

// New creates a scheduler. Call Initialize to reload persisted schedules and
// Start to begin firing them.
func New(store ScheduleStore, jobs JobCreator, heartbeats HeartbeatReader, log *logger.Logger, opts Options) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultOptions().RetentionDays
	}
	if opts.HeartbeatMaxAge <= 0 {
		opts.HeartbeatMaxAge = DefaultOptions().HeartbeatMaxAge
	}
	return &Scheduler{
		store:      store,
		jobs:       jobs,
		logger:     log.Named("scheduler"),
		opts:       opts,
		cron:       cron.New(),
		entries:    make(map[uuid.UUID]cron.EntryID),
		heartbeats: heartbeats,
	}
}

// cronSpec builds the CRON_TZ-prefixed spec string so each entry fires in its
// schedule's own timezone regardless of the host clock.
func cronSpec(expression, timezone string) string {
	return fmt.Sprintf("CRON_TZ=%s %s", timezone, expression)
}

// parseSchedule validates the cron expression and timezone together and
// returns the parsed schedule for next-run computation.
func parseSchedule(expression, timezone string) (cron.Schedule, error) {
	if expression == "" {
		return nil, errors.NewValidationError("cron expression is required")
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, errors.Newf(errors.CodeValidationFailed, "unknown timezone: %s", timezone)
	}
	sched, err := cron.ParseStandard(cronSpec(expression, timezone))
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeValidationFailed, "invalid cron expression: %s", expression)
	}
	return sched, nil
}

// CreateSchedule validates and persists a schedule, and registers its cron
// entry when active. Nothing is persisted if validation fails.
func (s *Scheduler) CreateSchedule(ctx context.Context, userID, tenantID string, input models.CreateScheduleInput) (*models.SyncSchedule, error) {
	if userID == "" || tenantID == "" {
		return nil, errors.NewValidationError("user id and tenant id are required")
	}
	if input.Name == "" {
		return nil, errors.NewValidationError("schedule name is required")
	}
	if !models.IsKnownJobType(input.JobType) {
		return nil, errors.Newf(errors.CodeValidationFailed, "unknown job type: %s", input.JobType)
	}
	if err := models.ValidateJobConfig(input.JobType, input.Config); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationFailed, "invalid schedule config")
	}

	tz := input.Timezone
	if tz == "" {
		tz = models.DefaultTimezone
	}
	parsed, err := parseSchedule(input.CronExpression, tz)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next := parsed.Next(now)
	schedule := &models.SyncSchedule{
		ID:             uuid.New(),
		UserID:         userID,
		TenantID:       tenantID,
		Name:           input.Name,
		Description:    input.Description,
		JobType:        input.JobType,
		Config:         input.Config,
		CronExpression: input.CronExpression,
		Timezone:       tz,
		IsActive:       true,
		NextRunAt:      &next,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Create(ctx, schedule); err != nil {
		return nil, err
	}

	if err := s.register(schedule); err != nil {
		// Row exists but the timer does not; surface loudly, the next
		// restart's Initialize will pick it up.
		s.logger.Error("failed to register schedule after create",
			"schedule_id", schedule.ID, "error", err)
	}

	s.logger.Info("sync schedule created",
		"schedule_id", schedule.ID,
		"tenant_id", schedule.TenantID,
		"name", schedule.Name,
		"cron", schedule.CronExpression,
		"timezone", schedule.Timezone,
	)
	return schedule, nil
}

// GetSchedule returns a tenant's schedule.
func (s *Scheduler) GetSchedule(ctx context.Context, tenantID string, id uuid.UUID) (*models.SyncSchedule, error) {
	return s.store.Get(ctx, tenantID, id)
}

// ListSchedules returns a tenant's schedules.
func (s *Scheduler) ListSchedules(ctx context.Context, tenantID string) ([]*models.SyncSchedule, error) {
	return s.store.List(ctx, tenantID)
}

// UpdateSchedule applies a partial update. Cron or timezone changes are
// re-validated before anything is persisted, and the live entry is replaced
// to match the new state.
func (s *Scheduler) UpdateSchedule(ctx context.Context, tenantID string, id uuid.UUID, input models.UpdateScheduleInput) (*models.SyncSchedule, error) {
	schedule, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		if *input.Name == "" {
			return nil, errors.NewValidationError("schedule name cannot be empty")
		}
		schedule.Name = *input.Name
	}
	if input.Description != nil {
		schedule.Description = input.Description
	}
	if input.Config != nil {
		if err := models.ValidateJobConfig(schedule.JobType, input.Config); err != nil {
			return nil, errors.Wrap(err, errors.CodeValidationFailed, "invalid schedule config")
		}
		schedule.Config = input.Config
	}
	if input.CronExpression != nil {
		schedule.CronExpression = *input.CronExpression
	}
	if input.Timezone != nil {
		schedule.Timezone = *input.Timezone
	}
	if input.IsActive != nil {
		schedule.IsActive = *input.IsActive
	}

	parsed, err := parseSchedule(schedule.CronExpression, schedule.Timezone)
	if err != nil {
		return nil, err
	}

	if schedule.IsActive {
		next := parsed.Next(time.Now().UTC())
		schedule.NextRunAt = &next
	} else {
		schedule.NextRunAt = nil
	}

	if err := s.store.Update(ctx, schedule); err != nil {
		return nil, err
	}

	s.unregister(schedule.ID)
	if schedule.IsActive {
		if err := s.register(schedule); err != nil {
			s.logger.Error("failed to re-register schedule after update",
				"schedule_id", schedule.ID, "error", err)
		}
	}

	s.logger.Info("sync schedule updated",
		"schedule_id", schedule.ID,
		"tenant_id", schedule.TenantID,
		"is_active", schedule.IsActive,
	)
	return schedule, nil
}

// DeleteSchedule removes the row and its live entry. Jobs the schedule
// already produced run to completion untouched.
func (s *Scheduler) DeleteSchedule(ctx context.Context, tenantID string, id uuid.UUID) error {
	deleted, err := s.store.Delete(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return errors.NewNotFoundError("sync schedule")
	}

	s.unregister(id)
	s.logger.Info("sync schedule deleted", "schedule_id", id, "tenant_id", tenantID)
	return nil
}

// TriggerSchedule fires a schedule immediately, outside its cron cadence.
func (s *Scheduler) TriggerSchedule(ctx context.Context, tenantID string, id uuid.UUID) (*models.SyncJob, error) {
	schedule, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return s.spawnJob(ctx, schedule, time.Now().UTC())
}

// Initialize reloads every active schedule from the store and registers its
// cron entry, refreshing next_run_at so restarted processes never serve
// stale values. Call before Start.
func (s *Scheduler) Initialize(ctx context.Context) error {
	schedules, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active schedules: %w", err)
	}

	var registered int
	for _, schedule := range schedules {
		parsed, err := parseSchedule(schedule.CronExpression, schedule.Timezone)
		if err != nil {
			// A row with an invalid expression should be impossible, but a
			// bad one must not take the whole scheduler down.
			s.logger.Error("skipping schedule with invalid cron expression",
				"schedule_id", schedule.ID,
				"cron", schedule.CronExpression,
				"error", err,
			)
			continue
		}
		if err := s.register(schedule); err != nil {
			s.logger.Error("failed to register schedule",
				"schedule_id", schedule.ID, "error", err)
			continue
		}

		next := parsed.Next(time.Now().UTC())
		if err := s.store.UpdateNextRun(ctx, schedule.ID, &next); err != nil {
			s.logger.Warn("failed to refresh schedule next run",
				"schedule_id", schedule.ID, "error", err)
		}
		registered++
	}

	s.registerMaintenance()

	s.logger.Info("scheduler initialized",
		"schedules", registered,
		"retention_days", s.opts.RetentionDays,
	)
	return nil
}

// Start begins firing registered entries.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Close stops the cron runner and waits for in-flight trigger callbacks.
func (s *Scheduler) Close() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// EntryCount returns the number of live schedule entries, maintenance
// excluded.
func (s *Scheduler) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// register adds a cron entry for the schedule and records it in the
// registry, replacing any previous entry for the same id.
func (s *Scheduler) register(schedule *models.SyncSchedule) error {
	id := schedule.ID
	entryID, err := s.cron.AddFunc(
		cronSpec(schedule.CronExpression, schedule.Timezone),
		func() { s.runSchedule(id) },
	)
	if err != nil {
		return fmt.Errorf("add cron entry: %w", err)
	}

	s.mu.Lock()
	if old, ok := s.entries[id]; ok {
		s.cron.Remove(old)
	}
	s.entries[id] = entryID
	s.mu.Unlock()
	return nil
}

// unregister removes the live entry for a schedule, if any.
func (s *Scheduler) unregister(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// runSchedule is the trigger callback. It re-reads the row so a concurrent
// deactivation or delete between fire and execution is honored, spawns the
// job, and records the run times. A panic in one callback must not kill the
// cron runner.
func (s *Scheduler) runSchedule(id uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("schedule trigger panicked",
				"schedule_id", id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schedule, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.IsNotFoundError(err) {
			s.unregister(id)
			return
		}
		s.logger.Error("failed to load schedule on trigger",
			"schedule_id", id, "error", err)
		return
	}
	if !schedule.IsActive {
		s.unregister(id)
		return
	}

	firedAt := time.Now().UTC()
	if _, err := s.spawnJob(ctx, schedule, firedAt); err != nil {
		// Run times stay untouched so the failure is visible: last_run_at
		// only advances on a successful spawn.
		s.logger.Error("failed to spawn job for schedule",
			"schedule_id", schedule.ID,
			"tenant_id", schedule.TenantID,
			"error", err,
		)
		return
	}

	var next *time.Time
	if parsed, err := parseSchedule(schedule.CronExpression, schedule.Timezone); err == nil {
		n := parsed.Next(firedAt)
		next = &n
	}
	if err := s.store.UpdateRunTimes(ctx, schedule.ID, firedAt, next); err != nil {
		s.logger.Warn("failed to record schedule run times",
			"schedule_id", schedule.ID, "error", err)
	}
}

// spawnJob creates one job from the schedule's template, stamping the
// schedule linkage into the job metadata and correlation id.
func (s *Scheduler) spawnJob(ctx context.Context, schedule *models.SyncSchedule, firedAt time.Time) (*models.SyncJob, error) {
	metadata, err := json.Marshal(models.ScheduleMetadata{
		ScheduleID:   schedule.ID,
		ScheduleName: schedule.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal schedule metadata: %w", err)
	}

	correlationID := fmt.Sprintf("sched-%s-%d", schedule.ID, firedAt.Unix())
	job, err := s.jobs.CreateJob(ctx, schedule.UserID, schedule.TenantID, models.CreateJobInput{
		Type:     schedule.JobType,
		Config:   schedule.Config,
		Priority: models.JobPriorityNormal,
		Metadata: metadata,
	}, correlationID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("schedule triggered",
		"schedule_id", schedule.ID,
		"tenant_id", schedule.TenantID,
		"job_id", job.ID,
		"type", job.Type,
	)
	return job, nil
}

// registerMaintenance wires the built-in housekeeping entries: hourly purge
// of old terminal jobs and a five-minute stale worker sweep.
func (s *Scheduler) registerMaintenance() {
	if _, err := s.cron.AddFunc("@every 1h", s.runCleanup); err != nil {
		s.logger.Error("failed to register cleanup entry", "error", err)
	}
	if s.heartbeats != nil {
		if _, err := s.cron.AddFunc("@every 5m", s.runHeartbeatSweep); err != nil {
			s.logger.Error("failed to register heartbeat sweep entry", "error", err)
		}
	}
}

func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	count, err := s.jobs.CleanupOldJobs(ctx, s.opts.RetentionDays)
	if err != nil {
		s.logger.Error("job cleanup failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("job cleanup completed", "purged", count)
	}
}

func (s *Scheduler) runHeartbeatSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stale, err := s.heartbeats.Stale(ctx, s.opts.HeartbeatMaxAge)
	if err != nil {
		s.logger.Error("heartbeat sweep failed", "error", err)
		return
	}
	for _, w := range stale {
		s.logger.Warn("worker heartbeat is stale",
			"worker_id", w.WorkerID,
			"hostname", w.Hostname,
			"active_jobs", w.ActiveJobs,
			"last_seen", w.SeenAt,
		)
	}
}
