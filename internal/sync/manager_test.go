// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package sync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/spikeapp/spike-sync/internal/models"
	"github.com/spikeapp/spike-sync/internal/pkg/errors"
)

// fakeJobStore is an in-memory store mirroring the repository's conditional
// update semantics, with func-field overrides for error injection.
type fakeJobStore struct {
	jobs map[uuid.UUID]*models.SyncJob

	createFunc func(ctx context.Context, job *models.SyncJob) error
	getFunc    func(ctx context.Context, tenantID string, id uuid.UUID) (*models.SyncJob, error)
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[uuid.UUID]*models.SyncJob)}
}

func (s *fakeJobStore) Create(ctx context.Context, job *models.SyncJob) error {
	if s.createFunc != nil {
		return s.createFunc(ctx, job)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeJobStore) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.SyncJob, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, tenantID, id)
	}
	job, ok := s.jobs[id]
	if !ok || job.TenantID != tenantID {
		return nil, errors.NewNotFoundError("sync job")
	}
	cp := *job
	return &cp, nil
}

func (s *fakeJobStore) List(ctx context.Context, tenantID string, opts models.JobListOptions) ([]*models.SyncJob, int, error) {
	var out []*models.SyncJob
	for _, job := range s.jobs {
		if job.TenantID != tenantID {
			continue
		}
		if opts.Status != nil && job.Status != *opts.Status {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (s *fakeJobStore) GetPending(ctx context.Context, limit int) ([]*models.SyncJob, error) {
	now := time.Now()
	var out []*models.SyncJob
	for _, job := range s.jobs {
		ready := (job.Status == models.JobStatusPending && !job.ScheduledAt.After(now)) ||
			(job.Status == models.JobStatusRetrying && job.NextRetryAt != nil && !job.NextRetryAt.After(now))
		if ready && len(out) < limit {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeJobStore) GetRunning(ctx context.Context, tenantID string) ([]*models.SyncJob, error) {
	var out []*models.SyncJob
	for _, job := range s.jobs {
		if job.TenantID == tenantID && job.Status == models.JobStatusRunning {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeJobStore) UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, from []models.JobStatus, update models.JobStatusUpdate) (*models.SyncJob, error) {
	job, ok := s.jobs[id]
	if !ok || job.TenantID != tenantID {
		return nil, errors.NewNotFoundError("sync job")
	}

	allowed := false
	for _, f := range from {
		if job.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, errors.NewConflictError("job status changed concurrently").
			WithDetail("current_status", string(job.Status))
	}

	job.Status = update.Status
	if update.StartedAt != nil {
		job.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		job.CompletedAt = update.CompletedAt
	}
	if update.FailedAt != nil {
		job.FailedAt = update.FailedAt
	}
	if update.RetryCount != nil {
		job.RetryCount = *update.RetryCount
	}
	if update.NextRetryAt != nil {
		job.NextRetryAt = update.NextRetryAt
	}
	if update.ClearNextRetryAt {
		job.NextRetryAt = nil
	}
	if update.Result != nil {
		job.Result = update.Result
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = update.ErrorMessage
	}
	if update.Progress != nil {
		job.Progress = *update.Progress
	}
	job.UpdatedAt = time.Now()

	cp := *job
	return &cp, nil
}

func (s *fakeJobStore) UpdateProgress(ctx context.Context, tenantID string, id uuid.UUID, progress int) error {
	job, ok := s.jobs[id]
	if !ok || job.TenantID != tenantID {
		return errors.NewNotFoundError("sync job")
	}
	job.Progress = progress
	return nil
}

func (s *fakeJobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	for id, job := range s.jobs {
		if models.IsTerminalStatus(job.Status) && job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			count++
		}
	}
	return count, nil
}

func (s *fakeJobStore) Stats(ctx context.Context, tenantID string) (*models.JobStats, error) {
	stats := &models.JobStats{ByStatus: map[string]int64{}, ByType: map[string]int64{}}
	for _, job := range s.jobs {
		if job.TenantID != tenantID {
			continue
		}
		stats.Total++
		stats.ByStatus[string(job.Status)]++
		stats.ByType[string(job.Type)]++
	}
	return stats, nil
}

// recordingPublisher captures published events in order.
type recordingPublisher struct {
	events []models.JobEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.JobEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) typesOf() []models.JobEventType {
	out := make([]models.JobEventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func newTestManager() (*Manager, *fakeJobStore, *recordingPublisher) {
	store := newFakeJobStore()
	pub := &recordingPublisher{}
	return NewManager(store, pub, nil, nil), store, pub
}

func validInput() models.CreateJobInput {
	return models.CreateJobInput{
		Type:   models.JobTypeFullSync,
		Config: json.RawMessage(`{"credential_ref":"vault:t1/u1"}`),
	}
}

func TestCreateJobDefaults(t *testing.T) {
	m, _, pub := newTestManager()

	job, err := m.CreateJob(context.Background(), "user-1", "tenant-1", validInput(), "corr-1")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if job.Status != models.JobStatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if job.Priority != models.JobPriorityNormal {
		t.Errorf("priority = %d, want %d", job.Priority, models.JobPriorityNormal)
	}
	if job.MaxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", job.MaxRetries)
	}
	if job.RetryCount != 0 {
		t.Errorf("retryCount = %d, want 0", job.RetryCount)
	}
	if job.ScheduledAt.IsZero() {
		t.Error("scheduledAt not defaulted")
	}
	if job.CorrelationID != "corr-1" {
		t.Errorf("correlationID = %q", job.CorrelationID)
	}

	if len(pub.events) != 1 || pub.events[0].Type != models.EventJobCreated {
		t.Fatalf("events = %v, want [job.created]", pub.typesOf())
	}
	if pub.events[0].TenantID != "tenant-1" || pub.events[0].CorrelationID != "corr-1" {
		t.Errorf("event not stamped with tenant/correlation: %+v", pub.events[0])
	}
}

func TestCreateJobValidation(t *testing.T) {
	m, store, pub := newTestManager()

	tests := []struct {
		name   string
		user   string
		tenant string
		input  models.CreateJobInput
	}{
		{"missing user", "", "t1", validInput()},
		{"missing tenant", "u1", "", validInput()},
		{"unknown type", "u1", "t1", models.CreateJobInput{Type: "exfiltrate", Config: json.RawMessage(`{}`)}},
		{"missing config", "u1", "t1", models.CreateJobInput{Type: models.JobTypeFullSync}},
		{"bad config", "u1", "t1", models.CreateJobInput{Type: models.JobTypeFullSync, Config: json.RawMessage(`{"nope":1}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateJob(context.Background(), tt.user, tt.tenant, tt.input, "")
			if !errors.IsValidationError(err) {
				t.Errorf("error = %v, want validation error", err)
			}
		})
	}

	if len(store.jobs) != 0 {
		t.Error("rejected jobs were persisted")
	}
	if len(pub.events) != 0 {
		t.Error("rejected jobs published events")
	}
}

func TestCreateJobExplicitValues(t *testing.T) {
	m, _, _ := newTestManager()

	future := time.Now().Add(time.Hour).UTC()
	input := models.CreateJobInput{
		Type:        models.JobTypeIncrementalSync,
		Config:      json.RawMessage(`{"credential_ref":"x"}`),
		Priority:    models.JobPriorityCritical,
		ScheduledAt: &future,
	}
	job, err := m.CreateJob(context.Background(), "u1", "t1", input, "")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if job.Priority != models.JobPriorityCritical {
		t.Errorf("priority = %d, want %d", job.Priority, models.JobPriorityCritical)
	}
	if job.MaxRetries != 5 {
		t.Errorf("maxRetries = %d, want 5 for incremental_sync", job.MaxRetries)
	}
	if !job.ScheduledAt.Equal(future) {
		t.Errorf("scheduledAt = %v, want %v", job.ScheduledAt, future)
	}
}

func TestUpdateJobStatusHappyPath(t *testing.T) {
	m, _, pub := newTestManager()
	ctx := context.Background()

	job, err := m.CreateJob(ctx, "u1", "t1", validInput(), "")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	job, err = m.UpdateJobStatus(ctx, "t1", job.ID, models.JobStatusQueued, nil, nil)
	if err != nil {
		t.Fatalf("to queued: %v", err)
	}
	job, err = m.UpdateJobStatus(ctx, "t1", job.ID, models.JobStatusRunning, nil, nil)
	if err != nil {
		t.Fatalf("to running: %v", err)
	}
	if job.StartedAt == nil {
		t.Error("startedAt not set on running")
	}

	result := json.RawMessage(`{"records":42}`)
	job, err = m.UpdateJobStatus(ctx, "t1", job.ID, models.JobStatusCompleted, result, nil)
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if job.CompletedAt == nil {
		t.Error("completedAt not set")
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}
	if string(job.Result) != `{"records":42}` {
		t.Errorf("result = %s", job.Result)
	}

	want := []models.JobEventType{
		models.EventJobCreated,
		models.EventJobQueued,
		models.EventJobStarted,
		models.EventJobCompleted,
	}
	got := pub.typesOf()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestUpdateJobStatusConflict(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	job, _ := m.CreateJob(ctx, "u1", "t1", validInput(), "")
	if _, err := m.UpdateJobStatus(ctx, "t1", job.ID, models.JobStatusCompleted, nil, nil); !errors.IsConflictError(err) {
		t.Errorf("pending -> completed: error = %v, want conflict", err)
	}
}

func TestUpdateJobStatusNotFound(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.UpdateJobStatus(context.Background(), "t1", uuid.New(), models.JobStatusRunning, nil, nil)
	if !errors.IsNotFoundError(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

// A job failing on every attempt with maxRetries=5 must produce five
// retrying transitions and then a terminal failure with retryCount=5.
func TestRetryExhaustion(t *testing.T) {
	m, store, pub := newTestManager()
	ctx := context.Background()

	job, err := m.CreateJob(ctx, "u1", "t1", models.CreateJobInput{
		Type:   models.JobTypeIncrementalSync,
		Config: json.RawMessage(`{"credential_ref":"x"}`),
	}, "")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	errMsg := "upstream 503"

	for attempt := 1; ; attempt++ {
		if _, err := m.UpdateJobStatus(ctx, "t1", job.ID, models.JobStatusRunning, nil, nil); err != nil {
			t.Fatalf("attempt %d to running: %v", attempt, err)
		}
		updated, err := m.UpdateJobStatus(ctx, "t1", job.ID, models.JobStatusFailed, nil, &errMsg)
		if err != nil {
			t.Fatalf("attempt %d failure report: %v", attempt, err)
		}
		if updated.Status == models.JobStatusFailed {
			break
		}
		if updated.Status != models.JobStatusRetrying {
			t.Fatalf("attempt %d: status = %s", attempt, updated.Status)
		}
		if updated.RetryCount != attempt {
			t.Fatalf("attempt %d: retryCount = %d", attempt, updated.RetryCount)
		}
		if updated.NextRetryAt == nil {
			t.Fatalf("attempt %d: nextRetryAt not set", attempt)
		}
		wantDelay := models.RetryBackoff(attempt)
		gotDelay := updated.NextRetryAt.Sub(updated.UpdatedAt).Round(time.Minute)
		if gotDelay != wantDelay {
			t.Errorf("attempt %d: backoff = %v, want %v", attempt, gotDelay, wantDelay)
		}
		if attempt > 10 {
			t.Fatal("job never finalized")
		}
	}

	final := store.jobs[job.ID]
	if final.Status != models.JobStatusFailed {
		t.Fatalf("final status = %s, want failed", final.Status)
	}
	if final.RetryCount != 5 {
		t.Errorf("final retryCount = %d, want 5", final.RetryCount)
	}
	if final.FailedAt == nil {
		t.Error("failedAt not set")
	}
	if final.CompletedAt != nil {
		t.Error("completedAt set on failed job")
	}
	if final.NextRetryAt != nil {
		t.Error("nextRetryAt not cleared on terminal failure")
	}
	if final.ErrorMessage == nil || *final.ErrorMessage != errMsg {
		t.Errorf("errorMessage = %v", final.ErrorMessage)
	}

	var retrying, failed int
	for _, e := range pub.events {
		switch e.Type {
		case models.EventJobRetrying:
			retrying++
		case models.EventJobFailed:
			failed++
		}
	}
	if retrying != 5 {
		t.Errorf("retrying events = %d, want 5", retrying)
	}
	if failed != 1 {
		t.Errorf("failed events = %d, want 1", failed)
	}
}

// A failure once the budget is already exhausted goes straight to FAILED.
func TestFailureWithoutRetryBudget(t *testing.T) {
	m, store, pub := newTestManager()
	ctx := context.Background()

	job, _ := m.CreateJob(ctx, "u1", "t1", validInput(), "")
	store.jobs[job.ID].Status = models.JobStatusRunning
	store.jobs[job.ID].RetryCount = 3 // budget spent

	errMsg := "still broken"
	updated, err := m.UpdateJobStatus(ctx, "t1", job.ID, models.JobStatusFailed, nil, &errMsg)
	if err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}
	if updated.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", updated.Status)
	}
	if updated.RetryCount != 3 {
		t.Errorf("retryCount = %d, want unchanged 3", updated.RetryCount)
	}

	got := pub.typesOf()
	if got[len(got)-1] != models.EventJobFailed {
		t.Errorf("last event = %s, want job.failed", got[len(got)-1])
	}
	for _, e := range pub.events {
		if e.Type == models.EventJobRetrying {
			t.Error("retrying event published with no budget left")
		}
	}
}

func TestCancelJob(t *testing.T) {
	m, store, pub := newTestManager()
	ctx := context.Background()

	job, _ := m.CreateJob(ctx, "u1", "t1", validInput(), "")

	cancelled, err := m.CancelJob(ctx, "t1", job.ID, "user requested")
	if err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}
	if !cancelled {
		t.Fatal("pending job not cancelled")
	}
	if store.jobs[job.ID].Status != models.JobStatusCancelled {
		t.Errorf("status = %s", store.jobs[job.ID].Status)
	}

	// Second cancel is an idempotent no-op.
	cancelled, err = m.CancelJob(ctx, "t1", job.ID, "again")
	if err != nil {
		t.Fatalf("second CancelJob() error = %v", err)
	}
	if cancelled {
		t.Error("terminal job reported as cancelled")
	}

	var events int
	for _, e := range pub.events {
		if e.Type == models.EventJobCancelled {
			events++
		}
	}
	if events != 1 {
		t.Errorf("cancelled events = %d, want 1", events)
	}
}

func TestCancelRunningJobIsNoop(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()

	job, _ := m.CreateJob(ctx, "u1", "t1", validInput(), "")
	store.jobs[job.ID].Status = models.JobStatusRunning

	cancelled, err := m.CancelJob(ctx, "t1", job.ID, "")
	if err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}
	if cancelled {
		t.Error("running job cancelled; cancellation is cooperative")
	}
	if store.jobs[job.ID].Status != models.JobStatusRunning {
		t.Errorf("status = %s, want running untouched", store.jobs[job.ID].Status)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.CancelJob(context.Background(), "t1", uuid.New(), "")
	if !errors.IsNotFoundError(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	store := newFakeJobStore()
	pub := &recordingPublisher{err: context.DeadlineExceeded}
	m := NewManager(store, pub, nil, nil)

	job, err := m.CreateJob(context.Background(), "u1", "t1", validInput(), "")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if _, ok := store.jobs[job.ID]; !ok {
		t.Error("job not persisted despite publish failure")
	}
}

func TestUpdateJobProgress(t *testing.T) {
	m, store, pub := newTestManager()
	ctx := context.Background()

	job, _ := m.CreateJob(ctx, "u1", "t1", validInput(), "")
	store.jobs[job.ID].Status = models.JobStatusRunning

	if err := m.UpdateJobProgress(ctx, "t1", job.ID, 40, "syncing courses"); err != nil {
		t.Fatalf("UpdateJobProgress() error = %v", err)
	}
	if store.jobs[job.ID].Progress != 40 {
		t.Errorf("progress = %d", store.jobs[job.ID].Progress)
	}

	last := pub.events[len(pub.events)-1]
	if last.Type != models.EventJobProgress {
		t.Errorf("last event = %s, want job.progress", last.Type)
	}
	if last.Data["progress"] != 40 {
		t.Errorf("event progress = %v", last.Data["progress"])
	}

	if err := m.UpdateJobProgress(ctx, "t1", job.ID, 150, ""); !errors.IsValidationError(err) {
		t.Errorf("progress 150: error = %v, want validation error", err)
	}
	if err := m.UpdateJobProgress(ctx, "t1", job.ID, -1, ""); !errors.IsValidationError(err) {
		t.Errorf("progress -1: error = %v, want validation error", err)
	}
}

func TestCleanupOldJobs(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()

	old := &models.SyncJob{
		ID: uuid.New(), TenantID: "t1", UserID: "u1",
		Type: models.JobTypeFullSync, Status: models.JobStatusCompleted,
		CreatedAt: time.Now().AddDate(0, 0, -30),
	}
	fresh := &models.SyncJob{
		ID: uuid.New(), TenantID: "t1", UserID: "u1",
		Type: models.JobTypeFullSync, Status: models.JobStatusCompleted,
		CreatedAt: time.Now().AddDate(0, 0, -1),
	}
	active := &models.SyncJob{
		ID: uuid.New(), TenantID: "t1", UserID: "u1",
		Type: models.JobTypeFullSync, Status: models.JobStatusRunning,
		CreatedAt: time.Now().AddDate(0, 0, -30),
	}
	store.jobs[old.ID] = old
	store.jobs[fresh.ID] = fresh
	store.jobs[active.ID] = active

	count, err := m.CleanupOldJobs(ctx, 7)
	if err != nil {
		t.Fatalf("CleanupOldJobs() error = %v", err)
	}
	if count != 1 {
		t.Errorf("purged = %d, want 1", count)
	}
	if _, ok := store.jobs[old.ID]; ok {
		t.Error("old terminal job not purged")
	}
	if _, ok := store.jobs[active.ID]; !ok {
		t.Error("running job purged")
	}

	if _, err := m.CleanupOldJobs(ctx, 0); !errors.IsValidationError(err) {
		t.Errorf("retention 0: error = %v, want validation error", err)
	}
}

func TestGetPendingJobsDefaultLimit(t *testing.T) {
	m, store, _ := newTestManager()

	job := &models.SyncJob{
		ID: uuid.New(), TenantID: "t1", UserID: "u1",
		Type: models.JobTypeFullSync, Status: models.JobStatusPending,
		ScheduledAt: time.Now().Add(-time.Minute),
	}
	store.jobs[job.ID] = job

	jobs, err := m.GetPendingJobs(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetPendingJobs() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("pending = %d, want 1", len(jobs))
	}
}
