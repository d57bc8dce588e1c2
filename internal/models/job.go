// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the status of a sync job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobType represents the kind of synchronization a job performs
type JobType string

const (
	JobTypeFullSync        JobType = "full_sync"
	JobTypeIncrementalSync JobType = "incremental_sync"
	JobTypeCourseSync      JobType = "course_sync"
	JobTypeAssignmentSync  JobType = "assignment_sync"
	JobTypeGradeSync       JobType = "grade_sync"
	JobTypeBulkUserSync    JobType = "bulk_user_sync"
)

// JobPriority represents job priority. Higher values dispatch first.
type JobPriority int

const (
	JobPriorityLow      JobPriority = 1
	JobPriorityNormal   JobPriority = 5
	JobPriorityHigh     JobPriority = 10
	JobPriorityCritical JobPriority = 20
)

// KnownJobTypes lists every job type the engine accepts.
var KnownJobTypes = []JobType{
	JobTypeFullSync,
	JobTypeIncrementalSync,
	JobTypeCourseSync,
	JobTypeAssignmentSync,
	JobTypeGradeSync,
	JobTypeBulkUserSync,
}

// IsKnownJobType reports whether t is one of the accepted job types.
func IsKnownJobType(t JobType) bool {
	for _, k := range KnownJobTypes {
		if t == k {
			return true
		}
	}
	return false
}

// MaxRetriesForType returns the retry budget derived from the job type.
func MaxRetriesForType(t JobType) int {
	switch t {
	case JobTypeFullSync:
		return 3
	case JobTypeIncrementalSync:
		return 5
	case JobTypeBulkUserSync:
		return 2
	default:
		return 3
	}
}

// Retry backoff parameters: base 1 minute, multiplier 3, capped at 1 hour.
const (
	retryBackoffBase       = time.Minute
	retryBackoffMultiplier = 3
	retryBackoffCap        = time.Hour
)

// RetryBackoff returns the delay before the n-th retry attempt, where n is
// the post-increment retry count. The delay is deterministic and reproducible
// from the persisted counter: min(60_000 * 3^n, 3_600_000) milliseconds.
func RetryBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := retryBackoffBase
	for i := 0; i < retryCount; i++ {
		d *= retryBackoffMultiplier
		if d >= retryBackoffCap {
			return retryBackoffCap
		}
	}
	return d
}

// jobTransitions is the status state machine. A status maps to the set of
// statuses it may transition into; terminal statuses have no entry.
// retrying -> failed exists solely for immediate finalization once the retry
// budget is exhausted.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:  {JobStatusQueued, JobStatusRunning, JobStatusCancelled},
	JobStatusQueued:   {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning:  {JobStatusCompleted, JobStatusFailed, JobStatusRetrying},
	JobStatusRetrying: {JobStatusQueued, JobStatusRunning, JobStatusFailed, JobStatusCancelled},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to JobStatus) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionSources returns every status from which `to` is reachable.
// Used to build conditional UPDATE ... WHERE status = ANY(...) guards.
func TransitionSources(to JobStatus) []JobStatus {
	var from []JobStatus
	for src, dsts := range jobTransitions {
		for _, dst := range dsts {
			if dst == to {
				from = append(from, src)
			}
		}
	}
	return from
}

// IsTerminalStatus reports whether s has no outgoing transitions.
func IsTerminalStatus(s JobStatus) bool {
	return len(jobTransitions[s]) == 0
}

// CancellableStatuses are the statuses from which a job may be cancelled.
var CancellableStatuses = []JobStatus{JobStatusPending, JobStatusQueued, JobStatusRetrying}

// TerminalStatuses are the statuses with no outgoing transitions.
var TerminalStatuses = []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}

// SyncJob represents one unit of asynchronous synchronization work.
type SyncJob struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	Type          JobType         `json:"type" db:"type"`
	Status        JobStatus       `json:"status" db:"status"`
	Priority      JobPriority     `json:"priority" db:"priority"`
	Config        json.RawMessage `json:"config,omitempty" db:"config"`
	Metadata      json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CorrelationID string          `json:"correlation_id,omitempty" db:"correlation_id"`
	ScheduledAt   time.Time       `json:"scheduled_at" db:"scheduled_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	FailedAt      *time.Time      `json:"failed_at,omitempty" db:"failed_at"`
	RetryCount    int             `json:"retry_count" db:"retry_count"`
	MaxRetries    int             `json:"max_retries" db:"max_retries"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty" db:"next_retry_at"`
	Result        json.RawMessage `json:"result,omitempty" db:"result"`
	ErrorMessage  *string         `json:"error_message,omitempty" db:"error_message"`
	Progress      int             `json:"progress" db:"progress"` // 0-100
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// IsFinished returns true if the job is in a terminal state.
func (j *SyncJob) IsFinished() bool {
	return IsTerminalStatus(j.Status)
}

// RetriesRemaining returns true while the retry budget is not exhausted.
func (j *SyncJob) RetriesRemaining() bool {
	return j.RetryCount < j.MaxRetries
}

// Duration returns how long the job ran, or has been running.
func (j *SyncJob) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := j.CompletedAt
	if end == nil {
		end = j.FailedAt
	}
	if end == nil {
		now := time.Now()
		end = &now
	}
	return end.Sub(*j.StartedAt)
}

// GetMetadata unmarshals the metadata into the provided struct.
func (j *SyncJob) GetMetadata(v interface{}) error {
	if j.Metadata == nil {
		return nil
	}
	return json.Unmarshal(j.Metadata, v)
}

// SetMetadata marshals the provided value into the metadata column.
func (j *SyncJob) SetMetadata(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	j.Metadata = data
	return nil
}

// CreateJobInput represents input for creating a sync job.
type CreateJobInput struct {
	Type        JobType         `json:"type"`
	Config      json.RawMessage `json:"config,omitempty"`
	Priority    JobPriority     `json:"priority,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// JobListOptions represents options for listing a tenant's jobs.
type JobListOptions struct {
	Status *JobStatus `json:"status,omitempty"`
	Type   *JobType   `json:"type,omitempty"`
	UserID *string    `json:"user_id,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// JobStatusUpdate describes the fields a status transition writes. It is
// applied as a single conditional UPDATE guarded by the allowed source
// statuses, so exactly one concurrent attempt wins a given transition.
type JobStatusUpdate struct {
	Status           JobStatus
	StartedAt        *time.Time
	CompletedAt      *time.Time
	FailedAt         *time.Time
	RetryCount       *int
	NextRetryAt      *time.Time
	ClearNextRetryAt bool
	Result           json.RawMessage
	ErrorMessage     *string
	Progress         *int
}

// JobStats aggregates job counts for a tenant.
type JobStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
	ByType   map[string]int64 `json:"by_type"`
}
