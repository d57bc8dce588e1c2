// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package models

import (
	"time"

	"github.com/google/uuid"
)

// JobEventType identifies a lifecycle event. Every state transition yields
// exactly one event; delivery is at-least-once, so consumers dedupe on
// (job_id, type) or treat status as monotonic.
type JobEventType string

const (
	EventJobCreated   JobEventType = "job.created"
	EventJobQueued    JobEventType = "job.queued"
	EventJobStarted   JobEventType = "job.started"
	EventJobProgress  JobEventType = "job.progress"
	EventJobRetrying  JobEventType = "job.retrying"
	EventJobCompleted JobEventType = "job.completed"
	EventJobFailed    JobEventType = "job.failed"
	EventJobCancelled JobEventType = "job.cancelled"
)

// Subject returns the bus topic for the event type, following the
// sync.job.<suffix> scheme.
func (t JobEventType) Subject() string {
	switch t {
	case EventJobCreated:
		return "sync.job.created"
	case EventJobQueued:
		return "sync.job.queued"
	case EventJobStarted:
		return "sync.job.started"
	case EventJobProgress:
		return "sync.job.progress"
	case EventJobRetrying:
		return "sync.job.retrying"
	case EventJobCompleted:
		return "sync.job.completed"
	case EventJobFailed:
		return "sync.job.failed"
	case EventJobCancelled:
		return "sync.job.cancelled"
	}
	return "sync.job.unknown"
}

// EventForStatus maps a job status to the lifecycle event its transition
// publishes.
func EventForStatus(s JobStatus) JobEventType {
	switch s {
	case JobStatusQueued:
		return EventJobQueued
	case JobStatusRunning:
		return EventJobStarted
	case JobStatusRetrying:
		return EventJobRetrying
	case JobStatusCompleted:
		return EventJobCompleted
	case JobStatusFailed:
		return EventJobFailed
	case JobStatusCancelled:
		return EventJobCancelled
	}
	return EventJobCreated
}

// JobEvent is the payload published on the event bus for downstream status
// propagation (notifications, analytics, UI polling).
type JobEvent struct {
	Type          JobEventType           `json:"type"`
	JobID         uuid.UUID              `json:"job_id"`
	UserID        string                 `json:"user_id"`
	TenantID      string                 `json:"tenant_id"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// NewJobEvent builds an event from a job's current state.
func NewJobEvent(t JobEventType, job *SyncJob, data map[string]interface{}) JobEvent {
	return JobEvent{
		Type:          t,
		JobID:         job.ID,
		UserID:        job.UserID,
		TenantID:      job.TenantID,
		Data:          data,
		Timestamp:     time.Now().UTC(),
		CorrelationID: job.CorrelationID,
	}
}
