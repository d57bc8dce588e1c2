// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultTimezone is applied to schedules created without an explicit
// timezone. The universities this engine syncs against run on Israel time.
const DefaultTimezone = "Asia/Jerusalem"

// SyncSchedule is a recurring rule that spawns sync jobs on a cron cadence.
// An active schedule owns exactly one live in-process cron entry; the
// scheduler rebuilds entries from persisted rows on startup.
type SyncSchedule struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	Name           string          `json:"name" db:"name"`
	Description    *string         `json:"description,omitempty" db:"description"`
	JobType        JobType         `json:"job_type" db:"job_type"`
	Config         json.RawMessage `json:"config,omitempty" db:"config"`
	CronExpression string          `json:"cron_expression" db:"cron_expression"`
	Timezone       string          `json:"timezone" db:"timezone"`
	IsActive       bool            `json:"is_active" db:"is_active"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty" db:"last_run_at"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty" db:"next_run_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// CreateScheduleInput represents input for creating a recurring schedule.
type CreateScheduleInput struct {
	Name           string          `json:"name"`
	Description    *string         `json:"description,omitempty"`
	JobType        JobType         `json:"job_type"`
	Config         json.RawMessage `json:"config,omitempty"`
	CronExpression string          `json:"cron_expression"`
	Timezone       string          `json:"timezone,omitempty"`
}

// UpdateScheduleInput represents a partial schedule update. Nil fields are
// left unchanged.
type UpdateScheduleInput struct {
	Name           *string         `json:"name,omitempty"`
	Description    *string         `json:"description,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
	CronExpression *string         `json:"cron_expression,omitempty"`
	Timezone       *string         `json:"timezone,omitempty"`
	IsActive       *bool           `json:"is_active,omitempty"`
}

// ScheduleMetadata is embedded in the metadata of every job a schedule
// produces, linking the job back to its owning schedule.
type ScheduleMetadata struct {
	ScheduleID   uuid.UUID `json:"schedule_id"`
	ScheduleName string    `json:"schedule_name,omitempty"`
}
