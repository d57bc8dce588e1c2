// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Per-type job configuration payloads. Config is validated at creation time
// rather than discovered as malformed at worker-execution time; credentials
// are referenced opaquely by CredentialRef and never stored here.

// FullSyncConfig configures a full account synchronization.
type FullSyncConfig struct {
	Semester        string `json:"semester,omitempty"`
	IncludeArchived bool   `json:"include_archived,omitempty"`
	CredentialRef   string `json:"credential_ref"`
}

// IncrementalSyncConfig configures an incremental (since last run) sync.
type IncrementalSyncConfig struct {
	Since         string `json:"since,omitempty"` // RFC3339; empty = since last completed sync
	CredentialRef string `json:"credential_ref"`
}

// CourseSyncConfig configures a sync restricted to specific courses.
type CourseSyncConfig struct {
	CourseIDs     []string `json:"course_ids"`
	CredentialRef string   `json:"credential_ref"`
}

// AssignmentSyncConfig configures assignment extraction for one course.
type AssignmentSyncConfig struct {
	CourseID      string `json:"course_id"`
	CredentialRef string `json:"credential_ref"`
}

// GradeSyncConfig configures grade extraction.
type GradeSyncConfig struct {
	CourseID      string `json:"course_id,omitempty"` // empty = all courses
	Semester      string `json:"semester,omitempty"`
	CredentialRef string `json:"credential_ref"`
}

// BulkUserSyncConfig configures a multi-user synchronization batch.
type BulkUserSyncConfig struct {
	UserIDs  []string `json:"user_ids"`
	JobType  JobType  `json:"job_type,omitempty"` // per-user job type, default full_sync
	StaggerS int      `json:"stagger_seconds,omitempty"`
}

// ValidateJobConfig checks that raw is a well-formed config payload for the
// given job type. Unknown fields are rejected so typos surface at creation.
func ValidateJobConfig(t JobType, raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("config is required for job type %s", t)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	switch t {
	case JobTypeFullSync:
		var c FullSyncConfig
		if err := dec.Decode(&c); err != nil {
			return fmt.Errorf("invalid %s config: %w", t, err)
		}
		if c.CredentialRef == "" {
			return fmt.Errorf("%s config: credential_ref is required", t)
		}
	case JobTypeIncrementalSync:
		var c IncrementalSyncConfig
		if err := dec.Decode(&c); err != nil {
			return fmt.Errorf("invalid %s config: %w", t, err)
		}
		if c.CredentialRef == "" {
			return fmt.Errorf("%s config: credential_ref is required", t)
		}
	case JobTypeCourseSync:
		var c CourseSyncConfig
		if err := dec.Decode(&c); err != nil {
			return fmt.Errorf("invalid %s config: %w", t, err)
		}
		if len(c.CourseIDs) == 0 {
			return fmt.Errorf("%s config: course_ids must not be empty", t)
		}
		if c.CredentialRef == "" {
			return fmt.Errorf("%s config: credential_ref is required", t)
		}
	case JobTypeAssignmentSync:
		var c AssignmentSyncConfig
		if err := dec.Decode(&c); err != nil {
			return fmt.Errorf("invalid %s config: %w", t, err)
		}
		if c.CourseID == "" {
			return fmt.Errorf("%s config: course_id is required", t)
		}
		if c.CredentialRef == "" {
			return fmt.Errorf("%s config: credential_ref is required", t)
		}
	case JobTypeGradeSync:
		var c GradeSyncConfig
		if err := dec.Decode(&c); err != nil {
			return fmt.Errorf("invalid %s config: %w", t, err)
		}
		if c.CredentialRef == "" {
			return fmt.Errorf("%s config: credential_ref is required", t)
		}
	case JobTypeBulkUserSync:
		var c BulkUserSyncConfig
		if err := dec.Decode(&c); err != nil {
			return fmt.Errorf("invalid %s config: %w", t, err)
		}
		if len(c.UserIDs) == 0 {
			return fmt.Errorf("%s config: user_ids must not be empty", t)
		}
		if c.JobType != "" && c.JobType == JobTypeBulkUserSync {
			return fmt.Errorf("%s config: job_type must not be recursive", t)
		}
	default:
		return fmt.Errorf("unknown job type: %s", t)
	}

	return nil
}
