// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package models

import (
	"encoding/json"
	"testing"
)

func TestValidateJobConfig(t *testing.T) {
	tests := []struct {
		name    string
		jobType JobType
		config  string
		wantErr bool
	}{
		{
			name:    "valid full sync",
			jobType: JobTypeFullSync,
			config:  `{"semester":"2026a","credential_ref":"vault:tenant-a/user-1"}`,
		},
		{
			name:    "full sync missing credential ref",
			jobType: JobTypeFullSync,
			config:  `{"semester":"2026a"}`,
			wantErr: true,
		},
		{
			name:    "unknown field rejected",
			jobType: JobTypeFullSync,
			config:  `{"credential_ref":"x","semster":"typo"}`,
			wantErr: true,
		},
		{
			name:    "valid incremental sync",
			jobType: JobTypeIncrementalSync,
			config:  `{"since":"2026-08-01T00:00:00Z","credential_ref":"x"}`,
		},
		{
			name:    "course sync requires course ids",
			jobType: JobTypeCourseSync,
			config:  `{"course_ids":[],"credential_ref":"x"}`,
			wantErr: true,
		},
		{
			name:    "valid course sync",
			jobType: JobTypeCourseSync,
			config:  `{"course_ids":["c1","c2"],"credential_ref":"x"}`,
		},
		{
			name:    "assignment sync requires course id",
			jobType: JobTypeAssignmentSync,
			config:  `{"credential_ref":"x"}`,
			wantErr: true,
		},
		{
			name:    "valid grade sync without course",
			jobType: JobTypeGradeSync,
			config:  `{"credential_ref":"x"}`,
		},
		{
			name:    "bulk sync requires user ids",
			jobType: JobTypeBulkUserSync,
			config:  `{"user_ids":[]}`,
			wantErr: true,
		},
		{
			name:    "bulk sync rejects recursive job type",
			jobType: JobTypeBulkUserSync,
			config:  `{"user_ids":["u1"],"job_type":"bulk_user_sync"}`,
			wantErr: true,
		},
		{
			name:    "valid bulk sync",
			jobType: JobTypeBulkUserSync,
			config:  `{"user_ids":["u1","u2"],"job_type":"full_sync","stagger_seconds":30}`,
		},
		{
			name:    "empty config rejected",
			jobType: JobTypeFullSync,
			config:  "",
			wantErr: true,
		},
		{
			name:    "malformed json rejected",
			jobType: JobTypeFullSync,
			config:  `{"credential_ref":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJobConfig(tt.jobType, json.RawMessage(tt.config))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateJobConfig(%s) error = %v, wantErr %v", tt.jobType, err, tt.wantErr)
			}
		})
	}
}
