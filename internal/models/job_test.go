// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package models

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"pending to queued", JobStatusPending, JobStatusQueued, true},
		{"pending to running", JobStatusPending, JobStatusRunning, true},
		{"pending to cancelled", JobStatusPending, JobStatusCancelled, true},
		{"pending to completed", JobStatusPending, JobStatusCompleted, false},
		{"queued to running", JobStatusQueued, JobStatusRunning, true},
		{"queued to pending", JobStatusQueued, JobStatusPending, false},
		{"running to completed", JobStatusRunning, JobStatusCompleted, true},
		{"running to failed", JobStatusRunning, JobStatusFailed, true},
		{"running to retrying", JobStatusRunning, JobStatusRetrying, true},
		{"running to cancelled", JobStatusRunning, JobStatusCancelled, false},
		{"retrying to queued", JobStatusRetrying, JobStatusQueued, true},
		{"retrying to running", JobStatusRetrying, JobStatusRunning, true},
		{"retrying to failed", JobStatusRetrying, JobStatusFailed, true},
		{"retrying to cancelled", JobStatusRetrying, JobStatusCancelled, true},
		{"completed is terminal", JobStatusCompleted, JobStatusRunning, false},
		{"failed is terminal", JobStatusFailed, JobStatusRetrying, false},
		{"cancelled is terminal", JobStatusCancelled, JobStatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminalStatus(t *testing.T) {
	terminal := map[JobStatus]bool{
		JobStatusPending:   false,
		JobStatusQueued:    false,
		JobStatusRunning:   false,
		JobStatusRetrying:  false,
		JobStatusCompleted: true,
		JobStatusFailed:    true,
		JobStatusCancelled: true,
	}
	for status, want := range terminal {
		if got := IsTerminalStatus(status); got != want {
			t.Errorf("IsTerminalStatus(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestTransitionSources(t *testing.T) {
	sources := TransitionSources(JobStatusCancelled)
	want := map[JobStatus]bool{
		JobStatusPending:  true,
		JobStatusQueued:   true,
		JobStatusRetrying: true,
	}
	if len(sources) != len(want) {
		t.Fatalf("TransitionSources(cancelled) = %v, want %d sources", sources, len(want))
	}
	for _, s := range sources {
		if !want[s] {
			t.Errorf("unexpected cancellation source %s", s)
		}
	}
}

func TestMaxRetriesForType(t *testing.T) {
	tests := []struct {
		jobType JobType
		want    int
	}{
		{JobTypeFullSync, 3},
		{JobTypeIncrementalSync, 5},
		{JobTypeBulkUserSync, 2},
		{JobTypeCourseSync, 3},
		{JobTypeAssignmentSync, 3},
		{JobTypeGradeSync, 3},
	}
	for _, tt := range tests {
		if got := MaxRetriesForType(tt.jobType); got != tt.want {
			t.Errorf("MaxRetriesForType(%s) = %d, want %d", tt.jobType, got, tt.want)
		}
	}
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{1, 3 * time.Minute},
		{2, 9 * time.Minute},
		{3, 27 * time.Minute},
		{4, time.Hour},  // 81 min capped
		{10, time.Hour}, // far past the cap, must not overflow
		{0, 3 * time.Minute},
	}
	for _, tt := range tests {
		if got := RetryBackoff(tt.retryCount); got != tt.want {
			t.Errorf("RetryBackoff(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestRetryBackoffMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for i := 1; i <= 8; i++ {
		d := RetryBackoff(i)
		if d < prev {
			t.Fatalf("backoff decreased at retry %d: %v < %v", i, d, prev)
		}
		if d > time.Hour {
			t.Fatalf("backoff exceeded cap at retry %d: %v", i, d)
		}
		prev = d
	}
}

func TestRetriesRemaining(t *testing.T) {
	job := &SyncJob{RetryCount: 2, MaxRetries: 3}
	if !job.RetriesRemaining() {
		t.Error("expected retries remaining at 2/3")
	}
	job.RetryCount = 3
	if job.RetriesRemaining() {
		t.Error("expected no retries remaining at 3/3")
	}
}

func TestIsKnownJobType(t *testing.T) {
	for _, jt := range KnownJobTypes {
		if !IsKnownJobType(jt) {
			t.Errorf("IsKnownJobType(%s) = false", jt)
		}
	}
	if IsKnownJobType("password_harvest") {
		t.Error("unknown job type accepted")
	}
}
