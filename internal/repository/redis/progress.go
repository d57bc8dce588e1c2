// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// progressTTL bounds how long a progress snapshot outlives its last update.
// Terminal jobs stop updating and their snapshots age out on their own.
const progressTTL = time.Hour

// JobProgress is the UI-polling snapshot cached per job.
type JobProgress struct {
	JobID     uuid.UUID `json:"job_id"`
	Progress  int       `json:"progress"` // 0-100
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressCache stores worker-reported job progress with a 1-hour expiry.
type ProgressCache struct {
	client *Client
}

// NewProgressCache creates a progress cache on the shared client.
func NewProgressCache(client *Client) *ProgressCache {
	return &ProgressCache{client: client}
}

func progressKey(jobID uuid.UUID) string {
	return "job_progress:" + jobID.String()
}

// Set records the latest progress snapshot for a job.
func (p *ProgressCache) Set(ctx context.Context, jobID uuid.UUID, progress int, message string) error {
	snapshot := JobProgress{
		JobID:     jobID,
		Progress:  progress,
		Message:   message,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return p.client.rdb.Set(ctx, progressKey(jobID), data, progressTTL).Err()
}

// Get returns the cached snapshot, or nil when none exists (expired or the
// job never reported progress).
func (p *ProgressCache) Get(ctx context.Context, jobID uuid.UUID) (*JobProgress, error) {
	data, err := p.client.rdb.Get(ctx, progressKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}

	var snapshot JobProgress
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal progress: %w", err)
	}
	return &snapshot, nil
}

// Delete removes a job's snapshot, used when a job is purged early.
func (p *ProgressCache) Delete(ctx context.Context, jobID uuid.UUID) error {
	return p.client.rdb.Del(ctx, progressKey(jobID)).Err()
}
