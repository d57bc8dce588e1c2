// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// heartbeatTTL is how long a worker entry survives without a refresh. Workers
// report every 30 seconds; a generous TTL keeps briefly-partitioned workers
// visible to the staleness check instead of silently vanishing.
const heartbeatTTL = 30 * time.Minute

const heartbeatKeyPrefix = "sync:worker:"

// WorkerHeartbeat is the liveness record a worker refreshes while running.
type WorkerHeartbeat struct {
	WorkerID   string    `json:"worker_id"`
	Hostname   string    `json:"hostname,omitempty"`
	ActiveJobs int       `json:"active_jobs"`
	SeenAt     time.Time `json:"seen_at"`
}

// HeartbeatStore reads worker-reported liveness. Writing is done by the
// workers themselves; Beat exists for them and for tests.
type HeartbeatStore struct {
	client *Client
}

// NewHeartbeatStore creates a heartbeat store on the shared client.
func NewHeartbeatStore(client *Client) *HeartbeatStore {
	return &HeartbeatStore{client: client}
}

// Beat records or refreshes a worker's liveness entry.
func (h *HeartbeatStore) Beat(ctx context.Context, hb WorkerHeartbeat) error {
	if hb.WorkerID == "" {
		return fmt.Errorf("worker id is required")
	}
	hb.SeenAt = time.Now().UTC()
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	return h.client.rdb.Set(ctx, heartbeatKeyPrefix+hb.WorkerID, data, heartbeatTTL).Err()
}

// List returns every known worker heartbeat.
func (h *HeartbeatStore) List(ctx context.Context) ([]WorkerHeartbeat, error) {
	var beats []WorkerHeartbeat
	iter := h.client.rdb.Scan(ctx, 0, heartbeatKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := h.client.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue // expired between SCAN and GET
		}
		var hb WorkerHeartbeat
		if err := json.Unmarshal(data, &hb); err != nil {
			continue
		}
		if hb.WorkerID == "" {
			hb.WorkerID = strings.TrimPrefix(iter.Val(), heartbeatKeyPrefix)
		}
		beats = append(beats, hb)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan heartbeats: %w", err)
	}
	return beats, nil
}

// Stale returns the workers whose last heartbeat is older than maxAge.
func (h *HeartbeatStore) Stale(ctx context.Context, maxAge time.Duration) ([]WorkerHeartbeat, error) {
	beats, err := h.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-maxAge)
	var stale []WorkerHeartbeat
	for _, hb := range beats {
		if hb.SeenAt.Before(cutoff) {
			stale = append(stale, hb)
		}
	}
	return stale, nil
}
